package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func viperFromYAML(t *testing.T, body string) *viper.Viper {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	return v
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(viper.New())
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, ModeLocal, cfg.Mode)
	assert.Equal(t, DefaultHeaderName, cfg.HeaderName)
	assert.Equal(t, DefaultGroupHeader, cfg.GroupIdentifierHeader)
	assert.Nil(t, cfg.Keys)
}

func TestLoadConfigKeepsKeyCase(t *testing.T) {
	v := viperFromYAML(t, `
auth:
  enabled: true
  mode: Local
  header_name: X-Doc-Key
  keys:
    - key: AbC123
      group: Team-A
    - key: xyz
      group: team-b
`)
	cfg, err := LoadConfig(v)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, ModeLocal, cfg.Mode)
	assert.Equal(t, "X-Doc-Key", cfg.HeaderName)
	assert.Equal(t, map[string]string{"AbC123": "Team-A", "xyz": "team-b"}, cfg.Keys)
}

func TestLoadConfigGatewayMode(t *testing.T) {
	v := viperFromYAML(t, `
auth:
  enabled: true
  mode: gateway
  group_header: X-Tenant
`)
	cfg, err := LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, ModeGateway, cfg.Mode)
	assert.Equal(t, "X-Tenant", cfg.GroupIdentifierHeader)
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	for name, body := range map[string]string{
		"unknown mode": "auth:\n  mode: open\n",
		"empty key":    "auth:\n  keys:\n    - key: ''\n      group: g\n",
		"dup key":      "auth:\n  keys:\n    - key: a\n      group: g\n    - key: a\n      group: h\n",
	} {
		_, err := LoadConfig(viperFromYAML(t, body))
		assert.Error(t, err, name)
	}
}
