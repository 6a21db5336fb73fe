package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmcp-lab/gateway/internal/auth"
)

func noEnv(string) (string, bool) { return "", false }

func TestWithDefaultCommand(t *testing.T) {
	root := newRootCommand()
	cases := []struct {
		in   []string
		want []string
	}{
		{nil, []string{"serve"}},
		{[]string{"--sse", "--port", "8080"}, []string{"serve", "--sse", "--port", "8080"}},
		{[]string{"worker"}, []string{"worker"}},
		{[]string{"call", "pdf_operations"}, []string{"call", "pdf_operations"}},
		{[]string{"serve", "--websocket"}, []string{"serve", "--websocket"}},
		{[]string{"help"}, []string{"help"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, withDefaultCommand(root, tc.in), "%v", tc.in)
	}
}

func TestServeHelpPrintsUsage(t *testing.T) {
	for _, flag := range []string{"--help", "-h"} {
		root := newRootCommand()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs(withDefaultCommand(root, []string{"--sse", flag}))
		require.NoError(t, root.ExecuteContext(context.Background()), flag)
		assert.Contains(t, out.String(), "--transport=sse", flag)
	}
	assert.False(t, wantsHelp([]string{"--sse", "--port", "8080"}))
	assert.False(t, wantsHelp([]string{"--", "--help"}))
}

func TestSettingsDefaults(t *testing.T) {
	v, err := newViper(noEnv)
	require.NoError(t, err)
	set, err := loadSettings(v)
	require.NoError(t, err)

	exe, err := os.Executable()
	require.NoError(t, err)
	assert.Equal(t, exe, set.WorkerCommand)
	assert.Equal(t, []string{"worker"}, set.WorkerArgs)
	assert.Equal(t, ".", set.DocumentRoot)
	assert.Equal(t, 30*time.Minute, set.IdleTimeout)
	assert.Equal(t, 10*time.Second, set.ShutdownTimeout)
	assert.Equal(t, 5*time.Second, set.GracePeriod)
	assert.False(t, set.Auth.Enabled)
}

func TestSettingsFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
worker:
  command: /usr/local/bin/docworker
  args: ["--stdio", "--quiet"]
documents:
  root: /srv/docs
session:
  idle_timeout: 2m
auth:
  enabled: true
  mode: local
  keys:
    - key: AbC
      group: team-a
`), 0o644))
	t.Setenv("ASPOSE_BRIDGE_GRACE_PERIOD", "750ms")

	v, err := newViper(func(k string) (string, bool) {
		if k == envConfig {
			return path, true
		}
		return "", false
	})
	require.NoError(t, err)
	set, err := loadSettings(v)
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/docworker", set.WorkerCommand)
	assert.Equal(t, []string{"--stdio", "--quiet"}, set.WorkerArgs)
	assert.Equal(t, "/srv/docs", set.DocumentRoot)
	assert.Equal(t, 2*time.Minute, set.IdleTimeout)
	assert.Equal(t, 750*time.Millisecond, set.GracePeriod)
	assert.True(t, set.Auth.Enabled)
	assert.Equal(t, auth.ModeLocal, set.Auth.Mode)
	assert.Equal(t, map[string]string{"AbC": "team-a"}, set.Auth.Keys)
}

func TestMissingConfigFileFails(t *testing.T) {
	_, err := newViper(func(k string) (string, bool) {
		return filepath.Join(t.TempDir(), "absent.yaml"), k == envConfig
	})
	require.Error(t, err)
}

func TestParseToolArgs(t *testing.T) {
	args, err := parseToolArgs(nil)
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = parseToolArgs([]string{`{"operation":"get_cell","row":2}`})
	require.NoError(t, err)
	assert.Equal(t, "get_cell", args["operation"])
	assert.Equal(t, "2", args["row"].(interface{ String() string }).String())

	_, err = parseToolArgs([]string{`[1,2]`})
	require.Error(t, err)
}
