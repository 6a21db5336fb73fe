package auth

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Mode selects the trust model for API key authentication.
type Mode string

const (
	// ModeLocal validates the key header against a local key table.
	ModeLocal Mode = "local"
	// ModeGateway trusts an upstream gateway and takes the group id from a
	// header it sets.
	ModeGateway Mode = "gateway"
)

const (
	DefaultHeaderName  = "X-API-Key"
	DefaultGroupHeader = "X-Group-Id"
)

// Config is loaded once at startup and only read afterwards.
type Config struct {
	Enabled bool
	Mode    Mode
	// HeaderName carries the API key (Local mode).
	HeaderName string
	// GroupIdentifierHeader carries the group id (Gateway mode only).
	GroupIdentifierHeader string
	// Keys maps an API key to its group id (Local mode only). A nil or
	// empty table rejects every key.
	Keys map[string]string
}

// KeyEntry is the on-disk form of one key table row. Keys are configured as
// a list rather than a map because viper lower-cases map keys.
type KeyEntry struct {
	Key   string `mapstructure:"key"`
	Group string `mapstructure:"group"`
}

// SetDefaults registers the auth defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.mode", string(ModeLocal))
	v.SetDefault("auth.header_name", DefaultHeaderName)
	v.SetDefault("auth.group_header", DefaultGroupHeader)
}

// LoadConfig reads the auth section from v. Unknown modes are rejected so a
// typo cannot silently downgrade to a weaker trust model.
func LoadConfig(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	cfg := Config{
		Enabled:               v.GetBool("auth.enabled"),
		HeaderName:            strings.TrimSpace(v.GetString("auth.header_name")),
		GroupIdentifierHeader: strings.TrimSpace(v.GetString("auth.group_header")),
	}
	mode, err := ParseMode(v.GetString("auth.mode"))
	if err != nil {
		return Config{}, err
	}
	cfg.Mode = mode
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.GroupIdentifierHeader == "" {
		cfg.GroupIdentifierHeader = DefaultGroupHeader
	}

	if v.IsSet("auth.keys") {
		var entries []KeyEntry
		if err := v.UnmarshalKey("auth.keys", &entries); err != nil {
			return Config{}, fmt.Errorf("auth.keys: %w", err)
		}
		cfg.Keys = make(map[string]string, len(entries))
		for i, e := range entries {
			key := strings.TrimSpace(e.Key)
			if key == "" {
				return Config{}, fmt.Errorf("auth.keys[%d]: key is required", i)
			}
			if _, dup := cfg.Keys[key]; dup {
				return Config{}, fmt.Errorf("auth.keys[%d]: duplicate key", i)
			}
			cfg.Keys[key] = strings.TrimSpace(e.Group)
		}
	}
	return cfg, nil
}

// ParseMode maps a configured mode name to a Mode. Empty means Local.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeLocal:
		return ModeLocal, nil
	case ModeGateway:
		return ModeGateway, nil
	}
	return "", fmt.Errorf("auth.mode: unknown mode %q (want %q or %q)", s, ModeLocal, ModeGateway)
}
