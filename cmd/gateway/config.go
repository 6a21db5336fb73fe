package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/docmcp-lab/gateway/internal/auth"
	"github.com/docmcp-lab/gateway/internal/bridge"
	"github.com/docmcp-lab/gateway/internal/server"
)

const (
	envPrefix = "ASPOSE"
	envConfig = "ASPOSE_CONFIG"

	keyWorkerCommand   = "worker.command"
	keyWorkerArgs      = "worker.args"
	keyDocumentRoot    = "documents.root"
	keyIdleTimeout     = "session.idle_timeout"
	keyShutdownTimeout = "server.shutdown_timeout"
	keyGracePeriod     = "bridge.grace_period"
)

// settings is everything the gateway reads from viper. Transport selection
// is not here; it comes from raw argv and the ASPOSE_TRANSPORT family.
type settings struct {
	WorkerCommand   string
	WorkerArgs      []string
	DocumentRoot    string
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	GracePeriod     time.Duration
	Auth            auth.Config
}

// newViper wires the ASPOSE_ environment and the optional YAML file named
// by ASPOSE_CONFIG.
func newViper(lookupEnv func(string) (string, bool)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(keyWorkerArgs, []string{"worker"})
	v.SetDefault(keyDocumentRoot, ".")
	v.SetDefault(keyIdleTimeout, 30*time.Minute)
	v.SetDefault(keyShutdownTimeout, server.DefaultShutdownTimeout)
	v.SetDefault(keyGracePeriod, bridge.DefaultGracePeriod)
	auth.SetDefaults(v)

	if path, ok := lookupEnv(envConfig); ok && strings.TrimSpace(path) != "" {
		v.SetConfigFile(strings.TrimSpace(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

func loadSettings(v *viper.Viper) (settings, error) {
	authCfg, err := auth.LoadConfig(v)
	if err != nil {
		return settings{}, err
	}
	s := settings{
		WorkerCommand:   strings.TrimSpace(v.GetString(keyWorkerCommand)),
		WorkerArgs:      v.GetStringSlice(keyWorkerArgs),
		DocumentRoot:    v.GetString(keyDocumentRoot),
		IdleTimeout:     v.GetDuration(keyIdleTimeout),
		ShutdownTimeout: v.GetDuration(keyShutdownTimeout),
		GracePeriod:     v.GetDuration(keyGracePeriod),
		Auth:            authCfg,
	}
	if s.WorkerCommand == "" {
		exe, err := os.Executable()
		if err != nil {
			return settings{}, fmt.Errorf("resolve worker command: %w", err)
		}
		s.WorkerCommand = exe
	}
	if s.IdleTimeout < 0 {
		return settings{}, fmt.Errorf("%s must not be negative", keyIdleTimeout)
	}
	return s, nil
}
