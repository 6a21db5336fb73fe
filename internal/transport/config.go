// Package transport resolves which client-facing transport the gateway runs
// and where it binds.
package transport

import (
	"net"
	"os"
	"strconv"
	"strings"
)

// Mode is the client-facing transport. It is selected once per process.
type Mode int

const (
	ModeStdio Mode = iota
	ModeSSE
	ModeWebSocket
)

func (m Mode) String() string {
	switch m {
	case ModeSSE:
		return "sse"
	case ModeWebSocket:
		return "websocket"
	default:
		return "stdio"
	}
}

// ParseMode maps a transport name (case-insensitive) to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stdio":
		return ModeStdio, true
	case "sse":
		return ModeSSE, true
	case "websocket", "ws":
		return ModeWebSocket, true
	}
	return ModeStdio, false
}

const (
	DefaultHost = "localhost"
	DefaultPort = 3000

	EnvTransport = "ASPOSE_TRANSPORT"
	EnvPort      = "ASPOSE_PORT"
	EnvHost      = "ASPOSE_HOST"
)

// Config is the resolved transport selection.
type Config struct {
	Mode Mode
	Host string
	Port int
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Default returns the built-in defaults: stdio on localhost:3000.
func Default() Config {
	return Config{Mode: ModeStdio, Host: DefaultHost, Port: DefaultPort}
}

// LoadFromArgs resolves the transport from process arguments and the
// process environment.
func LoadFromArgs(args []string) Config {
	return Load(args, os.LookupEnv)
}

// Load resolves defaults, then environment, then args, each layer
// overriding the previous one. Within args, later entries win. Malformed
// port values are ignored and leave the lower-priority value in place.
func Load(args []string, lookupEnv func(string) (string, bool)) Config {
	cfg := Default()
	if lookupEnv != nil {
		applyEnv(&cfg, lookupEnv)
	}
	applyArgs(&cfg, args)
	return cfg
}

func applyEnv(cfg *Config, lookupEnv func(string) (string, bool)) {
	if v, ok := lookupEnv(EnvTransport); ok {
		if mode, ok := ParseMode(v); ok {
			cfg.Mode = mode
		}
	}
	if v, ok := lookupEnv(EnvPort); ok {
		if port, ok := parsePort(v); ok {
			cfg.Port = port
		}
	}
	if v, ok := lookupEnv(EnvHost); ok {
		if host := strings.TrimSpace(v); host != "" {
			cfg.Host = host
		}
	}
}

func applyArgs(cfg *Config, args []string) {
	for i := 0; i < len(args); i++ {
		arg := strings.TrimSpace(args[i])
		lower := strings.ToLower(arg)
		switch lower {
		case "--stdio":
			cfg.Mode = ModeStdio
			continue
		case "--sse":
			cfg.Mode = ModeSSE
			continue
		case "--websocket", "--ws":
			cfg.Mode = ModeWebSocket
			continue
		}

		name, value, ok := splitOption(lower, arg)
		if !ok {
			continue
		}
		if value == nil {
			// "--port 8080" form: the value is the next argument, unless
			// that argument is itself a flag.
			if i+1 >= len(args) || strings.HasPrefix(args[i+1], "--") {
				continue
			}
			i++
			next := args[i]
			value = &next
		}
		switch name {
		case "--transport":
			if mode, ok := ParseMode(*value); ok {
				cfg.Mode = mode
			}
		case "--port":
			if port, ok := parsePort(*value); ok {
				cfg.Port = port
			}
		case "--host":
			if host := strings.TrimSpace(*value); host != "" {
				cfg.Host = host
			}
		}
	}
}

// splitOption recognizes --transport/--port/--host in the bare, colon and
// equals forms.
// A nil value means the value is carried by the following argument.
func splitOption(lower, original string) (string, *string, bool) {
	for _, name := range []string{"--transport", "--port", "--host"} {
		if lower == name {
			return name, nil, true
		}
		if !strings.HasPrefix(lower, name) || len(lower) == len(name) {
			continue
		}
		if sep := lower[len(name)]; sep == ':' || sep == '=' {
			v := original[len(name)+1:]
			return name, &v, true
		}
	}
	return "", nil, false
}

func parsePort(s string) (int, bool) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1 || port > 65535 {
		return 0, false
	}
	return port, true
}
