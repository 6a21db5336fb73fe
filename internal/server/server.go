// Package server runs the HTTP side of the gateway: probes, metrics, the
// auth chain, and the SSE or WebSocket protocol endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docmcp-lab/gateway/internal/auth"
	"github.com/docmcp-lab/gateway/internal/bridge"
	"github.com/docmcp-lab/gateway/internal/logging"
	"github.com/docmcp-lab/gateway/internal/metrics"
	"github.com/docmcp-lab/gateway/internal/transport"
)

const DefaultShutdownTimeout = 10 * time.Second

// Endpoint paths. /mcp is the documented SSE endpoint; /sse and /mcp/ws are
// aliases kept for clients that hard-code them.
const (
	PathHealth    = "/health"
	PathReady     = "/ready"
	PathMetrics   = "/metrics"
	PathSSE       = "/sse"
	PathMCP       = "/mcp"
	PathWebSocket = "/ws"
	PathMCPWS     = "/mcp/ws"
)

// Config holds what the server needs beyond its collaborators.
type Config struct {
	Transport       transport.Config
	ShutdownTimeout time.Duration
}

// ServerFactory returns the MCP server for an authenticated group. The
// group is empty when auth is disabled or did not stamp one.
type ServerFactory func(group string) *mcp.Server

// Server is the HTTP gateway for the SSE and WebSocket transports.
type Server struct {
	cfg     Config
	auth    *auth.Middleware
	metrics *metrics.Metrics
	bridge  *bridge.Handler
	factory ServerFactory

	mu      sync.Mutex
	servers map[string]*mcp.Server

	ready atomic.Bool
	http  *http.Server
}

type Option func(*Server)

// WithAuth puts mw in front of every endpoint.
func WithAuth(mw *auth.Middleware) Option {
	return func(s *Server) { s.auth = mw }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithBridge serves WebSocket upgrades through h. Required in WebSocket mode.
func WithBridge(h *bridge.Handler) Option {
	return func(s *Server) { s.bridge = h }
}

// WithServerFactory supplies MCP servers for the SSE endpoint. Required in
// SSE mode. Each group's server is built once and then reused.
func WithServerFactory(f ServerFactory) Option {
	return func(s *Server) { s.factory = f }
}

// New validates that the collaborators the selected mode needs are present.
func New(cfg Config, opts ...Option) (*Server, error) {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	s := &Server{cfg: cfg, servers: make(map[string]*mcp.Server)}
	for _, opt := range opts {
		opt(s)
	}
	switch cfg.Transport.Mode {
	case transport.ModeWebSocket:
		if s.bridge == nil {
			return nil, errors.New("server: websocket mode needs a bridge")
		}
	case transport.ModeSSE:
		if s.factory == nil {
			return nil, errors.New("server: sse mode needs an MCP server factory")
		}
	default:
		return nil, fmt.Errorf("server: %s transport has no HTTP server", cfg.Transport.Mode)
	}
	s.http = &http.Server{
		Addr:              cfg.Transport.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler builds the full handler chain: auth first, then routing.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PathHealth, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc(PathReady, s.handleReady)
	mux.Handle(PathMetrics, s.metrics.Handler())

	switch s.cfg.Transport.Mode {
	case transport.ModeWebSocket:
		mux.Handle(PathWebSocket, s.bridge)
		mux.Handle(PathMCPWS, s.bridge)
	case transport.ModeSSE:
		sse := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
			group, _ := auth.GroupFromContext(r.Context())
			return s.serverFor(group)
		}, nil)
		mux.Handle(PathSSE, sse)
		mux.Handle(PathMCP, sse)
	}

	if s.auth == nil {
		return mux
	}
	return s.auth.Handler(mux)
}

func (s *Server) serverFor(group string) *mcp.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[group]
	if !ok {
		srv = s.factory(group)
		s.servers[group] = srv
		logging.Infow("server: mcp server created", logging.GroupFields(group)...)
	}
	return srv
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ready"))
}

// Ready reports whether the server is accepting protocol traffic.
func (s *Server) Ready() bool { return s.ready.Load() }

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then drains: bridged sockets are
// closed with GoingAway, long-lived streams are cancelled, and the HTTP
// server shuts down within the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	s.http.BaseContext = func(net.Listener) context.Context { return base }

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()
	s.ready.Store(true)
	logging.Infow("server: listening",
		"addr", ln.Addr().String(),
		"transport", s.cfg.Transport.Mode.String(),
		"auth", s.auth != nil,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.ready.Store(false)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	}

	s.ready.Store(false)
	logging.Infow("server: shutting down", "timeout", s.cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if s.bridge != nil {
		if err := s.bridge.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("drain bridge: %w", err))
		}
	}
	cancelBase()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	return errors.Join(errs...)
}
