// Package auth gates the HTTP transports with an API key scheme that runs
// in one of two trust modes.
package auth

import (
	"context"
	"net/http"

	"github.com/docmcp-lab/gateway/internal/logging"
	"github.com/docmcp-lab/gateway/internal/metrics"
)

// PublicPaths bypass authentication unconditionally.
var PublicPaths = []string{"/health", "/ready", "/metrics"}

type groupKey struct{}

// WithGroup returns a context carrying the authenticated group id.
func WithGroup(ctx context.Context, group string) context.Context {
	return context.WithValue(ctx, groupKey{}, group)
}

// GroupFromContext returns the group id stamped by the middleware.
func GroupFromContext(ctx context.Context) (string, bool) {
	group, ok := ctx.Value(groupKey{}).(string)
	return group, ok
}

// Middleware authenticates requests ahead of the protocol endpoints.
type Middleware struct {
	cfg     Config
	public  map[string]struct{}
	metrics *metrics.Metrics
}

// NewMiddleware builds a middleware for cfg. The config is copied; callers
// may not change it afterwards.
func NewMiddleware(cfg Config, m *metrics.Metrics) *Middleware {
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.GroupIdentifierHeader == "" {
		cfg.GroupIdentifierHeader = DefaultGroupHeader
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeLocal
	}
	keys := make(map[string]string, len(cfg.Keys))
	for k, v := range cfg.Keys {
		keys[k] = v
	}
	cfg.Keys = keys

	public := make(map[string]struct{}, len(PublicPaths))
	for _, p := range PublicPaths {
		public[p] = struct{}{}
	}
	return &Middleware{cfg: cfg, public: public, metrics: m}
}

// Handler wraps next. Rejected requests get 401 and never reach next.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.public[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		if !m.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		group, ok := m.authenticate(r)
		if !ok {
			m.metrics.AuthRequest(string(m.cfg.Mode), "rejected")
			logging.Warnw("auth: request rejected",
				"mode", string(m.cfg.Mode),
				"header", m.cfg.HeaderName,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
			)
			w.Header().Set("WWW-Authenticate", `ApiKey header="`+m.cfg.HeaderName+`"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		m.metrics.AuthRequest(string(m.cfg.Mode), "accepted")
		if group != "" {
			r = r.WithContext(WithGroup(r.Context(), group))
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the group id for r. Local mode consults only the
// key table; Gateway mode consults only the group header.
func (m *Middleware) authenticate(r *http.Request) (string, bool) {
	switch m.cfg.Mode {
	case ModeGateway:
		return r.Header.Get(m.cfg.GroupIdentifierHeader), true
	case ModeLocal:
		key := r.Header.Get(m.cfg.HeaderName)
		if key == "" || len(m.cfg.Keys) == 0 {
			return "", false
		}
		group, ok := m.cfg.Keys[key]
		return group, ok
	}
	return "", false
}
