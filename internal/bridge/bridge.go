// Package bridge relays WebSocket connections to worker subprocesses. Each
// accepted socket gets its own freshly spawned worker; messages travel as
// one WebSocket message per line on the worker's stdin and stdout.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/docmcp-lab/gateway/internal/auth"
	"github.com/docmcp-lab/gateway/internal/logging"
	"github.com/docmcp-lab/gateway/internal/metrics"
)

// MaxMessageSize caps a single relayed message in either direction.
const MaxMessageSize = 10 * 1024 * 1024

// EnvGroupID carries the authenticated group into the worker process.
const EnvGroupID = "ASPOSE_GROUP_ID"

const (
	DefaultGracePeriod = 5 * time.Second
	closeWriteWait     = time.Second
)

// ErrMessageTooLarge is reported when a message exceeds MaxMessageSize.
var ErrMessageTooLarge = errors.New("message too large")

// ErrMultilineMessage is reported when a message contains a line break but
// is not JSON that can be compacted onto one line.
var ErrMultilineMessage = errors.New("multi-line message is not JSON")

// ErrShuttingDown is returned by ServeWebSocket once Shutdown has begun.
var ErrShuttingDown = errors.New("bridge shutting down")

// Handler accepts WebSocket upgrades and bridges each one to a new worker
// process started from a fixed executable and argument list.
type Handler struct {
	executable string
	args       []string
	env        []string
	grace      time.Duration
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader

	// base is cancelled by Shutdown; every connection context derives
	// from it as well as from its caller's.
	base context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	active   int
	closing  bool
	draining sync.WaitGroup
}

// Option configures a Handler.
type Option func(*Handler)

// WithGracePeriod bounds how long a worker may take to exit after its
// socket closed before it is killed.
func WithGracePeriod(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.grace = d
		}
	}
}

// WithEnv adds KEY=value entries to every worker's environment.
func WithEnv(env ...string) Option {
	return func(h *Handler) { h.env = append(h.env, env...) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithCheckOrigin replaces the upgrader's origin check.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

// NewHandler stores executable and args as given; nothing is validated
// until a connection arrives and the spawn is attempted.
func NewHandler(executable string, args []string, opts ...Option) *Handler {
	h := &Handler{
		executable: executable,
		args:       slices.Clone(args),
		grace:      DefaultGracePeriod,
	}
	h.base, h.stop = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ExecutablePath is the worker executable given at construction.
func (h *Handler) ExecutablePath() string { return h.executable }

// Args are the worker arguments given at construction.
func (h *Handler) Args() []string { return slices.Clone(h.args) }

// MaxMessageSize is the per-message cap, MaxMessageSize bytes.
func (h *Handler) MaxMessageSize() int { return MaxMessageSize }

// ServeHTTP upgrades the request and bridges the socket until either side
// closes. The group stamped by the auth middleware is passed to the worker.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closing := h.closing
	h.mu.Unlock()
	if closing {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		logging.Warnw("bridge: upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	var env []string
	if group, ok := auth.GroupFromContext(r.Context()); ok && group != "" {
		env = append(env, EnvGroupID+"="+group)
	}
	_ = h.ServeWebSocket(r.Context(), ws, r.RemoteAddr, env...)
}

// ServeWebSocket bridges an already upgraded socket. It returns once the
// connection reached Closed; the error describes why it closed, nil for an
// orderly close by either side.
func (h *Handler) ServeWebSocket(ctx context.Context, ws *websocket.Conn, remote string, env ...string) error {
	c := newConnection(h, ws, remote)

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		c.closeSocket(closeCause{reason: "shutdown", code: websocket.CloseGoingAway, text: "server shutting down", err: ErrShuttingDown})
		return ErrShuttingDown
	}
	h.active++
	h.draining.Add(1)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.active--
		h.mu.Unlock()
		h.draining.Done()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.base, cancel)
	defer stop()

	ctx = logging.WithFields(ctx, c.fields...)
	return c.run(ctx, append(slices.Clone(h.env), env...))
}

// Active is the number of bridged connections.
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// Shutdown stops accepting connections, closes every active one with
// CloseGoingAway, and waits for them to finish or ctx to end.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
	h.stop()

	done := make(chan struct{})
	go func() {
		h.draining.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
