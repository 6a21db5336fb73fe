// Package mcpclient connects an MCP client to the gateway, either over the
// WebSocket bridge or by spawning a worker and speaking stdio to it.
package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docmcp-lab/gateway/internal/logging"
)

// DefaultKeepalive is the ping interval used unless WithKeepalive says
// otherwise.
const DefaultKeepalive = 30 * time.Second

// Client owns one MCP client session and whatever must be torn down with it.
type Client struct {
	client    *mcp.Client
	keepalive time.Duration

	mu              sync.Mutex
	session         *mcp.ClientSession
	keepaliveCancel context.CancelFunc
	closers         []func() error
}

type Option func(*Client)

// WithKeepalive sets the ping interval; zero disables pings.
func WithKeepalive(d time.Duration) Option {
	return func(c *Client) { c.keepalive = d }
}

// New creates a client that identifies itself as name/version.
func New(name, version string, opts ...Option) *Client {
	c := &Client{
		client:    mcp.NewClient(&mcp.Implementation{Name: name, Version: version}, nil),
		keepalive: DefaultKeepalive,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConnectWebSocket dials rawurl and starts a session over it. http and https
// URLs are rewritten to ws and wss. header is sent with the upgrade request,
// which is where the API key goes.
func (c *Client) ConnectWebSocket(ctx context.Context, rawurl string, header http.Header) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	if err := c.connect(ctx, NewWebSocketTransport(conn)); err != nil {
		_ = conn.Close()
		return err
	}
	logging.Infow("mcpclient: connected", "url", u.Redacted())
	return nil
}

// DefaultTerminateDuration is how long a spawned server gets to exit after
// its stdin closes before it is signalled.
const DefaultTerminateDuration = 5 * time.Second

// ConnectCommand spawns command and starts a session over its stdio. env
// entries are added to the current environment. The server's stderr is
// relayed to the log line by line.
func (c *Client) ConnectCommand(ctx context.Context, name, command string, args []string, env map[string]string) error {
	if command == "" {
		return errors.New("command is required")
	}
	cmd := exec.Command(command, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stderr, stderrW := io.Pipe()
	cmd.Stderr = stderrW
	relayed := make(chan struct{})
	go func() {
		defer close(relayed)
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			logging.Debugw("mcpclient: server stderr", "server", name, "line", sc.Text())
		}
		_, _ = io.Copy(io.Discard, stderr)
	}()
	stopRelay := func() {
		_ = stderrW.Close()
		<-relayed
	}

	t := &mcp.CommandTransport{Command: cmd, TerminateDuration: DefaultTerminateDuration}
	if err := c.connect(ctx, t); err != nil {
		if cmd.Process != nil && cmd.ProcessState == nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
		stopRelay()
		return fmt.Errorf("%s: %w", name, err)
	}
	logging.Infow("mcpclient: command server started", "server", name, "command", command, "args", strings.Join(args, " "))

	// Runs after the session close, which has already reaped the process.
	c.appendCloser(func() error {
		stopRelay()
		logging.Debugw("mcpclient: command server exited", "server", name)
		return nil
	})
	return nil
}

// Connect starts a session over an arbitrary transport.
func (c *Client) Connect(ctx context.Context, t mcp.Transport) error {
	return c.connect(ctx, t)
}

func (c *Client) connect(ctx context.Context, t mcp.Transport) error {
	sess, err := c.client.Connect(ctx, t, nil)
	if err != nil {
		return fmt.Errorf("mcp connect: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = sess
	if c.keepaliveCancel != nil {
		c.keepaliveCancel()
		c.keepaliveCancel = nil
	}
	if c.keepalive <= 0 {
		return nil
	}
	kaCtx, cancel := context.WithCancel(context.Background())
	c.keepaliveCancel = cancel
	go func(interval time.Duration) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-kaCtx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(kaCtx, interval)
				if err := sess.Ping(pingCtx, nil); err != nil && kaCtx.Err() == nil {
					logging.Warnw("mcpclient: ping failed", "err", err)
				}
				cancel()
			}
		}
	}(c.keepalive)
	return nil
}

func (c *Client) appendCloser(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, fn)
}

// Session is the active session, nil before a successful connect.
func (c *Client) Session() *mcp.ClientSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// CallTool invokes a tool and returns its first text content. A tool-level
// error is returned as an error carrying that text.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	sess := c.Session()
	if sess == nil {
		return nil, errors.New("not connected")
	}
	res, err := sess.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	var text string
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			text = tc.Text
			break
		}
	}
	if res.IsError {
		return nil, &ToolError{Tool: name, Body: json.RawMessage(text)}
	}
	return json.RawMessage(text), nil
}

// ToolError is a tool result flagged IsError.
type ToolError struct {
	Tool string
	Body json.RawMessage
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Body)
}

// Close ends the session and tears down anything the connect started.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	if c.keepaliveCancel != nil {
		c.keepaliveCancel()
		c.keepaliveCancel = nil
	}
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			errs = append(errs, err)
		}
		c.session = nil
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
