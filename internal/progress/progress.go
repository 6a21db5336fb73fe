// Package progress adapts long-running document work to push-style progress
// notifications.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docmcp-lab/gateway/internal/logging"
)

// Reporter observes progress of a single operation. Percent is in [0, 100].
type Reporter interface {
	Report(percent float64, message string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(percent float64, message string)

func (f ReporterFunc) Report(percent float64, message string) { f(percent, message) }

type discard struct{}

func (discard) Report(float64, string) {}

// Discard drops every report.
var Discard Reporter = discard{}

// notifyTimeout bounds each notification so a slow client cannot stall the
// handler that reports.
const notifyTimeout = 5 * time.Second

// MCP sends reports as notifications/progress on an MCP server session.
type MCP struct {
	ctx     context.Context
	session *mcp.ServerSession
	token   any

	mu   sync.Mutex
	last float64
}

// NewMCP returns a reporter for the call identified by token. Without a
// session or token the client did not ask for progress, so Discard is
// returned.
func NewMCP(ctx context.Context, session *mcp.ServerSession, token any) Reporter {
	if session == nil || token == nil {
		return Discard
	}
	return &MCP{ctx: ctx, session: session, token: token, last: -1}
}

// Report clamps percent into [0, 100] and drops values that do not move
// progress forward; the protocol requires it to strictly increase.
func (p *MCP) Report(percent float64, message string) {
	switch {
	case percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}
	p.mu.Lock()
	if percent <= p.last {
		p.mu.Unlock()
		return
	}
	p.last = percent
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(p.ctx, notifyTimeout)
	defer cancel()
	err := p.session.NotifyProgress(ctx, &mcp.ProgressNotificationParams{
		ProgressToken: p.token,
		Progress:      percent,
		Total:         100,
		Message:       message,
	})
	if err != nil {
		logging.Debugw("progress: notify failed", "err", err, "progress", percent)
	}
}
