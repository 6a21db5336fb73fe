package operation

import (
	"github.com/docmcp-lab/gateway/internal/document"
	"github.com/docmcp-lab/gateway/internal/progress"
)

// Context is what a handler sees of one invocation: the opened document,
// where it came from, and the modified flag the caller persists on.
//
// A Context is used by exactly one goroutine at a time. Session-backed
// contexts are only created while the session lock is held.
type Context[D document.Document] struct {
	Document   D
	SourcePath string
	SessionID  string
	Progress   progress.Reporter

	modified bool
}

// NewContext wraps doc for a single invocation. A nil reporter discards.
func NewContext[D document.Document](doc D, sourcePath, sessionID string, rep progress.Reporter) *Context[D] {
	if rep == nil {
		rep = progress.Discard
	}
	return &Context[D]{Document: doc, SourcePath: sourcePath, SessionID: sessionID, Progress: rep}
}

// MarkModified records that the document changed. There is no way back.
func (c *Context[D]) MarkModified() { c.modified = true }

// Modified reports whether any handler called MarkModified.
func (c *Context[D]) Modified() bool { return c.modified }

// InSession reports whether the document is held by a session.
func (c *Context[D]) InSession() bool { return c.SessionID != "" }

// Report forwards to the progress reporter.
func (c *Context[D]) Report(percent float64, message string) {
	if c.Progress == nil {
		return
	}
	c.Progress.Report(percent, message)
}
