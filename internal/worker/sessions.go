package worker

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docmcp-lab/gateway/internal/document"
	"github.com/docmcp-lab/gateway/internal/logging"
	"github.com/docmcp-lab/gateway/internal/operation"
	"github.com/docmcp-lab/gateway/internal/session"
)

type openArgs struct {
	Path      string `json:"path,omitempty" jsonschema:"Document path, relative to the document root; required for a new session"`
	Kind      string `json:"kind,omitempty" jsonschema:"Document kind; inferred from the extension when empty"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Reuse this id; a new one is generated when empty"`
}

type saveArgs struct {
	SessionID  string `json:"session_id"`
	OutputPath string `json:"output_path,omitempty" jsonschema:"Write here instead of the source path"`
}

type closeArgs struct {
	SessionID string `json:"session_id"`
	Discard   bool   `json:"discard,omitempty" jsonschema:"Drop unsaved changes instead of writing them"`
}

type listArgs struct{}

// SessionResult describes a session after a session tool ran.
type SessionResult struct {
	session.Info
	Created bool   `json:"created,omitempty"`
	SavedTo string `json:"saved_to,omitempty"`
	Closed  bool   `json:"closed,omitempty"`
}

func (s *Server) registerSessionTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_open",
		Description: "Open a document and keep it in memory across calls. Pass the returned session_id to the kind tools.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in openArgs) (*mcp.CallToolResult, any, error) {
		out, err := s.OpenSession(ctx, in.SessionID, in.Kind, in.Path)
		if err != nil {
			return toolError(err), nil, nil
		}
		return nil, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_save",
		Description: "Write a session's document to disk and clear its dirty flag.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in saveArgs) (*mcp.CallToolResult, any, error) {
		out, err := s.SaveSession(ctx, in.SessionID, in.OutputPath)
		if err != nil {
			return toolError(err), nil, nil
		}
		return nil, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_close",
		Description: "Close a session, writing unsaved changes first unless discard is set.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in closeArgs) (*mcp.CallToolResult, any, error) {
		out, err := s.CloseSession(ctx, in.SessionID, in.Discard)
		if err != nil {
			return toolError(err), nil, nil
		}
		return nil, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_list",
		Description: "List open sessions.",
	}, func(context.Context, *mcp.CallToolRequest, listArgs) (*mcp.CallToolResult, any, error) {
		return nil, map[string]any{"sessions": s.sessions.List()}, nil
	})
}

// OpenSession loads path into a new session, or returns the existing
// session when id is already open.
func (s *Server) OpenSession(ctx context.Context, id, kind, path string) (SessionResult, error) {
	var k document.Kind
	if kind != "" {
		parsed, err := document.ParseKind(kind)
		if err != nil {
			return SessionResult{}, err
		}
		k = parsed
	}
	info, created, err := s.sessions.GetOrCreate(ctx, id, func(context.Context) (document.Document, string, error) {
		if path == "" {
			return nil, "", fmt.Errorf("%w %q", operation.ErrMissingParameter, "path")
		}
		return s.docs.Open(k, path)
	})
	if err != nil {
		return SessionResult{}, err
	}
	if created {
		logging.InfowCtx(ctx, "worker: session opened", append(logging.SessionFields(info.ID), "kind", string(info.Kind), "group", s.group)...)
	}
	return SessionResult{Info: info, Created: created}, nil
}

// SaveSession persists a session's document to outputPath, or to where it
// was loaded from. Saving to a new path rebinds the session to it.
func (s *Server) SaveSession(ctx context.Context, id, outputPath string) (SessionResult, error) {
	if id == "" {
		return SessionResult{}, fmt.Errorf("%w %q", operation.ErrMissingParameter, ArgSessionID)
	}
	var out SessionResult
	err := s.sessions.Mutate(ctx, id, func(e *session.Entry) error {
		saved, err := s.save(e, outputPath)
		if err != nil {
			return err
		}
		e.SourcePath = saved
		e.Dirty = false
		out = SessionResult{Info: e.Info(), SavedTo: saved}
		return nil
	})
	return out, err
}

// CloseSession evicts a session, saving first when it is dirty and
// discard is false. A failed save leaves the session evicted.
func (s *Server) CloseSession(ctx context.Context, id string, discard bool) (SessionResult, error) {
	if id == "" {
		return SessionResult{}, fmt.Errorf("%w %q", operation.ErrMissingParameter, ArgSessionID)
	}
	e, err := s.sessions.Evict(ctx, id)
	if err != nil {
		return SessionResult{}, err
	}
	out := SessionResult{Info: e.Info(), Closed: true}
	if e.Dirty && !discard {
		saved, err := s.save(e, "")
		if err != nil {
			return SessionResult{}, fmt.Errorf("close session %s: %w", id, err)
		}
		out.SavedTo = saved
		out.Dirty = false
	}
	logging.InfowCtx(ctx, "worker: session closed", append(logging.SessionFields(id), "saved", out.SavedTo != "", "group", s.group)...)
	return out, nil
}

// SaveEvicted writes a dirty entry that left the store without a close
// call, as the idle reaper does.
func (s *Server) SaveEvicted(e *session.Entry) {
	if !e.Dirty {
		return
	}
	if _, err := s.save(e, ""); err != nil {
		logging.Errorw("worker: save of evicted session failed", append(logging.SessionFields(e.ID), "err", err)...)
	}
}

func (s *Server) save(e *session.Entry, outputPath string) (string, error) {
	target := e.SourcePath
	if outputPath != "" {
		target = outputPath
	}
	if target == "" {
		return "", fmt.Errorf("%w %q: session has no source path", operation.ErrMissingParameter, ArgOutputPath)
	}
	return s.docs.Save(e.Document, target)
}

// Flush closes every open session, saving the dirty ones. It returns how
// many sessions were closed.
func (s *Server) Flush(ctx context.Context) int {
	n := 0
	for _, info := range s.sessions.List() {
		e, err := s.sessions.Evict(ctx, info.ID)
		if err != nil {
			continue
		}
		s.SaveEvicted(e)
		n++
	}
	return n
}
