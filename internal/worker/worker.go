// Package worker is the MCP server that runs document operations. Every
// transport ends up here: stdio runs it in-process, SSE shares one
// instance, and the WebSocket bridge spawns one worker process per
// connection.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docmcp-lab/gateway/internal/document"
	"github.com/docmcp-lab/gateway/internal/logging"
	"github.com/docmcp-lab/gateway/internal/operation"
	"github.com/docmcp-lab/gateway/internal/progress"
	"github.com/docmcp-lab/gateway/internal/session"
)

const (
	Name    = "docmcp-gateway"
	Version = "0.3.0"
)

// Routing arguments every kind tool accepts; they never reach handlers.
const (
	ArgOperation  = "operation"
	ArgPath       = "path"
	ArgOutputPath = "output_path"
	ArgSessionID  = "session_id"
)

// Options configures a Server.
type Options struct {
	// Group is the authenticated group the gateway resolved for this
	// worker, empty when unauthenticated.
	Group string
	// Instructions are sent to clients on initialize.
	Instructions string
}

// Server exposes a Dispatcher as MCP tools.
type Server struct {
	dispatcher *operation.Dispatcher
	docs       *document.Store
	sessions   session.Store
	group      string
	mcp        *mcp.Server
}

// New builds the MCP server and registers one tool per document kind, an
// operations listing per kind, and the session tools.
func New(d *operation.Dispatcher, docs *document.Store, sessions session.Store, opts Options) *Server {
	s := &Server{dispatcher: d, docs: docs, sessions: sessions, group: opts.Group}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: Name, Version: Version}, &mcp.ServerOptions{
		Instructions: opts.Instructions,
	})
	for _, kind := range d.Kinds() {
		s.registerKind(kind)
	}
	s.registerSessionTools()
	return s
}

// MCP returns the underlying server, for transports that need it directly.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Run serves t until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	logging.Infow("worker: serving", "group", s.group, "kinds", len(s.dispatcher.Kinds()))
	if err := s.mcp.Run(ctx, t); err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}

// RunStdio serves MCP on the process's stdin and stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

func kindSchema(kind document.Kind, ops []string) *jsonschema.Schema {
	enum := make([]any, len(ops))
	for i, op := range ops {
		enum[i] = op
	}
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			ArgOperation: {
				Type:        "string",
				Description: fmt.Sprintf("%s operation to run (case-insensitive)", kind),
				Enum:        enum,
			},
			ArgPath:       {Type: "string", Description: "Document path, relative to the document root. Ignored when session_id is set."},
			ArgOutputPath: {Type: "string", Description: "Where to write the document if the operation modifies it. Defaults to path."},
			ArgSessionID:  {Type: "string", Description: "Run against a document held open by session_open."},
		},
		Required: []string{ArgOperation},
	}
}

func (s *Server) registerKind(kind document.Kind) {
	ops, _ := s.dispatcher.Operations(kind)
	s.mcp.AddTool(&mcp.Tool{
		Name:        string(kind),
		Description: fmt.Sprintf("Run an operation against a %s. Remaining arguments are passed to the operation.", kind),
		InputSchema: kindSchema(kind, ops),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var raw json.RawMessage
		rep := progress.Discard
		if req.Params != nil {
			raw = req.Params.Arguments
			rep = progress.NewMCP(ctx, req.Session, req.Params.GetProgressToken())
		}
		res, err := s.Call(ctx, kind, raw, rep)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(res)
	})

	s.mcp.AddTool(&mcp.Tool{
		Name:        string(kind) + "_operations",
		Description: fmt.Sprintf("List the operations the %s tool accepts.", kind),
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ops, err := s.dispatcher.Operations(kind)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(map[string]any{"kind": kind, "operations": ops})
	})
}

// CallResult is the body of a successful kind tool call.
type CallResult struct {
	Operation string `json:"operation"`
	Result    any    `json:"result"`
	Modified  bool   `json:"modified"`
	SessionID string `json:"session_id,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	SavedTo   string `json:"saved_to,omitempty"`
}

// Call runs one kind tool invocation. The operation is resolved before any
// document is loaded. Without a session the document is opened for this
// call only and written back when the operation modified it; with a
// session the call runs under the session lock and only marks it dirty.
func (s *Server) Call(ctx context.Context, kind document.Kind, args json.RawMessage, rep progress.Reporter) (CallResult, error) {
	params, err := operation.ParseParameters(args)
	if err != nil {
		return CallResult{}, err
	}
	op, err := operation.Required[string](params, ArgOperation)
	if err != nil {
		return CallResult{}, err
	}
	canonical, err := s.dispatcher.Resolve(kind, op)
	if err != nil {
		return CallResult{}, err
	}
	sessionID, err := operation.Optional(params, ArgSessionID, "")
	if err != nil {
		return CallResult{}, err
	}
	outputPath, err := operation.Optional(params, ArgOutputPath, "")
	if err != nil {
		return CallResult{}, err
	}
	inv := operation.Invocation{
		Kind:      kind,
		Operation: canonical,
		Params:    params.Without(ArgOperation, ArgPath, ArgOutputPath, ArgSessionID),
		Progress:  rep,
	}

	fields := append(logging.OperationFields(string(kind), canonical), "group", s.group)
	start := time.Now()
	defer func() {
		logging.DebugwCtx(ctx, "worker: call finished", append(fields, "session", sessionID, "duration", time.Since(start))...)
	}()

	if sessionID != "" {
		return s.callSession(ctx, sessionID, inv)
	}

	path, err := operation.Required[string](params, ArgPath)
	if err != nil {
		return CallResult{}, err
	}
	doc, resolved, err := s.docs.Open(kind, path)
	if err != nil {
		return CallResult{}, err
	}
	inv.Document = doc
	inv.SourcePath = resolved

	res, err := s.dispatcher.Dispatch(ctx, inv)
	if err != nil {
		return CallResult{}, err
	}
	out := CallResult{Operation: res.Operation, Result: res.Value, Modified: res.Modified}
	if res.Modified {
		target := resolved
		if outputPath != "" {
			target = outputPath
		}
		saved, err := s.docs.Save(doc, target)
		if err != nil {
			return CallResult{}, err
		}
		out.SavedTo = saved
	}
	return out, nil
}

func (s *Server) callSession(ctx context.Context, id string, inv operation.Invocation) (CallResult, error) {
	var out CallResult
	err := s.sessions.Mutate(ctx, id, func(e *session.Entry) error {
		inv.Document = e.Document
		inv.SourcePath = e.SourcePath
		inv.SessionID = e.ID
		res, err := s.dispatcher.Dispatch(ctx, inv)
		if res.Modified {
			e.Dirty = true
		}
		if err != nil {
			return err
		}
		out = CallResult{Operation: res.Operation, Result: res.Value, Modified: res.Modified, SessionID: e.ID, Dirty: e.Dirty}
		return nil
	})
	return out, err
}
