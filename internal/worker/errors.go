package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docmcp-lab/gateway/internal/document"
	"github.com/docmcp-lab/gateway/internal/operation"
	"github.com/docmcp-lab/gateway/internal/session"
)

// ErrorEnvelope is the JSON body of every failed tool result.
type ErrorEnvelope struct {
	Code   string `json:"error_code"`
	Detail string `json:"detail,omitempty"`
	// Valid lists the known operations when Code is unknown_operation.
	Valid []string `json:"valid_operations,omitempty"`
}

func classify(err error) ErrorEnvelope {
	env := ErrorEnvelope{Code: "tool_error", Detail: strings.TrimSpace(err.Error())}
	var unknown *operation.UnknownOperationError
	switch {
	case errors.As(err, &unknown):
		env.Code = "unknown_operation"
		env.Valid = unknown.Valid
	case errors.Is(err, operation.ErrInvalidArgument):
		env.Code = "invalid_argument"
	case errors.Is(err, operation.ErrKindMismatch):
		env.Code = "kind_mismatch"
	case errors.Is(err, document.ErrUnsupportedKind):
		env.Code = "unsupported_kind"
	case errors.Is(err, document.ErrOutsideRoot):
		env.Code = "forbidden_path"
	case errors.Is(err, session.ErrNotFound), errors.Is(err, os.ErrNotExist):
		env.Code = "not_found"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		env.Code = "cancelled"
	}
	return env
}

// toolError renders err as an IsError result.
func toolError(err error) *mcp.CallToolResult {
	body, merr := json.Marshal(map[string]ErrorEnvelope{"error": classify(err)})
	if merr != nil {
		body = []byte(`{"error":{"error_code":"tool_error"}}`)
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(body)}}}, nil
}
