package operation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/docmcp-lab/gateway/internal/document"
)

var (
	// ErrInvalidArgument classifies caller mistakes: unknown operations,
	// missing or mistyped parameters.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMissingParameter is returned by Required when a parameter is absent.
	ErrMissingParameter = fmt.Errorf("%w: missing required parameter", ErrInvalidArgument)

	// ErrKindMismatch is returned when a document of one kind is handed to
	// another kind's registry.
	ErrKindMismatch = errors.New("document kind mismatch")
)

// UnknownOperationError names an operation with no registered handler.
type UnknownOperationError struct {
	Kind      document.Kind
	Operation string
	Valid     []string
}

func (e *UnknownOperationError) Error() string {
	msg := fmt.Sprintf("unknown operation %q for %s", e.Operation, e.Kind)
	if len(e.Valid) > 0 {
		msg += "; valid operations: " + strings.Join(e.Valid, ", ")
	}
	return msg
}

func (e *UnknownOperationError) Unwrap() error { return ErrInvalidArgument }
