// Package operation dispatches named operations to typed handlers per
// document kind.
package operation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docmcp-lab/gateway/internal/document"
)

// Handler executes one named operation against a document of type D.
type Handler[D document.Document] interface {
	// Operation is the canonical operation name.
	Operation() string
	Execute(ctx context.Context, oc *Context[D], params Parameters) (any, error)
}

// HandlerFunc is the function form of Handler.Execute.
type HandlerFunc[D document.Document] func(ctx context.Context, oc *Context[D], params Parameters) (any, error)

type funcHandler[D document.Document] struct {
	name string
	fn   HandlerFunc[D]
}

func (h funcHandler[D]) Operation() string { return h.name }

func (h funcHandler[D]) Execute(ctx context.Context, oc *Context[D], params Parameters) (any, error) {
	return h.fn(ctx, oc, params)
}

// NewHandler names fn as an operation.
func NewHandler[D document.Document](name string, fn HandlerFunc[D]) Handler[D] {
	return funcHandler[D]{name: name, fn: fn}
}

// Registry maps operation names to handlers for one document kind.
//
// Registration happens during startup only. After that the registry is
// read-only and lookups need no locking.
type Registry[D document.Document] struct {
	kind     document.Kind
	handlers map[string]Handler[D]
	names    []string
}

// NewRegistry returns an empty registry for kind.
func NewRegistry[D document.Document](kind document.Kind) *Registry[D] {
	return &Registry[D]{kind: kind, handlers: make(map[string]Handler[D])}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Kind is the document kind this registry serves.
func (r *Registry[D]) Kind() document.Kind { return r.kind }

// Register adds h. Empty names and names that collide case-insensitively
// with an existing registration are rejected.
func (r *Registry[D]) Register(h Handler[D]) error {
	if h == nil {
		return fmt.Errorf("%s registry: nil handler", r.kind)
	}
	key := normalize(h.Operation())
	if key == "" {
		return fmt.Errorf("%s registry: handler with empty operation name", r.kind)
	}
	if existing, ok := r.handlers[key]; ok {
		return fmt.Errorf("%s registry: operation %q already registered as %q", r.kind, h.Operation(), existing.Operation())
	}
	r.handlers[key] = h
	r.names = append(r.names, h.Operation())
	return nil
}

// MustRegister registers every handler and panics on the first failure.
// Duplicate registrations are programming errors caught at startup.
func (r *Registry[D]) MustRegister(hs ...Handler[D]) *Registry[D] {
	for _, h := range hs {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
	return r
}

// GetHandler looks name up case-insensitively. Unknown names fail with an
// *UnknownOperationError, which matches ErrInvalidArgument.
func (r *Registry[D]) GetHandler(name string) (Handler[D], error) {
	if h, ok := r.handlers[normalize(name)]; ok {
		return h, nil
	}
	return nil, &UnknownOperationError{Kind: r.kind, Operation: name, Valid: r.Operations()}
}

// Operations returns the canonical names, sorted.
func (r *Registry[D]) Operations() []string {
	out := append([]string(nil), r.names...)
	sort.Strings(out)
	return out
}

// Resolve returns the canonical name for an operation without running it.
func (r *Registry[D]) Resolve(name string) (string, error) {
	h, err := r.GetHandler(name)
	if err != nil {
		return "", err
	}
	return h.Operation(), nil
}

// Invoke runs inv against this registry. inv.Document must be a D.
func (r *Registry[D]) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	h, err := r.GetHandler(inv.Operation)
	if err != nil {
		return Result{}, err
	}
	doc, ok := inv.Document.(D)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s registry got %T", ErrKindMismatch, r.kind, inv.Document)
	}
	oc := NewContext(doc, inv.SourcePath, inv.SessionID, inv.Progress)
	value, err := h.Execute(ctx, oc, inv.Params)
	return Result{Operation: h.Operation(), Value: value, Modified: oc.Modified()}, err
}
