package operation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/docmcp-lab/gateway/internal/document"
	"github.com/docmcp-lab/gateway/internal/logging"
	"github.com/docmcp-lab/gateway/internal/metrics"
	"github.com/docmcp-lab/gateway/internal/progress"
)

// Invocation is one call routed through a Dispatcher.
type Invocation struct {
	Kind       document.Kind
	Operation  string
	Document   document.Document
	SourcePath string
	SessionID  string
	Params     Parameters
	Progress   progress.Reporter
}

// Result is what a handler returned plus whether it changed the document.
type Result struct {
	Operation string
	Value     any
	Modified  bool
}

// KindRegistry is the kind-erased view of a Registry that a Dispatcher
// composes. *Registry[D] implements it for every document type.
type KindRegistry interface {
	Kind() document.Kind
	Operations() []string
	Resolve(name string) (string, error)
	Invoke(ctx context.Context, inv Invocation) (Result, error)
}

// Dispatcher routes invocations to the registry for their document kind.
// It is immutable after construction.
type Dispatcher struct {
	registries map[document.Kind]KindRegistry
	metrics    *metrics.Metrics
}

// NewDispatcher composes per-kind registries. Two registries for the same
// kind are rejected.
func NewDispatcher(m *metrics.Metrics, regs ...KindRegistry) (*Dispatcher, error) {
	d := &Dispatcher{registries: make(map[document.Kind]KindRegistry, len(regs)), metrics: m}
	for _, r := range regs {
		if _, dup := d.registries[r.Kind()]; dup {
			return nil, fmt.Errorf("dispatcher: duplicate registry for %s", r.Kind())
		}
		d.registries[r.Kind()] = r
	}
	return d, nil
}

// Kinds lists the kinds with a registry, in document.Kinds order.
func (d *Dispatcher) Kinds() []document.Kind {
	var out []document.Kind
	for _, k := range document.Kinds() {
		if _, ok := d.registries[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func (d *Dispatcher) registry(kind document.Kind) (KindRegistry, error) {
	r, ok := d.registries[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", document.ErrUnsupportedKind, kind)
	}
	return r, nil
}

// Operations lists the canonical operation names for kind.
func (d *Dispatcher) Operations(kind document.Kind) ([]string, error) {
	r, err := d.registry(kind)
	if err != nil {
		return nil, err
	}
	ops := r.Operations()
	sort.Strings(ops)
	return ops, nil
}

// Resolve checks that operation exists for kind and returns its canonical
// name. Callers resolve before loading a document so an unknown operation
// never touches storage.
func (d *Dispatcher) Resolve(kind document.Kind, operation string) (string, error) {
	r, err := d.registry(kind)
	if err != nil {
		return "", err
	}
	return r.Resolve(operation)
}

// Dispatch runs inv. A panicking handler is reported as an error; the
// modified flag it may have set is lost in that case.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) (res Result, err error) {
	r, err := d.registry(inv.Kind)
	if err != nil {
		d.metrics.Dispatch(string(inv.Kind), "unsupported")
		return Result{}, err
	}
	if inv.Document == nil {
		return Result{}, fmt.Errorf("dispatch %s/%s: no document", inv.Kind, inv.Operation)
	}
	if inv.Document.Kind() != inv.Kind {
		d.metrics.Dispatch(string(inv.Kind), "mismatch")
		return Result{}, fmt.Errorf("%w: want %s, got %s", ErrKindMismatch, inv.Kind, inv.Document.Kind())
	}

	defer func() {
		if p := recover(); p != nil {
			fields := append(logging.OperationFields(string(inv.Kind), inv.Operation), "panic", p)
			logging.ErrorwCtx(ctx, "operation: handler panicked", fields...)
			res, err = Result{}, fmt.Errorf("operation %s/%s panicked: %v", inv.Kind, inv.Operation, p)
		}
		d.metrics.Dispatch(string(inv.Kind), outcome(err))
	}()

	return r.Invoke(ctx, inv)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid"
	default:
		return "error"
	}
}
