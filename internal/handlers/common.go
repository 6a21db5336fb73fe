// Package handlers builds the per-kind operation registries.
//
// Handlers here are deliberately small: they validate parameters, touch the
// document, and call MarkModified whenever the document changed. Format
// work proper belongs to the SDK adapters, which register the same way.
package handlers

import (
	"context"
	"fmt"

	"github.com/docmcp-lab/gateway/internal/document"
	"github.com/docmcp-lab/gateway/internal/metrics"
	"github.com/docmcp-lab/gateway/internal/operation"
)

// Operation names shared by every kind.
const (
	OpGetInfo        = "get_info"
	OpListProperties = "list_properties"
	OpGetProperty    = "get_property"
	OpSetProperty    = "set_property"
	OpRemoveProperty = "remove_property"
)

// Info is the result of get_info.
type Info struct {
	Kind       document.Kind `json:"kind"`
	SourcePath string        `json:"source_path,omitempty"`
	SessionID  string        `json:"session_id,omitempty"`
	Size       int           `json:"size"`
	Properties int           `json:"properties"`
}

func common[D document.Document]() []operation.Handler[D] {
	return []operation.Handler[D]{
		operation.NewHandler(OpGetInfo, func(_ context.Context, oc *operation.Context[D], _ operation.Parameters) (any, error) {
			return Info{
				Kind:       oc.Document.Kind(),
				SourcePath: oc.SourcePath,
				SessionID:  oc.SessionID,
				Size:       len(oc.Document.Content()),
				Properties: len(oc.Document.PropertyNames()),
			}, nil
		}),
		operation.NewHandler(OpListProperties, func(_ context.Context, oc *operation.Context[D], _ operation.Parameters) (any, error) {
			props := make(map[string]string)
			for _, name := range oc.Document.PropertyNames() {
				props[name], _ = oc.Document.Property(name)
			}
			return props, nil
		}),
		operation.NewHandler(OpGetProperty, func(_ context.Context, oc *operation.Context[D], p operation.Parameters) (any, error) {
			name, err := operation.Required[string](p, "name")
			if err != nil {
				return nil, err
			}
			value, ok := oc.Document.Property(name)
			if !ok {
				return nil, fmt.Errorf("%w: property %q not set", operation.ErrInvalidArgument, name)
			}
			return map[string]string{"name": name, "value": value}, nil
		}),
		operation.NewHandler(OpSetProperty, func(_ context.Context, oc *operation.Context[D], p operation.Parameters) (any, error) {
			name, err := operation.Required[string](p, "name")
			if err != nil {
				return nil, err
			}
			value, err := operation.Required[string](p, "value")
			if err != nil {
				return nil, err
			}
			oc.Document.SetProperty(name, value)
			oc.MarkModified()
			return map[string]string{"name": name, "value": value}, nil
		}),
		operation.NewHandler(OpRemoveProperty, func(_ context.Context, oc *operation.Context[D], p operation.Parameters) (any, error) {
			name, err := operation.Required[string](p, "name")
			if err != nil {
				return nil, err
			}
			removed := oc.Document.RemoveProperty(name)
			if removed {
				oc.MarkModified()
			}
			return map[string]any{"name": name, "removed": removed}, nil
		}),
	}
}

func build[D document.Document](kind document.Kind, specific ...operation.Handler[D]) *operation.Registry[D] {
	r := operation.NewRegistry[D](kind)
	r.MustRegister(common[D]()...)
	r.MustRegister(specific...)
	return r
}

// NewDispatcher registers every kind's handlers.
func NewDispatcher(m *metrics.Metrics) (*operation.Dispatcher, error) {
	return operation.NewDispatcher(m,
		Workbook(),
		WordDocument(),
		Presentation(),
		PDF(),
		Barcode(),
	)
}
