package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/docmcp-lab/gateway/internal/document"
	"github.com/docmcp-lab/gateway/internal/operation"
)

type presentationCtx = operation.Context[*document.Presentation]

// Presentation builds the slide deck registry. One slide title per line.
func Presentation() *operation.Registry[*document.Presentation] {
	return build(document.KindPresentation,
		operation.NewHandler("list_slides", func(_ context.Context, oc *presentationCtx, _ operation.Parameters) (any, error) {
			return slides(oc.Document), nil
		}),
		operation.NewHandler("add_slide", func(_ context.Context, oc *presentationCtx, p operation.Parameters) (any, error) {
			title, err := operation.Required[string](p, "title")
			if err != nil {
				return nil, err
			}
			if strings.ContainsAny(title, "\r\n") {
				return nil, fmt.Errorf("%w: slide title must be a single line", operation.ErrInvalidArgument)
			}
			list := append(slides(oc.Document), title)
			oc.Document.SetContent([]byte(strings.Join(list, "\n")))
			oc.MarkModified()
			return map[string]int{"index": len(list) - 1, "count": len(list)}, nil
		}),
		operation.NewHandler("delete_slide", func(_ context.Context, oc *presentationCtx, p operation.Parameters) (any, error) {
			index, err := operation.Required[int](p, "index")
			if err != nil {
				return nil, err
			}
			list := slides(oc.Document)
			if index < 0 || index >= len(list) {
				return nil, fmt.Errorf("%w: slide index %d out of range [0, %d)", operation.ErrInvalidArgument, index, len(list))
			}
			list = append(list[:index], list[index+1:]...)
			oc.Document.SetContent([]byte(strings.Join(list, "\n")))
			oc.MarkModified()
			return map[string]int{"count": len(list)}, nil
		}),
	)
}

func slides(doc *document.Presentation) []string {
	content := strings.TrimRight(string(doc.Content()), "\n")
	if content == "" {
		return []string{}
	}
	return strings.Split(content, "\n")
}
