package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/docmcp-lab/gateway/internal/document"
	"github.com/docmcp-lab/gateway/internal/operation"
)

type wordCtx = operation.Context[*document.WordDocument]

// WordDocument builds the word-processing registry.
func WordDocument() *operation.Registry[*document.WordDocument] {
	return build(document.KindWordDocument,
		operation.NewHandler("get_text", func(_ context.Context, oc *wordCtx, _ operation.Parameters) (any, error) {
			return string(oc.Document.Content()), nil
		}),
		operation.NewHandler("word_count", func(_ context.Context, oc *wordCtx, _ operation.Parameters) (any, error) {
			return len(strings.Fields(string(oc.Document.Content()))), nil
		}),
		operation.NewHandler("append_text", func(_ context.Context, oc *wordCtx, p operation.Parameters) (any, error) {
			text, err := operation.Required[string](p, "text")
			if err != nil {
				return nil, err
			}
			newline, err := operation.Optional(p, "new_paragraph", false)
			if err != nil {
				return nil, err
			}
			content := oc.Document.Content()
			if newline && len(content) > 0 {
				content = append(content, '\n')
			}
			oc.Document.SetContent(append(content, text...))
			oc.MarkModified()
			return map[string]int{"length": len(oc.Document.Content())}, nil
		}),
		operation.NewHandler("replace_text", replaceText),
	)
}

// replaceText replaces line by line so progress can be reported on large
// documents.
func replaceText(ctx context.Context, oc *wordCtx, p operation.Parameters) (any, error) {
	find, err := operation.Required[string](p, "find")
	if err != nil {
		return nil, err
	}
	if find == "" {
		return nil, fmt.Errorf("%w: find must not be empty", operation.ErrInvalidArgument)
	}
	replace, err := operation.Optional(p, "replace", "")
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(oc.Document.Content()), "\n")
	count := 0
	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if n := strings.Count(line, find); n > 0 {
			lines[i] = strings.ReplaceAll(line, find, replace)
			count += n
		}
		oc.Report(float64(i+1)*100/float64(len(lines)), "replacing")
	}
	if count > 0 {
		oc.Document.SetContent([]byte(strings.Join(lines, "\n")))
		oc.MarkModified()
	}
	return map[string]int{"replacements": count}, nil
}
