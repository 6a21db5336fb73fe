package handlers

import (
	"bytes"
	"context"
	"regexp"

	"github.com/docmcp-lab/gateway/internal/document"
	"github.com/docmcp-lab/gateway/internal/operation"
)

type pdfCtx = operation.Context[*document.PDFDocument]

var pageObject = regexp.MustCompile(`/Type\s*/Page\b`)

// PDF builds the PDF registry.
func PDF() *operation.Registry[*document.PDFDocument] {
	return build(document.KindPDF,
		operation.NewHandler("get_page_count", func(_ context.Context, oc *pdfCtx, _ operation.Parameters) (any, error) {
			return map[string]int{"pages": len(pageObject.FindAllIndex(oc.Document.Content(), -1))}, nil
		}),
		operation.NewHandler("get_version", func(_ context.Context, oc *pdfCtx, _ operation.Parameters) (any, error) {
			content := oc.Document.Content()
			if !bytes.HasPrefix(content, []byte("%PDF-")) {
				return map[string]string{"version": ""}, nil
			}
			end := bytes.IndexAny(content, "\r\n")
			if end < 0 {
				end = len(content)
			}
			return map[string]string{"version": string(content[len("%PDF-"):end])}, nil
		}),
		operation.NewHandler("set_title", func(_ context.Context, oc *pdfCtx, p operation.Parameters) (any, error) {
			title, err := operation.Required[string](p, "title")
			if err != nil {
				return nil, err
			}
			oc.Document.SetProperty("Title", title)
			oc.MarkModified()
			return map[string]string{"title": title}, nil
		}),
	)
}
