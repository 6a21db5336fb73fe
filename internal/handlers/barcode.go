package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/docmcp-lab/gateway/internal/document"
	"github.com/docmcp-lab/gateway/internal/operation"
)

type barcodeCtx = operation.Context[*document.Barcode]

const (
	propSymbology = "symbology"
	propText      = "text"
)

var symbologies = map[string]struct{}{
	"qr": {}, "code128": {}, "code39": {}, "ean13": {}, "datamatrix": {}, "pdf417": {},
}

// Barcode builds the barcode registry. Encoding keeps the symbology and
// payload as properties; rendering is the SDK adapter's job.
func Barcode() *operation.Registry[*document.Barcode] {
	return build(document.KindBarcode,
		operation.NewHandler("encode", func(_ context.Context, oc *barcodeCtx, p operation.Parameters) (any, error) {
			text, err := operation.Required[string](p, "text")
			if err != nil {
				return nil, err
			}
			symbology, err := operation.Optional(p, "symbology", "qr")
			if err != nil {
				return nil, err
			}
			symbology = strings.ToLower(symbology)
			if _, ok := symbologies[symbology]; !ok {
				return nil, fmt.Errorf("%w: unsupported symbology %q", operation.ErrInvalidArgument, symbology)
			}
			oc.Document.SetProperty(propSymbology, symbology)
			oc.Document.SetProperty(propText, text)
			oc.Document.SetContent([]byte(text))
			oc.MarkModified()
			return map[string]string{"symbology": symbology, "text": text}, nil
		}),
		operation.NewHandler("decode", func(_ context.Context, oc *barcodeCtx, _ operation.Parameters) (any, error) {
			symbology, _ := oc.Document.Property(propSymbology)
			text, ok := oc.Document.Property(propText)
			if !ok {
				text = string(oc.Document.Content())
			}
			return map[string]string{"symbology": symbology, "text": text}, nil
		}),
	)
}
