// Package document defines the closed set of document kinds the gateway
// dispatches on, and how their handles are loaded and persisted.
//
// Format semantics live in the SDK-backed handler layer; here a document is
// its raw content plus a string property table that handlers may edit.
package document

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Kind identifies a document family.
type Kind string

const (
	KindWorkbook     Kind = "workbook"
	KindWordDocument Kind = "document"
	KindPresentation Kind = "presentation"
	KindPDF          Kind = "pdf"
	KindBarcode      Kind = "barcode"
)

// ErrUnsupportedKind is returned for unknown kinds and unmapped extensions.
var ErrUnsupportedKind = errors.New("unsupported document kind")

// Kinds lists every kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindWorkbook, KindWordDocument, KindPresentation, KindPDF, KindBarcode}
}

// ParseKind maps a kind name (case-insensitive) to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
}

var extensionKinds = map[string]Kind{
	".xlsx": KindWorkbook, ".xlsm": KindWorkbook, ".xls": KindWorkbook, ".csv": KindWorkbook, ".ods": KindWorkbook,
	".docx": KindWordDocument, ".doc": KindWordDocument, ".rtf": KindWordDocument, ".odt": KindWordDocument,
	".txt": KindWordDocument, ".md": KindWordDocument,
	".pptx": KindPresentation, ".ppt": KindPresentation, ".odp": KindPresentation,
	".pdf": KindPDF,
	".png": KindBarcode, ".svg": KindBarcode,
}

// KindForPath infers the kind from the file extension.
func KindForPath(path string) (Kind, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if k, ok := extensionKinds[ext]; ok {
		return k, nil
	}
	return "", fmt.Errorf("%w: no kind for extension %q", ErrUnsupportedKind, ext)
}

// Document is an opened, mutable document. The set of implementations is
// closed: Workbook, WordDocument, Presentation, PDFDocument and Barcode.
// Implementations are not safe for concurrent mutation.
type Document interface {
	Kind() Kind
	Content() []byte
	SetContent(b []byte)
	Property(name string) (string, bool)
	SetProperty(name, value string)
	RemoveProperty(name string) bool
	PropertyNames() []string

	sealed()
}

type base struct {
	content []byte
	props   map[string]string
}

func (b *base) Content() []byte { return b.content }

func (b *base) SetContent(p []byte) {
	b.content = append([]byte(nil), p...)
}

func (b *base) Property(name string) (string, bool) {
	v, ok := b.props[name]
	return v, ok
}

func (b *base) SetProperty(name, value string) {
	if b.props == nil {
		b.props = make(map[string]string)
	}
	b.props[name] = value
}

func (b *base) RemoveProperty(name string) bool {
	if _, ok := b.props[name]; !ok {
		return false
	}
	delete(b.props, name)
	return true
}

func (b *base) PropertyNames() []string {
	names := make([]string, 0, len(b.props))
	for name := range b.props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *base) properties() map[string]string { return b.props }

func (*base) sealed() {}

// Workbook is a spreadsheet.
type Workbook struct{ base }

func (*Workbook) Kind() Kind { return KindWorkbook }

// WordDocument is a word-processing document.
type WordDocument struct{ base }

func (*WordDocument) Kind() Kind { return KindWordDocument }

// Presentation is a slide deck.
type Presentation struct{ base }

func (*Presentation) Kind() Kind { return KindPresentation }

// PDFDocument is a PDF file.
type PDFDocument struct{ base }

func (*PDFDocument) Kind() Kind { return KindPDF }

// Barcode is a barcode image together with its encoding parameters.
type Barcode struct{ base }

func (*Barcode) Kind() Kind { return KindBarcode }

// New returns an empty document of the given kind.
func New(kind Kind) (Document, error) {
	b := base{props: make(map[string]string)}
	switch kind {
	case KindWorkbook:
		return &Workbook{b}, nil
	case KindWordDocument:
		return &WordDocument{b}, nil
	case KindPresentation:
		return &Presentation{b}, nil
	case KindPDF:
		return &PDFDocument{b}, nil
	case KindBarcode:
		return &Barcode{b}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
}

type propertyHolder interface {
	properties() map[string]string
}
