// Package extractor turns uploaded files into page texts.
package extractor

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"askpdf/ragerr"
	"askpdf/types"
)

// Extractor converts a document to ordered text units.
type Extractor interface {
	Extract(ctx context.Context, doc types.Document) ([]types.TextUnit, error)
}

// Dispatcher picks an extractor by file extension, falling back to the PDF
// magic number for files without one.
type Dispatcher struct {
	pdf  *PDF
	text *Text
}

func NewDispatcher(pdf *PDF) *Dispatcher {
	return &Dispatcher{pdf: pdf, text: &Text{}}
}

var pdfMagic = []byte("%PDF-")

func (d *Dispatcher) Extract(ctx context.Context, doc types.Document) ([]types.TextUnit, error) {
	switch strings.ToLower(filepath.Ext(doc.Name)) {
	case ".pdf":
		return d.pdf.Extract(ctx, doc)
	case ".txt", ".md", ".text":
		return d.text.Extract(ctx, doc)
	case "":
		if bytes.HasPrefix(doc.Data, pdfMagic) {
			return d.pdf.Extract(ctx, doc)
		}
	}
	return nil, ragerr.New(ragerr.KindExtraction, "extractor", "unsupported file type").WithDocument(doc.Name)
}

// Supported reports whether name has an extension the dispatcher handles.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".txt", ".md", ".text":
		return true
	}
	return false
}
