package extractor

import (
	"context"
	"unicode/utf8"

	"askpdf/ragerr"
	"askpdf/types"
)

// Text reads UTF-8 text files as a single unit.
type Text struct{}

func (t *Text) Extract(_ context.Context, doc types.Document) ([]types.TextUnit, error) {
	if !utf8.Valid(doc.Data) {
		return nil, ragerr.New(ragerr.KindExtraction, "extractor.text", "file is not valid UTF-8").WithDocument(doc.Name)
	}
	return []types.TextUnit{{Page: 1, Text: string(doc.Data)}}, nil
}
