package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"askpdf/ragerr"
	"askpdf/types"

	"github.com/dslipak/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	pdftypes "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"go.uber.org/zap"
)

// PDF validates a file with pdfcpu, optionally crops header and footer
// margins, and reads the plain text of every page.
type PDF struct {
	cropTop    float64 // points
	cropBottom float64 // points
	logger     *zap.Logger
}

func NewPDF(cropTop, cropBottom float64, logger *zap.Logger) *PDF {
	return &PDF{cropTop: cropTop, cropBottom: cropBottom, logger: logger.Named("pdf")}
}

func (p *PDF) Extract(ctx context.Context, doc types.Document) (units []types.TextUnit, err error) {
	const op = "extractor.pdf"

	fail := func(err error) error {
		return ragerr.Permanent(ragerr.KindExtraction, op, err).WithDocument(doc.Name)
	}

	if len(doc.Data) == 0 {
		return nil, fail(fmt.Errorf("file is empty"))
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.Validate(bytes.NewReader(doc.Data), conf); err != nil {
		return nil, fail(fmt.Errorf("validate: %w", err))
	}
	pageCount, err := api.PageCount(bytes.NewReader(doc.Data), conf)
	if err != nil {
		return nil, fail(fmt.Errorf("count pages: %w", err))
	}

	data := doc.Data
	if p.cropTop > 0 || p.cropBottom > 0 {
		data, err = removeHeaderFooter(data, p.cropTop, p.cropBottom, conf)
		if err != nil {
			return nil, fail(err)
		}
	}

	// The text parser panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			units = nil
			err = fail(fmt.Errorf("parse: %v", r))
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fail(fmt.Errorf("open: %w", err))
	}

	numPages := r.NumPage()
	if numPages != pageCount {
		p.logger.Warn("page count mismatch", zap.String("document", doc.Name), zap.Int("pdfcpu", pageCount), zap.Int("reader", numPages))
	}

	units = make([]types.TextUnit, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, ragerr.Transient(ragerr.KindExtraction, op, err).WithDocument(doc.Name)
		}

		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fail(fmt.Errorf("page %d: %w", i, err))
		}
		units = append(units, types.TextUnit{Page: i, Text: strings.TrimSpace(text)})
	}

	p.logger.Debug("extracted", zap.String("document", doc.Name), zap.Int("pages", len(units)))
	return units, nil
}

// removeHeaderFooter crops top and bottom points off every page.
func removeHeaderFooter(data []byte, top, bottom float64, conf *model.Configuration) ([]byte, error) {
	box, err := model.ParseBox(fmt.Sprintf("%.2f 0 %.2f 0", top, bottom), pdftypes.POINTS)
	if err != nil {
		return nil, fmt.Errorf("parse crop box: %w", err)
	}

	var out bytes.Buffer
	if err := api.Crop(bytes.NewReader(data), &out, nil, box, conf); err != nil {
		return nil, fmt.Errorf("crop: %w", err)
	}
	return out.Bytes(), nil
}
