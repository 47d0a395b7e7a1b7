package api

import (
	"context"
	"io"
	"mime/multipart"
	"time"

	"askpdf/extractor"
	"askpdf/types"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pipeline is the part of pipeline.Pipeline the handlers use.
type Pipeline interface {
	Ingest(ctx context.Context, handle string, docs []types.Document) (*types.IngestReport, error)
	Ask(ctx context.Context, handle, question string) types.AskResult
}

type RequestHandler struct {
	pipeline Pipeline
	logger   *zap.Logger
}

func NewRequestHandler(p Pipeline, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{
		pipeline: p,
		logger:   logger.Named("api"),
	}
}

// HandleAsk always answers 200 with an AskResult once the request is valid;
// failures are reported in the body.
func (h *RequestHandler) HandleAsk(c *fiber.Ctx) error {
	var params types.QueryParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	res := h.pipeline.Ask(c.UserContext(), params.Handle, params.Question)
	return c.JSON(res)
}

type uploadResponse struct {
	Success bool `json:"success"`
	*types.IngestReport
}

// HandleUpload indexes the uploaded files, replacing the index at the
// requested handle.
func (h *RequestHandler) HandleUpload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return ErrNoFiles()
	}

	params := types.UploadParams{Handle: c.FormValue("handle")}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	headers := append(form.File["files"], form.File["file"]...)
	if len(headers) == 0 {
		return ErrNoFiles()
	}

	docs := make([]types.Document, 0, len(headers))
	for _, fh := range headers {
		if !extractor.Supported(fh.Filename) {
			return ErrUnsupportedFile(fh.Filename)
		}
		data, err := readUpload(fh)
		if err != nil {
			return err
		}
		docs = append(docs, types.Document{
			ID:      uuid.New(),
			Name:    fh.Filename,
			Data:    data,
			ModTime: time.Now().UTC(),
		})
		h.logger.Info("file received", zap.String("file", fh.Filename), zap.Int64("size", fh.Size))
	}

	report, err := h.pipeline.Ingest(c.UserContext(), params.Handle, docs)
	if err != nil {
		return err
	}
	return c.JSON(uploadResponse{Success: true, IngestReport: report})
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
