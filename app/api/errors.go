package api

import (
	"errors"
	"fmt"

	"askpdf/ragerr"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// NewErrorHandler renders every error returned by a handler as JSON. Pipeline
// errors get a status derived from their kind.
func NewErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	logger = logger.Named("api")
	return func(c *fiber.Ctx, err error) error {
		var (
			apiErr Error
			valErr ValidationError
			rErr   *ragerr.Error
			fErr   *fiber.Error
		)
		switch {
		case errors.As(err, &valErr):
			return c.Status(valErr.Status).JSON(valErr)
		case errors.As(err, &apiErr):
		case errors.As(err, &rErr):
			apiErr = FromRagErr(err)
		case errors.As(err, &fErr):
			apiErr = NewError(fErr.Code, fErr.Message)
		default:
			apiErr = NewError(fiber.StatusInternalServerError, "internal server error")
		}

		if apiErr.Code >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Int("code", apiErr.Code),
				zap.Error(err),
			)
		} else {
			logger.Info("request rejected",
				zap.String("path", c.Path()),
				zap.Int("code", apiErr.Code),
				zap.String("error", apiErr.Message),
			)
		}
		return c.Status(apiErr.Code).JSON(apiErr)
	}
}

type Error struct {
	Code      int    `json:"code"`
	Message   string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Document  string `json:"document,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrNoFiles() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "no files in upload, send them as multipart field \"files\"",
	}
}

func ErrUnsupportedFile(name string) Error {
	return Error{
		Code:     fiber.StatusUnsupportedMediaType,
		Message:  fmt.Sprintf("%s: only PDF and plain text files are accepted", name),
		Document: name,
	}
}

// FromRagErr maps a pipeline error to a response. The status follows the
// innermost kind; transient upstream failures become 503.
func FromRagErr(err error) Error {
	root := ragerr.Root(err)
	e := Error{
		Code:      StatusFor(root, ragerr.IsRetryable(err)),
		Kind:      root.String(),
		Document:  ragerr.DocumentOf(err),
		Retryable: ragerr.IsRetryable(err),
	}
	switch root {
	case ragerr.KindInvalidInput, ragerr.KindExtraction, ragerr.KindNoContent,
		ragerr.KindIndexNotFound, ragerr.KindIndexMismatch:
		e.Message = err.Error()
	default:
		e.Message = "the documents could not be indexed right now"
	}
	return e
}

func StatusFor(kind ragerr.Kind, retryable bool) int {
	switch kind {
	case ragerr.KindInvalidInput:
		return fiber.StatusBadRequest
	case ragerr.KindExtraction, ragerr.KindNoContent:
		return fiber.StatusUnprocessableEntity
	case ragerr.KindIndexNotFound:
		return fiber.StatusNotFound
	case ragerr.KindIndexMismatch:
		return fiber.StatusConflict
	case ragerr.KindEmbedding, ragerr.KindModel, ragerr.KindStorage:
		if retryable {
			return fiber.StatusServiceUnavailable
		}
		return fiber.StatusBadGateway
	}
	if retryable {
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}
