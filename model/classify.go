package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"askpdf/ragerr"
)

// retryableStatus reports whether an HTTP status means the service may
// succeed on a later attempt.
func retryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	}
	return false
}

// retryableErr reports whether err is a timeout or a transport failure.
func retryableErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// fail wraps err as kind, marking it retryable when it is transient.
func fail(kind ragerr.Kind, op string, err error) error {
	if retryableErr(err) {
		return ragerr.Transient(kind, op, err)
	}
	return ragerr.Permanent(kind, op, err)
}

// failStatus wraps an HTTP error response.
func failStatus(kind ragerr.Kind, op string, code int, body string) error {
	err := fmt.Errorf("status %d: %s", code, truncate(body, 512))
	if retryableStatus(code) {
		return ragerr.Transient(kind, op, err)
	}
	return ragerr.Permanent(kind, op, err)
}

func errCount(op string, got, want int) error {
	return ragerr.New(ragerr.KindEmbedding, op, fmt.Sprintf("got %d vectors for %d inputs", got, want))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
