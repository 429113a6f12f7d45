package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vendorflow/internal/decision"
	"github.com/fyrsmithlabs/vendorflow/internal/linking"
	"github.com/fyrsmithlabs/vendorflow/internal/logging"
	"github.com/fyrsmithlabs/vendorflow/internal/pipeline"
	"github.com/fyrsmithlabs/vendorflow/internal/sanitize"
	"github.com/fyrsmithlabs/vendorflow/internal/signals"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, decision.ErrNotPending),
		errors.Is(err, linking.ErrNotCandidate),
		errors.Is(err, store.ErrDuplicatePending):
		return http.StatusConflict
	case errors.Is(err, signals.ErrInvalidDefinition),
		errors.Is(err, sanitize.ErrInvalidID),
		errors.Is(err, sanitize.ErrInvalidSlug):
		return http.StatusBadRequest
	case decision.IsRetryable(err),
		errors.Is(err, pipeline.ErrQueueFull),
		errors.Is(err, pipeline.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders errors as ErrorResponse. Internal errors are logged
// and replaced with a generic message.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := statusFor(err)
		body := ErrorResponse{Error: err.Error(), Retryable: code == http.StatusServiceUnavailable}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			if msg, ok := he.Message.(string); ok {
				body.Error = msg
			} else {
				body.Error = http.StatusText(code)
			}
		}
		if code >= http.StatusInternalServerError {
			fields := append(logging.ContextFields(c.Request().Context()), zap.Error(err))
			logger.Error("request failed", fields...)
			if code == http.StatusInternalServerError {
				body.Error = http.StatusText(code)
			}
		}

		var sendErr error
		if c.Request().Method == http.MethodHead {
			sendErr = c.NoContent(code)
		} else {
			sendErr = c.JSON(code, body)
		}
		if sendErr != nil {
			logger.Warn("failed to write error response", zap.Error(sendErr))
		}
	}
}
