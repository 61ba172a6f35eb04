package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/pawdentify/internal/breeds"
	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/logger"
)

// ErrorResponse is the body of every API error
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // Unique identifier for tracking this error
}

// correlationID reuses the request id so log lines and responses match
func correlationID(c echo.Context) string {
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

// statusFor maps a categorized error to an HTTP status
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.Is(err, breeds.ErrBreedNotFound), errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryRateLimit):
		return http.StatusTooManyRequests
	case errors.IsCategory(err, errors.CategoryConfiguration), errors.IsCategory(err, errors.CategoryState):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.IsCategory(err, errors.CategoryTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// handleError logs err with a correlation id and writes an ErrorResponse
func (s *Server) handleError(c echo.Context, err error, message string, code int) error {
	resp := ErrorResponse{
		Message:       message,
		Code:          code,
		CorrelationID: correlationID(c),
	}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Error = http.StatusText(code)
	}

	level := logger.LogLevelWarn
	if code >= http.StatusInternalServerError {
		level = logger.LogLevelError
	}
	s.log.Log(level, "API error",
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.String("error", resp.Error),
		logger.Int("code", code),
		logger.String("path", c.Request().URL.Path),
		logger.String("method", c.Request().Method),
		logger.String("ip", c.RealIP()))

	return c.JSON(code, resp)
}

// httpErrorHandler renders errors that escape handlers, such as unknown
// routes or body limit rejections, in the same shape.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(code)
		}
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = s.handleError(c, err, message, code)
}
