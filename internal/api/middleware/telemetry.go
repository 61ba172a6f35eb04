package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/pawdentify/internal/observability/metrics"
)

// Telemetry records request counts, latency and response sizes
type Telemetry struct {
	httpMetrics *metrics.HTTPMetrics
}

// NewTelemetry creates a telemetry middleware. A nil httpMetrics disables recording.
func NewTelemetry(httpMetrics *metrics.HTTPMetrics) *Telemetry {
	return &Telemetry{httpMetrics: httpMetrics}
}

// Middleware returns the Echo middleware function
func (t *Telemetry) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if t.httpMetrics == nil {
				return next(c)
			}

			start := time.Now()
			err := next(c)
			duration := time.Since(start).Seconds()

			// The route pattern keeps breed names out of label values
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
				t.httpMetrics.RecordHTTPRequestError(method, path, categorizeError(err))
			}
			if status == 0 {
				status = http.StatusOK
			}

			t.httpMetrics.RecordHTTPRequest(method, path, status, duration)
			t.httpMetrics.RecordHTTPResponseSize(method, path, c.Response().Size)
			return err
		}
	}
}

func categorizeError(err error) string {
	var he *echo.HTTPError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &he):
		switch {
		case he.Code == http.StatusNotFound:
			return "not_found"
		case he.Code == http.StatusRequestEntityTooLarge:
			return "body_limit"
		case he.Code >= 500:
			return "server_error"
		default:
			return "client_error"
		}
	default:
		return "handler_error"
	}
}
