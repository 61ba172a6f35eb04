package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/pawdentify/internal/events"
	"github.com/tphakala/pawdentify/internal/logger"
)

const sseBufferSize = 64

// cacheEventMessage is the data payload of one stream message
type cacheEventMessage struct {
	events.CacheEvent
	Error string `json:"error,omitempty"`
}

// setSSEHeaders sets the required headers for an event stream
func setSSEHeaders(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// streamCacheEvents handles GET /cache/events. Each cache event becomes
// one message named after its kind; a comment line is sent as heartbeat.
func (s *Server) streamCacheEvents(c echo.Context) error {
	ch, unsubscribe, err := s.service.Subscribe(sseBufferSize)
	if err != nil {
		return s.handleError(c, err, "cache event stream unavailable", statusFor(err))
	}
	defer unsubscribe()

	// The server write timeout would cut the stream
	_ = http.NewResponseController(c.Response()).SetWriteDeadline(time.Time{})

	setSSEHeaders(c)
	resp := c.Response()
	resp.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(resp, ": connected\n\n"); err != nil {
		return nil
	}
	resp.Flush()

	httpMetrics := s.httpMetrics()
	if httpMetrics != nil {
		httpMetrics.SSEConnectionStarted()
		defer httpMetrics.SSEConnectionClosed()
	}

	clientID := correlationID(c)
	s.log.Debug("Cache event stream opened",
		logger.String("client_id", clientID),
		logger.String("ip", c.RealIP()))
	defer s.log.Debug("Cache event stream closed", logger.String("client_id", clientID))

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case <-s.ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(resp, ": heartbeat\n\n"); err != nil {
				return nil
			}
			resp.Flush()
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(cacheEventMessage{CacheEvent: event, Error: event.Error()})
			if err != nil {
				s.log.Warn("Failed to encode cache event", logger.Error(err))
				continue
			}
			seq++
			if _, err := fmt.Fprintf(resp, "id: %d\nevent: %s\ndata: %s\n\n", seq, event.Kind, payload); err != nil {
				return nil
			}
			resp.Flush()
			if httpMetrics != nil {
				httpMetrics.RecordSSEMessageSent(string(event.Kind))
			}
		}
	}
}
