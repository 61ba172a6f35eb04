package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tphakala/pawdentify/internal/logger"
	metricspkg "github.com/tphakala/pawdentify/internal/observability/metrics"
)

// Endpoint serves /metrics on a dedicated listener, separate from the API,
// for deployments that scrape on an internal port.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	log           logger.Logger
}

// NewEndpoint creates a metrics endpoint for listenAddress.
func NewEndpoint(listenAddress string, metrics *Metrics, log logger.Logger) (*Endpoint, error) {
	if listenAddress == "" {
		return nil, fmt.Errorf("metrics listen address is empty")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics are required")
	}
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}

	mux := http.NewServeMux()
	metrics.RegisterHandlers(mux)

	return &Endpoint{
		listenAddress: listenAddress,
		metrics:       metrics,
		log:           log.Module("telemetry"),
		server: &http.Server{
			Addr:              listenAddress,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Start binds the listener and serves until ctx is cancelled. It returns
// once the listener is bound; serve errors are logged.
func (e *Endpoint) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", e.listenAddress, err)
	}
	e.listenAddress = ln.Addr().String()

	go func() {
		e.log.Info("metrics endpoint starting", logger.String("address", e.listenAddress))
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("metrics HTTP server error", logger.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		e.Shutdown()
	}()

	return nil
}

// Shutdown stops the listener gracefully.
func (e *Endpoint) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		e.log.Error("metrics server shutdown error", logger.Error(err))
	}
}

// Address returns the bound address, useful when listening on port 0.
func (e *Endpoint) Address() string {
	return e.listenAddress
}
