// Package api serves the breed image service over HTTP using Echo.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/tphakala/pawdentify/internal/api/middleware"
	"github.com/tphakala/pawdentify/internal/breedimages"
	"github.com/tphakala/pawdentify/internal/buildinfo"
	"github.com/tphakala/pawdentify/internal/logger"
	"github.com/tphakala/pawdentify/internal/observability"
	"github.com/tphakala/pawdentify/internal/observability/metrics"
)

const (
	apiPrefix        = "/api/v1"
	metricsPath      = "/metrics"
	cacheEventsPath  = apiPrefix + "/cache/events"
	defaultHeartbeat = 30 * time.Second

	// reachabilityTTL bounds how often /health?probe=true reaches upstream APIs
	reachabilityTTL = 30 * time.Second
)

// Config holds HTTP server settings
type Config struct {
	Listen          string
	BodyLimit       string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AccessLog       bool
}

// Server is the HTTP front end of the breed image service.
type Server struct {
	echo         *echo.Echo
	service      *breedimages.Service
	config       Config
	metrics      *observability.Metrics
	build        buildinfo.BuildInfo
	log          logger.Logger
	heartbeat    time.Duration
	reachability *cache.Cache

	listener  net.Listener
	startTime time.Time

	// ctx ends open event streams on shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics enables request metrics and mounts /metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithBuildInfo sets the version reported by the health endpoint.
func WithBuildInfo(info buildinfo.BuildInfo) ServerOption {
	return func(s *Server) {
		if info != nil {
			s.build = info
		}
	}
}

// WithHeartbeat sets the keep-alive interval of event streams.
func WithHeartbeat(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// New creates the HTTP server and registers routes. It does not listen
// until Start is called.
func New(svc *breedimages.Service, config Config, opts ...ServerOption) (*Server, error) {
	if svc == nil {
		return nil, errors.New("breed image service is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		echo:         echo.New(),
		service:      svc,
		config:       config,
		build:        buildinfo.NewContext("", ""),
		log:          logger.NewSlogLogger(nil, logger.LogLevelInfo, nil),
		heartbeat:    defaultHeartbeat,
		reachability: cache.New(reachabilityTTL, 2*reachabilityTTL),
		startTime:    time.Now(),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Module("api")

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.httpErrorHandler
	s.echo.Server.ReadTimeout = config.ReadTimeout
	// Event streams are long-lived; the write deadline covers regular
	// handlers only and is cleared per stream.
	s.echo.Server.WriteTimeout = config.WriteTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Listen),
		logger.Bool("metrics", s.metrics != nil))

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())

	s.echo.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	if s.metrics != nil {
		s.echo.Use(mw.NewTelemetry(s.metrics.HTTP).Middleware())
	}

	if s.config.AccessLog {
		s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, mw.SkipPaths(metricsPath, cacheEventsPath)))
	}

	if s.config.BodyLimit != "" {
		s.echo.Use(echomw.BodyLimit(s.config.BodyLimit))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	g := s.echo.Group(apiPrefix)

	g.GET("/health", s.healthCheck)
	g.GET("/breeds", s.listBreeds)
	g.GET("/breeds/:name/images", s.getBreedImages)
	g.POST("/breeds/images", s.getMultiBreedImages)
	g.POST("/identify", s.identify)
	g.POST("/preload", s.preload)
	g.GET("/cache/stats", s.cacheStats)
	g.DELETE("/cache", s.clearCache)
	g.DELETE("/cache/:breed", s.clearBreed)
	g.GET("/cache/events", s.streamCacheEvents)

	if s.metrics != nil {
		s.echo.GET(metricsPath, echo.WrapHandler(s.metrics.Handler()))
	}
}

func (s *Server) httpMetrics() *metrics.HTTPMetrics {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.HTTP
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start binds the listener and serves in a background goroutine. It
// returns once the address is bound; use Shutdown to stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return err
	}
	s.listener = ln
	s.echo.Listener = ln

	go func() {
		s.log.Info("HTTP server starting", logger.String("address", ln.Addr().String()))
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", logger.Error(err))
		}
	}()
	return nil
}

// Address returns the bound address, or the configured one before Start.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Listen
}

// Shutdown ends open event streams and stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("HTTP server shutdown error", logger.Error(err))
		return err
	}
	s.log.Info("HTTP server stopped")
	return nil
}
