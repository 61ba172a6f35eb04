// Package app assembles the breed image service from configuration. The
// CLI commands share it so serve, fetch and preload run the same stack.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/pawdentify/internal/api"
	"github.com/tphakala/pawdentify/internal/breedimages"
	"github.com/tphakala/pawdentify/internal/breeds"
	"github.com/tphakala/pawdentify/internal/buildinfo"
	"github.com/tphakala/pawdentify/internal/classifier"
	"github.com/tphakala/pawdentify/internal/conf"
	"github.com/tphakala/pawdentify/internal/datastore"
	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/events"
	"github.com/tphakala/pawdentify/internal/httpclient"
	"github.com/tphakala/pawdentify/internal/imagecache"
	"github.com/tphakala/pawdentify/internal/imageprovider"
	"github.com/tphakala/pawdentify/internal/logger"
	"github.com/tphakala/pawdentify/internal/observability"
	"github.com/tphakala/pawdentify/internal/telemetry"
)

const busShutdownTimeout = 5 * time.Second

// Context carries what every command needs before the stack is built
type Context struct {
	Settings *conf.Settings
	Build    *buildinfo.Context
}

// Runtime holds the assembled components. Close releases them in reverse
// order of construction.
type Runtime struct {
	Settings *conf.Settings
	Log      logger.Logger
	Metrics  *observability.Metrics
	Bus      *events.EventBus
	Cache    *imagecache.Manager
	Service  *breedimages.Service
	Build    *buildinfo.Context

	central        *logger.CentralLogger
	httpClient     *httpclient.Client
	store          datastore.SlotStore
	flushTelemetry func()
}

// Options tune what New starts
type Options struct {
	// StartMaintenance runs the hourly cache maintenance loop
	StartMaintenance bool
	// Restore loads the durable snapshot into the cache
	Restore bool
}

// New builds the full stack from ctx.Settings. On error every component
// created so far is released.
func New(ctx context.Context, appCtx *Context, opts Options) (rt *Runtime, err error) {
	if appCtx == nil || appCtx.Settings == nil {
		return nil, errors.Newf("settings are required").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	settings := appCtx.Settings

	rt = &Runtime{Settings: settings, Build: appCtx.Build, flushTelemetry: func() {}}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	if err = rt.initLogging(); err != nil {
		return rt, err
	}

	rt.flushTelemetry, err = telemetry.Init(telemetry.Config{
		Enabled:     settings.Sentry.Enabled,
		DSN:         settings.Sentry.DSN,
		Environment: settings.Sentry.Environment,
		Release:     appCtx.Build.Version(),
		Debug:       settings.Sentry.Debug,
	}, rt.Log)
	if err != nil {
		return rt, err
	}

	if rt.Metrics, err = observability.NewMetrics(); err != nil {
		return rt, fmt.Errorf("failed to create metrics: %w", err)
	}

	resolver, err := newResolver(settings, rt.Log)
	if err != nil {
		return rt, err
	}

	rt.httpClient = httpclient.New(&httpclient.Config{
		DefaultTimeout: settings.Sources.Timeout,
		UserAgent:      fmt.Sprintf("%s/%s", settings.Sources.UserAgent, appCtx.Build.Version()),
	})
	aggregator := imageprovider.NewAggregator(rt.newSources(),
		imageprovider.WithSourceTimeout(settings.Sources.Timeout),
		imageprovider.WithAggregatorMetrics(rt.Metrics.ImageProvider),
		imageprovider.WithAggregatorLogger(rt.Log))

	rt.Bus = events.NewEventBus(&events.Config{
		BufferSize: settings.Events.BufferSize,
		Workers:    settings.Events.Workers,
	}, rt.Log)
	if err = rt.Bus.RegisterConsumer(rt.Metrics.ImageCache); err != nil {
		return rt, fmt.Errorf("failed to register cache metrics: %w", err)
	}

	if rt.store, err = datastore.New(ctx, durableConfig(settings), rt.Log); err != nil {
		return rt, err
	}

	rt.Cache = imagecache.NewManager(cacheConfig(settings),
		imagecache.WithStore(rt.store),
		imagecache.WithEventBus(rt.Bus),
		imagecache.WithMetrics(rt.Metrics.ImageCache),
		imagecache.WithLogger(rt.Log))

	svcOpts := []breedimages.Option{
		breedimages.WithThreshold(settings.Classifier.Threshold),
		breedimages.WithEventBus(rt.Bus),
		breedimages.WithLogger(rt.Log),
	}
	if settings.Classifier.Endpoint != "" {
		svcOpts = append(svcOpts, breedimages.WithClassifier(classifier.NewClient(rt.httpClient, classifier.Config{
			Endpoint:       settings.Classifier.Endpoint,
			Timeout:        settings.Classifier.Timeout,
			MaxUploadBytes: int64(settings.Classifier.MaxUploadMB) << 20,
		}, classifier.WithMetrics(rt.Metrics.Classifier), classifier.WithLogger(rt.Log))))
	}
	if rt.Service, err = breedimages.New(resolver, aggregator, rt.Cache, svcOpts...); err != nil {
		return rt, err
	}

	if opts.Restore {
		restored, restoreErr := rt.Cache.Restore(ctx)
		if restoreErr != nil {
			rt.Log.Warn("Cache restore failed, starting empty", logger.Error(restoreErr))
		} else if restored > 0 {
			rt.Log.Info("Cache restored", logger.Int("entries", restored))
		}
	}
	if opts.StartMaintenance {
		rt.Cache.Start()
	}

	return rt, nil
}

func (rt *Runtime) initLogging() error {
	settings := rt.Settings
	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "init-logging").
			Build()
	}
	rt.central = central
	rt.Log = central.Root()
	return nil
}

func newResolver(settings *conf.Settings, log logger.Logger) (*breeds.Resolver, error) {
	tables, err := breeds.LoadTables(settings.ResolvePath(settings.Breeds.OverridesPath))
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("path", settings.Breeds.OverridesPath).
			Build()
	}
	return breeds.NewResolver(tables, log)
}

// newSources returns the enabled sources in fallback order
func (rt *Runtime) newSources() []imageprovider.ImageSource {
	s := rt.Settings.Sources
	sourceOpts := []imageprovider.SourceOption{
		imageprovider.WithLogger(rt.Log),
		imageprovider.WithMetrics(rt.Metrics.ImageProvider),
	}

	var sources []imageprovider.ImageSource
	if s.Unsplash.Enabled {
		sources = append(sources, imageprovider.NewUnsplashSource(rt.httpClient, imageprovider.UnsplashConfig{
			BaseURL:      s.Unsplash.BaseURL,
			AccessKey:    s.Unsplash.AccessKey,
			QuerySuffix:  s.Unsplash.QuerySuffix,
			RequestLimit: s.Unsplash.RequestLimit,
			Window:       s.Unsplash.Window,
			Timeout:      s.Unsplash.Timeout,
		}, sourceOpts...))
	}
	if s.DogCEO.Enabled {
		sources = append(sources, imageprovider.NewDogCEOSource(rt.httpClient, imageprovider.DogCEOConfig{
			BaseURL:      s.DogCEO.BaseURL,
			RequestLimit: s.DogCEO.RequestLimit,
			Window:       s.DogCEO.Window,
			Timeout:      s.DogCEO.Timeout,
		}, sourceOpts...))
	}
	if len(sources) == 0 {
		rt.Log.Warn("No image sources enabled, galleries will contain placeholders only")
	}
	return sources
}

func durableConfig(settings *conf.Settings) *datastore.Config {
	d := settings.Cache.Durable
	return &datastore.Config{
		Type:     d.Type,
		SlotName: d.SlotName,
		File:     datastore.FileConfig{Path: settings.ResolvePath(d.File.Path)},
		SQLite:   datastore.SQLiteConfig{Path: settings.ResolvePath(d.SQLite.Path)},
		MySQL: datastore.MySQLConfig{
			Host:     d.MySQL.Host,
			Port:     d.MySQL.Port,
			Username: d.MySQL.Username,
			Password: d.MySQL.Password,
			Database: d.MySQL.Database,
		},
		Redis: datastore.RedisConfig{
			Addr:     d.Redis.Addr,
			Username: d.Redis.Username,
			Password: d.Redis.Password,
			DB:       d.Redis.DB,
		},
	}
}

func cacheConfig(settings *conf.Settings) imagecache.Config {
	c := settings.Cache
	return imagecache.Config{
		MaxEntries:          c.MaxEntries,
		Expiry:              c.Expiry,
		PreloadThreshold:    c.PreloadThreshold,
		PreloadInterval:     c.PreloadInterval,
		MaintenanceInterval: c.MaintenanceInterval,
		StatsInterval:       c.StatsInterval,
		DurableEntries:      c.Durable.Entries,
		DurableMaxEntries:   c.Durable.MaxEntries,
		DurableMaxBytes:     c.Durable.MaxBytes,
	}
}

// APIConfig maps server settings onto the HTTP server config
func (rt *Runtime) APIConfig() api.Config {
	s := rt.Settings.Server
	return api.Config{
		Listen:          s.Listen,
		BodyLimit:       s.BodyLimit,
		ReadTimeout:     s.ReadTimeout,
		WriteTimeout:    s.WriteTimeout,
		ShutdownTimeout: s.ShutdownTimeout,
		AccessLog:       s.AccessLog,
	}
}

// Close syncs the cache and releases every component. It is safe on a
// partially built Runtime.
// RotateLogs reopens every log file, for use after external log rotation.
func (rt *Runtime) RotateLogs() error {
	return rt.central.Rotate()
}

func (rt *Runtime) Close() error {
	var errs []error
	if rt.Service != nil {
		if err := rt.Service.Close(); err != nil {
			errs = append(errs, err)
		}
	} else if rt.Cache != nil {
		if err := rt.Cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.Bus != nil {
		if err := rt.Bus.Shutdown(busShutdownTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.httpClient != nil {
		rt.httpClient.Close()
	}
	if rt.flushTelemetry != nil {
		rt.flushTelemetry()
	}
	if rt.central != nil {
		if err := rt.central.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
