// Package telemetry wires optional Sentry error reporting. Reporting is
// opt-in; events are stripped of host and user data before they leave the
// process.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/logger"
)

const flushTimeout = 2 * time.Second

// Config configures Sentry
type Config struct {
	Enabled     bool
	DSN         string
	Environment string
	Release     string
	Debug       bool
}

// Init initializes the Sentry SDK and registers the error reporter. The
// returned func flushes buffered events and must be called on shutdown. A
// disabled config returns a no-op flush and leaves reporting off.
func Init(cfg Config, log logger.Logger) (flush func(), err error) {
	if !cfg.Enabled {
		errors.SetTelemetryReporter(nil)
		return func() {}, nil
	}
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	log = log.Module("telemetry")

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		SampleRate:       1.0,
		Debug:            cfg.Debug,
		AttachStacktrace: false,
		Environment:      cfg.Environment,
		ServerName:       "",
		Release:          fmt.Sprintf("pawdentify@%s", cfg.Release),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return func() {}, errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	log.Info("Error telemetry enabled", logger.String("environment", cfg.Environment))

	return func() {
		sentry.Flush(flushTimeout)
	}, nil
}

// applyPrivacyFilters removes user, host and runtime details from an event
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	return event
}
