// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/pawdentify/internal/errors"
)

var durableTypes = []string{"none", "memory", "file", "sqlite", "mysql", "redis"}

func isDurableType(t string) bool {
	return slices.Contains(durableTypes, strings.ToLower(t))
}

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct. All problems are
// reported together.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, validate := range []func(*Settings) error{
		validateServerSettings,
		validateClassifierSettings,
		validateSourcesSettings,
		validateCacheSettings,
		validateSentrySettings,
		validateMetricsSettings,
	} {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func validateServerSettings(s *Settings) error {
	if err := validateListenAddress(s.Server.Listen); err != nil {
		return fmt.Errorf("server.listen: %w", err)
	}
	if s.Server.BodyLimit != "" {
		// echo panics on a malformed limit
		if err := parseBodyLimit(s.Server.BodyLimit); err != nil {
			return fmt.Errorf("server.bodylimit: %w", err)
		}
	}
	if s.Server.ReadTimeout < 0 || s.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	return nil
}

func parseBodyLimit(limit string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid size %q", limit)
		}
	}()
	middleware.BodyLimit(limit)
	return nil
}

func validateClassifierSettings(s *Settings) error {
	c := s.Classifier
	if c.Endpoint != "" {
		if err := validateEnvURL(c.Endpoint); err != nil {
			return fmt.Errorf("classifier.endpoint: %w", err)
		}
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("classifier.threshold must be in (0, 1], got %v", c.Threshold)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("classifier.timeout must be positive")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("classifier.maxuploadmb must be positive")
	}
	return nil
}

func validateSourcesSettings(s *Settings) error {
	d := s.Sources.DogCEO
	if d.Enabled {
		if _, err := url.ParseRequestURI(d.BaseURL); err != nil {
			return fmt.Errorf("sources.dogceo.baseurl: %w", err)
		}
		if d.RequestLimit <= 0 || d.Window <= 0 {
			return fmt.Errorf("sources.dogceo requestlimit and window must be positive")
		}
	}
	u := s.Sources.Unsplash
	if u.Enabled {
		if _, err := url.ParseRequestURI(u.BaseURL); err != nil {
			return fmt.Errorf("sources.unsplash.baseurl: %w", err)
		}
		if u.RequestLimit <= 0 || u.Window <= 0 {
			return fmt.Errorf("sources.unsplash requestlimit and window must be positive")
		}
	}
	return nil
}

func validateCacheSettings(s *Settings) error {
	c := s.Cache
	if c.MaxEntries <= 0 {
		return fmt.Errorf("cache.maxentries must be positive")
	}
	if c.Expiry <= 0 {
		return fmt.Errorf("cache.expiry must be positive")
	}
	if c.PreloadThreshold <= 0 {
		return fmt.Errorf("cache.preloadthreshold must be positive")
	}

	d := c.Durable
	if !isDurableType(d.Type) {
		return fmt.Errorf("cache.durable.type must be one of %s, got %q", strings.Join(durableTypes, ", "), d.Type)
	}
	if d.Entries > d.MaxEntries {
		return fmt.Errorf("cache.durable.entries (%d) exceeds cache.durable.maxentries (%d)", d.Entries, d.MaxEntries)
	}
	switch strings.ToLower(d.Type) {
	case "file":
		if d.File.Path == "" {
			return fmt.Errorf("cache.durable.file.path is required")
		}
	case "sqlite":
		if d.SQLite.Path == "" {
			return fmt.Errorf("cache.durable.sqlite.path is required")
		}
	case "mysql":
		if d.MySQL.Host == "" || d.MySQL.Database == "" {
			return fmt.Errorf("cache.durable.mysql host and database are required")
		}
	case "redis":
		if d.Redis.Addr == "" {
			return fmt.Errorf("cache.durable.redis.addr is required")
		}
	}
	return nil
}

func validateSentrySettings(s *Settings) error {
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		return fmt.Errorf("sentry.dsn is required when sentry is enabled")
	}
	return nil
}

func validateMetricsSettings(s *Settings) error {
	if !s.Metrics.Enabled {
		return nil
	}
	if err := validateListenAddress(s.Metrics.Listen); err != nil {
		return fmt.Errorf("metrics.listen: %w", err)
	}
	return nil
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("must be host:port: %w", err)
	}
	return nil
}
