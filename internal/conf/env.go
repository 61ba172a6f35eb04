// env.go - Environment variable bindings and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for an environment variable binding
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the explicitly bound variables. Every other key is
// still reachable through AutomaticEnv; these get early validation.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "PAWDENTIFY_DEBUG", validateEnvBool},

		{"server.listen", "PAWDENTIFY_SERVER_LISTEN", validateEnvListen},

		{"classifier.endpoint", "PAWDENTIFY_CLASSIFIER_ENDPOINT", validateEnvURL},
		{"classifier.timeout", "PAWDENTIFY_CLASSIFIER_TIMEOUT", validateEnvDuration},
		{"classifier.threshold", "PAWDENTIFY_CLASSIFIER_THRESHOLD", validateEnvThreshold},

		{"sources.unsplash.accesskey", "PAWDENTIFY_UNSPLASH_ACCESS_KEY", nil},
		{"sources.dogceo.baseurl", "PAWDENTIFY_DOGCEO_BASEURL", validateEnvURL},

		{"cache.maxentries", "PAWDENTIFY_CACHE_MAXENTRIES", validateEnvPositiveInt},
		{"cache.expiry", "PAWDENTIFY_CACHE_EXPIRY", validateEnvDuration},
		{"cache.durable.type", "PAWDENTIFY_CACHE_DURABLE_TYPE", validateEnvDurableType},
		{"cache.durable.mysql.password", "PAWDENTIFY_MYSQL_PASSWORD", nil},
		{"cache.durable.redis.addr", "PAWDENTIFY_REDIS_ADDR", nil},
		{"cache.durable.redis.password", "PAWDENTIFY_REDIS_PASSWORD", nil},

		{"sentry.dsn", "PAWDENTIFY_SENTRY_DSN", validateEnvURL},
	}
}

// bindEnvVars binds and validates the explicit environment variables. All
// problems are collected into one error.
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration such as 30s or 1h")
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateEnvThreshold(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if f <= 0 || f > 1 {
		return fmt.Errorf("must be in (0, 1]")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func validateEnvListen(value string) error {
	return validateListenAddress(value)
}

func validateEnvDurableType(value string) error {
	if !isDurableType(value) {
		return fmt.Errorf("must be one of %s", strings.Join(durableTypes, ", "))
	}
	return nil
}
