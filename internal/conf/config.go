// config.go: settings struct and the functions to load it from the config
// file and environment.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

const (
	configName = "config"
	configType = "yaml"
	envPrefix  = "PAWDENTIFY"
)

// Settings is the root of the configuration tree
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`

	Logging    logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Server     ServerSettings       `mapstructure:"server" yaml:"server"`
	Classifier ClassifierSettings   `mapstructure:"classifier" yaml:"classifier"`
	Sources    SourcesSettings      `mapstructure:"sources" yaml:"sources"`
	Cache      CacheSettings        `mapstructure:"cache" yaml:"cache"`
	Events     EventSettings        `mapstructure:"events" yaml:"events"`
	Breeds     BreedSettings        `mapstructure:"breeds" yaml:"breeds"`
	Sentry     SentrySettings       `mapstructure:"sentry" yaml:"sentry"`
	Metrics    MetricsSettings      `mapstructure:"metrics" yaml:"metrics"`

	// ConfigFile is the file the settings were read from, if any
	ConfigFile string `mapstructure:"-" yaml:"-"`
}

// ServerSettings configures the HTTP API
type ServerSettings struct {
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	BodyLimit       string        `mapstructure:"bodylimit" yaml:"bodylimit"` // echo size string, e.g. "12M"
	ReadTimeout     time.Duration `mapstructure:"readtimeout" yaml:"readtimeout"`
	WriteTimeout    time.Duration `mapstructure:"writetimeout" yaml:"writetimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdowntimeout" yaml:"shutdowntimeout"`
	AccessLog       bool          `mapstructure:"accesslog" yaml:"accesslog"`
}

// ClassifierSettings configures the breed classifier client
type ClassifierSettings struct {
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Threshold   float64       `mapstructure:"threshold" yaml:"threshold"`
	MaxUploadMB int           `mapstructure:"maxuploadmb" yaml:"maxuploadmb"`
}

// SourcesSettings configures the external image sources
type SourcesSettings struct {
	UserAgent string           `mapstructure:"useragent" yaml:"useragent"`
	Timeout   time.Duration    `mapstructure:"timeout" yaml:"timeout"` // per source inside one aggregation
	DogCEO    DogCEOSettings   `mapstructure:"dogceo" yaml:"dogceo"`
	Unsplash  UnsplashSettings `mapstructure:"unsplash" yaml:"unsplash"`
}

// DogCEOSettings configures the dog.ceo source
type DogCEOSettings struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseURL      string        `mapstructure:"baseurl" yaml:"baseurl"`
	RequestLimit int           `mapstructure:"requestlimit" yaml:"requestlimit"`
	Window       time.Duration `mapstructure:"window" yaml:"window"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// UnsplashSettings configures the Unsplash source. It stays unavailable
// until an access key is set.
type UnsplashSettings struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseURL      string        `mapstructure:"baseurl" yaml:"baseurl"`
	AccessKey    string        `mapstructure:"accesskey" yaml:"accesskey"`
	QuerySuffix  string        `mapstructure:"querysuffix" yaml:"querysuffix"`
	RequestLimit int           `mapstructure:"requestlimit" yaml:"requestlimit"`
	Window       time.Duration `mapstructure:"window" yaml:"window"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// CacheSettings configures the image cache
type CacheSettings struct {
	MaxEntries          int             `mapstructure:"maxentries" yaml:"maxentries"`
	Expiry              time.Duration   `mapstructure:"expiry" yaml:"expiry"`
	PreloadThreshold    int             `mapstructure:"preloadthreshold" yaml:"preloadthreshold"`
	PreloadInterval     time.Duration   `mapstructure:"preloadinterval" yaml:"preloadinterval"`
	MaintenanceInterval time.Duration   `mapstructure:"maintenanceinterval" yaml:"maintenanceinterval"`
	StatsInterval       time.Duration   `mapstructure:"statsinterval" yaml:"statsinterval"`
	Durable             DurableSettings `mapstructure:"durable" yaml:"durable"`
	Preload             PreloadSettings `mapstructure:"preload" yaml:"preload"`
}

// PreloadSettings lists breeds warmed at startup
type PreloadSettings struct {
	OnStartup bool     `mapstructure:"onstartup" yaml:"onstartup"`
	Breeds    []string `mapstructure:"breeds" yaml:"breeds"`
	Favorites []string `mapstructure:"favorites" yaml:"favorites"`
}

// DurableSettings configures the durable snapshot slot
type DurableSettings struct {
	Type       string `mapstructure:"type" yaml:"type"` // none, file, sqlite, mysql or redis
	SlotName   string `mapstructure:"slotname" yaml:"slotname"`
	Entries    int    `mapstructure:"entries" yaml:"entries"`       // entries mirrored per sync
	MaxEntries int    `mapstructure:"maxentries" yaml:"maxentries"` // cap on stored and restored entries
	MaxBytes   int    `mapstructure:"maxbytes" yaml:"maxbytes"`     // per entry

	File struct {
		Path string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"file" yaml:"file"`
	SQLite struct {
		Path string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"sqlite" yaml:"sqlite"`
	MySQL struct {
		Host     string `mapstructure:"host" yaml:"host"`
		Port     string `mapstructure:"port" yaml:"port"`
		Username string `mapstructure:"username" yaml:"username"`
		Password string `mapstructure:"password" yaml:"password"`
		Database string `mapstructure:"database" yaml:"database"`
	} `mapstructure:"mysql" yaml:"mysql"`
	Redis struct {
		Addr     string `mapstructure:"addr" yaml:"addr"`
		Username string `mapstructure:"username" yaml:"username"`
		Password string `mapstructure:"password" yaml:"password"`
		DB       int    `mapstructure:"db" yaml:"db"`
	} `mapstructure:"redis" yaml:"redis"`
}

// EventSettings sizes the cache event bus
type EventSettings struct {
	BufferSize int `mapstructure:"buffersize" yaml:"buffersize"`
	Workers    int `mapstructure:"workers" yaml:"workers"`
}

// BreedSettings points at an optional override table merged over the
// embedded one
type BreedSettings struct {
	OverridesPath string `mapstructure:"overridespath" yaml:"overridespath"`
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	Debug       bool   `mapstructure:"debug" yaml:"debug"`
}

// MetricsSettings configures the standalone Prometheus endpoint. The API
// server always serves /metrics; this is for running it on its own port.
type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// Load reads configFile, or the first config.yaml found in the default
// paths, layers PAWDENTIFY_* environment variables on top and validates the
// result. When no file exists the embedded default is written to the first
// default path.
func Load(configFile string) (*Settings, error) {
	paths, err := GetDefaultConfigPaths()
	if err != nil {
		return nil, err
	}
	return load(configFile, paths)
}

func load(configFile string, searchPaths []string) (*Settings, error) {
	v := viper.New()
	if err := initViper(v, configFile, searchPaths); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	settings.ConfigFile = v.ConfigFileUsed()

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// initViper applies defaults, environment bindings and the config file
func initViper(v *viper.Viper, configFile string, searchPaths []string) error {
	setDefaultConfig(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	v.SetConfigType(configType)
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.New(fmt.Errorf("error reading config file %s: %w", configFile, err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
		return nil
	}

	v.SetConfigName(configName)
	for _, path := range searchPaths {
		v.AddConfigPath(path)
	}

	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return errors.New(fmt.Errorf("fatal error reading config file: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if len(searchPaths) == 0 {
		return nil
	}
	return createDefaultConfig(v, searchPaths[0])
}

// createDefaultConfig writes the embedded config.yaml into dir and reads it
func createDefaultConfig(v *viper.Viper, dir string) error {
	configPath := filepath.Join(dir, configName+"."+configType)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.New(fmt.Errorf("error creating directories for config file: %w", err)).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", dir).
			Build()
	}
	if err := os.WriteFile(configPath, DefaultConfigYAML(), 0o644); err != nil {
		return errors.New(fmt.Errorf("error writing default config file: %w", err)).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", configPath).
			Build()
	}

	v.SetConfigFile(configPath)
	return v.ReadInConfig()
}

// DefaultConfigYAML returns the embedded default configuration
func DefaultConfigYAML() []byte {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		// the file is embedded at build time
		panic(fmt.Sprintf("embedded config.yaml missing: %v", err))
	}
	return data
}

// SaveYAMLConfig writes settings to configPath, replacing the file
// atomically. Comments in an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return errors.New(fmt.Errorf("error marshaling settings: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	tmp, err := os.CreateTemp(filepath.Dir(configPath), ".config-*.yaml")
	if err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}
	if err := tmp.Close(); err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}
	if err := os.Rename(tmpName, configPath); err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}
	return nil
}
