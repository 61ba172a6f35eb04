package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel  string                  `yaml:"default_level" mapstructure:"default_level" json:"default_level"` // default log level for all modules
	Timezone      string                  `yaml:"timezone" mapstructure:"timezone" json:"timezone"`                // "Local", "UTC", or IANA name
	Console       *ConsoleOutput          `yaml:"console" mapstructure:"console" json:"console"`
	FileOutput    *FileOutput             `yaml:"file_output" mapstructure:"file_output" json:"file_output"`
	ModuleOutputs map[string]ModuleOutput `yaml:"modules" mapstructure:"modules" json:"modules"`                   // per-module output configuration
	ModuleLevels  map[string]string       `yaml:"module_levels" mapstructure:"module_levels" json:"module_levels"` // per-module log levels
}

// ConsoleOutput represents console logging configuration. Console output is
// text without timestamps; journald or docker adds them.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Level   string `yaml:"level" mapstructure:"level" json:"level"`
}

// FileOutput represents file logging configuration. File output is JSON
// with RFC3339 timestamps.
type FileOutput struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Path            string `yaml:"path" mapstructure:"path" json:"path"`
	MaxSize         int    `yaml:"max_size" mapstructure:"max_size" json:"max_size"`                            // MB before rotation
	MaxAge          int    `yaml:"max_age" mapstructure:"max_age" json:"max_age"`                               // days to keep rotated logs (0 = no limit)
	MaxRotatedFiles int    `yaml:"max_rotated_files" mapstructure:"max_rotated_files" json:"max_rotated_files"` // rotated files to keep (0 = no limit)
	Compress        bool   `yaml:"compress" mapstructure:"compress" json:"compress"`
	Level           string `yaml:"level" mapstructure:"level" json:"level"`
}

// ModuleOutput represents per-module output configuration. Zero rotation
// values fall back to FileOutput.
type ModuleOutput struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	FilePath        string `yaml:"file_path" mapstructure:"file_path" json:"file_path"`
	Level           string `yaml:"level" mapstructure:"level" json:"level"`
	ConsoleAlso     bool   `yaml:"console_also" mapstructure:"console_also" json:"console_also"`
	MaxSize         int    `yaml:"max_size" mapstructure:"max_size" json:"max_size"`
	MaxAge          int    `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
	MaxRotatedFiles int    `yaml:"max_rotated_files" mapstructure:"max_rotated_files" json:"max_rotated_files"`
	Compress        *bool  `yaml:"compress,omitempty" mapstructure:"compress" json:"compress,omitempty"`
}

// Default values for logging configuration.
// These match the defaults in conf/defaults.go.
const (
	DefaultLogLevel             = "info"
	DefaultLogPath              = "logs/pawdentify.log"
	DefaultAccessLogPath        = "logs/access.log"
	DefaultImageproviderLogPath = "logs/imageprovider.log"
	DefaultImagecacheLogPath    = "logs/imagecache.log"
	DefaultMaxSize              = 100
	DefaultMaxAge               = 30
	DefaultMaxRotatedFiles      = 10
	DefaultCompressLogs         = false
	DefaultConsoleEnabled       = true
	DefaultFileEnabled          = true
)

func ensureModuleOutput(cfg *LoggingConfig, module, filePath string) {
	if _, exists := cfg.ModuleOutputs[module]; !exists {
		cfg.ModuleOutputs[module] = ModuleOutput{
			Enabled:  true,
			FilePath: filePath,
			Level:    cfg.DefaultLevel,
		}
	}
}

// applyConfigDefaults fills nil sections so a config without explicit
// console or file_output still logs somewhere.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}

	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}

	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{
			Enabled: DefaultConsoleEnabled,
			Level:   cfg.DefaultLevel,
		}
	}

	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{
			Enabled:         DefaultFileEnabled,
			Path:            DefaultLogPath,
			Level:           cfg.DefaultLevel,
			MaxSize:         DefaultMaxSize,
			MaxAge:          DefaultMaxAge,
			MaxRotatedFiles: DefaultMaxRotatedFiles,
			Compress:        DefaultCompressLogs,
		}
	}

	if cfg.ModuleOutputs == nil {
		cfg.ModuleOutputs = make(map[string]ModuleOutput)
	}

	// Request logs
	ensureModuleOutput(cfg, "api", DefaultAccessLogPath)

	// External image source traffic is high volume during preloads
	ensureModuleOutput(cfg, "imageprovider", DefaultImageproviderLogPath)
	ensureModuleOutput(cfg, "imagecache", DefaultImagecacheLogPath)
}
