package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/tphakala/pawdentify/internal/errors"
)

const osWindows = "windows"

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// most specific first.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	switch runtime.GOOS {
	case osWindows:
		exePath, err := os.Executable()
		if err != nil {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("operation", "get-executable-path").
				Build()
		}
		return []string{
			filepath.Dir(exePath),
			filepath.Join(homeDir, "AppData", "Roaming", "pawdentify"),
		}, nil
	default:
		return []string{
			filepath.Join(homeDir, ".config", "pawdentify"),
			"/etc/pawdentify",
		}, nil
	}
}

// ResolvePath makes a relative data path relative to the config file's
// directory, leaving absolute paths alone.
func (s *Settings) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || s.ConfigFile == "" {
		return p
	}
	return filepath.Join(filepath.Dir(s.ConfigFile), p)
}
