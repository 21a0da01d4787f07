package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "tsfbridge"

// DataDir returns the directory holding the journal and logs.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/tsfbridge/
//   - Linux:   $XDG_DATA_HOME/tsfbridge/ or ~/.local/share/tsfbridge/
//   - Windows: %APPDATA%\tsfbridge\
//
// TSFBRIDGE_DATA_DIR overrides all of them.
func DataDir() string {
	if dir := os.Getenv("TSFBRIDGE_DATA_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", appName)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		return filepath.Join(homeDir(), "AppData", "Roaming", appName)
	default:
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, appName)
		}
		return filepath.Join(homeDir(), ".local", "share", appName)
	}
}

// ConfigDir returns the directory searched for config files. macOS and
// Windows keep configuration next to the data.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin", "windows":
		return DataDir()
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, appName)
		}
		return filepath.Join(homeDir(), ".config", appName)
	}
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return home
}

// SupportedConfigFormats returns the config file extensions understood by
// Load, without the dot.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile returns the first config.<ext> found in the working
// directory or ConfigDir, or "" when there is none.
func FindConfigFile() string {
	for _, dir := range []string{".", ConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
