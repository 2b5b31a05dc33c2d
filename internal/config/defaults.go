package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "keylogger"

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - Linux:   $XDG_DATA_HOME/keylogger or ~/.local/share/keylogger/
//   - macOS:   ~/Library/Application Support/keylogger/
//   - Windows: %APPDATA%\keylogger\
//
// Falls back to ~/.keylogger if platform detection fails.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "linux":
		return xdgDir("XDG_DATA_HOME", ".local", "share")
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", appName)
	case "windows":
		return windowsDir("APPDATA", "Roaming")
	default:
		return fallbackDataDir()
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - Linux:   $XDG_CONFIG_HOME/keylogger or ~/.config/keylogger/
//   - macOS:   ~/Library/Application Support/keylogger/
//   - Windows: %APPDATA%\keylogger\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "linux":
		return xdgDir("XDG_CONFIG_HOME", ".config")
	default:
		return PlatformDataDir()
	}
}

// PlatformLogDir returns the platform-specific log directory.
//
// Platform paths:
//   - Linux:   $XDG_STATE_HOME/keylogger or ~/.local/state/keylogger/
//   - macOS:   ~/Library/Logs/keylogger/
//   - Windows: %LOCALAPPDATA%\keylogger\logs\
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "linux":
		return xdgDir("XDG_STATE_HOME", ".local", "state")
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Logs", appName)
	case "windows":
		return filepath.Join(windowsDir("LOCALAPPDATA", "Local"), "logs")
	default:
		return filepath.Join(fallbackDataDir(), "logs")
	}
}

// xdgDir resolves an XDG base directory, falling back to a path under $HOME.
func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" && filepath.IsAbs(dir) {
		return filepath.Join(dir, appName)
	}
	parts := append([]string{homeDir()}, fallback...)
	return filepath.Join(append(parts, appName)...)
}

func windowsDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(homeDir(), "AppData", fallback, appName)
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return home
}

func fallbackDataDir() string {
	return filepath.Join(homeDir(), "."+appName)
}

// DefaultPaths holds the default locations for the current platform.
type DefaultPaths struct {
	DataDir   string
	ConfigDir string
	LogDir    string

	ConfigFile  string
	LogFile     string
	MetricsFile string
	LockFile    string
}

// GetDefaultPaths returns all default paths for the current platform.
func GetDefaultPaths() *DefaultPaths {
	dataDir := KeyloggerDir()
	configDir := PlatformConfigDir()
	logDir := PlatformLogDir()

	return &DefaultPaths{
		DataDir:     dataDir,
		ConfigDir:   configDir,
		LogDir:      logDir,
		ConfigFile:  filepath.Join(configDir, "config.toml"),
		LogFile:     filepath.Join(logDir, appName+".log"),
		MetricsFile: filepath.Join(dataDir, appName+".prom"),
		LockFile:    filepath.Join(dataDir, ".lock"),
	}
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
//
// Search order: $KEYLOGGER_CONFIG, the current directory, the config
// directory.
func FindConfigFile() string {
	if path := os.Getenv("KEYLOGGER_CONFIG"); path != "" {
		return path
	}

	for _, dir := range []string{".", PlatformConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, appName+"."+ext)
			if dir != "." {
				path = filepath.Join(dir, "config."+ext)
			}
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	return ""
}
