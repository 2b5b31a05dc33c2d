// Package config handles configuration loading, validation, and management for keylogger.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Device selects the keyboard to read.
	Device DeviceConfig `toml:"device" json:"device" yaml:"device"`

	// Layout selects the keymap used to decode key codes.
	Layout LayoutConfig `toml:"layout" json:"layout" yaml:"layout"`

	// Storage configures where gram tables are kept.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Checkpoint configures periodic saves.
	Checkpoint CheckpointConfig `toml:"checkpoint" json:"checkpoint" yaml:"checkpoint"`

	// Privacy configures when typing is not recorded.
	Privacy PrivacyConfig `toml:"privacy" json:"privacy" yaml:"privacy"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// DeviceConfig selects the input device. Path takes precedence over Name,
// Name over NameContains. With all three empty the first keyboard is used.
type DeviceConfig struct {
	// Path is an explicit device node, e.g. /dev/input/event3.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Name is the exact kernel device name.
	Name string `toml:"name" json:"name" yaml:"name"`

	// NameContains matches a substring of the device name.
	NameContains string `toml:"name_contains" json:"name_contains" yaml:"name_contains"`

	// Wait blocks at startup until a matching device appears.
	Wait bool `toml:"wait" json:"wait" yaml:"wait"`
}

// LayoutConfig holds keymap selection in xkb terms.
type LayoutConfig struct {
	// Model is "pc104" or "pc105".
	Model string `toml:"model" json:"model" yaml:"model"`

	// Layout is a built-in layout name, e.g. "ch" or "us".
	Layout string `toml:"layout" json:"layout" yaml:"layout"`

	// Variant is the layout variant, e.g. "de".
	Variant string `toml:"variant" json:"variant" yaml:"variant"`

	// File is a YAML keymap that replaces the built-in layout.
	File string `toml:"file" json:"file" yaml:"file"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// DataDir holds the 1-, 2- and 3-gram files.
	DataDir string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`

	// Boundary is the gram boundary policy: "suppress" or "sentinel".
	Boundary string `toml:"boundary" json:"boundary" yaml:"boundary"`
}

// CheckpointConfig holds checkpoint scheduling configuration.
type CheckpointConfig struct {
	// IntervalSec is the time between checkpoints in seconds.
	IntervalSec int `toml:"interval_sec" json:"interval_sec" yaml:"interval_sec"`

	// Final writes one more checkpoint on shutdown.
	Final bool `toml:"final" json:"final" yaml:"final"`
}

// PrivacyConfig holds recording suppression settings.
type PrivacyConfig struct {
	// PauseOnLock stops recording while the logind session is locked. Off
	// by default so every decoded character is counted.
	PauseOnLock bool `toml:"pause_on_lock" json:"pause_on_lock" yaml:"pause_on_lock"`

	// Session is the logind session id to follow. Empty selects it
	// automatically.
	Session string `toml:"session" json:"session" yaml:"session"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the output format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// MetricsConfig holds metrics export configuration.
type MetricsConfig struct {
	// Enabled writes metrics after every checkpoint.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// TextfilePath is a Prometheus textfile (*.prom) for node_exporter.
	TextfilePath string `toml:"textfile_path" json:"textfile_path" yaml:"textfile_path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Device: DeviceConfig{
			NameContains: "evremap",
			Wait:         true,
		},
		Layout: LayoutConfig{
			Model:   "pc105",
			Layout:  "ch",
			Variant: "de",
		},
		Storage: StorageConfig{
			DataDir:  KeyloggerDir(),
			Boundary: "suppress",
		},
		Checkpoint: CheckpointConfig{
			IntervalSec: 5,
			Final:       true,
		},
		Privacy: PrivacyConfig{
			PauseOnLock: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "keylogger.log"),
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled:      false,
			TextfilePath: filepath.Join(KeyloggerDir(), "keylogger.prom"),
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates all necessary directories for the daemon.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Storage.DataDir}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	if c.Metrics.Enabled {
		dirs = append(dirs, filepath.Dir(c.Metrics.TextfilePath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(expandPath(dir), 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// KeyloggerDir returns the base data directory.
// Uses platform-specific paths or KEYLOGGER_DATA_DIR environment override.
func KeyloggerDir() string {
	if envDir := os.Getenv("KEYLOGGER_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with KEYLOGGER_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	// Device overrides
	if v := os.Getenv("KEYLOGGER_DEVICE_PATH"); v != "" {
		c.Device.Path = v
	}
	if v := os.Getenv("KEYLOGGER_DEVICE"); v != "" {
		c.Device.Name = v
	}
	if v := os.Getenv("KEYLOGGER_DEVICE_MATCH"); v != "" {
		c.Device.NameContains = v
	}

	// Layout overrides
	if v := os.Getenv("KEYLOGGER_MODEL"); v != "" {
		c.Layout.Model = v
	}
	if v := os.Getenv("KEYLOGGER_LAYOUT"); v != "" {
		c.Layout.Layout = v
	}
	if v, ok := os.LookupEnv("KEYLOGGER_VARIANT"); ok {
		c.Layout.Variant = v
	}
	if v := os.Getenv("KEYLOGGER_LAYOUT_FILE"); v != "" {
		c.Layout.File = v
	}

	// Storage overrides
	if v := os.Getenv("KEYLOGGER_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("KEYLOGGER_BOUNDARY"); v != "" {
		c.Storage.Boundary = v
	}

	if v := os.Getenv("KEYLOGGER_CHECKPOINT_INTERVAL"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			c.Checkpoint.IntervalSec = sec
		}
	}

	// Logging overrides
	if v := os.Getenv("KEYLOGGER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KEYLOGGER_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	if v := os.Getenv("KEYLOGGER_METRICS_TEXTFILE"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.TextfilePath = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// CheckpointInterval returns the checkpoint interval as a duration.
func (c *Config) CheckpointInterval() time.Duration {
	return time.Duration(c.Checkpoint.IntervalSec) * time.Second
}

// DataDir returns the storage directory with ~ expanded.
func (c *Config) DataDir() string {
	return expandPath(c.Storage.DataDir)
}

// EncodeTOML writes the configuration as TOML.
func (c *Config) EncodeTOML() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
