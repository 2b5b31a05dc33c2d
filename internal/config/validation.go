package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ValidateConfig performs comprehensive validation of the configuration.
// Warnings alone do not fail validation.
func ValidateConfig(c *Config) error {
	if errs := c.Check(); errs.HasErrors() {
		return errs.Errors()
	}
	return nil
}

// Check returns every validation finding, warnings included.
func (c *Config) Check() ValidationErrors {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateDevice(&c.Device)...)
	errs = append(errs, validateLayout(&c.Layout)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateCheckpoint(&c.Checkpoint)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)
	return errs
}

func validateDevice(d *DeviceConfig) ValidationErrors {
	var errs ValidationErrors

	if d.Path != "" {
		if !strings.HasPrefix(filepath.Clean(d.Path), "/dev/input/") {
			errs = append(errs, ValidationError{
				Field:   "device.path",
				Message: fmt.Sprintf("%s is not under /dev/input", d.Path),
			})
		} else if _, err := os.Stat(d.Path); err != nil && !d.Wait {
			errs = append(errs, ValidationError{
				Field:   "device.path",
				Message: fmt.Sprintf("device does not exist yet: %s", d.Path),
			})
		}
		if d.Name != "" || d.NameContains != "" {
			errs = append(errs, ValidationError{
				Field:   "device.name",
				Message: "ignored because device.path is set",
			})
		}
	}

	return errs
}

func validateLayout(l *LayoutConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Model {
	case "pc104", "pc105":
	default:
		errs = append(errs, ValidationError{
			Field:   "layout.model",
			Message: fmt.Sprintf("invalid keyboard model: %s (valid: pc104, pc105)", l.Model),
		})
	}

	if l.File != "" {
		if _, err := os.Stat(expandPath(l.File)); err != nil {
			errs = append(errs, ValidationError{
				Field:   "layout.file",
				Message: fmt.Sprintf("cannot read keymap: %v", err),
			})
		}
	} else if l.Layout == "" {
		errs = append(errs, *RequiredFieldError("layout.layout"))
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if s.DataDir == "" {
		errs = append(errs, *RequiredFieldError("storage.data_dir"))
	}

	switch s.Boundary {
	case "suppress", "sentinel":
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.boundary",
			Message: fmt.Sprintf("invalid boundary policy: %s (valid: suppress, sentinel)", s.Boundary),
		})
	}

	return errs
}

func validateCheckpoint(c *CheckpointConfig) ValidationErrors {
	var errs ValidationErrors

	if c.IntervalSec < 1 || c.IntervalSec > 3600 {
		errs = append(errs, *RangeError("checkpoint.interval_sec", 1, 3600))
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if !m.Enabled {
		return errs
	}
	if m.TextfilePath == "" {
		errs = append(errs, *RequiredFieldError("metrics.textfile_path"))
	} else if filepath.Ext(m.TextfilePath) != ".prom" {
		errs = append(errs, ValidationError{
			Field:   "metrics.textfile_path",
			Message: "textfile collector only reads *.prom files",
		})
	}

	return errs
}

// Helper functions

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// IsWarning returns true if this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	warningFields := []string{
		"device.name", // shadowed by device.path
	}
	for _, f := range warningFields {
		if e.Field == f {
			return true
		}
	}
	return false
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
