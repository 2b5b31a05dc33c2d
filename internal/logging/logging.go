// Package logging provides structured logging with slog for keylogger.
//
// Features:
//   - JSON and text output formats
//   - Log levels (debug, info, warn, error), changeable at runtime
//   - Run IDs tying together every line of one daemon run
//   - Redaction of typed content
//   - Log rotation support
//   - Platform-specific default paths
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Level represents a logging level.
type Level = slog.Level

// Log levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format represents the output format for logs.
type Format int

const (
	// FormatText outputs human-readable text logs.
	FormatText Format = iota
	// FormatJSON outputs JSON-structured logs.
	FormatJSON
)

// Redacted replaces the value of attributes that would carry typed text.
const Redacted = "[REDACTED]"

// Config holds the logging configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level Level

	// Format is the output format (text or JSON).
	Format Format

	// Output specifies where logs are written.
	// Can be "stdout", "stderr", "file", or "both".
	Output string

	// FilePath is the path to the log file when Output includes "file".
	FilePath string

	// MaxSize is the maximum size of a log file in megabytes before rotation.
	MaxSize int64

	// MaxAge is the maximum age of log files in days before deletion.
	MaxAge int

	// MaxBackups is the maximum number of rotated log files to keep.
	MaxBackups int

	// Compress determines if rotated logs should be gzip compressed.
	Compress bool

	// AddSource adds source file and line to log entries.
	AddSource bool

	// Component is the name of the component using this logger.
	Component string
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		FilePath:   defaultLogPath(),
		MaxSize:    10,
		MaxAge:     30,
		MaxBackups: 5,
		Compress:   true,
		Component:  "keylogger",
	}
}

// defaultLogPath returns the platform-specific default log path.
func defaultLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "keylogger", "keylogger.log")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "keylogger", "logs", "keylogger.log")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "keylogger", "keylogger.log")
	}
}

// Logger wraps slog.Logger with a runtime-adjustable level and the
// rotating file it writes to.
type Logger struct {
	*slog.Logger
	config  *Config
	level   *slog.LevelVar
	rotator *FileRotator
	mu      *sync.Mutex

	// handler carries no attributes; attrs and component are applied on top.
	handler   slog.Handler
	attrs     []slog.Attr
	component string
}

// New creates a new Logger with the given configuration.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var writers []io.Writer
	var rotator *FileRotator

	output := strings.ToLower(cfg.Output)
	if output == "stdout" {
		writers = append(writers, os.Stdout)
	}
	if output == "stderr" || output == "both" || output == "" {
		writers = append(writers, os.Stderr)
	}
	if output == "file" || output == "both" {
		r, err := NewFileRotator(cfg)
		if err != nil {
			return nil, fmt.Errorf("setup writers: %w", err)
		}
		rotator = r
		writers = append(writers, r)
	}
	if len(writers) == 0 {
		return nil, fmt.Errorf("setup writers: unknown output %q", cfg.Output)
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = io.MultiWriter(writers...)
	}

	l := NewWithWriter(cfg, w)
	l.rotator = rotator
	return l, nil
}

// NewWithWriter creates a Logger writing to w, ignoring cfg.Output.
func NewWithWriter(cfg *Config, w io.Writer) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if shouldRedact(a.Key) {
				a.Value = slog.StringValue(Redacted)
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	l := &Logger{
		config:    cfg,
		level:     level,
		mu:        new(sync.Mutex),
		handler:   handler,
		component: cfg.Component,
	}
	l.Logger = slog.New(l.withAttrs())
	return l
}

func (l *Logger) withAttrs() slog.Handler {
	attrs := l.attrs
	if l.component != "" {
		attrs = append([]slog.Attr{slog.String("component", l.component)}, attrs...)
	}
	if len(attrs) == 0 {
		return l.handler
	}
	return l.handler.WithAttrs(attrs)
}

// SetDefault installs l as the process-wide slog default.
func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}

// SetLevel changes the minimum level of l and every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level)
}

// Level returns the current minimum level.
func (l *Logger) Level() Level {
	return l.level.Level()
}

// redactedKeys name attributes that may hold what the user typed.
var redactedKeys = []string{
	"char", "gram", "text", "rune", "password", "secret", "token",
}

// shouldRedact checks if an attribute key names typed or secret content.
func shouldRedact(key string) bool {
	keyLower := strings.ToLower(key)
	for _, sensitive := range redactedKeys {
		if strings.Contains(keyLower, sensitive) {
			return true
		}
	}
	return false
}

func (l *Logger) derive(component string, attrs ...slog.Attr) *Logger {
	d := &Logger{
		config:    l.config,
		level:     l.level,
		rotator:   l.rotator,
		mu:        l.mu,
		handler:   l.handler,
		attrs:     append(append([]slog.Attr(nil), l.attrs...), attrs...),
		component: component,
	}
	d.Logger = slog.New(d.withAttrs())
	return d
}

// NewRunID generates an identifier for one daemon run.
func NewRunID() string {
	return uuid.NewString()
}

// WithRunID returns a new logger tagging every record with a run ID.
func (l *Logger) WithRunID(id string) *Logger {
	return l.derive(l.component, slog.String("run_id", id))
}

// WithComponent returns a new logger with a different component name.
func (l *Logger) WithComponent(name string) *Logger {
	return l.derive(name)
}

// Close closes any open log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rotator != nil {
		return l.rotator.Sync()
	}
	return nil
}

// ParseLevel parses a string into a log level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// ParseFormat parses "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %s", s)
	}
}

// LevelString returns the string representation of a log level.
func LevelString(level Level) string {
	switch level {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}
