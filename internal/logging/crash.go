package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// CrashReport is written as JSON when a daemon goroutine panics.
type CrashReport struct {
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version"`
	GOOS         string    `json:"goos"`
	GOARCH       string    `json:"goarch"`
	NumGoroutine int       `json:"num_goroutine"`
	Task         string    `json:"task"`
	PanicValue   string    `json:"panic_value"`
	StackTrace   string    `json:"stack_trace"`
	RunID        string    `json:"run_id,omitempty"`
}

// PanicError is returned by Guard when the guarded function panicked.
type PanicError struct {
	Task   string
	Value  any
	Report string // path of the crash dump, empty if it could not be written
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Task, e.Value)
}

// CrashHandler turns panics in long-running tasks into crash dumps and
// ordinary errors, so the daemon can still save its tables before exiting.
type CrashHandler struct {
	mu       sync.Mutex
	crashDir string
	version  string
	runID    string
	logger   *slog.Logger
}

// DefaultCrashDir returns the platform-specific default crash directory.
func DefaultCrashDir() string {
	return filepath.Join(filepath.Dir(defaultLogPath()), "crashes")
}

// NewCrashHandler creates a handler writing into crashDir
// (DefaultCrashDir when empty).
func NewCrashHandler(crashDir, version, runID string, logger *slog.Logger) *CrashHandler {
	if crashDir == "" {
		crashDir = DefaultCrashDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CrashHandler{
		crashDir: crashDir,
		version:  version,
		runID:    runID,
		logger:   logger,
	}
}

// Guard runs fn, converting a panic into a *PanicError after recording
// a crash report.
func (h *CrashHandler) Guard(task string, fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = h.handle(task, v, debug.Stack())
		}
	}()
	return fn()
}

func (h *CrashHandler) handle(task string, value any, stack []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	report := CrashReport{
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumGoroutine: runtime.NumGoroutine(),
		Task:         task,
		PanicValue:   fmt.Sprintf("%v", value),
		StackTrace:   string(stack),
		RunID:        h.runID,
	}

	perr := &PanicError{Task: task, Value: value}
	path, err := h.write(report)
	if err != nil {
		h.logger.Error("crash report not written", "task", task, "error", err)
	} else {
		perr.Report = path
	}
	h.logger.Error("task panicked", "task", task, "panic", report.PanicValue, "report", path)
	return perr
}

func (h *CrashHandler) write(report CrashReport) (string, error) {
	if err := os.MkdirAll(h.crashDir, 0750); err != nil {
		return "", fmt.Errorf("create crash directory: %w", err)
	}

	name := fmt.Sprintf("crash-%s-%s.json", report.Task, report.Timestamp.Format("20060102-150405.000"))
	path := filepath.Join(h.crashDir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}

// CrashReports reads every report in the crash directory.
func (h *CrashHandler) CrashReports() ([]CrashReport, error) {
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return nil, err
	}

	reports := make([]CrashReport, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		var report CrashReport
		if err := json.Unmarshal(data, &report); err != nil {
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// CleanupOldCrashReports removes crash reports older than maxAge.
func (h *CrashHandler) CleanupOldCrashReports(maxAge time.Duration) error {
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(file)
		}
	}
	return nil
}
