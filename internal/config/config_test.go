package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.CheckpointInterval() != 5*time.Second {
		t.Errorf("expected interval 5s, got %v", cfg.CheckpointInterval())
	}
	if cfg.Layout.Model != "pc105" || cfg.Layout.Layout != "ch" || cfg.Layout.Variant != "de" {
		t.Errorf("unexpected default layout: %+v", cfg.Layout)
	}
	if cfg.Device.NameContains != "evremap" || !cfg.Device.Wait {
		t.Errorf("unexpected default device: %+v", cfg.Device)
	}
	if cfg.Storage.Boundary != "suppress" {
		t.Errorf("expected boundary suppress, got %s", cfg.Storage.Boundary)
	}
	if !cfg.Checkpoint.Final {
		t.Error("final checkpoint should be on by default")
	}
	if cfg.Privacy.PauseOnLock {
		t.Error("pausing on screen lock should be opt-in")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestPlatformDirsXDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG paths are Linux only")
	}

	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_STATE_HOME", "/xdg/state")
	t.Setenv("KEYLOGGER_DATA_DIR", "")

	if got := KeyloggerDir(); got != "/xdg/data/keylogger" {
		t.Errorf("KeyloggerDir() = %s", got)
	}
	if got := ConfigPath(); got != "/xdg/config/keylogger/config.toml" {
		t.Errorf("ConfigPath() = %s", got)
	}
	if got := DefaultConfig().Logging.FilePath; got != "/xdg/state/keylogger/keylogger.log" {
		t.Errorf("log path = %s", got)
	}

	// Relative XDG paths are invalid and ignored
	t.Setenv("HOME", "/home/test")
	t.Setenv("XDG_DATA_HOME", "relative")
	if got := PlatformDataDir(); got != "/home/test/.local/share/keylogger" {
		t.Errorf("PlatformDataDir() = %s", got)
	}
}

func TestKeyloggerDirOverride(t *testing.T) {
	t.Setenv("KEYLOGGER_DATA_DIR", "/srv/keylogger")
	if got := KeyloggerDir(); got != "/srv/keylogger" {
		t.Errorf("KeyloggerDir() = %s", got)
	}
	if got := GetDefaultPaths().LockFile; got != "/srv/keylogger/.lock" {
		t.Errorf("LockFile = %s", got)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Error("missing file should load defaults")
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
version = 1

[device]
path = "/dev/input/event7"
wait = false

[layout]
model = "pc104"
layout = "us"
variant = ""

[storage]
data_dir = "/var/lib/keylogger"
boundary = "sentinel"

[checkpoint]
interval_sec = 30
final = false

[privacy]
pause_on_lock = true
session = "c2"

[logging]
level = "debug"
format = "json"

[metrics]
enabled = true
textfile_path = "/var/lib/node_exporter/keylogger.prom"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Device.Path != "/dev/input/event7" || cfg.Device.Wait {
		t.Errorf("device = %+v", cfg.Device)
	}
	if cfg.Device.NameContains != "evremap" {
		t.Errorf("unset fields keep their defaults, got %q", cfg.Device.NameContains)
	}
	if cfg.Layout.Model != "pc104" || cfg.Layout.Layout != "us" || cfg.Layout.Variant != "" {
		t.Errorf("layout = %+v", cfg.Layout)
	}
	if cfg.DataDir() != "/var/lib/keylogger" || cfg.Storage.Boundary != "sentinel" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.CheckpointInterval() != 30*time.Second || cfg.Checkpoint.Final {
		t.Errorf("checkpoint = %+v", cfg.Checkpoint)
	}
	if !cfg.Privacy.PauseOnLock || cfg.Privacy.Session != "c2" {
		t.Errorf("privacy = %+v", cfg.Privacy)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.TextfilePath != "/var/lib/node_exporter/keylogger.prom" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
}

func TestLoadYAMLAndJSON(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "config.yaml", "layout:\n  layout: us\n  variant: \"\"\ncheckpoint:\n  interval_sec: 12\n"},
		{"yml", "config.yml", "layout: {layout: us, variant: \"\"}\ncheckpoint: {interval_sec: 12}\n"},
		{"json", "config.json", `{"layout": {"layout": "us", "variant": ""}, "checkpoint": {"interval_sec": 12}}`},
		{"detected json", "config", `{"layout": {"layout": "us", "variant": ""}, "checkpoint": {"interval_sec": 12}}`},
		{"detected toml", "keyloggerrc", "[layout]\nlayout = \"us\"\nvariant = \"\"\n[checkpoint]\ninterval_sec = 12\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.file, tt.content))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Layout.Layout != "us" || cfg.Layout.Variant != "" {
				t.Errorf("layout = %+v", cfg.Layout)
			}
			if cfg.Checkpoint.IntervalSec != 12 {
				t.Errorf("interval = %d", cfg.Checkpoint.IntervalSec)
			}
			if cfg.Layout.Model != "pc105" {
				t.Errorf("model default lost: %q", cfg.Layout.Model)
			}
		})
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	tests := []struct {
		file    string
		content string
	}{
		{"config.toml", "[storage]\npath = \"/tmp/x\"\n"},
		{"config.yaml", "storage:\n  path: /tmp/x\n"},
		{"config.json", `{"storage": {"path": "/tmp/x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("expected error for unknown key")
			}
			if tt.file == "config.toml" && !strings.Contains(err.Error(), "storage.path") {
				t.Errorf("error should name the key: %v", err)
			}
		})
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.toml", "this is not valid toml {{{\n"))
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KEYLOGGER_DEVICE_PATH", "/dev/input/event2")
	t.Setenv("KEYLOGGER_LAYOUT", "us")
	t.Setenv("KEYLOGGER_VARIANT", "")
	t.Setenv("KEYLOGGER_MODEL", "pc104")
	t.Setenv("KEYLOGGER_DATA_DIR", "/data")
	t.Setenv("KEYLOGGER_BOUNDARY", "sentinel")
	t.Setenv("KEYLOGGER_CHECKPOINT_INTERVAL", "60")
	t.Setenv("KEYLOGGER_LOG_LEVEL", "warn")
	t.Setenv("KEYLOGGER_METRICS_TEXTFILE", "/tmp/k.prom")

	cfg, err := Load(writeConfig(t, "config.toml", "[checkpoint]\ninterval_sec = 10\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Device.Path != "/dev/input/event2" {
		t.Errorf("device path = %s", cfg.Device.Path)
	}
	if cfg.Layout.Layout != "us" || cfg.Layout.Variant != "" || cfg.Layout.Model != "pc104" {
		t.Errorf("layout = %+v", cfg.Layout)
	}
	if cfg.Storage.DataDir != "/data" || cfg.Storage.Boundary != "sentinel" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Checkpoint.IntervalSec != 60 {
		t.Errorf("environment should win over the file, got %d", cfg.Checkpoint.IntervalSec)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %s", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.TextfilePath != "/tmp/k.prom" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
}

func TestEnvOverrideIgnoresBadInterval(t *testing.T) {
	t.Setenv("KEYLOGGER_CHECKPOINT_INTERVAL", "soon")
	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	if cfg.Checkpoint.IntervalSec != 5 {
		t.Errorf("interval = %d", cfg.Checkpoint.IntervalSec)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"version", func(c *Config) { c.Version = 2 }, "version"},
		{"device outside /dev/input", func(c *Config) { c.Device.Path = "/tmp/event0" }, "device.path"},
		{"missing device without wait", func(c *Config) {
			c.Device.Path = "/dev/input/event-does-not-exist"
			c.Device.Wait = false
		}, "device.path"},
		{"model", func(c *Config) { c.Layout.Model = "macbook" }, "layout.model"},
		{"layout", func(c *Config) { c.Layout.Layout = "" }, "layout.layout"},
		{"layout file", func(c *Config) { c.Layout.File = "/nonexistent/layout.yaml" }, "layout.file"},
		{"data dir", func(c *Config) { c.Storage.DataDir = "" }, "storage.data_dir"},
		{"boundary", func(c *Config) { c.Storage.Boundary = "zero" }, "storage.boundary"},
		{"zero interval", func(c *Config) { c.Checkpoint.IntervalSec = 0 }, "checkpoint.interval_sec"},
		{"long interval", func(c *Config) { c.Checkpoint.IntervalSec = 7200 }, "checkpoint.interval_sec"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"log output", func(c *Config) { c.Logging.Output = "syslog" }, "logging.output"},
		{"log file", func(c *Config) {
			c.Logging.Output = "both"
			c.Logging.FilePath = ""
		}, "logging.file_path"},
		{"log size", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
		{"log backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
		{"log age", func(c *Config) { c.Logging.MaxAgeDays = -1 }, "logging.max_age_days"},
		{"metrics path", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.TextfilePath = ""
		}, "metrics.textfile_path"},
		{"metrics extension", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.TextfilePath = "/tmp/keylogger.txt"
		}, "metrics.textfile_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error does not match ErrInvalidConfig: %v", err)
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error is %T, want ValidationErrors", err)
			}
			found := false
			for _, e := range verrs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for %s in %v", tt.field, verrs)
			}
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device.Path = "/dev/input/event99"
	cfg.Device.Wait = true

	if err := cfg.Validate(); err != nil {
		t.Fatalf("warnings should not fail validation: %v", err)
	}

	findings := cfg.Check()
	if len(findings) != 1 || !findings[0].IsWarning() || findings[0].Field != "device.name" {
		t.Errorf("findings = %v", findings)
	}
	if len(findings.Warnings()) != 1 || findings.HasErrors() {
		t.Errorf("warnings = %v", findings.Warnings())
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(tmpDir, "a", "b", "data")
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = filepath.Join(tmpDir, "logs", "keylogger.log")
	cfg.Metrics.Enabled = true
	cfg.Metrics.TextfilePath = filepath.Join(tmpDir, "metrics", "keylogger.prom")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{"a/b/data", "logs", "metrics"} {
		if _, err := os.Stat(filepath.Join(tmpDir, dir)); err != nil {
			t.Errorf("%s was not created: %v", dir, err)
		}
	}
}

func TestEnsureDirectoriesSkipsUnused(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(tmpDir, "data")
	cfg.Logging.FilePath = filepath.Join(tmpDir, "logs", "keylogger.log")
	cfg.Metrics.TextfilePath = filepath.Join(tmpDir, "metrics", "keylogger.prom")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "logs")); !os.IsNotExist(err) {
		t.Error("log directory created although logging goes to stderr")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "metrics")); !os.IsNotExist(err) {
		t.Error("metrics directory created although metrics are disabled")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	for _, name := range []string{"config.toml", "config.yaml", "config.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "conf", name)

			cfg := DefaultConfig()
			cfg.Layout.Layout = "us"
			cfg.Layout.Variant = ""
			cfg.Checkpoint.IntervalSec = 42
			cfg.Privacy.Session = "3"

			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
				t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !reflect.DeepEqual(cfg, loaded) {
				t.Errorf("round trip differs:\nsaved  %+v\nloaded %+v", cfg, loaded)
			}
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("expected the file to be created")
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Error("created config should hold defaults")
	}

	_, created, err = LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if created {
		t.Error("existing file should be loaded, not created")
	}
}

func TestLoaderWatch(t *testing.T) {
	path := writeConfig(t, "config.toml", "[logging]\nlevel = \"info\"\n")

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	changes := make(chan string, 4)
	loader.OnChange(func(old, new *Config) {
		changes <- old.Logging.Level + "->" + new.Logging.Level
	})
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer loader.Close()

	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changes:
		if got != "info->debug" {
			t.Errorf("change = %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after the file changed")
	}
	if loader.Config().Logging.Level != "debug" {
		t.Errorf("current level = %s", loader.Config().Logging.Level)
	}

	// An invalid edit is reported and leaves the config in place
	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"loud\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-loader.Errors():
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("reload error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("invalid edit was not reported")
	}
	if loader.Config().Logging.Level != "debug" {
		t.Errorf("invalid edit replaced the config")
	}
}
