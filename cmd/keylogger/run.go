package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/jullanggit/keylogger/internal/checkpoint"
	"github.com/jullanggit/keylogger/internal/config"
	"github.com/jullanggit/keylogger/internal/ingest"
	"github.com/jullanggit/keylogger/internal/keystroke"
	"github.com/jullanggit/keylogger/internal/layout"
	"github.com/jullanggit/keylogger/internal/lockwatch"
	"github.com/jullanggit/keylogger/internal/logging"
	"github.com/jullanggit/keylogger/internal/metrics"
	"github.com/jullanggit/keylogger/internal/ngram"
	"github.com/jullanggit/keylogger/internal/security"
	"github.com/jullanggit/keylogger/internal/store"
)

type runOptions struct {
	device      string
	deviceMatch string
	devicePath  string
	model       string
	layout      string
	variant     string
	layoutFile  string
	interval    time.Duration
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the recording daemon",
		Long: `Run reads key events from one keyboard, decodes them with the configured
layout and counts the typed characters. Counts are checkpointed every
interval and once more on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg, opts); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return runDaemon(cmd.Context(), loader, cfg, rootOpts.logLevel != "")
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.device, "device", "", "exact input device name")
	f.StringVar(&opts.deviceMatch, "device-match", "", "substring of the input device name")
	f.StringVar(&opts.devicePath, "device-path", "", "event device node, e.g. /dev/input/event3")
	f.StringVar(&opts.model, "model", "", "keyboard model (pc104|pc105)")
	f.StringVar(&opts.layout, "layout", "", "keyboard layout, e.g. ch or us")
	f.StringVar(&opts.variant, "variant", "", "layout variant, e.g. de")
	f.StringVar(&opts.layoutFile, "layout-file", "", "YAML keymap replacing the built-in layout")
	f.DurationVar(&opts.interval, "interval", 0, "checkpoint interval in whole seconds (default from config, 5s)")

	return cmd
}

// applyRunFlags overrides configuration with the flags given on the
// command line.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, opts *runOptions) error {
	f := cmd.Flags()
	if f.Changed("device-path") {
		cfg.Device.Path = opts.devicePath
	}
	if f.Changed("device") {
		cfg.Device.Name = opts.device
		cfg.Device.NameContains = ""
	}
	if f.Changed("device-match") {
		cfg.Device.Name = ""
		cfg.Device.NameContains = opts.deviceMatch
	}
	if f.Changed("model") {
		cfg.Layout.Model = opts.model
	}
	if f.Changed("layout") {
		cfg.Layout.Layout = opts.layout
		cfg.Layout.File = ""
	}
	if f.Changed("variant") {
		cfg.Layout.Variant = opts.variant
	}
	if f.Changed("layout-file") {
		cfg.Layout.File = opts.layoutFile
	}
	if f.Changed("interval") {
		if opts.interval < time.Second || opts.interval%time.Second != 0 {
			return fmt.Errorf("--interval must be a whole number of seconds, got %s", opts.interval)
		}
		cfg.Checkpoint.IntervalSec = int(opts.interval / time.Second)
	}
	return nil
}

// newLogger builds the daemon logger from the logging section.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = cfg.Logging.Output
	lc.FilePath = cfg.Logging.FilePath
	lc.MaxSize = int64(cfg.Logging.MaxSizeMB)
	lc.MaxBackups = cfg.Logging.MaxBackups
	lc.MaxAge = cfg.Logging.MaxAgeDays
	lc.Compress = cfg.Logging.Compress
	return logging.New(lc)
}

func runDaemon(ctx context.Context, loader *config.Loader, cfg *config.Config, levelPinned bool) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logger.Close()

	runID := logging.NewRunID()
	log := logger.WithRunID(runID)
	logging.SetDefault(log)

	for _, w := range security.HardenProcess() {
		log.Warn("process hardening", "warning", w)
	}
	for _, w := range cfg.Check().Warnings() {
		log.Warn("configuration warning", "field", w.Field, "message", w.Message)
	}
	log.Info("starting keylogger", "version", version, "config", loader.Path())

	m := metrics.New(nil)

	policy, err := ngram.ParseBoundaryPolicy(cfg.Storage.Boundary)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	st, err := store.Load(cfg.DataDir(),
		store.WithPolicy(policy),
		store.WithLogger(log.WithComponent("store").Logger),
		store.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	keymap, err := layout.Resolve(layout.Options{
		Model:   cfg.Layout.Model,
		Layout:  cfg.Layout.Layout,
		Variant: cfg.Layout.Variant,
		File:    cfg.Layout.File,
	})
	if err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	log.Info("keymap loaded", "keymap", keymap.ID(), "model", cfg.Layout.Model)

	sel := keystroke.Selector{
		Path:         cfg.Device.Path,
		Name:         cfg.Device.Name,
		NameContains: cfg.Device.NameContains,
	}
	dev, err := keystroke.FindDevice(ctx, sel, cfg.Device.Wait, log.WithComponent("device").Logger)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("device: %w", err)
	}
	src, err := keystroke.OpenEvdev(ctx, dev.Path)
	if err != nil {
		return fmt.Errorf("device: %w", err)
	}
	defer src.Close()
	log.Info("reading keyboard", "device", src.Name(), "path", src.Path())

	gate := &lockwatch.Gate{}
	var watcher *lockwatch.Watcher
	if cfg.Privacy.PauseOnLock {
		watcher, err = lockwatch.NewWatcher(gate, lockwatch.Config{
			Session: cfg.Privacy.Session,
			Logger:  log.WithComponent("lockwatch").Logger,
		})
		if err != nil {
			log.Warn("screen lock detection unavailable, recording continues while locked", "error", err)
			watcher = nil
		}
	}

	watchConfig(ctx, loader, logger, levelPinned)
	defer loader.Close()

	crash := logging.NewCrashHandler(filepath.Join(filepath.Dir(cfg.Logging.FilePath), "crashes"), version, runID, log.Logger)
	checkCrashReports(crash, log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	start := func(task string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := crash.Guard(task, fn); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				cancel()
			}
		}()
	}

	loop := &ingest.Loop{
		Source:  src,
		Decoder: layout.NewDecoder(keymap),
		Sink:    st,
		Gate:    gate,
		Logger:  log.WithComponent("ingest").Logger,
		Metrics: m,
	}
	sched := checkpoint.New(st, checkpoint.Config{
		Interval:        cfg.CheckpointInterval(),
		FinalCheckpoint: cfg.Checkpoint.Final,
		Logger:          log.WithComponent("checkpoint").Logger,
		Metrics:         m,
		OnCheckpoint: func(error) {
			if !cfg.Metrics.Enabled {
				return
			}
			if err := m.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
				log.Warn("metrics textfile not written", "path", cfg.Metrics.TextfilePath, "error", err)
			}
		},
	})

	start("ingest", func() error {
		// Ingestion ending for any reason stops the daemon.
		defer cancel()
		return loop.Run(ctx)
	})
	start("checkpoint", func() error { return sched.Run(ctx) })
	if watcher != nil {
		start("lockwatch", func() error {
			if err := watcher.Run(ctx); err != nil {
				// Losing lock signals is not fatal.
				log.Warn("screen lock watcher stopped", "error", err)
			}
			return nil
		})
	}

	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()

	stats := sched.Stats()
	log.Info("keylogger stopped",
		"checkpoints", stats.Checkpoints,
		"failures", stats.Failures,
		"chars", m.CharsIngested.Value(),
	)

	if errors.Is(firstErr, context.Canceled) {
		return nil
	}
	return firstErr
}

// crashReportMaxAge is how long crash reports from earlier runs are kept.
const crashReportMaxAge = 30 * 24 * time.Hour

// checkCrashReports logs reports left by earlier runs and removes old ones.
func checkCrashReports(crash *logging.CrashHandler, log *logging.Logger) {
	reports, err := crash.CrashReports()
	if err == nil && len(reports) > 0 {
		log.Warn("earlier runs crashed", "reports", len(reports))
	}
	if err := crash.CleanupOldCrashReports(crashReportMaxAge); err != nil {
		log.Debug("crash reports not cleaned up", "error", err)
	}
}

// watchConfig follows the configuration file and applies log level
// changes. Other settings take effect on restart.
func watchConfig(ctx context.Context, loader *config.Loader, logger *logging.Logger, levelPinned bool) {
	loader.OnChange(func(old, new *config.Config) {
		if levelPinned || old.Logging.Level == new.Logging.Level {
			logger.Info("configuration changed, restart to apply")
			return
		}
		level, err := logging.ParseLevel(new.Logging.Level)
		if err != nil {
			return
		}
		logger.SetLevel(level)
		logger.Info("log level changed", "level", logging.LevelString(level))
	})

	if err := loader.Watch(); err != nil {
		logger.Debug("configuration file not watched", "path", loader.Path(), "error", err)
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-loader.Errors():
				logger.Warn("configuration change ignored", "error", err)
			}
		}
	}()
}
