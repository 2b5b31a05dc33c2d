package metrics

import (
	"bytes"
	"strconv"
	"time"

	"github.com/jullanggit/keylogger/internal/security"
)

// Namespace prefixes every keylogger metric name.
const Namespace = "keylogger"

// KeyloggerMetrics holds the daemon's metrics. A nil *KeyloggerMetrics is
// valid and records nothing, so components can run without metrics.
type KeyloggerMetrics struct {
	registry *Registry

	// Counters
	CharsIngested      *Counter
	RepeatsDiscarded   *Counter
	CharsSuppressed    *Counter
	Checkpoints        *Counter
	CheckpointsSkipped *Counter
	CheckpointFailures *Counter

	// Gauges
	DistinctGrams    [3]*Gauge
	LastCheckpointTs *Gauge
	UptimeSeconds    *Gauge

	// Histograms
	CheckpointDuration *Histogram

	start time.Time
}

// New creates and registers the keylogger metrics on registry.
func New(registry *Registry) *KeyloggerMetrics {
	if registry == nil {
		registry = NewRegistry(Namespace)
	}

	m := &KeyloggerMetrics{
		registry: registry,
		start:    time.Now(),

		CharsIngested: registry.RegisterCounter(
			"chars_ingested_total",
			"Characters counted into the gram tables",
			nil,
		),
		RepeatsDiscarded: registry.RegisterCounter(
			"repeats_discarded_total",
			"Auto-repeat key events dropped before decoding",
			nil,
		),
		CharsSuppressed: registry.RegisterCounter(
			"chars_suppressed_total",
			"Characters decoded while recording was paused",
			nil,
		),
		Checkpoints: registry.RegisterCounter(
			"checkpoints_total",
			"Checkpoints written successfully",
			nil,
		),
		CheckpointsSkipped: registry.RegisterCounter(
			"checkpoints_skipped_total",
			"Ticks skipped because a checkpoint was still running",
			nil,
		),
		CheckpointFailures: registry.RegisterCounter(
			"checkpoint_failures_total",
			"Checkpoints that failed to write",
			nil,
		),
		LastCheckpointTs: registry.RegisterGauge(
			"last_checkpoint_timestamp",
			"Unix timestamp of the last successful checkpoint",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Number of seconds the daemon has been running",
			nil,
		),
		CheckpointDuration: registry.RegisterHistogram(
			"checkpoint_duration_seconds",
			"Time taken to write a checkpoint",
			nil,
			[]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		),
	}

	for i := range m.DistinctGrams {
		m.DistinctGrams[i] = registry.RegisterGauge(
			"distinct_grams",
			"Distinct grams held in memory per order",
			Labels{"order": strconv.Itoa(i + 1)},
		)
	}

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *KeyloggerMetrics) Registry() *Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordChar records a character counted into the tables.
func (m *KeyloggerMetrics) RecordChar() {
	if m == nil {
		return
	}
	m.CharsIngested.Inc()
}

// RecordRepeat records a discarded auto-repeat event.
func (m *KeyloggerMetrics) RecordRepeat() {
	if m == nil {
		return
	}
	m.RepeatsDiscarded.Inc()
}

// RecordSuppressed records a character dropped while paused.
func (m *KeyloggerMetrics) RecordSuppressed() {
	if m == nil {
		return
	}
	m.CharsSuppressed.Inc()
}

// RecordCheckpoint records a successful checkpoint.
func (m *KeyloggerMetrics) RecordCheckpoint(duration time.Duration) {
	if m == nil {
		return
	}
	m.Checkpoints.Inc()
	m.CheckpointDuration.ObserveDuration(duration)
	m.LastCheckpointTs.Set(time.Now().Unix())
}

// RecordCheckpointFailure records a failed checkpoint.
func (m *KeyloggerMetrics) RecordCheckpointFailure() {
	if m == nil {
		return
	}
	m.CheckpointFailures.Inc()
}

// RecordCheckpointSkipped records a tick that found a checkpoint in flight.
func (m *KeyloggerMetrics) RecordCheckpointSkipped() {
	if m == nil {
		return
	}
	m.CheckpointsSkipped.Inc()
}

// SetDistinctGrams updates the per-order table sizes.
func (m *KeyloggerMetrics) SetDistinctGrams(n [3]int) {
	if m == nil {
		return
	}
	for i, g := range m.DistinctGrams {
		g.Set(int64(n[i]))
	}
}

// UpdateUptime refreshes the uptime gauge.
func (m *KeyloggerMetrics) UpdateUptime() {
	if m == nil {
		return
	}
	m.UptimeSeconds.Set(int64(time.Since(m.start).Seconds()))
}

// WriteTextfile writes the metrics in Prometheus text format to path,
// replacing the file atomically so a scraper never reads a partial file.
func (m *KeyloggerMetrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	m.UpdateUptime()

	var b bytes.Buffer
	if err := m.registry.WritePrometheus(&b); err != nil {
		return err
	}
	return security.WriteSecureFile(path, b.Bytes(), 0644)
}
