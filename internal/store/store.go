// Package store persists the n-gram tables.
//
// A Store owns one ngram.Table behind a mutex shared by the ingestion loop
// and the checkpoint scheduler. State lives in a data directory as one text
// file per order:
//
//	<dir>/1-grams.txt
//	<dir>/2-grams.txt
//	<dir>/3-grams.txt
//
// Each file is replaced atomically on checkpoint, so after a crash every file
// holds either its previous or its new contents.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jullanggit/keylogger/internal/metrics"
	"github.com/jullanggit/keylogger/internal/ngram"
	"github.com/jullanggit/keylogger/internal/security"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// FileName returns the file name holding n-grams.
func FileName(n int) string {
	return fmt.Sprintf("%d-grams.txt", n)
}

// Store is the telemetry store.
type Store struct {
	dir string

	mu     sync.Mutex
	table  *ngram.Table
	closed bool

	// cpMu serializes checkpoints; it is never held together with mu
	// across I/O.
	cpMu sync.Mutex

	lock    *security.DirLock
	policy  ngram.BoundaryPolicy
	logger  *slog.Logger
	metrics *metrics.KeyloggerMetrics
}

// Option configures a Store.
type Option func(*Store)

// WithPolicy sets the boundary policy for grams at the start of the stream.
func WithPolicy(p ngram.BoundaryPolicy) Option {
	return func(s *Store) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.KeyloggerMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Load opens the data directory, takes its lock and restores the tables
// from disk. A missing file yields an empty table for that order; a
// malformed file is an error naming the file.
func Load(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:    dir,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store")

	if err := security.EnsureSecureDir(dir); err != nil {
		return nil, fmt.Errorf("prepare data directory: %w", err)
	}

	lock, err := security.LockDir(dir)
	if err != nil {
		return nil, err
	}

	snap, err := ReadSnapshot(dir)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	s.lock = lock
	s.table = ngram.FromTables(snap.Order(1), snap.Order(2), snap.Order(3), s.policy)
	s.metrics.SetDistinctGrams(s.table.Len())

	s.logger.Info("loaded gram tables",
		"dir", dir,
		"boundary", s.policy.String(),
		"unigrams", snap.Len(1),
		"bigrams", snap.Len(2),
		"trigrams", snap.Len(3),
	)
	return s, nil
}

// ReadSnapshot decodes the gram files in dir without taking the lock.
// It is used by the reporting commands, which may run beside a daemon.
func ReadSnapshot(dir string) (ngram.Snapshot, error) {
	var tables [ngram.MaxOrder]map[string]uint64
	for i := range tables {
		m, err := readOrder(dir, i+1)
		if err != nil {
			return ngram.Snapshot{}, err
		}
		tables[i] = m
	}
	return ngram.NewSnapshot(tables[0], tables[1], tables[2]), nil
}

func readOrder(dir string, n int) (map[string]uint64, error) {
	name := FileName(n)
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]uint64), nil
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	m, err := ngram.DecodeOrder(f, n)
	if err != nil {
		var ferr *ngram.FormatError
		if errors.As(err, &ferr) {
			ferr.File = name
			return nil, ferr
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return m, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Ingest counts r. It returns ngram.ErrCountOverflow when a counter is
// saturated, in which case nothing was counted.
func (s *Store) Ingest(r rune) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.table.Push(r); err != nil {
		return err
	}
	s.metrics.RecordChar()
	return nil
}

// Snapshot returns a consistent copy of the counts.
func (s *Store) Snapshot() ngram.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Snapshot()
}

// Checkpoint writes the current counts to disk. The table lock is released
// before any file is written. Concurrent calls run one after another.
func (s *Store) Checkpoint(ctx context.Context) error {
	s.cpMu.Lock()
	defer s.cpMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	snap := s.table.Snapshot()
	s.mu.Unlock()

	start := time.Now()
	for n := 1; n <= ngram.MaxOrder; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.writeOrder(snap, n); err != nil {
			s.metrics.RecordCheckpointFailure()
			return err
		}
	}

	elapsed := time.Since(start)
	s.metrics.RecordCheckpoint(elapsed)
	s.metrics.SetDistinctGrams([ngram.MaxOrder]int{snap.Len(1), snap.Len(2), snap.Len(3)})
	s.logger.Debug("checkpoint written",
		"unigrams", snap.Len(1),
		"bigrams", snap.Len(2),
		"trigrams", snap.Len(3),
		"duration", elapsed,
	)
	return nil
}

func (s *Store) writeOrder(snap ngram.Snapshot, n int) error {
	name := FileName(n)
	w, err := security.NewSecureFileWriter(filepath.Join(s.dir, name), security.PermSecretFile)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", name, err)
	}
	if err := ngram.Encode(w, snap.Order(n)); err != nil {
		w.Abort()
		return fmt.Errorf("checkpoint %s: %w", name, err)
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("checkpoint %s: %w", name, err)
	}
	return nil
}

// Close releases the directory lock. It does not checkpoint; the scheduler
// writes the final checkpoint before the store is closed.
func (s *Store) Close() error {
	s.cpMu.Lock()
	defer s.cpMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.lock.Unlock()
}
