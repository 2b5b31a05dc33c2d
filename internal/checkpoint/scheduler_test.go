package checkpoint

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jullanggit/keylogger/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTarget struct {
	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32

	// entered receives once per call when non-nil
	entered chan struct{}
	// release blocks every call until closed when non-nil
	release chan struct{}

	mu        sync.Mutex
	err       error
	cancelled []bool
}

func (f *fakeTarget) Checkpoint(ctx context.Context) error {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, ctx.Err() != nil)
	return f.err
}

func runScheduler(ctx context.Context, s *Scheduler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func TestSchedulerCheckpointsPeriodically(t *testing.T) {
	target := &fakeTarget{}
	s := New(target, Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := runScheduler(ctx, s)

	require.Eventually(t, func() bool { return target.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	stats := s.Stats()
	assert.GreaterOrEqual(t, stats.Checkpoints, uint64(3))
	assert.Zero(t, stats.Failures)
	assert.False(t, stats.LastCheckpoint.IsZero())
}

func TestSchedulerDefaultInterval(t *testing.T) {
	s := New(&fakeTarget{}, Config{})
	assert.Equal(t, DefaultInterval, s.config.Interval)
}

func TestSchedulerSkipsWhileBusy(t *testing.T) {
	target := &fakeTarget{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	m := metrics.New(nil)
	s := New(target, Config{Interval: 2 * time.Millisecond, Metrics: m})

	ctx, cancel := context.WithCancel(context.Background())
	done := runScheduler(ctx, s)

	<-target.entered
	require.Eventually(t, func() bool { return s.Stats().Skipped >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), target.calls.Load(), "skipped ticks are not queued")

	cancel()
	close(target.release)
	require.NoError(t, <-done)

	assert.Equal(t, int32(1), target.maxActive.Load(), "checkpoints never overlap")
	assert.Equal(t, s.Stats().Skipped, m.CheckpointsSkipped.Value())
}

func TestSchedulerFinalCheckpoint(t *testing.T) {
	target := &fakeTarget{}
	s := New(target, Config{Interval: time.Hour, FinalCheckpoint: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, int32(1), target.calls.Load())
	assert.Equal(t, []bool{false}, target.cancelled, "final checkpoint runs with a live context")
}

func TestSchedulerFinalWaitsForInFlight(t *testing.T) {
	target := &fakeTarget{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := New(target, Config{Interval: 2 * time.Millisecond, FinalCheckpoint: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := runScheduler(ctx, s)

	<-target.entered
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a checkpoint was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(target.release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(2), target.calls.Load())
	assert.Equal(t, int32(1), target.maxActive.Load())
}

func TestSchedulerFailureKeepsRunning(t *testing.T) {
	boom := errors.New("disk full")
	target := &fakeTarget{err: boom}

	var mu sync.Mutex
	var seen []error
	s := New(target, Config{
		Interval: 2 * time.Millisecond,
		OnCheckpoint: func(err error) {
			mu.Lock()
			seen = append(seen, err)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := runScheduler(ctx, s)

	require.Eventually(t, func() bool { return s.Stats().Failures >= 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.ErrorIs(t, s.Stats().LastError, boom)
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.ErrorIs(t, seen[0], boom)
}

func TestSchedulerFinalCheckpointError(t *testing.T) {
	boom := errors.New("read-only filesystem")
	s := New(&fakeTarget{err: boom}, Config{Interval: time.Hour, FinalCheckpoint: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), boom)
}
