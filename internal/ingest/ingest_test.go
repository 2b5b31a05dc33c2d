package ingest

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jullanggit/keylogger/internal/keystroke"
	"github.com/jullanggit/keylogger/internal/layout"
	"github.com/jullanggit/keylogger/internal/metrics"
	"github.com/jullanggit/keylogger/internal/ngram"
	"github.com/jullanggit/keylogger/internal/store"
)

// fakeDecoder maps codes 1..26 to a..z and records every call.
type fakeDecoder struct {
	calls []keystroke.Event
}

func (d *fakeDecoder) Translate(code uint16, t keystroke.Transition) (rune, bool) {
	d.calls = append(d.calls, keystroke.Event{Code: code, Transition: t})
	if code < 1 || code > 26 {
		return 0, false
	}
	return 'a' + rune(code-1), true
}

type sliceSink struct {
	runes []rune
	err   error
}

func (s *sliceSink) Ingest(r rune) error {
	if s.err != nil {
		return s.err
	}
	s.runes = append(s.runes, r)
	return nil
}

type gate struct {
	paused atomic.Bool
}

func (g *gate) Paused() bool { return g.paused.Load() }

var errDrained = errors.New("source drained")

// run runs the loop over src until the source runs out of events.
func run(t *testing.T, l *Loop, src *keystroke.SimulatedSource) error {
	t.Helper()
	src.Err = errDrained
	l.Source = src
	err := l.Run(context.Background())
	if errors.Is(err, errDrained) {
		return nil
	}
	return err
}

func TestLoopIngestsPresses(t *testing.T) {
	sink := &sliceSink{}
	l := &Loop{Decoder: &fakeDecoder{}, Sink: sink}

	err := run(t, l, keystroke.NewSimulatedSource().Tap(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(sink.runes))
}

func TestLoopDiscardsRepeats(t *testing.T) {
	dec := &fakeDecoder{}
	sink := &sliceSink{}
	m := metrics.New(nil)
	l := &Loop{Decoder: dec, Sink: sink, Metrics: m}

	src := keystroke.NewSimulatedSource(
		keystroke.Event{Code: 1, Transition: keystroke.Press},
		keystroke.Event{Code: 1, Transition: keystroke.Repeat},
		keystroke.Event{Code: 1, Transition: keystroke.Repeat},
		keystroke.Event{Code: 1, Transition: keystroke.Release},
	)
	require.NoError(t, run(t, l, src))

	assert.Equal(t, "a", string(sink.runes))
	assert.Equal(t, uint64(2), m.RepeatsDiscarded.Value())
	require.Len(t, dec.calls, 2, "repeats never reach the decoder")
	assert.Equal(t, keystroke.Press, dec.calls[0].Transition)
	assert.Equal(t, keystroke.Release, dec.calls[1].Transition)
}

func TestLoopIgnoresUndecodedKeys(t *testing.T) {
	sink := &sliceSink{}
	l := &Loop{Decoder: &fakeDecoder{}, Sink: sink}

	require.NoError(t, run(t, l, keystroke.NewSimulatedSource().Tap(42, 1, 100)))
	assert.Equal(t, "a", string(sink.runes))
}

func TestLoopGate(t *testing.T) {
	g := &gate{}
	g.paused.Store(true)
	sink := &sliceSink{}
	m := metrics.New(nil)
	dec := &fakeDecoder{}
	l := &Loop{Decoder: dec, Sink: sink, Gate: g, Metrics: m}

	require.NoError(t, run(t, l, keystroke.NewSimulatedSource().Tap(1, 2)))
	assert.Empty(t, sink.runes)
	assert.Equal(t, uint64(2), m.CharsSuppressed.Value())
	assert.Len(t, dec.calls, 4, "the decoder sees events while paused")

	g.paused.Store(false)
	require.NoError(t, run(t, l, keystroke.NewSimulatedSource().Tap(3)))
	assert.Equal(t, "c", string(sink.runes))
}

func TestLoopSourceError(t *testing.T) {
	srcErr := &keystroke.SourceError{Device: "/dev/input/event3", Err: io.ErrUnexpectedEOF}
	src := keystroke.NewSimulatedSource().Tap(1)
	src.Err = srcErr
	sink := &sliceSink{}

	l := &Loop{Source: src, Decoder: &fakeDecoder{}, Sink: sink}
	err := l.Run(context.Background())

	var got *keystroke.SourceError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, "/dev/input/event3", got.Device)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "a", string(sink.runes), "events before the failure are ingested")
}

func TestLoopWrapsPlainSourceError(t *testing.T) {
	src := keystroke.NewSimulatedSource()
	src.Err = io.EOF

	l := &Loop{Source: src, Decoder: &fakeDecoder{}, Sink: &sliceSink{}}
	err := l.Run(context.Background())

	var got *keystroke.SourceError
	assert.ErrorAs(t, err, &got)
	assert.ErrorIs(t, err, io.EOF)
}

func TestLoopSinkErrorIsFatal(t *testing.T) {
	src := keystroke.NewSimulatedSource().Tap(1, 2)
	sink := &sliceSink{err: ngram.ErrCountOverflow}

	l := &Loop{Source: src, Decoder: &fakeDecoder{}, Sink: sink}
	err := l.Run(context.Background())

	assert.ErrorIs(t, err, ngram.ErrCountOverflow)
	assert.Equal(t, 3, src.Remaining(), "loop stops at the first failing character")
}

func TestLoopRequiresCollaborators(t *testing.T) {
	l := &Loop{Decoder: &fakeDecoder{}}
	assert.Error(t, l.Run(context.Background()))
}

func TestLoopCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := &Loop{Source: keystroke.NewSimulatedSource().Tap(1), Decoder: &fakeDecoder{}, Sink: &sliceSink{}}
	err := l.Run(ctx)
	assert.NoError(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}

func TestLoopIntoStore(t *testing.T) {
	s, err := store.Load(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	km, err := layout.Builtin("us", "")
	require.NoError(t, err)

	const (
		keyA     = 30
		keyB     = 48
		keyShift = 42
	)
	src := keystroke.NewSimulatedSource(
		keystroke.Event{Code: keyA, Transition: keystroke.Press},
		keystroke.Event{Code: keyA, Transition: keystroke.Repeat},
		keystroke.Event{Code: keyA, Transition: keystroke.Repeat},
		keystroke.Event{Code: keyA, Transition: keystroke.Release},
		keystroke.Event{Code: keyShift, Transition: keystroke.Press},
	).Tap(keyB).Add(
		keystroke.Event{Code: keyShift, Transition: keystroke.Release},
	).Tap(keyA)

	l := &Loop{Decoder: layout.NewDecoder(km), Sink: s}
	require.NoError(t, run(t, l, src))

	snap := s.Snapshot()
	assert.Equal(t, map[string]uint64{"a": 2, "B": 1}, snap.Order(1))
	assert.Equal(t, map[string]uint64{"aB": 1, "Ba": 1}, snap.Order(2))
	assert.Equal(t, map[string]uint64{"aBa": 1}, snap.Order(3))
}
