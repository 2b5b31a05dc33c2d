// Package ingest connects an input source to the gram store: it reads key
// transitions, drops auto-repeats, decodes the rest into characters and
// feeds every typed character to the store in arrival order.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jullanggit/keylogger/internal/keystroke"
	"github.com/jullanggit/keylogger/internal/metrics"
)

// Decoder turns key transitions into characters. It sees every press and
// release so it can track modifiers.
type Decoder interface {
	Translate(code uint16, t keystroke.Transition) (rune, bool)
}

// Sink receives decoded characters.
type Sink interface {
	Ingest(r rune) error
}

// Gate reports whether typed characters should currently be dropped.
type Gate interface {
	Paused() bool
}

// Loop is the ingestion loop. Source, Decoder and Sink are required.
type Loop struct {
	Source  keystroke.Source
	Decoder Decoder
	Sink    Sink

	// Gate, when set, suppresses ingestion while paused
	Gate Gate

	Logger  *slog.Logger
	Metrics *metrics.KeyloggerMetrics
}

// Run processes events until ctx is cancelled, the source fails or the sink
// fails. Cancellation returns nil; a source failure is returned as a
// *keystroke.SourceError; a sink failure is returned wrapped.
func (l *Loop) Run(ctx context.Context) error {
	if l.Source == nil || l.Decoder == nil || l.Sink == nil {
		return errors.New("ingest: source, decoder and sink are required")
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ingest")

	logger.Debug("ingestion started")
	wasPaused := false

	for {
		ev, err := l.Source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("ingestion stopped")
				return nil
			}
			var srcErr *keystroke.SourceError
			if errors.As(err, &srcErr) {
				return err
			}
			return &keystroke.SourceError{Device: "unknown", Err: err}
		}

		if ev.Transition == keystroke.Repeat {
			l.Metrics.RecordRepeat()
			continue
		}

		r, ok := l.Decoder.Translate(ev.Code, ev.Transition)
		if !ok || ev.Transition != keystroke.Press {
			continue
		}

		paused := l.Gate != nil && l.Gate.Paused()
		if paused != wasPaused {
			logger.Info("ingestion gate changed", "paused", paused)
			wasPaused = paused
		}
		if paused {
			l.Metrics.RecordSuppressed()
			continue
		}

		if err := l.Sink.Ingest(r); err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
	}
}
