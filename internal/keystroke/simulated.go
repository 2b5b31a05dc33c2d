package keystroke

import (
	"context"
	"sync"
	"time"
)

// SimulatedSource replays a fixed list of events, for tests and dry runs.
// Once the list is exhausted Next returns Err if set, otherwise it blocks
// until ctx is cancelled.
type SimulatedSource struct {
	mu     sync.Mutex
	events []Event
	pos    int

	// Err is returned after the last event
	Err error
}

// NewSimulatedSource creates a source replaying events.
func NewSimulatedSource(events ...Event) *SimulatedSource {
	return &SimulatedSource{events: events}
}

// Tap appends a press and a release of code.
func (s *SimulatedSource) Tap(codes ...uint16) *SimulatedSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range codes {
		s.events = append(s.events,
			Event{Code: c, Transition: Press},
			Event{Code: c, Transition: Release},
		)
	}
	return s
}

// Add appends events.
func (s *SimulatedSource) Add(events ...Event) *SimulatedSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return s
}

// Next returns the next queued event.
func (s *SimulatedSource) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}

	s.mu.Lock()
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		s.mu.Unlock()
		if ev.Time.IsZero() {
			ev.Time = time.Now()
		}
		return ev, nil
	}
	err := s.Err
	s.mu.Unlock()

	if err != nil {
		return Event{}, err
	}
	<-ctx.Done()
	return Event{}, ctx.Err()
}

// Remaining returns the number of events not yet read.
func (s *SimulatedSource) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events) - s.pos
}
