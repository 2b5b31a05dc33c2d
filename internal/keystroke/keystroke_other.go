//go:build !linux

package keystroke

import (
	"context"
	"log/slog"
)

// EvdevSource is not available on this platform.
type EvdevSource struct{}

// OpenEvdev returns ErrNotAvailable.
func OpenEvdev(ctx context.Context, path string) (*EvdevSource, error) {
	return nil, ErrNotAvailable
}

// Name returns an empty string.
func (s *EvdevSource) Name() string { return "" }

// Path returns an empty string.
func (s *EvdevSource) Path() string { return "" }

// Next returns ErrNotAvailable.
func (s *EvdevSource) Next(ctx context.Context) (Event, error) {
	return Event{}, ErrNotAvailable
}

// Close is a no-op.
func (s *EvdevSource) Close() error { return nil }

// ListDevices returns ErrNotAvailable.
func ListDevices() ([]Device, error) {
	return nil, ErrNotAvailable
}

// FindDevice returns ErrNotAvailable.
func FindDevice(ctx context.Context, sel Selector, wait bool, logger *slog.Logger) (Device, error) {
	return Device{}, ErrNotAvailable
}
