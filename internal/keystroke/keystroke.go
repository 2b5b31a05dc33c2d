// Package keystroke reads raw key transitions from a keyboard.
//
// On Linux the source is an evdev character device (/dev/input/eventN).
// Events carry the hardware key code and whether the key went down, came
// up or auto-repeated; turning them into characters is the job of
// internal/layout.
//
// Platform support:
// - Linux: /dev/input/event* (requires the input group or root)
// - Others: not available
package keystroke

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrNotAvailable   = errors.New("keystroke: input devices not available on this platform")
	ErrDeviceNotFound = errors.New("keystroke: no matching input device")
)

// Transition is the direction of a key event, with evdev's numbering.
type Transition uint8

const (
	Release Transition = 0
	Press   Transition = 1
	Repeat  Transition = 2
)

// String returns the transition name.
func (t Transition) String() string {
	switch t {
	case Release:
		return "release"
	case Press:
		return "press"
	case Repeat:
		return "repeat"
	default:
		return fmt.Sprintf("transition(%d)", uint8(t))
	}
}

// Event is one key transition.
type Event struct {
	Code       uint16
	Transition Transition
	Time       time.Time
}

// Source yields key events. Next blocks until an event is available, the
// device fails, or ctx is cancelled, in which case it returns ctx.Err().
type Source interface {
	Next(ctx context.Context) (Event, error)
}

// SourceError reports a failure reading from an input device.
type SourceError struct {
	Device string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("input source %s: %v", e.Device, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
