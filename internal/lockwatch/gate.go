// Package lockwatch pauses ingestion while the screen is locked.
//
// The Watcher listens for systemd-logind's Lock and Unlock session signals
// on the system bus and flips a Gate, which the ingestion loop consults
// before storing each character. Passwords typed into a lock screen are
// thereby never counted.
package lockwatch

import "sync/atomic"

// Gate is an open/paused switch safe for concurrent use. The zero value is
// open.
type Gate struct {
	paused atomic.Bool
}

// Paused reports whether ingestion is paused.
func (g *Gate) Paused() bool {
	return g.paused.Load()
}

// Set pauses or resumes and reports whether the state changed.
func (g *Gate) Set(paused bool) bool {
	return g.paused.Swap(paused) != paused
}
