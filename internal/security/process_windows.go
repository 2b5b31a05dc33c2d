//go:build windows

package security

// Windows writes no core files and has no umask.

func disableCoreDumps() error { return nil }

func coreDumpsEnabled() bool { return false }

func setUmask(mask int) {}
