//go:build unix

package security

import (
	"golang.org/x/sys/unix"
)

func disableCoreDumps() error {
	return unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0})
}

func coreDumpsEnabled() bool {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_CORE, &rlim); err != nil {
		return true
	}
	return rlim.Cur > 0
}

func setUmask(mask int) {
	unix.Umask(mask)
}
