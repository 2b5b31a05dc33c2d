//go:build windows

package security

import (
	"os"
	"syscall"
)

const (
	lockfileExclusiveLock   = 0x2
	lockfileFailImmediately = 0x1
)

// tryLockFile takes an exclusive lock on the first byte using LockFileEx.
func tryLockFile(f *os.File) error {
	var overlapped syscall.Overlapped
	return syscall.LockFileEx(
		syscall.Handle(f.Fd()),
		lockfileExclusiveLock|lockfileFailImmediately,
		0, // reserved
		1, // lock 1 byte
		0, // high-order 32 bits of byte range
		&overlapped,
	)
}

// unlockFile releases the lock on a file.
func unlockFile(f *os.File) error {
	var overlapped syscall.Overlapped
	return syscall.UnlockFileEx(syscall.Handle(f.Fd()), 0, 1, 0, &overlapped)
}

// syncDir is a no-op: NTFS renames are journaled and directories cannot be
// opened for sync.
func syncDir(string) error {
	return nil
}
