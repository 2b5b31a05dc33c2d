// Package security provides crash-safe file replacement and data directory
// locking for the keylogger state files.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// File permission constants
const (
	// PermSecretFile is used for gram tables: they contain typing statistics
	PermSecretFile os.FileMode = 0600

	// PermSecretDir is the permission for the data directory
	PermSecretDir os.FileMode = 0700
)

// File operation errors
var (
	ErrAtomicWriteFailed = errors.New("security: atomic write failed")
	ErrTempFileFailed    = errors.New("security: temporary file creation failed")
	ErrLocked            = errors.New("security: data directory is locked by another process")
)

// SecureFileWriter writes a file through a temporary sibling that is renamed
// over the destination on Commit. Readers see either the old or the new
// contents, never a mix.
type SecureFileWriter struct {
	path     string
	perm     os.FileMode
	tempFile *os.File
	tempPath string
}

// NewSecureFileWriter creates the temporary file next to path.
func NewSecureFileWriter(path string, perm os.FileMode) (*SecureFileWriter, error) {
	validator := DefaultPathValidator()
	cleanPath, err := validator.ValidatePath(path)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(cleanPath)
	if err := os.MkdirAll(dir, PermSecretDir); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	// Same directory, so the rename cannot cross filesystems
	tempPath := cleanPath + ".tmp." + randomSuffix()
	tempFile, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTempFileFailed, err)
	}

	return &SecureFileWriter{
		path:     cleanPath,
		perm:     perm,
		tempFile: tempFile,
		tempPath: tempPath,
	}, nil
}

// Write writes data to the temporary file.
func (w *SecureFileWriter) Write(p []byte) (n int, err error) {
	return w.tempFile.Write(p)
}

// Path returns the destination path.
func (w *SecureFileWriter) Path() string {
	return w.path
}

// Commit syncs the temporary file and renames it over the destination.
func (w *SecureFileWriter) Commit() error {
	if err := w.tempFile.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("sync: %w", err)
	}

	if err := w.tempFile.Close(); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("close: %w", err)
	}

	if err := os.Rename(w.tempPath, w.path); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("%w: %v", ErrAtomicWriteFailed, err)
	}

	// The rename is only durable once the directory entry is
	return syncDir(filepath.Dir(w.path))
}

// Abort cancels the write and removes the temporary file.
func (w *SecureFileWriter) Abort() {
	w.tempFile.Close()
	os.Remove(w.tempPath)
}

// randomSuffix generates a random suffix for temporary files.
func randomSuffix() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// WriteSecureFile writes data to a file atomically with the given permissions.
func WriteSecureFile(path string, data []byte, perm os.FileMode) error {
	writer, err := NewSecureFileWriter(path, perm)
	if err != nil {
		return err
	}

	if _, err := writer.Write(data); err != nil {
		writer.Abort()
		return err
	}

	return writer.Commit()
}

// EnsureSecureDir ensures a directory exists and is private to the owner.
func EnsureSecureDir(path string) error {
	validator := DefaultPathValidator()
	validator.AllowSymlinks = true
	cleanPath, err := validator.ValidatePath(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(cleanPath, PermSecretDir)
		}
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, cleanPath)
	}

	if runtime.GOOS != "windows" {
		mode := info.Mode().Perm()
		if mode&0077 != 0 {
			if err := os.Chmod(cleanPath, PermSecretDir); err != nil {
				return fmt.Errorf("fix directory permissions: %w", err)
			}
		}
	}

	return nil
}

// DirLock is an exclusive advisory lock on a directory, held through a
// lock file inside it.
type DirLock struct {
	file *os.File
}

// LockDir takes the lock on dir, failing with ErrLocked if another process
// holds it.
func LockDir(dir string) (*DirLock, error) {
	path := filepath.Join(dir, ".lock")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, PermSecretFile)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := tryLockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrLocked, dir, err)
	}

	return &DirLock{file: f}, nil
}

// Unlock releases the lock. It is safe to call more than once.
func (l *DirLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unlockFile(l.file)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
