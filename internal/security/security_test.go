package security

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// =============================================================================
// Validation Tests
// =============================================================================

func TestPathValidator(t *testing.T) {
	v := DefaultPathValidator()

	tests := []struct {
		path    string
		wantErr bool
	}{
		{"/tmp/1-grams.txt", false},
		{"../../../etc/passwd", true},      // Path traversal
		{"/tmp/../../../etc/passwd", true}, // Path traversal
		{"/tmp/test\x00.txt", true},        // Null byte
		{"", true},                         // Empty
	}

	for _, tt := range tests {
		_, err := v.ValidatePath(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
	}
}

func TestPathValidatorTooLong(t *testing.T) {
	v := &PathValidator{MaxPathLength: 16}
	_, err := v.ValidatePath("/tmp/this/path/is/too/long")
	if !errors.Is(err, ErrPathTooLong) {
		t.Errorf("error = %v, want %v", err, ErrPathTooLong)
	}
}

// =============================================================================
// File Tests
// =============================================================================

func TestWriteSecureFile(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "1-grams.txt")
	data := []byte("3 a\n1 b\n")

	if err := WriteSecureFile(path, data, PermSecretFile); err != nil {
		t.Fatalf("WriteSecureFile failed: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("file contents mismatch: got %q, want %q", got, data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != PermSecretFile {
		t.Errorf("file permissions = %04o, want %04o", info.Mode().Perm(), PermSecretFile)
	}
}

func TestAtomicWrite(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "2-grams.txt")

	if err := WriteSecureFile(path, []byte("initial"), PermSecretFile); err != nil {
		t.Fatalf("WriteSecureFile failed: %v", err)
	}
	if err := WriteSecureFile(path, []byte("updated"), PermSecretFile); err != nil {
		t.Fatalf("WriteSecureFile update failed: %v", err)
	}

	got, _ := os.ReadFile(path)
	if string(got) != "updated" {
		t.Errorf("contents = %q, want %q", got, "updated")
	}

	matches, _ := filepath.Glob(path + ".tmp.*")
	if len(matches) > 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestAbortKeepsPreviousContents(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "3-grams.txt")

	if err := WriteSecureFile(path, []byte("old"), PermSecretFile); err != nil {
		t.Fatalf("WriteSecureFile failed: %v", err)
	}

	w, err := NewSecureFileWriter(path, PermSecretFile)
	if err != nil {
		t.Fatalf("NewSecureFileWriter failed: %v", err)
	}
	if _, err := w.Write([]byte("half-written")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	w.Abort()

	got, _ := os.ReadFile(path)
	if string(got) != "old" {
		t.Errorf("contents = %q, want %q", got, "old")
	}
	matches, _ := filepath.Glob(path + ".tmp.*")
	if len(matches) > 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestEnsureSecureDir(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "secure", "nested")

	if err := EnsureSecureDir(path); err != nil {
		t.Fatalf("EnsureSecureDir failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory, got file")
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != PermSecretDir {
		t.Errorf("directory permissions = %04o, want %04o", info.Mode().Perm(), PermSecretDir)
	}
}

func TestEnsureSecureDirRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if err := EnsureSecureDir(path); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("error = %v, want %v", err, ErrInvalidPath)
	}
}

// =============================================================================
// Lock Tests
// =============================================================================

func TestLockDirExclusive(t *testing.T) {
	dir := t.TempDir()

	first, err := LockDir(dir)
	if err != nil {
		t.Fatalf("LockDir failed: %v", err)
	}

	if _, err := LockDir(dir); !errors.Is(err, ErrLocked) {
		t.Errorf("second LockDir error = %v, want %v", err, ErrLocked)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if err := first.Unlock(); err != nil {
		t.Errorf("second Unlock = %v, want nil", err)
	}

	again, err := LockDir(dir)
	if err != nil {
		t.Fatalf("LockDir after unlock failed: %v", err)
	}
	again.Unlock()
}

// =============================================================================
// Process Tests
// =============================================================================

func TestDisableCoreDumps(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no core files on windows")
	}

	if err := DisableCoreDumps(); err != nil {
		t.Fatalf("DisableCoreDumps failed: %v", err)
	}
	if CoreDumpsEnabled() {
		t.Error("core dumps still enabled")
	}
}
