package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Validation errors
var (
	ErrPathTraversal = errors.New("security: path traversal detected")
	ErrInvalidPath   = errors.New("security: invalid path")
	ErrPathTooLong   = errors.New("security: path exceeds maximum length")
	ErrNullByte      = errors.New("security: null byte in path")
)

// PathValidator checks paths before state files are written under them.
type PathValidator struct {
	// AllowSymlinks controls whether symbolic links are resolved
	AllowSymlinks bool

	// MaxPathLength is the maximum allowed path length
	MaxPathLength int
}

// DefaultPathValidator returns a PathValidator with sensible defaults.
func DefaultPathValidator() *PathValidator {
	return &PathValidator{
		AllowSymlinks: false,
		MaxPathLength: 4096,
	}
}

// ValidatePath checks if a path is safe to use.
// It returns the cleaned, absolute path if valid.
func (v *PathValidator) ValidatePath(path string) (string, error) {
	if path == "" {
		return "", ErrInvalidPath
	}

	if strings.Contains(path, "\x00") {
		return "", ErrNullByte
	}

	if v.MaxPathLength > 0 && len(path) > v.MaxPathLength {
		return "", fmt.Errorf("%w: length %d exceeds maximum %d", ErrPathTooLong, len(path), v.MaxPathLength)
	}

	if containsTraversal(path) {
		return "", ErrPathTraversal
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	if v.AllowSymlinks {
		return absPath, nil
	}

	realPath, err := filepath.EvalSymlinks(absPath)
	if err == nil {
		return realPath, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("%w: symlink evaluation failed: %v", ErrInvalidPath, err)
	}

	// Path might not exist yet; resolve the parent instead
	parentDir := filepath.Dir(absPath)
	realParent, err := filepath.EvalSymlinks(parentDir)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("%w: parent symlink evaluation failed: %v", ErrInvalidPath, err)
	}
	if realParent != "" && realParent != parentDir {
		absPath = filepath.Join(realParent, filepath.Base(absPath))
	}
	return absPath, nil
}

// containsTraversal checks for ".." components.
func containsTraversal(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return true
		}
	}
	return strings.Contains(path, "..\\") || strings.Contains(path, "\\..")
}
