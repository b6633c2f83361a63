package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TempSuffix marks the sibling files written while a tracked file is being
// ciphered. Such files are never accepted for tracking.
const TempSuffix = ".proxvault-tmp"

var (
	ErrEmptyPath     = errors.New("empty path not allowed")
	ErrNotAbsolute   = errors.New("stored path is not absolute and clean")
	ErrNotRegular    = errors.New("not a regular file")
	ErrSymlink       = errors.New("symbolic links cannot be tracked")
	ErrProtectedPath = errors.New("path is used by proxvault itself")
)

// PathValidator decides which files may be placed under vault protection.
// Tracked paths are stored absolute and lexically clean.
type PathValidator struct {
	protected []string
}

// New creates a validator that refuses the given paths (typically the
// record store and its compaction sibling).
func New(protected ...string) (*PathValidator, error) {
	pv := &PathValidator{}
	for _, p := range protected {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
		pv.protected = append(pv.protected, filepath.Clean(abs))
	}
	return pv, nil
}

// ValidateAndNormalize validates a user-provided path and returns the
// absolute, cleaned form suitable for storage. It rejects:
// - Empty paths
// - Paths that do not exist
// - Directories, devices and other non-regular files
// - Symbolic links
// - The store's own files and cipher temp files
func (pv *PathValidator) ValidateAndNormalize(userPath string) (string, error) {
	if strings.TrimSpace(userPath) == "" {
		return "", ErrEmptyPath
	}

	absPath, err := filepath.Abs(userPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	absPath = filepath.Clean(absPath)

	if err := pv.checkProtected(absPath); err != nil {
		return "", err
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		return "", fmt.Errorf("cannot access %s: %w", absPath, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("%w: %s", ErrSymlink, absPath)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotRegular, absPath)
	}

	return absPath, nil
}

// ValidateExistingPath validates a path that was previously stored in the
// record. It does not touch the filesystem, so a vanished file still passes;
// a stored path that is relative or unclean means the record was tampered with.
func (pv *PathValidator) ValidateExistingPath(storedPath string) (string, error) {
	if storedPath == "" {
		return "", ErrEmptyPath
	}
	if !filepath.IsAbs(storedPath) || filepath.Clean(storedPath) != storedPath {
		return "", fmt.Errorf("%w: %s", ErrNotAbsolute, storedPath)
	}
	if err := pv.checkProtected(storedPath); err != nil {
		return "", err
	}
	return storedPath, nil
}

func (pv *PathValidator) checkProtected(absPath string) error {
	if strings.HasSuffix(absPath, TempSuffix) {
		return fmt.Errorf("%w: %s", ErrProtectedPath, absPath)
	}
	for _, p := range pv.protected {
		if absPath == p || strings.HasPrefix(absPath, p+".") {
			return fmt.Errorf("%w: %s", ErrProtectedPath, absPath)
		}
	}
	return nil
}
