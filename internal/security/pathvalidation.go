// Package security guards the one filesystem write ProgramStore performs
// off a program-controlled value: the master-image filename derived from a
// program's id and a timestamp.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory rejects filePath unless it resolves to a
// location inside safeDir, blocking a crafted program id (via "..",
// an absolute path, or a symlink-style traversal) from writing a master
// image outside master_images/.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	cleanPath := filepath.Clean(filePath)

	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}

	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("resolve master directory path: %w", err)
	}

	// Resolve symlinks in the part of each path that already exists, so a
	// link inside safeDir that points elsewhere is judged by its target.
	resolve := func(p string) string {
		rest := ""
		for dir := p; ; dir = filepath.Dir(dir) {
			if r, err := filepath.EvalSymlinks(dir); err == nil {
				return filepath.Join(r, rest)
			}
			if filepath.Dir(dir) == dir {
				return p
			}
			rest = filepath.Join(filepath.Base(dir), rest)
		}
	}
	absPath, absSafeDir = resolve(absPath), resolve(absSafeDir)

	relPath, err := filepath.Rel(absSafeDir, absPath)
	if err != nil {
		return fmt.Errorf("path is outside master directory: %w", err)
	}

	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || filepath.IsAbs(relPath) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}

	return nil
}
