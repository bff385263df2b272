// Package security confines file paths that arrive through the API or the
// command line to known root directories.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is wrapped by every rejection of a path that resolves
// outside its permitted roots.
var ErrOutsideRoot = errors.New("path is outside the permitted directories")

// canonical returns the absolute, symlink-free form of path. Components
// that do not exist yet are appended to the deepest existing ancestor,
// so a new file below a symlinked directory resolves through the link.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	var missing []string
	for dir := abs; ; {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(append([]string{resolved}, missing...)...), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		missing = append([]string{filepath.Base(dir)}, missing...)
		dir = parent
	}
}

// ValidatePathWithinDirectory rejects path unless it resolves to root or
// somewhere below it. root must exist.
func ValidatePathWithinDirectory(path, root string) error {
	p, err := canonical(path)
	if err != nil {
		return err
	}
	r, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	if r, err = filepath.Abs(r); err != nil {
		return err
	}

	rel, err := filepath.Rel(r, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s escapes %s: %w", path, root, ErrOutsideRoot)
	}
	return nil
}

// ValidatePathWithinAllowedDirs accepts path if it lies within any of roots.
func ValidatePathWithinAllowedDirs(path string, roots []string) error {
	if len(roots) == 0 {
		return errors.New("no allowed directories specified")
	}
	for _, root := range roots {
		if ValidatePathWithinDirectory(path, root) == nil {
			return nil
		}
	}
	return fmt.Errorf("%s must be within one of %v: %w", path, roots, ErrOutsideRoot)
}

// ValidateExportPath accepts report files written below the temp directory
// or the working directory.
func ValidateExportPath(path string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	return ValidatePathWithinAllowedDirs(path, []string{os.TempDir(), cwd})
}

const maxFilenameLen = 128

// SanitizeFilename turns an identifier such as a round ID into a file
// name component. Runs of characters other than ASCII letters, digits,
// '.', '_' and '-' become a single underscore; leading and trailing dots
// and underscores are dropped. Empty results become "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		if safeRune(r) {
			if pending {
				b.WriteByte('_')
				pending = false
			}
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

func safeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-':
		return true
	}
	return false
}
