package toolsurface

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscapesRoot is returned by validatePath for any input that would
// resolve outside root, per §7's filesystem error rules.
var ErrPathEscapesRoot = errors.New("toolsurface: path escapes project root")

// validatePath resolves p (which may be relative or absolute) against
// root and returns the absolute, symlink-resolved path, or
// ErrPathEscapesRoot if the result would lexically fall outside root.
//
// Rules, per §7: reject ".." segments that resolve outside root; reject
// absolute paths outside root; resolve symlinks before the containment
// check; reject null bytes and the empty string.
func validatePath(p, root string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathEscapesRoot)
	}
	if strings.ContainsRune(p, '\x00') {
		return "", fmt.Errorf("%w: null byte in path", ErrPathEscapesRoot)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("toolsurface: resolve root: %w", err)
	}

	var candidate string
	if filepath.IsAbs(p) {
		candidate = filepath.Clean(p)
	} else {
		candidate = filepath.Clean(filepath.Join(absRoot, p))
	}

	if !isWithin(candidate, absRoot) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesRoot, p)
	}

	resolved, err := resolveSymlinks(candidate)
	if err != nil {
		return "", fmt.Errorf("toolsurface: resolve symlinks: %w", err)
	}
	if !isWithin(resolved, absRoot) {
		return "", fmt.Errorf("%w: symlink target %q", ErrPathEscapesRoot, p)
	}

	return resolved, nil
}

// resolveSymlinks resolves symlinks along candidate, walking up to the
// deepest existing ancestor (candidate itself may not exist yet, e.g. a
// buffer that was never saved to disk) and re-joining the non-existent
// suffix unresolved.
func resolveSymlinks(candidate string) (string, error) {
	path := candidate
	var suffix []string
	for {
		resolved, err := filepath.EvalSymlinks(path)
		if err == nil {
			return filepath.Join(append([]string{resolved}, suffix...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(path)
		if parent == path {
			// Reached filesystem root without finding an existing ancestor.
			return candidate, nil
		}
		suffix = append([]string{filepath.Base(path)}, suffix...)
		path = parent
	}
}

// isWithin reports whether candidate is root itself or lexically nested
// under it.
func isWithin(candidate, root string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}
