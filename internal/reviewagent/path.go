package reviewagent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscapesRoot is returned by resolvePath for any path that would
// resolve outside projectDir, per §7's filesystem error rules — the same
// rule internal/toolsurface enforces for MCP tool calls, applied here
// independently since the Review Agent's tools run against a bare
// projectDir rather than the Tool Surface's collaborator set.
var ErrPathEscapesRoot = errors.New("reviewagent: path escapes project root")

func resolvePath(p, projectDir string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathEscapesRoot)
	}
	if strings.ContainsRune(p, '\x00') {
		return "", fmt.Errorf("%w: null byte in path", ErrPathEscapesRoot)
	}

	absRoot, err := filepath.Abs(projectDir)
	if err != nil {
		return "", fmt.Errorf("reviewagent: resolve project dir: %w", err)
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

	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			return candidate, nil
		}
		return "", fmt.Errorf("reviewagent: resolve symlinks: %w", err)
	}
	if !isWithin(resolved, absRoot) {
		return "", fmt.Errorf("%w: symlink target %q", ErrPathEscapesRoot, p)
	}
	return resolved, nil
}

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
