package reviewagent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath_RejectsEscape(t *testing.T) {
	dir := t.TempDir()
	_, err := resolvePath("../../etc/passwd", dir)
	require.ErrorIs(t, err, ErrPathEscapesRoot)
}

func TestResolvePath_RejectsAbsoluteOutsideRoot(t *testing.T) {
	dir := t.TempDir()
	_, err := resolvePath("/etc/passwd", dir)
	require.ErrorIs(t, err, ErrPathEscapesRoot)
}

func TestResolvePath_AllowsRelativeInsideRoot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a"), 0o644))

	resolved, err := resolvePath("a.go", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.go"), resolved)
}

func TestResolvePath_RejectsEmptyAndNullByte(t *testing.T) {
	dir := t.TempDir()
	_, err := resolvePath("", dir)
	require.ErrorIs(t, err, ErrPathEscapesRoot)

	_, err = resolvePath("a\x00b", dir)
	require.ErrorIs(t, err, ErrPathEscapesRoot)
}
