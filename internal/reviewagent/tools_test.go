package reviewagent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProjectFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestReadFileTool_ReadsContent(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, "pkg/a.go", "package pkg")

	tool := readFileTool(dir)
	out, err := tool.Handler(context.Background(), []byte(`{"path":"pkg/a.go"}`))
	require.NoError(t, err)
	assert.Equal(t, "package pkg", out)
}

func TestReadFileTool_RejectsEscapingPath(t *testing.T) {
	dir := t.TempDir()
	tool := readFileTool(dir)
	_, err := tool.Handler(context.Background(), []byte(`{"path":"../outside.go"}`))
	require.ErrorIs(t, err, ErrPathEscapesRoot)
}

func TestListFilesTool_FiltersByPattern(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, "pkg/a.go", "x")
	writeProjectFile(t, dir, "pkg/a_test.go", "x")
	writeProjectFile(t, dir, "README.md", "x")

	tool := listFilesTool(dir)
	out, err := tool.Handler(context.Background(), []byte(`{"pattern":"**/*.go"}`))
	require.NoError(t, err)
	files := out.([]string)
	assert.ElementsMatch(t, []string{"pkg/a.go", "pkg/a_test.go"}, files)
}

func TestListFilesTool_NoPatternListsEverything(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, "a.go", "x")
	writeProjectFile(t, dir, "b.md", "x")

	tool := listFilesTool(dir)
	out, err := tool.Handler(context.Background(), nil)
	require.NoError(t, err)
	files := out.([]string)
	assert.ElementsMatch(t, []string{"a.go", "b.md"}, files)
}
