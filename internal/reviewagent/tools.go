package reviewagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aaronbassett/paige/internal/model"
)

// maxReadBytes caps read_file's output so a single tool call can't blow the
// model's context window on a huge generated file.
const maxReadBytes = 64 * 1024

type readFileArgs struct {
	Path string `json:"path"`
}

// readFileTool reads a file's contents relative to projectDir.
func readFileTool(projectDir string) Tool {
	return Tool{
		Definition: toolDef("read_file", "Read the contents of a file in the project.", map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []string{"path"},
		}),
		Handler: func(_ context.Context, input []byte) (any, error) {
			var args readFileArgs
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, fmt.Errorf("read_file: decode args: %w", err)
			}
			resolved, err := resolvePath(args.Path, projectDir)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return nil, fmt.Errorf("read_file: %w", err)
			}
			if len(data) > maxReadBytes {
				data = data[:maxReadBytes]
			}
			return string(data), nil
		},
	}
}

type listFilesArgs struct {
	Pattern string `json:"pattern"`
}

// listFilesTool lists files under projectDir matching an optional glob
// pattern, defaulting to every file.
func listFilesTool(projectDir string) Tool {
	return Tool{
		Definition: toolDef("list_files", "List project files, optionally filtered by a glob pattern (e.g. \"**/*.go\").", map[string]any{
			"type":       "object",
			"properties": map[string]any{"pattern": map[string]any{"type": "string"}},
		}),
		Handler: func(_ context.Context, input []byte) (any, error) {
			var args listFilesArgs
			if len(input) > 0 {
				if err := json.Unmarshal(input, &args); err != nil {
					return nil, fmt.Errorf("list_files: decode args: %w", err)
				}
			}
			var matches []string
			err := filepath.WalkDir(projectDir, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					if d.Name() == ".git" {
						return filepath.SkipDir
					}
					return nil
				}
				rel, err := filepath.Rel(projectDir, path)
				if err != nil {
					return nil
				}
				rel = filepath.ToSlash(rel)
				if args.Pattern == "" {
					matches = append(matches, rel)
					return nil
				}
				ok, err := doublestar.Match(args.Pattern, rel)
				if err == nil && ok {
					matches = append(matches, rel)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("list_files: %w", err)
			}
			return matches, nil
		},
	}
}

type gitDiffArgs struct {
	Path string `json:"path"`
}

// gitDiffTool shells out to the system git binary for a working-tree diff
// scoped to path, the one piece of this package that is not pure Go: no
// git-porcelain library exists anywhere in the retrieved pack, and
// reimplementing git's diff algorithm from scratch would diverge from what
// the developer actually sees in their working tree.
func gitDiffTool(projectDir string) Tool {
	return Tool{
		Definition: toolDef("git_diff", "Show the working-tree git diff for a file or the whole project.", map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
		}),
		Handler: func(ctx context.Context, input []byte) (any, error) {
			var args gitDiffArgs
			if len(input) > 0 {
				if err := json.Unmarshal(input, &args); err != nil {
					return nil, fmt.Errorf("git_diff: decode args: %w", err)
				}
			}
			gitArgs := []string{"diff", "--no-color"}
			if args.Path != "" {
				resolved, err := resolvePath(args.Path, projectDir)
				if err != nil {
					return nil, err
				}
				gitArgs = append(gitArgs, "--", resolved)
			}
			cmd := exec.CommandContext(ctx, "git", gitArgs...)
			cmd.Dir = projectDir
			out, err := cmd.Output()
			if err != nil {
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) {
					return nil, fmt.Errorf("git_diff: %s", strings.TrimSpace(string(exitErr.Stderr)))
				}
				return nil, fmt.Errorf("git_diff: %w", err)
			}
			return string(out), nil
		},
	}
}

func toolDef(name, description string, schema map[string]any) *model.ToolDefinition {
	return &model.ToolDefinition{Name: name, Description: description, InputSchema: schema}
}

// ReviewTools returns the fixed read-only tool set for the Review Agent:
// read_file, git_diff, list_files, per §4.10.
func ReviewTools(projectDir string) []Tool {
	return []Tool{readFileTool(projectDir), listFilesTool(projectDir), gitDiffTool(projectDir)}
}

// ExploreTools returns the read-only subset reused by the Coaching
// Pipeline's Plan stage to survey the workspace before producing a plan:
// list_files and read_file, without git_diff (Plan runs before any code
// review context is relevant).
func ExploreTools(projectDir string) []Tool {
	return []Tool{listFilesTool(projectDir), readFileTool(projectDir)}
}
