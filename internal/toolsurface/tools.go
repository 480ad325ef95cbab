package toolsurface

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aaronbassett/paige/internal/buffercache"
	"github.com/aaronbassett/paige/internal/session"
)

// ErrFileNotFound names the missing-file error of §7's filesystem error
// rules. None of the tools registered by RegisterAll returns it: get_buffer
// reports an untracked path as a null result and get_diff skips it.
var ErrFileNotFound = fmt.Errorf("toolsurface: file not found")

// SessionManager is the narrow surface of *session.Registry the Tool
// Surface needs to implement the two lifecycle tools.
type SessionManager interface {
	Start(ctx context.Context, opts session.StartOptions) (session.Session, error)
	End(ctx context.Context, reason session.EndReason) error
	Active() (session.Session, bool)
	Plan(sessionID uint64) (session.Plan, bool)
}

// BufferReader is the narrow surface of *buffercache.Cache the Tool
// Surface's read tools need.
type BufferReader interface {
	Get(path string) (buffercache.Buffer, bool)
	DirtyPaths() []string
}

// UIBroadcaster is the narrow surface of *uihub.Hub the UI-control tools
// need to announce their effect.
type UIBroadcaster interface {
	Broadcast(msgType string, payload any)
}

// Deps bundles the collaborators RegisterAll wires the 14 tools to.
type Deps struct {
	Sessions SessionManager
	Buffers  BufferReader
	Hub      UIBroadcaster
}

// RegisterAll registers the full fixed set of 14 paige_* tools against r,
// per §4.7. It returns the first registration error encountered, which can
// only happen if a name collides or a spec is malformed (a programmer
// error, since every spec below is static).
func RegisterAll(r *Registry, deps Deps) error {
	tools := []struct {
		spec    Spec
		handler Handler
	}{
		{startSessionSpec(), startSessionHandler(deps)},
		{endSessionSpec(), endSessionHandler(deps)},
		{getBufferSpec(), getBufferHandler(deps)},
		{getOpenFilesSpec(), getOpenFilesHandler(deps)},
		{getDiffSpec(), getDiffHandler(deps)},
		{getSessionStateSpec(), getSessionStateHandler(deps)},
		{openFileSpec(), uiControlHandler(deps, "file:open", []string{"path"})},
		{highlightLinesSpec(), uiControlHandler(deps, "editor:highlight", []string{"path", "ranges"})},
		{clearHighlightsSpec(), uiControlHandler(deps, "editor:clearHighlights", []string{"path"})},
		{hintFilesSpec(), uiControlHandler(deps, "editor:hintFiles", []string{"paths", "style"})},
		{clearHintsSpec(), uiControlHandler(deps, "editor:clearHints", nil)},
		{updatePhaseSpec(), uiControlHandler(deps, "dashboard:updatePhase", []string{"phase", "status"})},
		{showMessageSpec(), uiControlHandler(deps, "coaching:message", []string{"message", "type"})},
		{showIssueContextSpec(), uiControlHandler(deps, "dashboard:issueContext", nil)},
	}
	for _, t := range tools {
		if err := r.Register(t.spec, t.handler); err != nil {
			return err
		}
	}
	return nil
}

// --- Lifecycle (2) ---

func startSessionSpec() Spec {
	return Spec{
		Name:        Namespace + "start_session",
		Description: "Start a new coaching session rooted at project_dir, optionally linked to an issue.",
		Properties: map[string]Property{
			"project_dir":  {Type: "string", Description: "Absolute path to the project root."},
			"issue_number": {Type: "integer", Description: "Optional issue/ticket number this session addresses."},
			"issue_title":  {Type: "string", Description: "Optional human-readable issue title."},
		},
		Required: []string{"project_dir"},
	}
}

func startSessionHandler(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		projectDir, _ := args["project_dir"].(string)
		opts := session.StartOptions{ProjectDir: projectDir}
		if n, ok := intArg(args["issue_number"]); ok {
			opts.IssueNumber = &n
		}
		if t, ok := args["issue_title"].(string); ok && t != "" {
			opts.IssueTitle = &t
		}
		sess, err := deps.Sessions.Start(ctx, opts)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"session_id":  sess.ID,
			"project_dir": sess.ProjectDir,
			"status":      string(sess.Status),
		}, nil
	}
}

func endSessionSpec() Spec {
	return Spec{
		Name:        Namespace + "end_session",
		Description: "End the currently active coaching session, persisting reflection memories and dashboard gaps.",
		Properties:  map[string]Property{},
		Required:    []string{},
	}
}

func endSessionHandler(deps Deps) Handler {
	return func(ctx context.Context, _ map[string]any) (any, error) {
		sess, ok := deps.Sessions.Active()
		if !ok {
			return nil, session.ErrNoActiveSession
		}
		if err := deps.Sessions.End(ctx, session.EndReasonCompleted); err != nil {
			return nil, err
		}
		// Reflect-stage counts (memories_added, gaps_identified, etc.) are
		// populated by the Coaching Pipeline's Reflect stage asynchronously;
		// the tool response reports zero counts for a synchronous teardown.
		return map[string]any{
			"success":              true,
			"session_id":           sess.ID,
			"memories_added":       0,
			"gaps_identified":      0,
			"katas_generated":      0,
			"assessments_updated":  0,
		}, nil
	}
}

// --- Read (4) ---

func getBufferSpec() Spec {
	return Spec{
		Name:        Namespace + "get_buffer",
		Description: "Return the current in-memory buffer contents for path, or null if untracked.",
		Properties: map[string]Property{
			"path": {Type: "string", Description: "Workspace-relative file path."},
		},
		Required: []string{"path"},
	}
}

func getBufferHandler(deps Deps) Handler {
	return func(_ context.Context, args map[string]any) (any, error) {
		path, _ := args["path"].(string)
		buf, ok := deps.Buffers.Get(path)
		if !ok {
			return nil, nil
		}
		return map[string]any{"content": buf.Content, "dirty": buf.Dirty}, nil
	}
}

func getOpenFilesSpec() Spec {
	return Spec{
		Name:        Namespace + "get_open_files",
		Description: "List every workspace-relative path currently tracked with unsaved buffer changes.",
		Properties: map[string]Property{
			"patterns": {Type: "array", Description: "Optional doublestar glob patterns; when present, only matching paths are returned.", Items: &Property{Type: "string"}},
		},
		Required: []string{},
	}
}

func getOpenFilesHandler(deps Deps) Handler {
	return func(_ context.Context, args map[string]any) (any, error) {
		files := deps.Buffers.DirtyPaths()
		patterns := stringSliceArg(args["patterns"])
		if len(patterns) == 0 {
			return map[string]any{"files": files}, nil
		}
		filtered := make([]string, 0, len(files))
		for _, f := range files {
			if matchGlobs(patterns, f) {
				filtered = append(filtered, f)
			}
		}
		return map[string]any{"files": filtered}, nil
	}
}

func stringSliceArg(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func getDiffSpec() Spec {
	return Spec{
		Name:        Namespace + "get_diff",
		Description: "Return a unified diff between a file's on-disk contents and its in-memory buffer.",
		Properties: map[string]Property{
			"path": {Type: "string", Description: "Workspace-relative file path; omitted means every dirty buffer."},
		},
		Required: []string{},
	}
}

func getDiffHandler(deps Deps) Handler {
	return func(_ context.Context, args map[string]any) (any, error) {
		path, _ := args["path"].(string)
		paths := []string{path}
		if path == "" {
			paths = deps.Buffers.DirtyPaths()
		}

		var out string
		for _, p := range paths {
			buf, ok := deps.Buffers.Get(p)
			if !ok {
				continue
			}
			onDisk, err := os.ReadFile(p)
			if err != nil && !os.IsNotExist(err) {
				return nil, err
			}
			out += unifiedDiff(p, string(onDisk), buf.Content)
		}
		return map[string]any{"diff": out}, nil
	}
}

func getSessionStateSpec() Spec {
	return Spec{
		Name:        Namespace + "get_session_state",
		Description: "Return the active session's status and, optionally, its current plan.",
		Properties: map[string]Property{
			"include": {Type: "array", Description: "Optional sub-resources to include (currently: \"plan\").", Items: &Property{Type: "string"}},
		},
		Required: []string{},
	}
}

func getSessionStateHandler(deps Deps) Handler {
	return func(_ context.Context, args map[string]any) (any, error) {
		sess, ok := deps.Sessions.Active()
		if !ok {
			return nil, session.ErrNoActiveSession
		}
		result := map[string]any{
			"session_id": sess.ID,
			"status":     string(sess.Status),
			"started_at": sess.StartedAt,
		}
		if wantsPlan(args["include"]) {
			if plan, ok := deps.Sessions.Plan(sess.ID); ok {
				result["plan"] = plan
			}
		}
		return result, nil
	}
}

func wantsPlan(v any) bool {
	items, ok := v.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if s, ok := item.(string); ok && s == "plan" {
			return true
		}
	}
	return false
}

// --- UI control (8) ---

func openFileSpec() Spec {
	return Spec{
		Name:        Namespace + "open_file",
		Description: "Ask the UI to open path in the editor.",
		Properties:  map[string]Property{"path": {Type: "string", Description: "Workspace-relative file path."}},
		Required:    []string{"path"},
	}
}

func highlightLinesSpec() Spec {
	return Spec{
		Name:        Namespace + "highlight_lines",
		Description: "Ask the UI to highlight one or more line ranges in path.",
		Properties: map[string]Property{
			"path":   {Type: "string", Description: "Workspace-relative file path."},
			"ranges": {Type: "array", Description: "Line ranges to highlight, each {start, end, style}.", Items: &Property{Type: "object"}},
		},
		Required: []string{"path", "ranges"},
	}
}

func clearHighlightsSpec() Spec {
	return Spec{
		Name:        Namespace + "clear_highlights",
		Description: "Ask the UI to clear highlights, optionally scoped to one path.",
		Properties:  map[string]Property{"path": {Type: "string", Description: "Optional workspace-relative file path; omitted clears every file."}},
		Required:    []string{},
	}
}

func hintFilesSpec() Spec {
	return Spec{
		Name:        Namespace + "hint_files",
		Description: "Ask the UI to visually hint one or more files at the given style.",
		Properties: map[string]Property{
			"paths": {Type: "array", Description: "Workspace-relative file paths to hint.", Items: &Property{Type: "string"}},
			"style": {Type: "string", Description: "One of subtle, obvious, unmissable."},
		},
		Required: []string{"paths", "style"},
	}
}

func clearHintsSpec() Spec {
	return Spec{
		Name:        Namespace + "clear_hints",
		Description: "Ask the UI to clear every active file hint.",
		Properties:  map[string]Property{},
		Required:    []string{},
	}
}

func updatePhaseSpec() Spec {
	return Spec{
		Name:        Namespace + "update_phase",
		Description: "Ask the UI to update a plan phase's displayed status.",
		Properties: map[string]Property{
			"phase":  {Type: "integer", Description: "The phase number to update."},
			"status": {Type: "string", Description: "One of pending, active, complete."},
		},
		Required: []string{"phase", "status"},
	}
}

func showMessageSpec() Spec {
	return Spec{
		Name:        Namespace + "show_message",
		Description: "Ask the UI to display a coaching message of the given type.",
		Properties: map[string]Property{
			"message": {Type: "string", Description: "The message body."},
			"type":    {Type: "string", Description: "One of hint, info, success, warning."},
		},
		Required: []string{"message", "type"},
	}
}

func showIssueContextSpec() Spec {
	return Spec{
		Name:        Namespace + "show_issue_context",
		Description: "Ask the UI to display the linked issue's title and summary.",
		Properties: map[string]Property{
			"title":   {Type: "string", Description: "Issue title."},
			"summary": {Type: "string", Description: "Issue summary."},
		},
		Required: []string{"title", "summary"},
	}
}

// uiControlHandler builds the common shape shared by every UI-control
// tool: broadcast msgType with a payload built from the requested keys of
// args, always returning {success: true}, per §4.7.
func uiControlHandler(deps Deps, msgType string, keys []string) Handler {
	return func(_ context.Context, args map[string]any) (any, error) {
		payload := make(map[string]any, len(keys))
		if keys == nil {
			payload = args
		} else {
			for _, k := range keys {
				if v, ok := args[k]; ok {
					payload[k] = v
				}
			}
		}
		if deps.Hub != nil {
			deps.Hub.Broadcast(msgType, payload)
		}
		return map[string]any{"success": true}, nil
	}
}

func intArg(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// matchGlobs reports whether path matches any of the given doublestar
// patterns, used by get_open_files' optional pattern filter.
func matchGlobs(patterns []string, path string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, filepath.ToSlash(path)); err == nil && ok {
			return true
		}
	}
	return false
}
