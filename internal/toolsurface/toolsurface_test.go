package toolsurface

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronbassett/paige/internal/actionlog"
	"github.com/aaronbassett/paige/internal/buffercache"
	"github.com/aaronbassett/paige/internal/session"
)

type recordingLogger struct {
	calls []actionlog.Action
}

func (r *recordingLogger) LogAction(_ context.Context, sessionID uint64, actionType string, data json.RawMessage) (actionlog.Action, error) {
	a := actionlog.Action{SessionID: sessionID, Type: actionType, Data: data}
	r.calls = append(r.calls, a)
	return a, nil
}

func TestRegister_RejectsForbiddenVerb(t *testing.T) {
	r := New(&recordingLogger{}, func() uint64 { return 1 })
	err := r.Register(Spec{Name: "paige_delete_file", Description: "x"}, func(context.Context, map[string]any) (any, error) { return nil, nil })
	require.ErrorIs(t, err, ErrReadOnlyViolation)
}

func TestRegister_RejectsEmptyDescription(t *testing.T) {
	r := New(&recordingLogger{}, func() uint64 { return 1 })
	err := r.Register(Spec{Name: "paige_get_thing"}, func(context.Context, map[string]any) (any, error) { return nil, nil })
	require.Error(t, err)
}

func TestRegister_RejectsDuplicateName(t *testing.T) {
	r := New(&recordingLogger{}, func() uint64 { return 1 })
	spec := Spec{Name: "paige_get_thing", Description: "x"}
	handler := func(context.Context, map[string]any) (any, error) { return nil, nil }
	require.NoError(t, r.Register(spec, handler))
	require.Error(t, r.Register(spec, handler))
}

func TestDispatch_UnknownTool(t *testing.T) {
	r := New(&recordingLogger{}, func() uint64 { return 1 })
	_, err := r.Dispatch(context.Background(), "paige_nonexistent", nil)
	require.ErrorIs(t, err, ErrUnknownTool)
}

func TestDispatch_LogsEveryCall(t *testing.T) {
	logger := &recordingLogger{}
	r := New(logger, func() uint64 { return 42 })
	require.NoError(t, r.Register(Spec{Name: "paige_get_thing", Description: "x"}, func(context.Context, map[string]any) (any, error) {
		return map[string]any{"ok": true}, nil
	}))

	_, err := r.Dispatch(context.Background(), "paige_get_thing", map[string]any{"a": 1})
	require.NoError(t, err)

	require.Len(t, logger.calls, 1)
	assert.Equal(t, "mcp_tool_call", logger.calls[0].Type)
	assert.Equal(t, uint64(42), logger.calls[0].SessionID)
}

// --- The 14-tool property (§8's testable property) ---

var wantToolNames = []string{
	"paige_start_session",
	"paige_end_session",
	"paige_get_buffer",
	"paige_get_open_files",
	"paige_get_diff",
	"paige_get_session_state",
	"paige_open_file",
	"paige_highlight_lines",
	"paige_clear_highlights",
	"paige_hint_files",
	"paige_clear_hints",
	"paige_update_phase",
	"paige_show_message",
	"paige_show_issue_context",
}

func buildRegistry(t *testing.T, deps Deps) *Registry {
	t.Helper()
	r := New(&recordingLogger{}, func() uint64 { return 1 })
	require.NoError(t, RegisterAll(r, deps))
	return r
}

func TestRegisterAll_ExactlyTheFourteenNames(t *testing.T) {
	r := buildRegistry(t, Deps{})
	assert.ElementsMatch(t, wantToolNames, r.Names())
}

func TestRegisterAll_NoNameMatchesForbiddenVerb(t *testing.T) {
	r := buildRegistry(t, Deps{})
	re := regexp.MustCompile(`(?i)write|edit|create|delete|remove|modify`)
	for _, name := range r.Names() {
		assert.False(t, re.MatchString(name), "tool name %q matches a forbidden mutating verb", name)
	}
}

func TestRegisterAll_EveryDescriptionNonEmpty(t *testing.T) {
	r := buildRegistry(t, Deps{})
	for _, name := range r.Names() {
		spec, ok := r.Spec(name)
		require.True(t, ok)
		assert.NotEmpty(t, spec.Description, "tool %q has empty description", name)
	}
}

// --- fakes for the collaborator-facing tools ---

type fakeSessions struct {
	active  session.Session
	hasOne  bool
	started session.StartOptions
	ended   bool
	plan    session.Plan
	hasPlan bool
}

func (f *fakeSessions) Start(_ context.Context, opts session.StartOptions) (session.Session, error) {
	if f.hasOne {
		return session.Session{}, session.ErrSessionAlreadyActive
	}
	f.started = opts
	f.active = session.Session{ID: 7, ProjectDir: opts.ProjectDir, Status: session.StatusActive}
	f.hasOne = true
	return f.active, nil
}

func (f *fakeSessions) End(_ context.Context, _ session.EndReason) error {
	if !f.hasOne {
		return session.ErrNoActiveSession
	}
	f.ended = true
	f.hasOne = false
	return nil
}

func (f *fakeSessions) Active() (session.Session, bool) { return f.active, f.hasOne }

func (f *fakeSessions) Plan(_ uint64) (session.Plan, bool) { return f.plan, f.hasPlan }

type fakeHub struct {
	broadcasts []struct {
		msgType string
		payload any
	}
}

func (f *fakeHub) Broadcast(msgType string, payload any) {
	f.broadcasts = append(f.broadcasts, struct {
		msgType string
		payload any
	}{msgType, payload})
}

func TestStartSession_Success(t *testing.T) {
	sessions := &fakeSessions{}
	r := buildRegistry(t, Deps{Sessions: sessions, Buffers: buffercache.New(0, nil), Hub: &fakeHub{}})

	result, err := r.Dispatch(context.Background(), "paige_start_session", map[string]any{"project_dir": "/tmp/proj"})
	require.NoError(t, err)
	m := result.(map[string]any)
	assert.Equal(t, uint64(7), m["session_id"])
	assert.Equal(t, "active", m["status"])
}

func TestStartSession_AlreadyActive(t *testing.T) {
	sessions := &fakeSessions{hasOne: true}
	r := buildRegistry(t, Deps{Sessions: sessions, Buffers: buffercache.New(0, nil), Hub: &fakeHub{}})

	_, err := r.Dispatch(context.Background(), "paige_start_session", map[string]any{"project_dir": "/tmp/proj"})
	require.ErrorIs(t, err, session.ErrSessionAlreadyActive)
}

func TestEndSession_NoneActive(t *testing.T) {
	sessions := &fakeSessions{}
	r := buildRegistry(t, Deps{Sessions: sessions, Buffers: buffercache.New(0, nil), Hub: &fakeHub{}})

	_, err := r.Dispatch(context.Background(), "paige_end_session", nil)
	require.ErrorIs(t, err, session.ErrNoActiveSession)
}

func TestGetBuffer_Untracked(t *testing.T) {
	cache := buffercache.New(0, nil)
	r := buildRegistry(t, Deps{Sessions: &fakeSessions{}, Buffers: cache, Hub: &fakeHub{}})

	result, err := r.Dispatch(context.Background(), "paige_get_buffer", map[string]any{"path": "a.go"})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestGetBuffer_Tracked(t *testing.T) {
	cache := buffercache.New(0, nil)
	cache.Update(context.Background(), "a.go", "package a", 0)
	r := buildRegistry(t, Deps{Sessions: &fakeSessions{}, Buffers: cache, Hub: &fakeHub{}})

	result, err := r.Dispatch(context.Background(), "paige_get_buffer", map[string]any{"path": "a.go"})
	require.NoError(t, err)
	m := result.(map[string]any)
	assert.Equal(t, "package a", m["content"])
	assert.Equal(t, true, m["dirty"])
}

func TestGetOpenFiles_FiltersByPattern(t *testing.T) {
	cache := buffercache.New(0, nil)
	cache.Update(context.Background(), "pkg/a.go", "x", 0)
	cache.Update(context.Background(), "pkg/a_test.go", "x", 0)
	cache.Update(context.Background(), "README.md", "x", 0)
	r := buildRegistry(t, Deps{Sessions: &fakeSessions{}, Buffers: cache, Hub: &fakeHub{}})

	result, err := r.Dispatch(context.Background(), "paige_get_open_files", map[string]any{
		"patterns": []any{"**/*.go"},
	})
	require.NoError(t, err)
	files := result.(map[string]any)["files"].([]string)
	assert.ElementsMatch(t, []string{"pkg/a.go", "pkg/a_test.go"}, files)
}

func TestUIControlTool_BroadcastsAndReturnsSuccess(t *testing.T) {
	hub := &fakeHub{}
	r := buildRegistry(t, Deps{Sessions: &fakeSessions{}, Buffers: buffercache.New(0, nil), Hub: hub})

	result, err := r.Dispatch(context.Background(), "paige_show_message", map[string]any{
		"message": "nice work", "type": "success",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"success": true}, result)

	require.Len(t, hub.broadcasts, 1)
	assert.Equal(t, "coaching:message", hub.broadcasts[0].msgType)
}

func TestGetSessionState_IncludesPlanWhenRequested(t *testing.T) {
	plan := session.Plan{Title: "Fix the bug"}
	sessions := &fakeSessions{active: session.Session{ID: 9, Status: session.StatusActive}, hasOne: true, plan: plan, hasPlan: true}
	r := buildRegistry(t, Deps{Sessions: sessions, Buffers: buffercache.New(0, nil), Hub: &fakeHub{}})

	result, err := r.Dispatch(context.Background(), "paige_get_session_state", map[string]any{
		"include": []any{"plan"},
	})
	require.NoError(t, err)
	m := result.(map[string]any)
	assert.Equal(t, plan, m["plan"])
}

func TestGetDiff_UnifiedDiffBetweenBufferAndOnDisk(t *testing.T) {
	cache := buffercache.New(0, nil)
	cache.Update(context.Background(), "nonexistent-on-disk.go", "package main\n\nfunc main() {}\n", 0)
	r := buildRegistry(t, Deps{Sessions: &fakeSessions{}, Buffers: cache, Hub: &fakeHub{}})

	result, err := r.Dispatch(context.Background(), "paige_get_diff", map[string]any{"path": "nonexistent-on-disk.go"})
	require.NoError(t, err)
	diff := result.(map[string]any)["diff"].(string)
	assert.Contains(t, diff, "+package main")
}
