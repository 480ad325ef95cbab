package server

import (
	"context"
	"encoding/json"

	"goa.design/clue/log"

	"github.com/aaronbassett/paige/internal/app"
	"github.com/aaronbassett/paige/internal/coaching"
	"github.com/aaronbassett/paige/internal/memory"
	"github.com/aaronbassett/paige/internal/model"
	"github.com/aaronbassett/paige/internal/reviewagent"
	"github.com/aaronbassett/paige/internal/session"
	"github.com/aaronbassett/paige/internal/uihub"
)

// actionOnly is the subset of the 26 client→server message types (beyond
// connection:ready, handled by the handshake) this process does not drive
// further logic for — their originating feature (GitHub integration,
// terminal emulator, dashboard companion views) is an external collaborator
// per §1's Non-goals list. Every one of them still earns an Action Log
// entry, since the Action Log's whole purpose is capturing typed events for
// analytics regardless of which component acts on them.
var actionOnly = map[string]string{
	"dashboard:stats_period": "dashboard_stats_period",
	"dashboard:resume_task":  "dashboard_resume_task",
	"dashboard:start_issue":  "dashboard_start_issue",
	"editor:cursor":          "editor_cursor",
	"editor:scroll":          "editor_scroll",
	"editor:selection":       "editor_selection",
	"terminal:ready":         "terminal_ready",
	"terminal:input":         "terminal_input",
	"terminal:resize":        "terminal_resize",
	"coaching:dismiss":       "coaching_dismiss",
	"coaching:feedback":      "coaching_feedback",
	"user:idle_start":        "user_idle_start",
	"user:idle_end":          "user_idle_end",
	"user:navigation":        "user_navigation",
	"phase:expand_step":      "phase_expand_step",
	"repos:list":             "repos_list",
	"repos:activity":         "repos_activity",
	"session:start_repo":     "session_start_repo",
	"session:select_issue":   "session_select_issue",
}

// RegisterHandlers wires every client→server message type to its handler.
func RegisterHandlers(hub *uihub.Hub, a *app.App) {
	for msgType, actionType := range actionOnly {
		actionType := actionType
		hub.On(msgType, logOnlyHandler(a, actionType))
	}

	hub.On("file:open", fileOpenHandler(a))
	hub.On("file:close", logOnlyHandler(a, "file_close"))
	hub.On("file:save", fileSaveHandler(a))
	hub.On("buffer:update", bufferUpdateHandler(a))
	hub.On("hints:level_change", hintsLevelChangeHandler(a))
	hub.On("user:explain", userExplainHandler(a))
	hub.On("user:review", userReviewHandler(a))
}

func logOnlyHandler(a *app.App, actionType string) uihub.Handler {
	return func(ctx context.Context, _ uihub.ClientID, msg uihub.Envelope) error {
		return logAction(ctx, a, actionType, msg.Payload)
	}
}

func logAction(ctx context.Context, a *app.App, actionType string, data json.RawMessage) error {
	sessionID := a.SessionID()
	if sessionID == 0 {
		return nil
	}
	_, err := a.Log.LogAction(ctx, sessionID, actionType, data)
	return err
}

func fileOpenHandler(a *app.App) uihub.Handler {
	return func(ctx context.Context, _ uihub.ClientID, msg uihub.Envelope) error {
		sessionID := a.SessionID()
		if sessionID == 0 {
			return nil
		}
		a.Touch(sessionID)
		return logAction(ctx, a, "file_open", msg.Payload)
	}
}

type bufferSavePayload struct {
	Path string `json:"path"`
}

func fileSaveHandler(a *app.App) uihub.Handler {
	return func(ctx context.Context, _ uihub.ClientID, msg uihub.Envelope) error {
		var p bufferSavePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		if cache := a.Cache(); cache != nil && p.Path != "" {
			cache.MarkSaved(p.Path)
		}
		sessionID := a.SessionID()
		if sessionID == 0 {
			return nil
		}
		a.Touch(sessionID)
		return logAction(ctx, a, "file_save", msg.Payload)
	}
}

type bufferUpdatePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Cursor  int    `json:"cursor"`
}

func bufferUpdateHandler(a *app.App) uihub.Handler {
	return func(ctx context.Context, _ uihub.ClientID, msg uihub.Envelope) error {
		var p bufferUpdatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		if sessionID := a.SessionID(); sessionID != 0 {
			a.Touch(sessionID)
		}
		cache := a.Cache()
		if cache == nil {
			return nil
		}
		cache.Update(ctx, p.Path, p.Content, p.Cursor)
		return nil
	}
}

type hintsLevelChangePayload struct {
	Level int `json:"level"`
}

func hintsLevelChangeHandler(a *app.App) uihub.Handler {
	return func(ctx context.Context, _ uihub.ClientID, msg uihub.Envelope) error {
		var p hintsLevelChangePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		a.SetHintLevel(p.Level)
		return logAction(ctx, a, "hints_level_change", msg.Payload)
	}
}

type userExplainPayload struct {
	Path  string          `json:"path"`
	Range *coaching.Range `json:"range,omitempty"`
}

// userExplainHandler runs the Coach stage against the current plan phase,
// anchored at the path/range the UI sent, per §4.9 step 2.
func userExplainHandler(a *app.App) uihub.Handler {
	return func(ctx context.Context, _ uihub.ClientID, msg uihub.Envelope) error {
		sess, ok := a.Active()
		if !ok {
			return session.ErrNoActiveSession
		}
		a.Touch(sess.ID)
		if err := logAction(ctx, a, "user_explain_request", msg.Payload); err != nil {
			return err
		}

		var p userExplainPayload
		_ = json.Unmarshal(msg.Payload, &p)

		plan, _ := a.Plan(sess.ID)
		_, err := coaching.Coach(ctx, coaching.CoachInput{
			Client:      a.ModelClient,
			Resolver:    a.Resolver,
			Logger:      a.DB,
			Hub:         a.Hub,
			SessionID:   sess.ID,
			ModelTier:   model.TierSonnet,
			Plan:        plan,
			PhaseNumber: activePhaseNumber(plan),
			HintLevel:   a.HintLevel(),
			Memories:    queryMemories(ctx, a, sess, p.Path),
			Path:        p.Path,
			Range:       p.Range,
		})
		return err
	}
}

type userReviewPayload struct {
	Scope       string `json:"scope"`
	ScopeDetail string `json:"scopeDetail"`
	TaskContext string `json:"taskContext"`
}

// userReviewHandler runs the Review Agent over the requested scope, per
// §4.10.
func userReviewHandler(a *app.App) uihub.Handler {
	return func(ctx context.Context, _ uihub.ClientID, msg uihub.Envelope) error {
		sess, ok := a.Active()
		if !ok {
			return session.ErrNoActiveSession
		}
		if err := logAction(ctx, a, "user_review_request", msg.Payload); err != nil {
			return err
		}

		var p userReviewPayload
		_ = json.Unmarshal(msg.Payload, &p)
		scope := reviewagent.Scope(p.Scope)
		if scope == "" {
			scope = reviewagent.ScopeCurrentFile
		}

		_, err := coaching.Review(ctx, coaching.ReviewInput{
			Client:      a.ModelClient,
			Resolver:    a.Resolver,
			Logger:      a.DB,
			Hub:         a.Hub,
			SessionID:   sess.ID,
			ModelTier:   model.TierSonnet,
			ProjectDir:  sess.ProjectDir,
			Scope:       scope,
			ScopeDetail: p.ScopeDetail,
			TaskContext: p.TaskContext,
		})
		return err
	}
}

func activePhaseNumber(plan session.Plan) int {
	for _, phase := range plan.Phases {
		if phase.Status == session.PhaseStatusActive {
			return phase.Number
		}
	}
	if len(plan.Phases) > 0 {
		return plan.Phases[0].Number
	}
	return 0
}

func queryMemories(ctx context.Context, a *app.App, sess session.Session, queryText string) []memory.Result {
	if a.Store == nil {
		return nil
	}
	results, err := a.Store.Query(ctx, memory.QueryOptions{QueryText: queryText, Project: sess.ProjectDir})
	if err != nil {
		log.Printf(ctx, "server: memory query: %v", err)
		return nil
	}
	return results
}
