// Package app is the process composition root: it owns the collaborators
// that must be recreated every time a session starts (Buffer Cache,
// Observer, the lifecycle.Group scoping both) and the process-wide
// collaborators that outlive any one session (Action Log, UI Message Hub,
// Model Client, Session Registry). It implements toolsurface.SessionManager
// and toolsurface.BufferReader so cmd/paige can hand a single value to
// RegisterAll, mirroring the teacher's runtime package acting as the one
// object that wires agent, workflow, and activity registrations together.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/aaronbassett/paige/internal/actionlog"
	"github.com/aaronbassett/paige/internal/buffercache"
	"github.com/aaronbassett/paige/internal/coaching"
	"github.com/aaronbassett/paige/internal/lifecycle"
	"github.com/aaronbassett/paige/internal/memory"
	"github.com/aaronbassett/paige/internal/model"
	"github.com/aaronbassett/paige/internal/observer"
	"github.com/aaronbassett/paige/internal/session"
	"github.com/aaronbassett/paige/internal/store/sqlite"
	"github.com/aaronbassett/paige/internal/uihub"
)

// App wires one process's worth of collaborators together. Construct with
// New, then hand it to toolsurface.RegisterAll and internal/server.
type App struct {
	rootCtx context.Context

	DB    *sqlite.DB
	Log   *actionlog.Log
	Hub   *uihub.Hub
	Store memory.Store // nil when no Memory Store backend is wired

	ModelClient model.Client
	Resolver    model.Resolver

	registry   *session.Registry
	classifier *coaching.Classifier

	mu        sync.Mutex
	cache     *buffercache.Cache
	obs       *observer.Observer
	group     *lifecycle.Group
	hintLevel int
}

// New builds an App. rootCtx scopes the per-session lifecycle.Group
// (Observer + Buffer Cache ticker) so their lifetime tracks the process,
// not whatever short-lived request context triggered Start.
func New(rootCtx context.Context, db *sqlite.DB, logAPI *actionlog.Log, hub *uihub.Hub, store memory.Store, modelClient model.Client, resolver model.Resolver) *App {
	a := &App{
		rootCtx:     rootCtx,
		DB:          db,
		Log:         logAPI,
		Hub:         hub,
		Store:       store,
		ModelClient: modelClient,
		Resolver:    resolver,
	}
	a.classifier = coaching.NewClassifier(modelClient, resolver, db, model.TierHaiku)
	a.registry = session.New(db, hub, session.WithTeardown(a.onSessionEnd))
	return a
}

// Start begins a new session and arms its Buffer Cache/Observer pair.
// Implements toolsurface.SessionManager.
func (a *App) Start(ctx context.Context, opts session.StartOptions) (session.Session, error) {
	sess, err := a.registry.Start(ctx, opts)
	if err != nil {
		return session.Session{}, err
	}
	a.beginSessionRuntime(sess.ID)
	return sess, nil
}

// End ends the active session; per-session teardown runs via the
// registry's Teardown hook. Implements toolsurface.SessionManager.
func (a *App) End(ctx context.Context, reason session.EndReason) error {
	return a.registry.End(ctx, reason)
}

// Active implements toolsurface.SessionManager.
func (a *App) Active() (session.Session, bool) { return a.registry.Active() }

// Plan implements toolsurface.SessionManager.
func (a *App) Plan(sessionID uint64) (session.Plan, bool) { return a.registry.Plan(sessionID) }

// SetPlan attaches a freshly produced Plan to sessionID.
func (a *App) SetPlan(sessionID uint64, plan session.Plan) { a.registry.SetPlan(sessionID, plan) }

// Touch resets the active session's idle auto-timeout.
func (a *App) Touch(sessionID uint64) { a.registry.Touch(sessionID) }

// Get implements toolsurface.BufferReader against the active session's
// cache, reporting untracked when no session is running.
func (a *App) Get(path string) (buffercache.Buffer, bool) {
	cache := a.currentCache()
	if cache == nil {
		return buffercache.Buffer{}, false
	}
	return cache.Get(path)
}

// DirtyPaths implements toolsurface.BufferReader.
func (a *App) DirtyPaths() []string {
	cache := a.currentCache()
	if cache == nil {
		return nil
	}
	return cache.DirtyPaths()
}

// Cache returns the active session's Buffer Cache, or nil if none.
func (a *App) Cache() *buffercache.Cache { return a.currentCache() }

// SessionID returns the active session's ID, or 0 if none is active —
// suitable as toolsurface.SessionIDFunc.
func (a *App) SessionID() uint64 {
	sess, ok := a.Active()
	if !ok {
		return 0
	}
	return sess.ID
}

// HintLevel returns the UI's current scaffolding level (0-3), process-wide
// per §4.9 (the hint level is a UI control, not a per-session value).
func (a *App) HintLevel() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hintLevel
}

// SetHintLevel updates the current scaffolding level.
func (a *App) SetHintLevel(n int) {
	a.mu.Lock()
	a.hintLevel = n
	a.mu.Unlock()
}

func (a *App) currentCache() *buffercache.Cache {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cache
}

func (a *App) beginSessionRuntime(sessionID uint64) {
	cache := buffercache.New(sessionID, a.Log, buffercache.WithSummaryPeriod(30*time.Second))
	obs := observer.New(sessionID, a.classifier, a.Log, a.Log, a.Hub, observer.DefaultConfig())
	group := lifecycle.New(a.rootCtx)
	group.AddObserver(obs, a.Log)
	group.AddBufferCache(cache)

	a.mu.Lock()
	a.cache = cache
	a.obs = obs
	a.group = group
	a.mu.Unlock()
}

// onSessionEnd is the session.Teardown hook: stop the session's background
// goroutines, clear its buffers, and run the Reflect stage against its full
// action history. Reflect runs in the background so End returns promptly
// (§4.7's end_session tool response reports its counts as zero, populated
// asynchronously, per the already-logged design in toolsurface.tools.go).
func (a *App) onSessionEnd(_ context.Context, sess session.Session, _ session.EndReason) {
	a.mu.Lock()
	group := a.group
	cache := a.cache
	a.group = nil
	a.cache = nil
	a.mu.Unlock()

	if group != nil {
		_ = group.Stop()
	}
	if cache != nil {
		cache.ClearAll()
	}

	go a.runReflect(sess)
}

func (a *App) runReflect(sess session.Session) {
	ctx := context.Background()
	actions, err := a.Log.BySession(ctx, sess.ID)
	if err != nil {
		return
	}
	var issueTitle string
	if sess.IssueTitle != nil {
		issueTitle = *sess.IssueTitle
	}
	_, _ = coaching.Reflect(ctx, coaching.ReflectInput{
		Client:     a.ModelClient,
		Resolver:   a.Resolver,
		Logger:     a.DB,
		Store:      a.Store,
		SessionID:  sess.ID,
		Project:    sess.ProjectDir,
		ModelTier:  model.TierHaiku,
		IssueTitle: issueTitle,
		Actions:    actions,
	})
}

// Observer returns the active session's Observer, or nil if none.
func (a *App) Observer() *observer.Observer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.obs
}
