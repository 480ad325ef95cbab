// Package session is the Session Registry (§4.6 of the spec): it creates,
// restores, and ends sessions, enforces "at most one Active session per
// process", owns each session's Plan/Phase tree, and runs a per-session
// idle auto-timeout.
//
// The Store interface mirrors the teacher's runtime/agent/session.Store
// idempotent-for-active / terminal-session contract (CreateSession /
// LoadSession / EndSession), extended with the single-active-session
// invariant the teacher's library does not need but this spec requires.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aaronbassett/paige/internal/store/sqlite"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	// StatusActive is the single permitted concurrently-active status.
	StatusActive Status = "active"
	// StatusCompleted marks a session ended normally by the user.
	StatusCompleted Status = "completed"
	// StatusCancelled marks a session ended by the user or auto-timeout.
	StatusCancelled Status = "cancelled"
	// StatusErrored marks a session ended due to an unrecoverable error.
	StatusErrored Status = "errored"
)

// EndReason identifies why a session ended, broadcast on session:end.
type EndReason string

const (
	EndReasonCompleted EndReason = "completed"
	EndReasonCancelled EndReason = "cancelled"
	EndReasonError     EndReason = "error"
)

// Session is the §3 data-model Session.
type Session struct {
	ID          uint64
	ProjectDir  string
	Status      Status
	StartedAt   time.Time
	EndedAt     *time.Time
	IssueNumber *int
	IssueTitle  *string
	BranchName  *string
	StashName   *string
}

// PhaseStatus is one of the three states a Phase may be in.
type PhaseStatus string

const (
	PhaseStatusPending PhaseStatus = "pending"
	PhaseStatusActive  PhaseStatus = "active"
	PhaseStatusComplete PhaseStatus = "complete"
)

// HintSet carries the three scaffolding levels the Coaching Pipeline
// writes for a task, selected by the UI's hint-level control.
type HintSet struct {
	Low    string
	Medium string
	High   string
}

// Step is one concrete task within a Phase, as produced by the Coaching
// Pipeline's Plan stage.
type Step struct {
	Title       string
	Description string
	TargetFiles []string
	Hints       HintSet
}

// Phase is one of the five coarse workflow stages owned by a Plan.
type Phase struct {
	Number      int
	Title       string
	Description string
	Hint        string
	Status      PhaseStatus
	Summary     string
	Steps       []Step
}

// Plan is the ordered set of Phases for a session, produced by the Coaching
// Pipeline's Plan stage.
type Plan struct {
	Title   string
	Summary string
	Phases  []Phase
}

// ErrSessionAlreadyActive is returned by Start when a session is already Active.
var ErrSessionAlreadyActive = errors.New("session: a session is already active")

// ErrNoActiveSession is returned by End/Restore when no session is active.
var ErrNoActiveSession = errors.New("session: no active session")

// Store persists Session rows. Implemented by *sqlite.DB.
type Store interface {
	InsertSession(ctx context.Context, projectDir string, issueNumber *int, issueTitle *string) (Row, error)
	UpdateSessionStatus(ctx context.Context, id uint64, status string) error
	LoadSession(ctx context.Context, id uint64) (Row, error)
	ActiveSession(ctx context.Context) (Row, bool, error)
}

// Row is the persisted shape of a session.
type Row = sqlite.SessionRow

// Broadcaster publishes session lifecycle events to connected UI clients.
// Implemented by *uihub.Hub.
type Broadcaster interface {
	Broadcast(msgType string, payload any)
}

// Teardown is run once per session when it ends, in registration order:
// stopping the Observer, draining coaching pipelines, clearing buffers,
// writing reflection memories. Implemented by internal/lifecycle.Group.
type Teardown func(ctx context.Context, s Session, reason EndReason)

// Registry is the process-wide Session Registry enforcing the
// at-most-one-Active invariant behind a single mutex, per §5.
type Registry struct {
	store   Store
	hub     Broadcaster
	idle    time.Duration
	onEnd   []Teardown

	mu      sync.Mutex
	active  *runtimeSession
}

type runtimeSession struct {
	sess      Session
	plan      *Plan
	idleTimer *time.Timer
	cancel    context.CancelFunc
}

// Option configures a Registry.
type Option func(*Registry)

// WithIdleTimeout overrides the default auto-timeout interval (0 disables it).
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) { r.idle = d }
}

// WithTeardown registers a teardown hook run on every End, in order.
func WithTeardown(fn Teardown) Option {
	return func(r *Registry) { r.onEnd = append(r.onEnd, fn) }
}

// New builds a Registry backed by store, broadcasting lifecycle events on hub.
func New(store Store, hub Broadcaster, opts ...Option) *Registry {
	r := &Registry{store: store, hub: hub, idle: 30 * time.Minute}
	for _, o := range opts {
		o(r)
	}
	return r
}

// StartOptions configures a new session.
type StartOptions struct {
	ProjectDir  string
	IssueNumber *int
	IssueTitle  *string
}

// sessionStartPayload is the session:start broadcast payload.
type sessionStartPayload struct {
	SessionID       uint64 `json:"sessionId"`
	IssueContext    any    `json:"issueContext,omitempty"`
	Phases          []Phase `json:"phases,omitempty"`
	InitialHintLevel int    `json:"initialHintLevel"`
}

// Start creates a new Active session, failing with ErrSessionAlreadyActive
// if one already exists. Broadcasts session:start.
func (r *Registry) Start(ctx context.Context, opts StartOptions) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return Session{}, ErrSessionAlreadyActive
	}
	row, active, err := r.store.ActiveSession(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("session: check active: %w", err)
	}
	if active {
		return Session{}, ErrSessionAlreadyActive
	}

	inserted, err := r.store.InsertSession(ctx, opts.ProjectDir, opts.IssueNumber, opts.IssueTitle)
	if err != nil {
		return Session{}, fmt.Errorf("session: start: %w", err)
	}
	sess := rowToSession(inserted)

	rt := &runtimeSession{sess: sess}
	r.active = rt
	r.armIdleTimer(rt)

	if r.hub != nil {
		r.hub.Broadcast("session:start", sessionStartPayload{
			SessionID:        sess.ID,
			InitialHintLevel: 0,
		})
	}
	return sess, nil
}

// sessionRestorePayload is the session:restore broadcast payload.
type sessionRestorePayload struct {
	SessionID        uint64   `json:"sessionId"`
	OpenTabs         []string `json:"openTabs,omitempty"`
	HintLevel        int      `json:"hintLevel"`
}

// Restore re-activates an existing session after a process restart and
// broadcasts session:restore with the supplied open tabs and hint level.
// Cursor and scroll positions are not part of the payload.
func (r *Registry) Restore(ctx context.Context, sessionID uint64, openTabs []string, hintLevel int) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.store.LoadSession(ctx, sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("session: restore: %w", err)
	}
	sess := rowToSession(row)
	if sess.Status != StatusActive {
		return Session{}, ErrNoActiveSession
	}

	rt := &runtimeSession{sess: sess}
	r.active = rt
	r.armIdleTimer(rt)

	if r.hub != nil {
		r.hub.Broadcast("session:restore", sessionRestorePayload{
			SessionID: sess.ID,
			OpenTabs:  openTabs,
			HintLevel: hintLevel,
		})
	}
	return sess, nil
}

// sessionEndPayload is the session:end broadcast payload.
type sessionEndPayload struct {
	Reason EndReason `json:"reason"`
}

// End terminates the active session with the given reason, running
// registered teardown hooks and broadcasting session:end.
func (r *Registry) End(ctx context.Context, reason EndReason) error {
	r.mu.Lock()
	rt := r.active
	if rt == nil {
		r.mu.Unlock()
		return ErrNoActiveSession
	}
	r.active = nil
	if rt.idleTimer != nil {
		rt.idleTimer.Stop()
	}
	r.mu.Unlock()

	status := reasonToStatus(reason)
	if err := r.store.UpdateSessionStatus(ctx, rt.sess.ID, string(status)); err != nil {
		return fmt.Errorf("session: end: %w", err)
	}
	now := time.Now()
	rt.sess.Status = status
	rt.sess.EndedAt = &now

	for _, fn := range r.onEnd {
		fn(ctx, rt.sess, reason)
	}

	if r.hub != nil {
		r.hub.Broadcast("session:end", sessionEndPayload{Reason: reason})
	}
	return nil
}

// Active returns the currently active session, if any.
func (r *Registry) Active() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return Session{}, false
	}
	return r.active.sess, true
}

// Touch resets the idle auto-timeout, called on every user-initiated action
// per §4.6 ("no user-initiated action" within the interval triggers
// cancellation).
func (r *Registry) Touch(sessionID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil || r.active.sess.ID != sessionID {
		return
	}
	r.armIdleTimer(r.active)
}

// SetPlan attaches a Plan to the active session (set by the Coaching
// Pipeline's Plan stage).
func (r *Registry) SetPlan(sessionID uint64, plan Plan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil && r.active.sess.ID == sessionID {
		r.active.plan = &plan
	}
}

// Plan returns the active session's Plan, if set.
func (r *Registry) Plan(sessionID uint64) (Plan, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil || r.active.sess.ID != sessionID || r.active.plan == nil {
		return Plan{}, false
	}
	return *r.active.plan, true
}

func (r *Registry) armIdleTimer(rt *runtimeSession) {
	if r.idle <= 0 {
		return
	}
	if rt.idleTimer != nil {
		rt.idleTimer.Stop()
	}
	sessID := rt.sess.ID
	rt.idleTimer = time.AfterFunc(r.idle, func() {
		_ = r.End(context.Background(), EndReasonCancelled)
		_ = sessID
	})
}

func reasonToStatus(reason EndReason) Status {
	switch reason {
	case EndReasonCompleted:
		return StatusCompleted
	case EndReasonError:
		return StatusErrored
	default:
		return StatusCancelled
	}
}

func rowToSession(r Row) Session {
	return Session{
		ID:          r.ID,
		ProjectDir:  r.ProjectDir,
		Status:      Status(r.Status),
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		IssueNumber: r.IssueNumber,
		IssueTitle:  r.IssueTitle,
		BranchName:  r.BranchName,
		StashName:   r.StashName,
	}
}
