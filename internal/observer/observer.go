// Package observer implements the Observer (§4.8 of the spec): one actor
// per active session that watches the Action Log's bus, decides when a
// coaching nudge is warranted, and suppresses it when the developer is
// muted, in flow state, or the classifier isn't confident enough.
//
// Grounded on the teacher's design note (§9 of spec.md) prescribing a
// single-owner actor per session instead of ad-hoc locks: one goroutine
// reads from a command channel and the Action Log's event channel and is
// the sole mutator of every piece of per-session state (counters, ring
// buffer, lastNudgeAt, in-flight-triage flag), mirroring the shape of
// goadesign-goa-ai's runtime/agent/runtime per-run state machine loop.
package observer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aaronbassett/paige/internal/actionlog"
	"github.com/aaronbassett/paige/internal/telemetry"
)

// Status is the Observer's coarse state, per §4.8's
// Inactive → Active → (Muted ⇄ Active) → Stopped machine.
type Status string

const (
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
	StatusMuted    Status = "muted"
	StatusStopped  Status = "stopped"
)

// Config holds the tunable trigger/suppression thresholds, per §4.8.
type Config struct {
	Cooldown                 time.Duration
	ConfidenceThreshold      float64
	FlowStateThreshold       int
	FlowStateWindow          time.Duration
	BufferUpdateTriggerCount int
	ExplainRequestTriggerCount int
}

// DefaultConfig returns the §4.8-specified default thresholds.
func DefaultConfig() Config {
	return Config{
		Cooldown:                   120 * time.Second,
		ConfidenceThreshold:        0.7,
		FlowStateThreshold:         10,
		FlowStateWindow:            60 * time.Second,
		BufferUpdateTriggerCount:   5,
		ExplainRequestTriggerCount: 3,
	}
}

// TriageResult is the classifier's decision for one triage run.
type TriageResult struct {
	ShouldNudge bool    `json:"should_nudge"`
	Confidence  float64 `json:"confidence"`
	Signal      string  `json:"signal"`
	Reasoning   string  `json:"reasoning"`
}

// Classifier runs the triage classification for a session given the
// action that triggered it and recent session history. Implemented by
// internal/coaching using model.Call against a TriageResult schema.
type Classifier interface {
	Classify(ctx context.Context, sessionID uint64, trigger actionlog.Action, recent []actionlog.Action) (TriageResult, error)
}

// Subscriber is the narrow bus surface the Observer needs. Implemented by
// *actionlog.Log.
type Subscriber interface {
	Subscribe() (<-chan actionlog.Action, func())
}

// HistoryReader answers the "recent actions" query fed to the classifier.
// Implemented by *actionlog.Log.
type HistoryReader interface {
	Recent(ctx context.Context, sessionID uint64, limit int) ([]actionlog.Action, error)
}

// ActionLogger records nudge_suppressed/observer_triage/nudge_sent
// actions. Implemented by *actionlog.Log.
type ActionLogger interface {
	LogAction(ctx context.Context, sessionID uint64, actionType string, data json.RawMessage) (actionlog.Action, error)
}

// Broadcaster delivers the coaching nudge to connected UI clients.
// Implemented by *uihub.Hub.
type Broadcaster interface {
	Broadcast(msgType string, payload any)
}

// userInitiated is the set of action types that count toward flow-state
// and reset the idle clock, per §4.8's trigger table and §5's "user-
// initiated action" idle-timeout language. Everything else (system-class
// actions such as mcp_tool_call or buffer_summary) does not.
var userInitiated = map[string]struct{}{
	"file_open":               {},
	"file_save":               {},
	"phase_completed":         {},
	"user_explain_request":    {},
	"buffer_significant_change": {},
}

// Observer is the per-session actor. Construct with New, then Start.
type Observer struct {
	sessionID  uint64
	cfg        Config
	classifier Classifier
	history    HistoryReader
	logger     ActionLogger
	hub        Broadcaster

	cmd  chan command
	done chan struct{}
}

type command struct {
	kind   string // "mute", "stop", "status"
	muted  bool
	status chan statusReply
}

type statusReply struct {
	status Status
	muted  bool
}

// New builds an Observer for sessionID, not yet started.
func New(sessionID uint64, classifier Classifier, history HistoryReader, logger ActionLogger, hub Broadcaster, cfg Config) *Observer {
	return &Observer{
		sessionID:  sessionID,
		cfg:        cfg,
		classifier: classifier,
		history:    history,
		logger:     logger,
		hub:        hub,
		cmd:        make(chan command),
		done:       make(chan struct{}),
	}
}

// Start subscribes to bus and runs the actor loop until ctx is canceled or
// Stop is called. Start returns once the subscription is established; the
// loop itself runs in a background goroutine.
func (o *Observer) Start(ctx context.Context, bus Subscriber) {
	actions, unsubscribe := bus.Subscribe()
	go o.run(ctx, actions, unsubscribe)
}

// SetMuted toggles Muted/Active and broadcasts the resulting status.
func (o *Observer) SetMuted(muted bool) {
	reply := make(chan statusReply, 1)
	select {
	case o.cmd <- command{kind: "mute", muted: muted, status: reply}:
		<-reply
	case <-o.done:
	}
}

// Status returns the Observer's current status and muted flag.
func (o *Observer) Status() (Status, bool) {
	reply := make(chan statusReply, 1)
	select {
	case o.cmd <- command{kind: "status", status: reply}:
		r := <-reply
		return r.status, r.muted
	case <-o.done:
		return StatusStopped, false
	}
}

// Stop unsubscribes and transitions to Stopped. A subsequent action event
// on the bus must not trigger triage; the actor loop exits after Stop
// returns.
func (o *Observer) Stop() {
	select {
	case o.cmd <- command{kind: "stop"}:
		<-o.done
	case <-o.done:
	}
}

// state is the actor's exclusively-owned mutable state, touched only from
// inside run's goroutine.
type state struct {
	status             Status
	bufferUpdateCount  int
	explainRequestCount int
	lastNudgeAt        time.Time
	ring               []time.Time
	triageInFlight     bool
}

type triageOutcome struct {
	trigger actionlog.Action
	result  TriageResult
	err     error
}

func (o *Observer) run(ctx context.Context, actions <-chan actionlog.Action, unsubscribe func()) {
	defer close(o.done)
	defer unsubscribe()

	st := &state{status: StatusActive}
	triageDone := make(chan triageOutcome, 1)

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-o.cmd:
			switch c.kind {
			case "mute":
				if c.muted {
					st.status = StatusMuted
				} else {
					st.status = StatusActive
				}
				if o.hub != nil {
					o.hub.Broadcast("observer:status", map[string]any{"active": st.status != StatusStopped, "muted": st.status == StatusMuted})
				}
				c.status <- statusReply{status: st.status, muted: st.status == StatusMuted}
			case "stop":
				st.status = StatusStopped
				return
			case "status":
				c.status <- statusReply{status: st.status, muted: st.status == StatusMuted}
			}

		case a, ok := <-actions:
			if !ok {
				return
			}
			if a.SessionID != o.sessionID {
				continue
			}
			o.handleAction(ctx, st, a, triageDone)

		case out := <-triageDone:
			st.triageInFlight = false
			o.resolveTriage(ctx, st, out)
		}
	}
}

// handleAction applies §4.8's trigger table and pre-triage suppression
// order (steps 1-3) to one action, starting an async triage call (step 4)
// when warranted.
func (o *Observer) handleAction(ctx context.Context, st *state, a actionlog.Action, triageDone chan<- triageOutcome) {
	_, isUserInitiated := userInitiated[a.Type]
	if isUserInitiated {
		st.ring = append(st.ring, a.CreatedAt)
	}

	fires := o.triggers(st, a)

	// Flow-state ring buffer maintenance happens regardless of whether this
	// action fires triage, per §4.8 step 3.
	st.ring = evictOlderThan(st.ring, o.cfg.FlowStateWindow, a.CreatedAt)

	if !fires {
		return
	}

	// Step 1: muted suppresses triage entirely, no log.
	if st.status == StatusMuted {
		return
	}

	// Step 3: flow state suppresses triage entirely, silently.
	if len(st.ring) >= o.cfg.FlowStateThreshold {
		return
	}

	// Step 4: at most one in-flight classifier call per session. A new
	// trigger while one is in flight still resets the counters above
	// (already done in o.triggers) but does not start a second call.
	if st.triageInFlight {
		return
	}
	st.triageInFlight = true

	recent, _ := o.recentHistory(ctx)
	go func(trigger actionlog.Action) {
		spanCtx, span := telemetry.StartSpan(ctx, "observer.Triage")
		start := time.Now()
		result, err := o.classifier.Classify(spanCtx, o.sessionID, trigger, recent)
		telemetry.RecordTriageLatency(spanCtx, o.sessionID, time.Since(start))
		span.End()
		triageDone <- triageOutcome{trigger: trigger, result: result, err: err}
	}(a)
}

// triggers applies the §4.8 Action-type → trigger-policy table, mutating
// the relevant counter, and returns whether this action should start a
// triage.
func (o *Observer) triggers(st *state, a actionlog.Action) bool {
	switch a.Type {
	case "file_open":
		return true
	case "phase_completed":
		st.bufferUpdateCount = 0
		return true
	case "buffer_summary", "buffer_significant_change":
		st.bufferUpdateCount++
		if st.bufferUpdateCount >= o.cfg.BufferUpdateTriggerCount {
			st.bufferUpdateCount = 0
			return true
		}
		return false
	case "user_explain_request":
		st.explainRequestCount++
		if st.explainRequestCount >= o.cfg.ExplainRequestTriggerCount {
			st.explainRequestCount = 0
			return true
		}
		return false
	default:
		return false
	}
}

func (o *Observer) recentHistory(ctx context.Context) ([]actionlog.Action, error) {
	if o.history == nil {
		return nil, nil
	}
	return o.history.Recent(ctx, o.sessionID, 20)
}

// resolveTriage implements §4.8 step 5: the classifier-result decision
// tree (always log observer_triage; suppress on low confidence or
// cooldown; otherwise deliver).
func (o *Observer) resolveTriage(ctx context.Context, st *state, out triageOutcome) {
	if out.err != nil {
		// Classifier errors must not crash the Observer; logged via the
		// same observer_triage action with an {"error": ...} payload so the
		// failure is visible without a special-cased error action type.
		o.logJSON(ctx, "observer_triage", map[string]any{"error": out.err.Error()})
		return
	}

	o.logJSON(ctx, "observer_triage", out.result)

	if !out.result.ShouldNudge {
		return
	}
	if out.result.Confidence < o.cfg.ConfidenceThreshold {
		o.logSuppressed(ctx, "low_confidence")
		return
	}
	now := out.trigger.CreatedAt
	if !st.lastNudgeAt.IsZero() && now.Sub(st.lastNudgeAt) < o.cfg.Cooldown {
		o.logSuppressed(ctx, "cooldown")
		return
	}

	st.lastNudgeAt = now
	if o.hub != nil {
		o.hub.Broadcast("observer:nudge", map[string]any{
			"signal":     out.result.Signal,
			"confidence": out.result.Confidence,
			"reasoning":  out.result.Reasoning,
		})
	}
	o.logJSON(ctx, "nudge_sent", map[string]any{"signal": out.result.Signal, "confidence": out.result.Confidence})
}

func (o *Observer) logSuppressed(ctx context.Context, reason string) {
	o.logJSON(ctx, "nudge_suppressed", map[string]string{"reason": reason})
}

func (o *Observer) logJSON(ctx context.Context, actionType string, payload any) {
	if o.logger == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = o.logger.LogAction(ctx, o.sessionID, actionType, data)
}

// evictOlderThan drops every timestamp in ring older than window relative
// to now, preserving order.
func evictOlderThan(ring []time.Time, window time.Duration, now time.Time) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(ring) && ring[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ring
	}
	return append([]time.Time(nil), ring[i:]...)
}
