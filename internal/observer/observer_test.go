package observer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronbassett/paige/internal/actionlog"
)

type fakeBus struct {
	ch chan actionlog.Action
}

func newFakeBus() *fakeBus { return &fakeBus{ch: make(chan actionlog.Action, 32)} }

func (b *fakeBus) Subscribe() (<-chan actionlog.Action, func()) {
	return b.ch, func() {}
}

func (b *fakeBus) emit(a actionlog.Action) { b.ch <- a }

type fakeClassifier struct {
	mu      sync.Mutex
	calls   int
	results []TriageResult
	err     error
}

func (f *fakeClassifier) Classify(_ context.Context, _ uint64, _ actionlog.Action, _ []actionlog.Action) (TriageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return TriageResult{}, f.err
	}
	idx := f.calls
	f.calls++
	if idx < len(f.results) {
		return f.results[idx], nil
	}
	return f.results[len(f.results)-1], nil
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingLogger struct {
	mu    sync.Mutex
	calls []actionlog.Action
}

func (r *recordingLogger) LogAction(_ context.Context, sessionID uint64, actionType string, data json.RawMessage) (actionlog.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := actionlog.Action{SessionID: sessionID, Type: actionType, Data: data}
	r.calls = append(r.calls, a)
	return a, nil
}

func (r *recordingLogger) countType(t string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Type == t {
			n++
		}
	}
	return n
}

func (r *recordingLogger) suppressedReasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if c.Type != "nudge_suppressed" {
			continue
		}
		var payload struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(c.Data, &payload)
		out = append(out, payload.Reason)
	}
	return out
}

type recordingHub struct {
	mu    sync.Mutex
	types []string
}

func (h *recordingHub) Broadcast(msgType string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.types = append(h.types, msgType)
}

func (h *recordingHub) count(msgType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.types {
		if t == msgType {
			n++
		}
	}
	return n
}

func TestObserver_CooldownScenario(t *testing.T) {
	classifier := &fakeClassifier{results: []TriageResult{
		{ShouldNudge: true, Confidence: 0.9, Signal: "stuck"},
		{ShouldNudge: true, Confidence: 0.9, Signal: "stuck"},
	}}
	logger := &recordingLogger{}
	hub := &recordingHub{}
	cfg := DefaultConfig()
	cfg.Cooldown = 120 * time.Second

	obs := New(1, classifier, nil, logger, hub, cfg)
	bus := newFakeBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs.Start(ctx, bus)

	base := time.Now()
	bus.emit(actionlog.Action{SessionID: 1, Type: "file_open", CreatedAt: base})
	require.Eventually(t, func() bool { return classifier.callCount() >= 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return logger.countType("observer_triage") >= 1 }, time.Second, time.Millisecond)

	bus.emit(actionlog.Action{SessionID: 1, Type: "file_open", CreatedAt: base.Add(1000 * time.Millisecond)})
	require.Eventually(t, func() bool { return logger.countType("observer_triage") >= 2 }, time.Second, time.Millisecond)

	assert.Equal(t, 1, logger.countType("nudge_sent"))
	assert.Equal(t, []string{"cooldown"}, logger.suppressedReasons())
	assert.Equal(t, 1, hub.count("observer:nudge"))
}

func TestObserver_FlowStateSuppressesTriageSilently(t *testing.T) {
	classifier := &fakeClassifier{results: []TriageResult{{ShouldNudge: true, Confidence: 0.9, Signal: "stuck"}}}
	logger := &recordingLogger{}
	hub := &recordingHub{}
	cfg := DefaultConfig()
	cfg.FlowStateThreshold = 10
	cfg.FlowStateWindow = time.Second

	obs := New(1, classifier, nil, logger, hub, cfg)
	bus := newFakeBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs.Start(ctx, bus)

	base := time.Now()
	for i := 0; i < 11; i++ {
		bus.emit(actionlog.Action{SessionID: 1, Type: "file_save", CreatedAt: base.Add(time.Duration(i) * 10 * time.Millisecond)})
	}
	// 11 user-initiated actions within the window fill the ring to >= threshold.
	// The 12th action (file_open) should be suppressed silently (no triage, no log).
	bus.emit(actionlog.Action{SessionID: 1, Type: "file_open", CreatedAt: base.Add(200 * time.Millisecond)})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, classifier.callCount())
	assert.Equal(t, 0, logger.countType("observer_triage"))
	assert.Equal(t, 0, logger.countType("nudge_suppressed"))
}

func TestObserver_MutedSuppressesTriageSilently(t *testing.T) {
	classifier := &fakeClassifier{results: []TriageResult{{ShouldNudge: true, Confidence: 0.9, Signal: "stuck"}}}
	logger := &recordingLogger{}
	hub := &recordingHub{}

	obs := New(1, classifier, nil, logger, hub, DefaultConfig())
	bus := newFakeBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs.Start(ctx, bus)

	obs.SetMuted(true)
	bus.emit(actionlog.Action{SessionID: 1, Type: "file_open", CreatedAt: time.Now()})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, classifier.callCount())
	assert.Equal(t, 0, logger.countType("observer_triage"))
}

func TestObserver_BufferUpdateCounterTrigger(t *testing.T) {
	classifier := &fakeClassifier{results: []TriageResult{{ShouldNudge: false}}}
	logger := &recordingLogger{}
	hub := &recordingHub{}
	cfg := DefaultConfig()
	cfg.BufferUpdateTriggerCount = 3

	obs := New(1, classifier, nil, logger, hub, cfg)
	bus := newFakeBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs.Start(ctx, bus)

	base := time.Now()
	for i := 0; i < 2; i++ {
		bus.emit(actionlog.Action{SessionID: 1, Type: "buffer_significant_change", CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, classifier.callCount())

	bus.emit(actionlog.Action{SessionID: 1, Type: "buffer_significant_change", CreatedAt: base.Add(3 * time.Second)})
	require.Eventually(t, func() bool { return classifier.callCount() >= 1 }, time.Second, time.Millisecond)
}

func TestObserver_IgnoresOtherSessions(t *testing.T) {
	classifier := &fakeClassifier{results: []TriageResult{{ShouldNudge: false}}}
	logger := &recordingLogger{}
	hub := &recordingHub{}

	obs := New(1, classifier, nil, logger, hub, DefaultConfig())
	bus := newFakeBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs.Start(ctx, bus)

	bus.emit(actionlog.Action{SessionID: 2, Type: "file_open", CreatedAt: time.Now()})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, classifier.callCount())
}

func TestObserver_StatusAndStop(t *testing.T) {
	classifier := &fakeClassifier{results: []TriageResult{{ShouldNudge: false}}}
	obs := New(1, classifier, nil, &recordingLogger{}, &recordingHub{}, DefaultConfig())
	bus := newFakeBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs.Start(ctx, bus)

	status, muted := obs.Status()
	assert.Equal(t, StatusActive, status)
	assert.False(t, muted)

	obs.SetMuted(true)
	status, muted = obs.Status()
	assert.Equal(t, StatusMuted, status)
	assert.True(t, muted)

	obs.Stop()
	bus.emit(actionlog.Action{SessionID: 1, Type: "file_open", CreatedAt: time.Now()})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, classifier.callCount())
}

func TestObserver_ClassifierErrorDoesNotCrash(t *testing.T) {
	classifier := &fakeClassifier{err: assert.AnError}
	logger := &recordingLogger{}
	hub := &recordingHub{}

	obs := New(1, classifier, nil, logger, hub, DefaultConfig())
	bus := newFakeBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs.Start(ctx, bus)

	bus.emit(actionlog.Action{SessionID: 1, Type: "file_open", CreatedAt: time.Now()})
	require.Eventually(t, func() bool { return classifier.callCount() >= 1 }, time.Second, time.Millisecond)

	// A second trigger must still be processed — the actor did not crash.
	bus.emit(actionlog.Action{SessionID: 1, Type: "file_open", CreatedAt: time.Now()})
	require.Eventually(t, func() bool { return classifier.callCount() >= 2 }, time.Second, time.Millisecond)
}
