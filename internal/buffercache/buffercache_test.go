package buffercache

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

type recordingLogger struct {
	mu    sync.Mutex
	calls []call
}

type call struct {
	actionType string
	data       json.RawMessage
}

func (r *recordingLogger) LogAction(_ context.Context, _ uint64, actionType string, data json.RawMessage) (actionlog.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{actionType: actionType, data: data})
	return actionlog.Action{Type: actionType, Data: data}, nil
}

func (r *recordingLogger) countOf(t string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.actionType == t {
			n++
		}
	}
	return n
}

func TestUpdate_GetRoundTrip(t *testing.T) {
	c := New(1, &recordingLogger{})
	ctx := context.Background()

	c.Update(ctx, "main.go", "package main", 0)
	buf, ok := c.Get("main.go")
	require.True(t, ok)
	assert.Equal(t, "package main", buf.Content)
	assert.True(t, buf.Dirty)
}

func TestUpdate_SignificantChange_ZeroBaseline(t *testing.T) {
	logger := &recordingLogger{}
	c := New(1, logger)
	ctx := context.Background()

	c.Update(ctx, "p", "hello", 0)
	assert.Equal(t, 1, logger.countOf("buffer_significant_change"))

	c.Update(ctx, "p", "hello!", 0)
	assert.Equal(t, 1, logger.countOf("buffer_significant_change"))
}

func TestUpdate_SignificantChange_AbsoluteThreshold(t *testing.T) {
	logger := &recordingLogger{}
	c := New(1, logger)
	ctx := context.Background()

	big := make([]byte, 600)
	c.Update(ctx, "p", "seed", 0)
	logger.calls = nil
	c.Update(ctx, "p", string(big), 0)
	assert.Equal(t, 1, logger.countOf("buffer_significant_change"))
}

func TestUpdate_SignificantChange_RelativeThreshold(t *testing.T) {
	logger := &recordingLogger{}
	c := New(1, logger)
	ctx := context.Background()

	baseline := make([]byte, 100)
	c.Update(ctx, "p", string(baseline), 0)
	logger.calls = nil

	grown := make([]byte, 160) // +60%, > 0.5 relative, but < 500 absolute
	c.Update(ctx, "p", string(grown), 0)
	assert.Equal(t, 1, logger.countOf("buffer_significant_change"))
}

func TestDirtyPaths_MarkSaved(t *testing.T) {
	c := New(1, &recordingLogger{})
	ctx := context.Background()
	c.Update(ctx, "a", "x", 0)
	c.Update(ctx, "b", "y", 0)
	assert.ElementsMatch(t, []string{"a", "b"}, c.DirtyPaths())

	c.MarkSaved("a")
	assert.ElementsMatch(t, []string{"b"}, c.DirtyPaths())
}

func TestClearAll(t *testing.T) {
	c := New(1, &recordingLogger{})
	ctx := context.Background()
	c.Update(ctx, "a", "x", 0)
	c.ClearAll()
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestRun_PeriodicSummary(t *testing.T) {
	logger := &recordingLogger{}
	c := New(1, logger, WithSummaryPeriod(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)
	defer c.Stop()

	c.Update(context.Background(), "p", "x", 0)

	require.Eventually(t, func() bool {
		return logger.countOf("buffer_summary") >= 1
	}, time.Second, 5*time.Millisecond)
}
