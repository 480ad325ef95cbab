package coaching

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronbassett/paige/internal/actionlog"
	"github.com/aaronbassett/paige/internal/model"
)

func TestClassifier_ParsesTriageResult(t *testing.T) {
	client := &fakeClient{responses: []*model.Response{textResponse(mustJSON(map[string]any{
		"should_nudge": true,
		"confidence":   0.85,
		"signal":       "stuck",
		"reasoning":    "three failed test runs in a row",
	}))}}

	c := NewClassifier(client, fakeResolver{}, &fakeLogger{}, "sonnet")
	trigger := actionlog.Action{SessionID: 1, Type: "file_open", CreatedAt: time.Now()}

	result, err := c.Classify(context.Background(), 1, trigger, nil)
	require.NoError(t, err)
	assert.True(t, result.ShouldNudge)
	assert.InDelta(t, 0.85, result.Confidence, 1e-9)
	assert.Equal(t, "stuck", result.Signal)
}
