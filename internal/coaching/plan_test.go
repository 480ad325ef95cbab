package coaching

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronbassett/paige/internal/model"
	"github.com/aaronbassett/paige/internal/session"
)

func TestPlan_ParsesPhasesAndTasks(t *testing.T) {
	raw := `{"title":"Fix the flaky retry","summary":"Stabilize the retry loop","phases":[` +
		`{"number":1,"title":"Understand","description":"read the code","hint":"start in retry.go","status":"active","tasks":[` +
		`{"title":"Read retry.go","description":"trace the backoff logic","targetFiles":["retry.go"],"hints":{"low":"look at the loop bound","medium":"count the retries","high":"the bound is off by one"}}]}]}`
	client := &fakeClient{responses: []*model.Response{textResponse(raw)}}
	hub := &fakeHub{}

	plan, err := Plan(context.Background(), PlanInput{
		Client: client, Resolver: fakeResolver{}, Hub: hub,
		SessionID: 1, ProjectDir: t.TempDir(), IssueTitle: "Fix flaky retry",
	})
	require.NoError(t, err)
	assert.Equal(t, "Fix the flaky retry", plan.Title)
	require.Len(t, plan.Phases, 1)
	assert.Equal(t, session.PhaseStatusActive, plan.Phases[0].Status)
	require.Len(t, plan.Phases[0].Steps, 1)
	assert.Equal(t, []string{"retry.go"}, plan.Phases[0].Steps[0].TargetFiles)
	assert.Equal(t, "the bound is off by one", plan.Phases[0].Steps[0].Hints.High)

	assert.Contains(t, hub.types(), "planning:started")
	assert.Contains(t, hub.types(), "planning:complete")
	assert.NotContains(t, hub.types(), "planning:error")
}

func TestPlan_BroadcastsErrorOnParseFailure(t *testing.T) {
	client := &fakeClient{responses: []*model.Response{textResponse("not json")}}
	hub := &fakeHub{}

	_, err := Plan(context.Background(), PlanInput{
		Client: client, Resolver: fakeResolver{}, Hub: hub,
		SessionID: 1, ProjectDir: t.TempDir(), IssueTitle: "x",
	})
	require.Error(t, err)
	assert.Contains(t, hub.types(), "planning:error")
}
