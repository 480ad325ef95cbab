package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	resp *Response
	err  error
}

func (f *fakeClient) Complete(context.Context, *Request) (*Response, error) {
	return f.resp, f.err
}

type fakeResolver struct {
	modelID string
	pricing Pricing
}

func (f fakeResolver) Resolve(Tier) (string, Pricing, error) { return f.modelID, f.pricing, nil }

type recordingLogger struct {
	entries []CallLogEntry
}

func (r *recordingLogger) LogCall(_ context.Context, e CallLogEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

type coachOutput struct {
	Message string `json:"message"`
}

func TestCall_Success(t *testing.T) {
	client := &fakeClient{resp: &Response{
		Content:    []Message{{Role: ConversationRoleAssistant, Parts: []Part{TextPart{Text: `{"message":"keep going"}`}}}},
		Usage:      TokenUsage{InputTokens: 2000, OutputTokens: 1000},
		StopReason: StopReasonEndTurn,
	}}
	resolver := fakeResolver{modelID: "claude-sonnet-4-5", pricing: Pricing{InputPerMillion: 3.0, OutputPerMillion: 15.0}}
	logger := &recordingLogger{}

	out, err := Call[coachOutput](context.Background(), client, resolver, logger, CallOptions{
		CallType:    "coach_agent",
		Model:       TierSonnet,
		UserMessage: "help",
	})
	require.NoError(t, err)
	require.Equal(t, "keep going", out.Message)
	require.Len(t, logger.entries, 1)
	require.InDelta(t, 0.021, logger.entries[0].CostEstimate, 1e-9)
	require.Len(t, logger.entries[0].InputHash, 16)
}

func TestCall_Refusal(t *testing.T) {
	client := &fakeClient{resp: &Response{StopReason: StopReasonRefusal}}
	logger := &recordingLogger{}

	_, err := Call[coachOutput](context.Background(), client, fakeResolver{}, logger, CallOptions{UserMessage: "x"})
	require.Error(t, err)
	var refusal *RefusalError
	require.ErrorAs(t, err, &refusal)
	require.Len(t, logger.entries, 1)
	require.Equal(t, int64(-1), logger.entries[0].LatencyMs)
	require.Zero(t, logger.entries[0].InputTokens)
	require.Zero(t, logger.entries[0].CostEstimate)
}

func TestCall_MaxTokens(t *testing.T) {
	client := &fakeClient{resp: &Response{StopReason: StopReasonMaxTokens}}
	_, err := Call[coachOutput](context.Background(), client, fakeResolver{}, &recordingLogger{}, CallOptions{UserMessage: "x"})
	var maxTok *MaxTokensError
	require.ErrorAs(t, err, &maxTok)
}

func TestCall_TransportFailureLogsNegativeLatency(t *testing.T) {
	client := &fakeClient{err: context.DeadlineExceeded}
	logger := &recordingLogger{}
	_, err := Call[coachOutput](context.Background(), client, fakeResolver{}, logger, CallOptions{UserMessage: "x"})
	require.Error(t, err)
	require.Len(t, logger.entries, 1)
	require.Equal(t, int64(-1), logger.entries[0].LatencyMs)
}

func TestCall_SchemaValidationFailure(t *testing.T) {
	client := &fakeClient{resp: &Response{
		Content:    []Message{{Parts: []Part{TextPart{Text: `{"wrong":"shape"}`}}}},
		StopReason: StopReasonEndTurn,
	}}
	schema := []byte(`{"type":"object","required":["message"]}`)
	_, err := Call[coachOutput](context.Background(), client, fakeResolver{}, &recordingLogger{}, CallOptions{
		UserMessage:    "x",
		ResponseSchema: schema,
	})
	require.Error(t, err)
}

func TestPricing_Cost(t *testing.T) {
	p := Pricing{InputPerMillion: 3.0, OutputPerMillion: 15.0}
	cost := p.Cost(TokenUsage{InputTokens: 2000, OutputTokens: 1000})
	require.InDelta(t, 0.021, cost, 1e-9)
}

func TestCallLogEntry_CreatedAtIsRecent(t *testing.T) {
	client := &fakeClient{resp: &Response{
		Content:    []Message{{Parts: []Part{TextPart{Text: `{"message":"hi"}`}}}},
		StopReason: StopReasonEndTurn,
	}}
	logger := &recordingLogger{}
	_, err := Call[coachOutput](context.Background(), client, fakeResolver{}, logger, CallOptions{UserMessage: "x"})
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), logger.entries[0].CreatedAt, time.Second)
}
