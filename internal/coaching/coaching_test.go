package coaching

import (
	"context"
	"encoding/json"

	"github.com/aaronbassett/paige/internal/model"
)

type fakeClient struct {
	responses []*model.Response
	calls     int
}

func (f *fakeClient) Complete(context.Context, *model.Request) (*model.Response, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	return f.responses[len(f.responses)-1], nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(model.Tier) (string, model.Pricing, error) {
	return "claude-sonnet-4-5", model.Pricing{InputPerMillion: 3, OutputPerMillion: 15}, nil
}

type fakeLogger struct {
	entries []model.CallLogEntry
}

func (f *fakeLogger) LogCall(_ context.Context, e model.CallLogEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

type fakeHub struct {
	broadcasts []struct {
		msgType string
		payload any
	}
}

func (h *fakeHub) Broadcast(msgType string, payload any) {
	h.broadcasts = append(h.broadcasts, struct {
		msgType string
		payload any
	}{msgType, payload})
}

func (h *fakeHub) types() []string {
	out := make([]string, len(h.broadcasts))
	for i, b := range h.broadcasts {
		out[i] = b.msgType
	}
	return out
}

func textResponse(text string) *model.Response {
	return &model.Response{
		Content:    []model.Message{{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: text}}}},
		StopReason: model.StopReasonEndTurn,
	}
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
