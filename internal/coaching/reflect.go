package coaching

import (
	"context"
	"fmt"
	"strings"

	"github.com/aaronbassett/paige/internal/actionlog"
	"github.com/aaronbassett/paige/internal/memory"
	"github.com/aaronbassett/paige/internal/model"
)

// defaultMaxReflectItems bounds how many memory items one Reflect run may
// persist, per §4.9 step 4 ("summarize into ≤N memory items").
const defaultMaxReflectItems = 5

// ReflectInput configures one Reflect stage run, executed on session end.
type ReflectInput struct {
	Client     model.Client
	Resolver   model.Resolver
	Logger     model.CallLogger
	Store      memory.Store
	SessionID  uint64
	Project    string
	ModelTier  model.Tier
	IssueTitle string
	Actions    []actionlog.Action
	MaxItems   int
}

type reflectResponse struct {
	Items []reflectItem `json:"items"`
}

type reflectItem struct {
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	Importance int      `json:"importance"`
}

const reflectSchema = `{"type":"object","required":["items"],"properties":{"items":{"type":"array","items":{"type":"object","required":["content","importance"],"properties":{"content":{"type":"string"},"tags":{"type":"array","items":{"type":"string"}},"importance":{"type":"integer","minimum":1,"maximum":5}}}}}}`

const reflectSystemPrompt = `You are summarizing a finished pair-programming coaching session into durable memories for future sessions on this project.
Produce at most %d items, each a short self-contained fact worth remembering (a pattern the developer struggled with, a preference they showed, a decision made and why).
Respond with a single JSON object: {"items": [{"content": string, "tags": [string], "importance": 1-5}]}.
Importance 5 is a critical recurring pattern; 1 is a minor detail.`

// Reflect summarizes the session's action history into at most MaxItems
// memory items and persists them via Store, per §4.9 step 4.
func Reflect(ctx context.Context, in ReflectInput) ([]memory.Memory, error) {
	maxItems := in.MaxItems
	if maxItems <= 0 {
		maxItems = defaultMaxReflectItems
	}

	out, err := model.Call[reflectResponse](ctx, in.Client, in.Resolver, in.Logger, model.CallOptions{
		CallType:       "reflect_agent",
		Model:          in.ModelTier,
		SessionID:      in.SessionID,
		SystemPrompt:   fmt.Sprintf(reflectSystemPrompt, maxItems),
		UserMessage:    reflectUserMessage(in.IssueTitle, in.Actions),
		ResponseSchema: []byte(reflectSchema),
	})
	if err != nil {
		return nil, fmt.Errorf("coaching: reflect: %w", err)
	}

	items := make([]memory.Item, 0, len(out.Items))
	for i, it := range out.Items {
		if i >= maxItems {
			break
		}
		items = append(items, memory.Item{Content: it.Content, Tags: it.Tags, Importance: it.Importance})
	}
	if len(items) == 0 || in.Store == nil {
		return nil, nil
	}

	stored, err := in.Store.AddMemories(ctx, items, in.SessionID, in.Project)
	if err != nil {
		return nil, fmt.Errorf("coaching: reflect: persist memories: %w", err)
	}
	return stored, nil
}

func reflectUserMessage(issueTitle string, actions []actionlog.Action) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Issue: %s\n\nSession action history:\n", issueTitle)
	for _, a := range actions {
		fmt.Fprintf(&b, "- %s: %s\n", a.Type, string(a.Data))
	}
	return b.String()
}
