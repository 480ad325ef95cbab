package coaching

import (
	"context"
	"fmt"
	"strings"

	"github.com/aaronbassett/paige/internal/actionlog"
	"github.com/aaronbassett/paige/internal/model"
	"github.com/aaronbassett/paige/internal/observer"
)

const triageSchema = `{"type":"object","required":["should_nudge","confidence"],"properties":{"should_nudge":{"type":"boolean"},"confidence":{"type":"number","minimum":0,"maximum":1},"signal":{"type":"string"},"reasoning":{"type":"string"}}}`

const triageSystemPrompt = `You are the triage classifier for a pair-programming coach's Observer.
Given the action that just happened and recent session history, decide whether the developer would likely benefit from a coaching nudge right now.
Respond with a single JSON object: {"should_nudge": bool, "confidence": 0..1, "signal": string, "reasoning": string}.
Only recommend a nudge when there's a real signal (e.g. repeated failed attempts, long idle staring at the same file, a pattern matching a known struggle) — most actions should not trigger a nudge.`

// Classifier implements observer.Classifier on top of model.Call, the
// concrete piece that makes the Observer runnable end-to-end.
type Classifier struct {
	client   model.Client
	resolver model.Resolver
	logger   model.CallLogger
	tier     model.Tier
}

// NewClassifier builds a Classifier calling tier for every triage run.
func NewClassifier(client model.Client, resolver model.Resolver, logger model.CallLogger, tier model.Tier) *Classifier {
	return &Classifier{client: client, resolver: resolver, logger: logger, tier: tier}
}

// Classify satisfies observer.Classifier.
func (c *Classifier) Classify(ctx context.Context, sessionID uint64, trigger actionlog.Action, recent []actionlog.Action) (observer.TriageResult, error) {
	return model.Call[observer.TriageResult](ctx, c.client, c.resolver, c.logger, model.CallOptions{
		CallType:       "observer_triage",
		Model:          c.tier,
		SessionID:      sessionID,
		SystemPrompt:   triageSystemPrompt,
		UserMessage:    triageUserMessage(trigger, recent),
		ResponseSchema: []byte(triageSchema),
	})
}

func triageUserMessage(trigger actionlog.Action, recent []actionlog.Action) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Triggering action: %s at %s\nData: %s\n\n", trigger.Type, trigger.CreatedAt.Format("15:04:05"), string(trigger.Data))
	b.WriteString("Recent session history (oldest first):\n")
	for _, a := range recent {
		fmt.Fprintf(&b, "- %s: %s\n", a.Type, string(a.Data))
	}
	return b.String()
}
