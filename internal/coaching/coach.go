package coaching

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aaronbassett/paige/internal/memory"
	"github.com/aaronbassett/paige/internal/model"
	"github.com/aaronbassett/paige/internal/session"
)

// Range is the editor-selection range a coaching message may anchor to.
type Range struct {
	StartLine int `json:"startLine"`
	StartCol  int `json:"startCol"`
	EndLine   int `json:"endLine"`
	EndCol    int `json:"endCol"`
}

// Message is the broadcast form of a CoachingMessage, per §3.
type Message struct {
	MessageID string `json:"messageId"`
	Path      string `json:"path,omitempty"`
	Range     *Range `json:"range,omitempty"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Source    string `json:"source"`
}

// CoachInput configures one Coach stage run.
type CoachInput struct {
	Client      model.Client
	Resolver    model.Resolver
	Logger      model.CallLogger
	Hub         Broadcaster
	SessionID   uint64
	ModelTier   model.Tier
	Plan        session.Plan
	PhaseNumber int
	HintLevel   int
	Memories    []memory.Result
	Path        string
	Range       *Range
}

type coachResponse struct {
	Message string `json:"message"`
}

const coachSchema = `{"type":"object","required":["message"],"properties":{"message":{"type":"string"}}}`

// Coach transforms the current plan phase plus retrieved memories into
// per-hint-level guidance, renders it to HTML, and broadcasts
// coaching:message.
func Coach(ctx context.Context, in CoachInput) (Message, error) {
	phase := currentPhase(in.Plan, in.PhaseNumber)

	out, err := model.Call[coachResponse](ctx, in.Client, in.Resolver, in.Logger, model.CallOptions{
		CallType:       "coach_agent",
		Model:          in.ModelTier,
		SessionID:      in.SessionID,
		SystemPrompt:   coachSystemPrompt(in.HintLevel),
		UserMessage:    coachUserMessage(in.Plan, phase, in.Memories),
		ResponseSchema: []byte(coachSchema),
	})
	if err != nil {
		return Message{}, fmt.Errorf("coaching: coach: %w", err)
	}

	msg := Message{
		MessageID: uuid.NewString(),
		Path:      in.Path,
		Range:     in.Range,
		Message:   renderMarkdown(out.Message),
		Type:      "hint",
		Source:    "coach",
	}
	if in.Hub != nil {
		in.Hub.Broadcast("coaching:message", msg)
	}
	return msg, nil
}

func currentPhase(plan session.Plan, number int) *session.Phase {
	for i := range plan.Phases {
		if plan.Phases[i].Number == number {
			return &plan.Phases[i]
		}
	}
	return nil
}

func coachSystemPrompt(hintLevel int) string {
	levelDesc := map[int]string{
		0: "no scaffolding: only acknowledge progress, do not hint",
		1: "low: a gentle nudge toward the right area",
		2: "medium: narrow the approach without naming the exact fix",
		3: "high: close to a worked example, but never literal code the developer could paste in",
	}
	desc, ok := levelDesc[hintLevel]
	if !ok {
		desc = levelDesc[1]
	}
	return fmt.Sprintf(`You are a pair-programming coach. You never write or edit code yourself.
Produce one short markdown-formatted coaching message for the developer's current phase, at hint level %d (%s).
Respond with a single JSON object: {"message": string}.`, hintLevel, desc)
}

func coachUserMessage(plan session.Plan, phase *session.Phase, memories []memory.Result) string {
	msg := fmt.Sprintf("Plan: %s\n%s\n", plan.Title, plan.Summary)
	if phase != nil {
		msg += fmt.Sprintf("\nCurrent phase: %s\n%s\n", phase.Title, phase.Description)
	}
	if len(memories) > 0 {
		msg += "\nRelevant memories from past sessions:\n"
		for _, m := range memories {
			msg += fmt.Sprintf("- %s\n", m.Content)
		}
	}
	return msg
}
