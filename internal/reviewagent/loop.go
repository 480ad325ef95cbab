// Package reviewagent implements the Review Agent (§4.10 of the spec): a
// bounded, read-only tool-using loop that produces a structured
// ReviewResult. Its turn-bounded {WaitResp -> ExecTools -> WaitResp | Done |
// Fail} state machine is also reused, with a different tool set, by the
// Coaching Pipeline's Plan stage — grounded on the teacher's
// runtime/agent/planner + runtime/agent/engine split between "decide what to
// do next" and "drive the turns", here collapsed into one loop since this
// module has no separate workflow engine.
package reviewagent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aaronbassett/paige/internal/model"
)

// maxTurns is the §4.10 hard limit on tool-use turns.
const maxTurns = 20

// ErrMaxTurnsExceeded is raised when the loop exhausts maxTurns without the
// model producing a final (non tool-use) response.
var ErrMaxTurnsExceeded = errors.New("reviewagent: exceeded maximum turns")

// Tool is one read-only tool exposed to a bounded loop run.
type Tool struct {
	Definition *model.ToolDefinition
	Handler    func(ctx context.Context, input []byte) (any, error)
}

// LoopOptions configures one bounded tool-use run.
type LoopOptions struct {
	Client       model.Client
	Resolver     model.Resolver
	Logger       model.CallLogger
	SessionID    uint64
	CallType     model.CallType
	ModelTier    model.Tier
	SystemPrompt string
	UserMessage  string
	Tools        []Tool
	MaxTokens    int
}

// RunLoop drives the bounded multi-turn loop: call the model, and if it
// requests tool use, execute the requested tools locally and feed the
// results back as the next turn's user message, until the model returns a
// final text response or maxTurns is exhausted. Every turn is logged
// individually via opts.Logger, mirroring model.Call's cost-accounting
// contract.
func RunLoop(ctx context.Context, opts LoopOptions) (string, error) {
	modelID, pricing, err := opts.Resolver.Resolve(opts.ModelTier)
	if err != nil {
		return "", fmt.Errorf("reviewagent: resolve tier %q: %w", opts.ModelTier, err)
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	defs := make([]*model.ToolDefinition, 0, len(opts.Tools))
	byName := make(map[string]Tool, len(opts.Tools))
	for _, t := range opts.Tools {
		defs = append(defs, t.Definition)
		byName[t.Definition.Name] = t
	}

	messages := []*model.Message{
		{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: opts.SystemPrompt}}},
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: opts.UserMessage}}},
	}

	for turn := 0; turn < maxTurns; turn++ {
		req := &model.Request{
			Model:     modelID,
			MaxTokens: maxTokens,
			Tools:     defs,
			Messages:  messages,
		}

		start := time.Now()
		resp, callErr := opts.Client.Complete(ctx, req)
		latency := time.Since(start).Milliseconds()
		if callErr != nil {
			opts.logTurn(modelID, -1, model.TokenUsage{}, 0)
			return "", fmt.Errorf("reviewagent: model call: %w", callErr)
		}

		switch resp.StopReason { //nolint:exhaustive
		case model.StopReasonRefusal:
			opts.logTurn(modelID, latency, resp.Usage, pricing.Cost(resp.Usage))
			return "", &model.RefusalError{Reason: firstText(resp)}
		case model.StopReasonMaxTokens:
			opts.logTurn(modelID, latency, resp.Usage, pricing.Cost(resp.Usage))
			return "", &model.MaxTokensError{}
		}

		opts.logTurn(modelID, latency, resp.Usage, pricing.Cost(resp.Usage))

		if resp.StopReason != model.StopReasonToolUse || len(resp.ToolCalls) == 0 {
			return firstText(resp), nil
		}

		messages = append(messages, assistantTurn(resp))
		messages = append(messages, executeTools(ctx, byName, resp.ToolCalls))
	}

	return "", ErrMaxTurnsExceeded
}

// assistantTurn reconstructs the assistant's turn (text plus the tool_use
// blocks the model requested) so the provider sees it echoed back on the
// next call, per the Anthropic Messages API's tool-use conversation shape.
func assistantTurn(resp *model.Response) *model.Message {
	parts := make([]model.Part, 0, len(resp.ToolCalls)+1)
	if text := firstText(resp); text != "" {
		parts = append(parts, model.TextPart{Text: text})
	}
	for _, call := range resp.ToolCalls {
		parts = append(parts, model.ToolUsePart{ID: call.ID, Name: call.Name, Input: call.Payload})
	}
	return &model.Message{Role: model.ConversationRoleAssistant, Parts: parts}
}

// executeTools runs every requested tool call locally and packages the
// results as the next user-role message.
func executeTools(ctx context.Context, byName map[string]Tool, calls []model.ToolCall) *model.Message {
	parts := make([]model.Part, 0, len(calls))
	for _, call := range calls {
		tool, ok := byName[call.Name]
		var content any
		var isErr bool
		switch {
		case !ok:
			content = fmt.Sprintf("unknown tool %q", call.Name)
			isErr = true
		default:
			out, err := tool.Handler(ctx, call.Payload)
			if err != nil {
				content = err.Error()
				isErr = true
			} else {
				content = out
			}
		}
		parts = append(parts, model.ToolResultPart{ToolUseID: call.ID, Content: content, IsError: isErr})
	}
	return &model.Message{Role: model.ConversationRoleUser, Parts: parts}
}

func (o LoopOptions) logTurn(modelID string, latencyMs int64, usage model.TokenUsage, cost float64) {
	if o.Logger == nil {
		return
	}
	_ = o.Logger.LogCall(context.Background(), model.CallLogEntry{
		SessionID:    o.SessionID,
		CallType:     o.CallType,
		Model:        modelID,
		LatencyMs:    latencyMs,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostEstimate: cost,
		CreatedAt:    time.Now(),
	})
}

func firstText(resp *model.Response) string {
	for _, m := range resp.Content {
		for _, p := range m.Parts {
			if t, ok := p.(model.TextPart); ok && t.Text != "" {
				return t.Text
			}
		}
	}
	return ""
}
