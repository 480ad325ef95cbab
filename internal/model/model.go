// Package model defines the provider-agnostic call interface used by the
// Observer's classifier, the Coaching Pipeline's stages, and the Review
// Agent. It models messages as typed parts (text, tool use, tool result)
// plus conversation roles, and wraps the raw provider call with structured-
// output parsing, stop-reason handling, and cost/latency logging.
package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/aaronbassett/paige/internal/telemetry"
)

// ConversationRole is the role for a message in a conversation.
type ConversationRole string

const (
	// ConversationRoleSystem is the role for system messages.
	ConversationRoleSystem ConversationRole = "system"
	// ConversationRoleUser is the role for user messages.
	ConversationRoleUser ConversationRole = "user"
	// ConversationRoleAssistant is the role for assistant messages.
	ConversationRoleAssistant ConversationRole = "assistant"
)

// Tier selects a model family by cost/capability tier.
type Tier string

const (
	// TierHaiku selects the cheapest, fastest tier.
	TierHaiku Tier = "haiku"
	// TierSonnet selects the default tier.
	TierSonnet Tier = "sonnet"
	// TierOpus selects the highest-capability tier.
	TierOpus Tier = "opus"
)

type (
	// Part is a marker interface implemented by all message parts.
	Part interface{ isPart() }

	// TextPart is a plain text content block.
	TextPart struct{ Text string }

	// ToolUsePart declares a tool invocation by the assistant.
	ToolUsePart struct {
		ID    string
		Name  string
		Input any
	}

	// ToolResultPart carries a tool result supplied by the caller.
	ToolResultPart struct {
		ToolUseID string
		Content   any
		IsError   bool
	}

	// Message is a single chat message.
	Message struct {
		Role  ConversationRole
		Parts []Part
	}

	// ToolDefinition describes a tool exposed to the model.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema any
	}

	// TokenUsage tracks token counts for a model call.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
	}

	// Request captures inputs for a non-streaming model invocation.
	Request struct {
		Model       string
		Messages    []*Message
		Tools       []*ToolDefinition
		MaxTokens   int
		Temperature float32
	}

	// Response is the result of a non-streaming invocation.
	Response struct {
		Content    []Message
		ToolCalls  []ToolCall
		Usage      TokenUsage
		StopReason StopReason
	}

	// ToolCall is a requested tool invocation from the model.
	ToolCall struct {
		ID      string
		Name    string
		Payload json.RawMessage
	}

	// Client is the provider-agnostic model client.
	Client interface {
		// Complete performs a non-streaming model invocation.
		Complete(ctx context.Context, req *Request) (*Response, error)
	}
)

func (TextPart) isPart()       {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// StopReason mirrors the provider's reason for ending generation.
type StopReason string

const (
	// StopReasonEndTurn indicates a normal, complete response.
	StopReasonEndTurn StopReason = "end_turn"
	// StopReasonToolUse indicates the model requested one or more tool calls.
	StopReasonToolUse StopReason = "tool_use"
	// StopReasonRefusal indicates the model declined to respond.
	StopReasonRefusal StopReason = "refusal"
	// StopReasonMaxTokens indicates generation was truncated at the token cap.
	StopReasonMaxTokens StopReason = "max_tokens"
)

// RefusalError is returned when the model's stop reason is "refusal".
type RefusalError struct{ Reason string }

func (e *RefusalError) Error() string { return fmt.Sprintf("model: refused: %s", e.Reason) }

// MaxTokensError is returned when the model's stop reason is "max_tokens".
type MaxTokensError struct{}

func (e *MaxTokensError) Error() string { return "model: response truncated at max_tokens" }

// CallType identifies the logical purpose of a call for cost accounting.
type CallType string

// CallLogger records a completed or failed call for cost accounting.
//
// Implementations persist an ApiCallLog entry per §3 of the spec: failures
// log latencyMs = -1 and zero tokens/cost.
type CallLogger interface {
	LogCall(ctx context.Context, entry CallLogEntry) error
}

// CallLogEntry is a single api_call_log row.
type CallLogEntry struct {
	SessionID    uint64
	CallType     CallType
	Model        string
	InputHash    string
	LatencyMs    int64
	InputTokens  int
	OutputTokens int
	CostEstimate float64
	CreatedAt    time.Time
}

// Pricing is the per-million-token rate pair for a model tier.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Cost computes the cost estimate for the given usage at this pricing.
func (p Pricing) Cost(u TokenUsage) float64 {
	return (float64(u.InputTokens)/1e6)*p.InputPerMillion + (float64(u.OutputTokens)/1e6)*p.OutputPerMillion
}

// Resolver maps a tier to a concrete provider model ID and its pricing.
type Resolver interface {
	Resolve(tier Tier) (modelID string, pricing Pricing, err error)
}

// CallOptions configures a single structured-output call via Call.
type CallOptions struct {
	CallType       CallType
	Model          Tier
	SystemPrompt   string
	UserMessage    string
	ResponseSchema []byte // JSON Schema document, compiled by Call
	SessionID      uint64
	MaxTokens      int // default 4096
	Tools          []*ToolDefinition
}

// ErrEmptyResponse indicates the model returned no text content to parse.
var ErrEmptyResponse = errors.New("model: no text content in response")

// Call issues a single request/response model call, resolves the tier to a
// concrete model ID, validates the first text block against responseSchema,
// unmarshals it into T, and logs cost/latency via logger. On any failure the
// call is logged with latencyMs = -1 and zero tokens/cost (per §3/§4.4).
func Call[T any](ctx context.Context, client Client, resolver Resolver, logger CallLogger, opts CallOptions) (T, error) {
	var zero T

	ctx, span := telemetry.StartSpan(ctx, "model.Call")
	defer span.End()

	modelID, pricing, err := resolver.Resolve(opts.Model)
	if err != nil {
		logFailure(ctx, logger, opts, string(opts.Model), hashUserMessage(opts.UserMessage))
		return zero, fmt.Errorf("model: resolve tier %q: %w", opts.Model, err)
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	req := &Request{
		Model:     modelID,
		MaxTokens: maxTokens,
		Tools:     opts.Tools,
		Messages: []*Message{
			{Role: ConversationRoleSystem, Parts: []Part{TextPart{Text: opts.SystemPrompt}}},
			{Role: ConversationRoleUser, Parts: []Part{TextPart{Text: opts.UserMessage}}},
		},
	}

	inputHash := hashUserMessage(opts.UserMessage)
	start := time.Now()

	resp, callErr := client.Complete(ctx, req)
	if callErr != nil {
		logFailure(ctx, logger, opts, modelID, inputHash)
		return zero, callErr
	}

	latency := time.Since(start).Milliseconds()

	switch resp.StopReason { //nolint:exhaustive
	case StopReasonRefusal:
		logFailure(ctx, logger, opts, modelID, inputHash)
		return zero, &RefusalError{Reason: firstText(resp)}
	case StopReasonMaxTokens:
		logFailure(ctx, logger, opts, modelID, inputHash)
		return zero, &MaxTokensError{}
	}

	text := firstText(resp)
	if text == "" {
		logFailure(ctx, logger, opts, modelID, inputHash)
		return zero, ErrEmptyResponse
	}

	if len(opts.ResponseSchema) > 0 {
		if err := validateAgainstSchema([]byte(text), opts.ResponseSchema); err != nil {
			logFailure(ctx, logger, opts, modelID, inputHash)
			return zero, fmt.Errorf("model: response failed schema validation: %w", err)
		}
	}

	var out T
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		logFailure(ctx, logger, opts, modelID, inputHash)
		return zero, fmt.Errorf("model: unmarshal response: %w", err)
	}

	if logger != nil {
		_ = logger.LogCall(ctx, CallLogEntry{
			SessionID:    opts.SessionID,
			CallType:     opts.CallType,
			Model:        modelID,
			InputHash:    inputHash,
			LatencyMs:    latency,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			CostEstimate: pricing.Cost(resp.Usage),
			CreatedAt:    time.Now(),
		})
	}
	telemetry.RecordModelCall(ctx, string(opts.CallType), string(opts.Model), time.Duration(latency)*time.Millisecond, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	return out, nil
}

func logFailure(ctx context.Context, logger CallLogger, opts CallOptions, modelID, inputHash string) {
	if logger == nil {
		return
	}
	_ = logger.LogCall(ctx, CallLogEntry{
		SessionID: opts.SessionID,
		CallType:  opts.CallType,
		Model:     modelID,
		InputHash: inputHash,
		LatencyMs: -1,
		CreatedAt: time.Now(),
	})
}

func firstText(resp *Response) string {
	for _, m := range resp.Content {
		for _, p := range m.Parts {
			if t, ok := p.(TextPart); ok && t.Text != "" {
				return t.Text
			}
		}
	}
	return ""
}

func hashUserMessage(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

func validateAgainstSchema(payload, schema []byte) error {
	var schemaDoc any
	if err := json.Unmarshal(schema, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}
	var payloadDoc any
	if err := json.Unmarshal(payload, &payloadDoc); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("response.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("response.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return compiled.Validate(payloadDoc)
}
