// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API. It translates paige's provider-agnostic
// requests into anthropic.Message calls using
// github.com/anthropics/anthropic-sdk-go and maps responses (text, tool
// calls, usage, stop reason) back into the generic model structures.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aaronbassett/paige/internal/model"
)

// MessagesClient captures the subset of the Anthropic SDK client used by the
// adapter, so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements model.Client on top of Anthropic Claude Messages.
type Client struct {
	msg         MessagesClient
	maxTokens   int
	temperature float64
}

// Options configures optional Anthropic adapter behavior.
type Options struct {
	// MaxTokens is used when a request does not specify one.
	MaxTokens int
	// Temperature is used when a request does not specify one.
	Temperature float64
}

// New builds an Anthropic-backed model client from the provided Anthropic
// Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, maxTokens: maxTokens, temperature: opts.Temperature}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client,
// reading the key from the caller-provided string (the process wires this
// from the PAIGE model API key configuration value; when empty, callers
// should fall back to a no-op client per §6's graceful-degradation rule).
func NewFromAPIKey(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{})
}

// Complete issues a non-streaming Messages.New request and translates the
// response into model-friendly structures (assistant messages + tool calls).
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateResponse(msg, nameMap)
}

func (c *Client) prepareRequest(req *model.Request) (*sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("anthropic: messages are required")
	}
	if req.Model == "" {
		return nil, nil, errors.New("anthropic: model identifier is required")
	}

	tools, nameMap, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(req.Model),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if t := req.Temperature; t > 0 {
		params.Temperature = sdk.Float(float64(t))
	} else if c.temperature > 0 {
		params.Temperature = sdk.Float(c.temperature)
	}
	return &params, nameMap, nil
}

func encodeMessages(msgs []*model.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.ConversationRoleSystem {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: v.Text})
				}
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case model.ToolUsePart:
				if v.Name == "" {
					return nil, nil, errors.New("anthropic: tool_use part missing name")
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Input, sanitizeToolName(v.Name)))
			case model.ToolResultPart:
				blocks = append(blocks, encodeToolResult(v))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role { //nolint:exhaustive
		case model.ConversationRoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case model.ConversationRoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeToolResult(v model.ToolResultPart) sdk.ContentBlockParamUnion {
	var content string
	switch c := v.Content.(type) {
	case nil:
		content = ""
	case string:
		content = c
	case []byte:
		content = string(c)
	default:
		if data, err := json.Marshal(c); err == nil {
			content = string(data)
		}
	}
	return sdk.NewToolResultBlock(v.ToolUseID, content, v.IsError)
}

func encodeTools(defs []*model.ToolDefinition) ([]sdk.ToolUnionParam, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	toolList := make([]sdk.ToolUnionParam, 0, len(defs))
	sanToCanon := make(map[string]string, len(defs))

	for _, def := range defs {
		if def == nil {
			continue
		}
		if def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, fmt.Errorf("anthropic: tool name %q collides with %q after sanitization", def.Name, prev)
		}
		sanToCanon[sanitized] = def.Name
		if def.Description == "" {
			return nil, nil, fmt.Errorf("anthropic: tool %q is missing description", def.Name)
		}
		schema, err := toolInputSchema(def.InputSchema)
		if err != nil {
			return nil, nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, sanitized)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	return toolList, sanToCanon, nil
}

func toolInputSchema(schema any) (sdk.ToolInputSchemaParam, error) {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var raw json.RawMessage
	switch v := schema.(type) {
	case json.RawMessage:
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return sdk.ToolInputSchemaParam{}, err
		}
		raw = data
	}
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

// sanitizeToolName maps a canonical tool identifier to the character set
// allowed by Anthropic tool naming constraints (alnum, '_', '-').
func sanitizeToolName(in string) string {
	if in == "" || isProviderSafeToolName(in) {
		return in
	}
	out := make([]rune, 0, len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func isProviderSafeToolName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func translateResponse(msg *sdk.Message, nameMap map[string]string) (*model.Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	resp := &model.Response{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			resp.Content = append(resp.Content, model.Message{
				Role:  model.ConversationRoleAssistant,
				Parts: []model.Part{model.TextPart{Text: block.Text}},
			})
		case "tool_use":
			name := block.Name
			if canonical, ok := nameMap[name]; ok {
				name = canonical
			}
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
				ID:      block.ID,
				Name:    name,
				Payload: block.Input,
			})
		}
	}
	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(u.InputTokens),
			OutputTokens: int(u.OutputTokens),
		}
	}
	resp.StopReason = translateStopReason(string(msg.StopReason))
	return resp, nil
}

func translateStopReason(reason string) model.StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return model.StopReasonEndTurn
	case "tool_use":
		return model.StopReasonToolUse
	case "refusal":
		return model.StopReasonRefusal
	case "max_tokens":
		return model.StopReasonMaxTokens
	default:
		return model.StopReasonEndTurn
	}
}
