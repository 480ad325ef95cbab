// Package toolsurface is the Tool Surface (§4.7 of the spec): a
// request/response tool router invoked by the external AI host, strictly
// read-only with respect to the developer's workspace. It enforces the
// read-only invariant at registration (no tool name may contain
// write|edit|create|delete|remove|modify), exposes the 14 paige_* tools
// over github.com/mark3labs/mcp-go, and logs every invocation as a
// system-class mcp_tool_call action.
//
// Grounded on runtime/agent/tools/enums.go's ParseX/Valid validation style
// and runtime/agent/tools/idempotency.go's tag-validation-at-registration
// pattern: failing fast on a malformed tool name at registration time
// rather than discovering it at call time.
package toolsurface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/aaronbassett/paige/internal/actionlog"
	"github.com/aaronbassett/paige/internal/telemetry"
)

// forbiddenVerb matches any tool name containing a mutating verb. The Tool
// Surface must never register a tool whose name matches this, per §4.7.
var forbiddenVerb = regexp.MustCompile(`(?i)write|edit|create|delete|remove|modify`)

// Namespace is the fixed prefix every tool name carries.
const Namespace = "paige_"

// Spec describes one tool's JSON Schema, matching §6's "type: object,
// properties map, required array" shape.
type Spec struct {
	Name        string
	Description string
	Properties  map[string]Property
	Required    []string
}

// Property is one JSON-Schema property entry for a tool parameter.
type Property struct {
	Type        string
	Description string
	Items       *Property // for Type == "array"
}

// Handler executes one tool call and returns its JSON-serializable result.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// ActionLogger records the mcp_tool_call system action for every
// invocation, per §4.7.
type ActionLogger interface {
	LogAction(ctx context.Context, sessionID uint64, actionType string, data json.RawMessage) (actionlog.Action, error)
}

// SessionIDFunc returns the currently active session ID, or 0 if none
// (used to stamp the mcp_tool_call action).
type SessionIDFunc func() uint64

// entry binds a Spec to its Handler.
type entry struct {
	spec    Spec
	handler Handler
}

// ErrReadOnlyViolation is returned by Register when name matches a
// forbidden mutating verb.
var ErrReadOnlyViolation = errors.New("toolsurface: tool name implies a mutating operation")

// ErrUnknownTool is returned by Dispatch for an unregistered tool name.
var ErrUnknownTool = errors.New("toolsurface: unknown tool")

// Registry holds the registered, validated tool set and dispatches calls
// to their handlers.
type Registry struct {
	tools     map[string]entry
	order     []string
	logger    ActionLogger
	sessionID SessionIDFunc
}

// New builds an empty Registry. logger/sessionIDFn may be nil, in which
// case invocations are not logged.
func New(logger ActionLogger, sessionIDFn SessionIDFunc) *Registry {
	return &Registry{
		tools:     make(map[string]entry),
		logger:    logger,
		sessionID: sessionIDFn,
	}
}

// Register adds a tool, failing fast if its name does not carry the fixed
// namespace or matches a forbidden mutating verb, per §4.7's read-only
// invariant.
func (r *Registry) Register(spec Spec, handler Handler) error {
	if spec.Name == "" {
		return errors.New("toolsurface: tool name is required")
	}
	if len(spec.Name) <= len(Namespace) || spec.Name[:len(Namespace)] != Namespace {
		return fmt.Errorf("toolsurface: tool %q must carry the %q namespace", spec.Name, Namespace)
	}
	if forbiddenVerb.MatchString(spec.Name) {
		return fmt.Errorf("%w: %q", ErrReadOnlyViolation, spec.Name)
	}
	if spec.Description == "" {
		return fmt.Errorf("toolsurface: tool %q must have a non-empty description", spec.Name)
	}
	if handler == nil {
		return fmt.Errorf("toolsurface: tool %q has no handler", spec.Name)
	}
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("toolsurface: tool %q already registered", spec.Name)
	}
	r.tools[spec.Name] = entry{spec: spec, handler: handler}
	r.order = append(r.order, spec.Name)
	return nil
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Spec returns the registered Spec for name.
func (r *Registry) Spec(name string) (Spec, bool) {
	e, ok := r.tools[name]
	return e.spec, ok
}

// Dispatch invokes the named tool's handler with args, logging an
// mcp_tool_call system action for the invocation regardless of outcome.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	e, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	ctx, span := telemetry.StartSpan(ctx, "toolsurface.Dispatch")
	defer span.End()

	result, err := e.handler(ctx, args)
	r.logCall(ctx, name, args, err)
	telemetry.RecordToolDispatch(ctx, name)
	return result, err
}

type toolCallData struct {
	Tool  string `json:"tool"`
	Args  any    `json:"args,omitempty"`
	Error string `json:"error,omitempty"`
}

func (r *Registry) logCall(ctx context.Context, name string, args map[string]any, callErr error) {
	if r.logger == nil {
		return
	}
	data := toolCallData{Tool: name, Args: args}
	if callErr != nil {
		data.Error = callErr.Error()
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	var sid uint64
	if r.sessionID != nil {
		sid = r.sessionID()
	}
	_, _ = r.logger.LogAction(ctx, sid, "mcp_tool_call", payload)
}
