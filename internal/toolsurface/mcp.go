package toolsurface

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// getArgs extracts a tool call's arguments as a plain map, mirroring the
// teacher's MCP server's getArgs helper.
func getArgs(request mcp.CallToolRequest) map[string]any {
	if args, ok := request.Params.Arguments.(map[string]any); ok {
		return args
	}
	return make(map[string]any)
}

// MCPServer wraps a *Registry's tool set as a github.com/mark3labs/mcp-go
// server, translating each Spec into an mcp.Tool with the matching JSON
// Schema and each Dispatch call into an mcp.CallToolResult.
type MCPServer struct {
	registry *Registry
	mcp      *server.MCPServer
}

// NewMCPServer builds the MCP transport for every tool already registered
// on r. Tools must be registered before calling this, since mcp-go has no
// notion of adding a tool after the server has been constructed mid-run
// beyond AddTool, which this wraps per tool.
func NewMCPServer(name, version string, r *Registry) *MCPServer {
	srv := &MCPServer{
		registry: r,
		mcp: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(true),
		),
	}
	for _, toolName := range r.Names() {
		spec, _ := r.Spec(toolName)
		srv.mcp.AddTool(toMCPTool(spec), srv.handlerFor(toolName))
	}
	return srv
}

// toMCPTool translates a Spec's JSON Schema into mcp-go's option-based
// tool builder.
func toMCPTool(spec Spec) mcp.Tool {
	required := make(map[string]struct{}, len(spec.Required))
	for _, name := range spec.Required {
		required[name] = struct{}{}
	}

	opts := []mcp.ToolOption{mcp.WithDescription(spec.Description)}
	for name, prop := range spec.Properties {
		_, isRequired := required[name]
		opts = append(opts, propertyOption(name, prop, isRequired))
	}
	return mcp.NewTool(spec.Name, opts...)
}

// propertyOption translates a Property into the corresponding mcp-go
// WithX tool-parameter option. mcp-go's primitive parameter helpers cover
// string/number/boolean directly; array and object parameters (present in
// highlight_lines' "ranges" and hint_files' "paths") are declared as
// strings carrying a JSON-encoded value, with the expected shape spelled
// out in the description, since no array/object parameter builder is
// exercised anywhere in the retrieved pack.
func propertyOption(name string, prop Property, required bool) mcp.ToolOption {
	description := prop.Description
	if prop.Type == "array" || prop.Type == "object" {
		description = fmt.Sprintf("%s (JSON-encoded %s)", description, prop.Type)
	}

	var annotations []mcp.PropertyOption
	if description != "" {
		annotations = append(annotations, mcp.Description(description))
	}
	if required {
		annotations = append(annotations, mcp.Required())
	}

	switch prop.Type {
	case "integer", "number":
		return mcp.WithNumber(name, annotations...)
	case "boolean":
		return mcp.WithBoolean(name, annotations...)
	default:
		return mcp.WithString(name, annotations...)
	}
}

func (s *MCPServer) handlerFor(name string) server.ToolHandlerFunc {
	spec, _ := s.registry.Spec(name)
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := decodeStructuredArgs(spec, getArgs(request))
		result, err := s.registry.Dispatch(ctx, name, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if result == nil {
			return mcp.NewToolResultText("null"), nil
		}
		encoded, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(encoded)), nil
	}
}

// decodeStructuredArgs parses any array/object-typed argument that arrived
// as a JSON-encoded string (mcp-go's wire shape for those parameters, per
// propertyOption) back into a native []any/map[string]any before Dispatch
// sees it, so Registry handlers never need to know about the encoding.
func decodeStructuredArgs(spec Spec, args map[string]any) map[string]any {
	for name, prop := range spec.Properties {
		if prop.Type != "array" && prop.Type != "object" {
			continue
		}
		raw, ok := args[name].(string)
		if !ok || raw == "" {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			args[name] = decoded
		}
	}
	return args
}

// ServeStdio runs the MCP server over stdio, blocking until the stdio
// transport stops. ctx is not passed to the transport, so canceling it does
// not stop the server.
func (s *MCPServer) ServeStdio(ctx context.Context) error {
	if err := server.ServeStdio(s.mcp); err != nil {
		return fmt.Errorf("toolsurface: serve mcp stdio: %w", err)
	}
	return nil
}
