package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPDecodeResult is what a decode function hands to RegisterMCPTool.
// EnrichCtx, when set, decorates the endpoint context.
type MCPDecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

// RegisterMCPTool exposes endpoint as an MCP tool. Bad arguments and
// endpoint failures come back as tool errors carrying the message; the
// protocol call itself always succeeds. The endpoint context carries
// transport "mcp".
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(*mcp.CallToolRequest) (*MCPDecodeResult, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in, err := decode(req)
		if err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		ctx = WithTransport(ctx, "mcp")
		if in.EnrichCtx != nil {
			ctx = in.EnrichCtx(ctx)
		}
		out, err := endpoint(ctx, in.Request)
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(out), nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	res := &mcp.CallToolResult{}
	res.SetError(err)
	return res
}

func toolJSON(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError(fmt.Errorf("marshal: %w", err))
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}
}

// DecodeArgs decodes tool arguments into a new *T; no arguments yield the
// zero value.
func DecodeArgs[T any]() func(*mcp.CallToolRequest) (*MCPDecodeResult, error) {
	return func(r *mcp.CallToolRequest) (*MCPDecodeResult, error) {
		p := new(T)
		if r.Params == nil || len(r.Params.Arguments) == 0 {
			return &MCPDecodeResult{Request: p}, nil
		}
		if err := json.Unmarshal(r.Params.Arguments, p); err != nil {
			return nil, err
		}
		return &MCPDecodeResult{Request: p}, nil
	}
}

// InputSchema builds an object schema from properties and required names.
func InputSchema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
