package kit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Handler serves one tool call. The returned value is sent back as JSON text.
type Handler[Req any] func(ctx context.Context, req *Req) (any, error)

// Guard vets a call after binding and before the handler runs.
type Guard func(ctx context.Context) error

// ErrNoUser is returned by RequireUser.
var ErrNoUser = errors.New("kit: no user bound to the call")

// RequireUser rejects calls whose context carries no user.
func RequireUser(ctx context.Context) error {
	if UserID(ctx) == "" {
		return ErrNoUser
	}
	return nil
}

// Binder decorates the context of every call, typically with WithUser.
type Binder func(context.Context) context.Context

// AddTool registers h on srv. Arguments are decoded into a fresh Req, bind
// runs if non-nil, then the guards in order. Failures come back as tool
// error results so the session survives them.
func AddTool[Req any](srv *mcp.Server, tool *mcp.Tool, bind Binder, h Handler[Req], guards ...Guard) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req := new(Req)
		if args := call.Params.Arguments; len(args) > 0 && string(args) != "null" {
			if err := json.Unmarshal(args, req); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		ctx = WithTransport(ctx, MCP)
		if bind != nil {
			ctx = bind(ctx)
		}
		for _, g := range guards {
			if err := g(ctx); err != nil {
				return toolError(err), nil
			}
		}
		out, err := h(ctx, req)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(out)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

// ObjectSchema builds a JSON Schema object for a tool's input.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	sc := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		sc["required"] = required
	}
	return sc
}
