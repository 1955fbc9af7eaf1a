// Package kit carries the caller's identity across the HTTP and MCP surfaces
// and adapts typed handlers into MCP tools.
package kit

import "context"

type ctxKey int

const (
	userKey ctxKey = iota
	roleKey
	traceKey
	transportKey
)

// Transport names the surface a call arrived on.
type Transport string

const (
	HTTP Transport = "http"
	MCP  Transport = "mcp"
)

// WithUser binds the acting user and their role.
func WithUser(ctx context.Context, id, role string) context.Context {
	ctx = context.WithValue(ctx, userKey, id)
	return context.WithValue(ctx, roleKey, role)
}

// UserID returns the acting user, or "".
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userKey).(string)
	return v
}

// Role returns the acting user's role, or "".
func Role(ctx context.Context) string {
	v, _ := ctx.Value(roleKey).(string)
	return v
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey, id)
}

func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceKey).(string)
	return v
}

func WithTransport(ctx context.Context, t Transport) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// TransportOf defaults to HTTP.
func TransportOf(ctx context.Context) Transport {
	if v, ok := ctx.Value(transportKey).(Transport); ok {
		return v
	}
	return HTTP
}
