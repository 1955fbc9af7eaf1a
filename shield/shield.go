// Package shield is the HTTP middleware in front of every coverbridge route:
// hardening headers and body cap, request tracing, and per-client rate
// limits read from SQLite.
//
//	rl := shield.NewRateLimiter(db)
//	go rl.Run(ctx, time.Minute)
//	for _, mw := range shield.DefaultStack(rl, 300<<20) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

type contextKey int

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = 0

// DefaultStack orders Harden, TraceID, then the limiter so that rejected
// requests are still traced. A nil limiter disables rate limiting.
func DefaultStack(rl *RateLimiter, maxBody int64) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{Harden(maxBody), TraceID}
	if rl != nil {
		stack = append(stack, rl.Middleware)
	}
	return stack
}
