package shield

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Rule admits Burst requests per client, refilled evenly over Per.
type Rule struct {
	Burst   int
	Per     time.Duration
	Enabled bool
}

// bucket is a token bucket. Tokens are fractional so slow refill rates work.
type bucket struct {
	tokens float64
	seen   time.Time
}

// RateLimiter limits each client IP per route with token buckets whose rules
// live in the rate_rules table.
type RateLimiter struct {
	db  *sql.DB
	now func() time.Time

	mu      sync.Mutex
	rules   map[string]Rule
	buckets map[string]*bucket
}

// NewRateLimiter loads the rules from db. A load failure leaves the limiter
// open until the next successful Reload.
func NewRateLimiter(db *sql.DB) *RateLimiter {
	rl := &RateLimiter{
		db:      db,
		now:     time.Now,
		rules:   map[string]Rule{},
		buckets: map[string]*bucket{},
	}
	if err := rl.Reload(context.Background()); err != nil {
		GetLogger(context.Background()).Warn("ratelimit: initial load", "error", err)
	}
	return rl
}

// Reload replaces the rules with the rate_rules rows.
func (rl *RateLimiter) Reload(ctx context.Context) error {
	rows, err := rl.db.QueryContext(ctx, `SELECT route, burst, per_seconds, enabled FROM rate_rules`)
	if err != nil {
		return err
	}
	defer rows.Close()

	rules := map[string]Rule{}
	for rows.Next() {
		var route string
		var r Rule
		var secs int
		if err := rows.Scan(&route, &r.Burst, &secs, &r.Enabled); err != nil {
			return err
		}
		r.Per = time.Duration(secs) * time.Second
		rules[route] = r
	}
	if err := rows.Err(); err != nil {
		return err
	}

	rl.mu.Lock()
	rl.rules = rules
	rl.mu.Unlock()
	return nil
}

// Run reloads the rules and drops full buckets every interval until ctx is
// done.
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := rl.Reload(ctx); err != nil && ctx.Err() == nil {
				GetLogger(ctx).Warn("ratelimit: reload", "error", err)
			}
			rl.prune()
		}
	}
}

// prune forgets buckets that have refilled completely; they are
// indistinguishable from new ones.
func (rl *RateLimiter) prune() {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		route, _, _ := strings.Cut(key, "|")
		r, ok := rl.rules[route]
		if !ok || refill(b, r, now) >= float64(r.Burst) {
			delete(rl.buckets, key)
		}
	}
}

func refill(b *bucket, r Rule, now time.Time) float64 {
	rate := float64(r.Burst) / r.Per.Seconds()
	return math.Min(float64(r.Burst), b.tokens+now.Sub(b.seen).Seconds()*rate)
}

// take spends one token and reports the wait before the next one when the
// bucket is empty.
func (rl *RateLimiter) take(route, ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	r, ok := rl.rules[route]
	if !ok || !r.Enabled || r.Burst <= 0 || r.Per <= 0 {
		return true, 0
	}
	now := rl.now()
	key := route + "|" + ip
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(r.Burst), seen: now}
		rl.buckets[key] = b
	}
	b.tokens, b.seen = refill(b, r, now), now
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	rate := float64(r.Burst) / r.Per.Seconds()
	return false, time.Duration((1 - b.tokens) / rate * float64(time.Second))
}

// Middleware enforces the rules with a JSON 429 and a Retry-After header.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path
		ip := ExtractIP(r)
		allowed, wait := rl.take(route, ip)
		if allowed {
			next.ServeHTTP(w, r)
			return
		}
		GetLogger(r.Context()).Warn("ratelimit: blocked", "ip", ip, "route", route)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "请求过于频繁，请稍后再试"})
	})
}

// ExtractIP returns the first X-Forwarded-For hop, else the RemoteAddr host.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
