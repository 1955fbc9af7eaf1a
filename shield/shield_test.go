package shield

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/coverbridge/dbopen"
	"github.com/hazyhaar/coverbridge/kit"
)

func ok(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) }

type limiterHarness struct {
	rl  *RateLimiter
	now time.Time
	h   http.Handler
}

func newLimiter(t *testing.T) *limiterHarness {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	lh := &limiterHarness{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	lh.rl = NewRateLimiter(db)
	lh.rl.now = func() time.Time { return lh.now }
	lh.h = lh.rl.Middleware(http.HandlerFunc(ok))
	return lh
}

func (lh *limiterHarness) do(method, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = ip + ":1234"
	rec := httptest.NewRecorder()
	lh.h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_Burst(t *testing.T) {
	// WHAT: the seeded login rule admits a burst of 10 then refills at one
	// token per 6 seconds.
	// WHY: the login form is the only unauthenticated credential check.
	lh := newLimiter(t)
	for i := range 10 {
		if rec := lh.do("POST", "/api/auth/login", "10.0.0.1"); rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: %d", i+1, rec.Code)
		}
	}
	rec := lh.do("POST", "/api/auth/login", "10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("11th attempt: %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "6" {
		t.Errorf("Retry-After = %q", got)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Errorf("body = %s", rec.Body)
	}

	if rec := lh.do("POST", "/api/auth/login", "10.0.0.2"); rec.Code != http.StatusOK {
		t.Errorf("other IP blocked: %d", rec.Code)
	}
	if rec := lh.do("GET", "/api/auth/login", "10.0.0.1"); rec.Code != http.StatusOK {
		t.Errorf("other method blocked: %d", rec.Code)
	}
	if rec := lh.do("GET", "/api/tasks", "10.0.0.1"); rec.Code != http.StatusOK {
		t.Errorf("unlisted route blocked: %d", rec.Code)
	}

	lh.now = lh.now.Add(6 * time.Second)
	if rec := lh.do("POST", "/api/auth/login", "10.0.0.1"); rec.Code != http.StatusOK {
		t.Errorf("after one refill: %d", rec.Code)
	}
	if rec := lh.do("POST", "/api/auth/login", "10.0.0.1"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("refill granted more than one token: %d", rec.Code)
	}
}

func TestRateLimiter_ReloadAndPrune(t *testing.T) {
	lh := newLimiter(t)
	ctx := context.Background()
	if err := SetRule(ctx, lh.rl.db, "GET /api/tasks", Rule{Burst: 1, Per: time.Minute, Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if rec := lh.do("GET", "/api/tasks", "10.0.0.1"); rec.Code != http.StatusOK {
		t.Fatalf("before reload: %d", rec.Code)
	}
	if err := lh.rl.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	lh.do("GET", "/api/tasks", "10.0.0.1")
	if rec := lh.do("GET", "/api/tasks", "10.0.0.1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("rule not applied after reload: %d", rec.Code)
	}

	SetRule(ctx, lh.rl.db, "GET /api/tasks", Rule{Burst: 1, Per: time.Minute, Enabled: false})
	lh.rl.Reload(ctx)
	if rec := lh.do("GET", "/api/tasks", "10.0.0.1"); rec.Code != http.StatusOK {
		t.Errorf("disabled rule still enforced: %d", rec.Code)
	}

	lh.now = lh.now.Add(time.Hour)
	lh.rl.prune()
	if n := len(lh.rl.buckets); n != 0 {
		t.Errorf("%d buckets left after prune", n)
	}
}

func TestApplyRules(t *testing.T) {
	// WHAT: configured rules replace seeded rows and add new routes; other
	// seeded rows survive.
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	ctx := context.Background()
	err := ApplyRules(ctx, db, map[string]Rule{
		"POST /api/auth/login": {Burst: 2, Per: 10 * time.Second, Enabled: true},
		"GET /api/tasks":       {Burst: 1, Per: time.Minute, Enabled: false},
	})
	if err != nil {
		t.Fatal(err)
	}
	rl := NewRateLimiter(db)
	want := map[string]Rule{
		"POST /api/auth/login": {Burst: 2, Per: 10 * time.Second, Enabled: true},
		"GET /api/tasks":       {Burst: 1, Per: time.Minute, Enabled: false},
		"POST /api/import":     {Burst: 6, Per: time.Minute, Enabled: true},
	}
	for route, w := range want {
		if got := rl.rules[route]; got != w {
			t.Errorf("%s = %+v, want %+v", route, got, w)
		}
	}

	err = ApplyRules(ctx, db, map[string]Rule{"GET /x": {Burst: 0, Per: time.Minute}})
	if err == nil || !strings.Contains(err.Error(), "GET /x") {
		t.Errorf("invalid burst: err = %v", err)
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if got := ExtractIP(req); got != "192.0.2.1" {
		t.Errorf("remote addr: %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ExtractIP(req); got != "203.0.113.9" {
		t.Errorf("xff: %q", got)
	}
}

func TestTraceID(t *testing.T) {
	var traceID string
	var hasLogger bool
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = kit.TraceID(r.Context())
		_, hasLogger = r.Context().Value(LoggerKey).(*slog.Logger)
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if len(traceID) != 16 || rec.Header().Get("X-Trace-ID") != traceID {
		t.Errorf("trace id %q header %q", traceID, rec.Header().Get("X-Trace-ID"))
	}
	if !hasLogger || rec.Code != http.StatusTeapot {
		t.Errorf("logger=%v code=%d", hasLogger, rec.Code)
	}
}

func TestHarden(t *testing.T) {
	var method string
	var readErr error
	h := Harden(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		_, readErr = io.ReadAll(r.Body)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("HEAD", "/health", nil))
	if method != http.MethodGet {
		t.Errorf("method = %s", method)
	}
	for _, k := range []string{"X-Content-Type-Options", "X-Frame-Options", "Cache-Control", "Content-Security-Policy"} {
		if rec.Header().Get(k) == "" {
			t.Errorf("missing %s", k)
		}
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/", strings.NewReader("0123456789abcdef")))
	var tooBig *http.MaxBytesError
	if !errors.As(readErr, &tooBig) {
		t.Errorf("read err = %v", readErr)
	}
}

func TestDefaultStack(t *testing.T) {
	if n := len(DefaultStack(nil, 1024)); n != 2 {
		t.Errorf("stack without limiter = %d", n)
	}
}
