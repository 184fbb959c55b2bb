package admission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/coursekit/admission/internal/clock"
	"github.com/coursekit/admission/internal/identity"
	"github.com/coursekit/admission/internal/ratelimit"
	"github.com/coursekit/admission/internal/store"
)

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	denied   map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{outcomes: map[string]int{}, denied: map[string]int{}}
}

func (f *fakeMetrics) IncAdmissionCheck(op, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[op+"/"+outcome]++
}

func (f *fakeMetrics) IncAdmissionDenied(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied[op]++
}

func newTestLimiter(t *testing.T) (*ratelimit.Limiter, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := store.NewMemory(ctx, store.WithClock(clk), store.WithSweepInterval(0))
	return ratelimit.New(s, ratelimit.WithLimiterClock(clk)), clk
}

func userRequest(userID string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/courses", http.NoBody)
	return r.WithContext(identity.WithCaller(r.Context(), identity.Caller{UserID: userID}))
}

func testConfig(requests int64, window time.Duration) ratelimit.Config {
	return ratelimit.Config{
		Requests:  requests,
		Window:    window,
		KeyPrefix: "api",
		Strategy:  ratelimit.StrategyUser,
	}
}

func TestMiddleware_AllowsWithinBudget(t *testing.T) {
	l, _ := newTestLimiter(t)
	fm := newFakeMetrics()
	var handlerCalls int

	h := Middleware(l, testConfig(3, time.Minute), fm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, userRequest("u1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}
	if handlerCalls != 3 {
		t.Fatalf("handler calls = %d, want 3", handlerCalls)
	}
	if fm.outcomes["api/allowed"] != 3 {
		t.Fatalf("allowed outcomes = %d, want 3", fm.outcomes["api/allowed"])
	}
}

func TestMiddleware_DeniesOverBudget(t *testing.T) {
	l, _ := newTestLimiter(t)
	fm := newFakeMetrics()
	var handlerCalls int

	h := Middleware(l, testConfig(2, time.Minute), fm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalls++
	}))

	h.ServeHTTP(httptest.NewRecorder(), userRequest("u1"))
	h.ServeHTTP(httptest.NewRecorder(), userRequest("u1"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, userRequest("u1"))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if handlerCalls != 2 {
		t.Fatalf("handler calls = %d, want 2 (denied request must not reach handler)", handlerCalls)
	}
	if fm.denied["api"] != 1 {
		t.Fatalf("denied count = %d, want 1", fm.denied["api"])
	}
}

func TestMiddleware_DeniedBodyShape(t *testing.T) {
	l, _ := newTestLimiter(t)

	h := Middleware(l, testConfig(1, time.Minute), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), userRequest("u1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, userRequest("u1"))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var body deniedBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "rate_limited" {
		t.Fatalf("error = %q", body.Error)
	}
	if body.Limit != 1 {
		t.Fatalf("limit = %d, want 1", body.Limit)
	}
	if body.CurrentRequests != 2 {
		t.Fatalf("current_requests = %d, want 2", body.CurrentRequests)
	}
	if body.WindowSize != 60 {
		t.Fatalf("window_size = %d, want 60", body.WindowSize)
	}
	if body.RetryAfter < 1 || body.RetryAfter > 60 {
		t.Fatalf("retry_after = %d, want within [1,60]", body.RetryAfter)
	}
	if body.Message == "" {
		t.Fatal("message empty")
	}
}

func TestMiddleware_DeniedHeaders(t *testing.T) {
	l, clk := newTestLimiter(t)

	h := Middleware(l, testConfig(1, time.Minute), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), userRequest("u1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, userRequest("u1"))

	if got := rec.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Fatalf("X-RateLimit-Limit = %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q", got)
	}

	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retry < 1 || retry > 60 {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}

	reset, err := strconv.ParseInt(rec.Header().Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		t.Fatalf("X-RateLimit-Reset = %q", rec.Header().Get("X-RateLimit-Reset"))
	}
	if reset <= clk.Now().Unix() {
		t.Fatalf("reset %d not in the future (now %d)", reset, clk.Now().Unix())
	}
}

func TestMiddleware_SuccessHeaders(t *testing.T) {
	l, _ := newTestLimiter(t)

	h := Middleware(l, testConfig(5, time.Minute), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, userRequest("u1"))

	if got := rec.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("X-RateLimit-Limit = %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Fatalf("X-RateLimit-Remaining = %q", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatal("X-RateLimit-Reset missing")
	}
	if rec.Header().Get("Retry-After") != "" {
		t.Fatal("Retry-After must not appear on allowed responses")
	}
}

func TestMiddleware_DecisionInContext(t *testing.T) {
	l, _ := newTestLimiter(t)

	var d ratelimit.Decision
	var ok bool
	h := Middleware(l, testConfig(5, time.Minute), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, ok = DecisionFromContext(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), userRequest("u1"))

	if !ok {
		t.Fatal("decision missing from request context")
	}
	if !d.Allowed || d.Remaining != 4 || d.Current != 1 {
		t.Fatalf("decision = %+v", d)
	}
}

func TestMiddleware_UnmeteredSkipsHeaders(t *testing.T) {
	l, _ := newTestLimiter(t)
	fm := newFakeMetrics()

	h := Middleware(l, testConfig(5, time.Minute), fm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// No caller identity and no client IP: default allow policy admits
	// unmetered.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/courses", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatal("unmetered response must not carry quota headers")
	}
	if fm.outcomes["api/unmetered"] != 1 {
		t.Fatalf("unmetered outcomes = %d, want 1", fm.outcomes["api/unmetered"])
	}
}

func TestMiddleware_WindowRolloverReadmits(t *testing.T) {
	l, clk := newTestLimiter(t)

	h := Middleware(l, testConfig(1, time.Minute), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), userRequest("u1"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, userRequest("u1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	clk.Advance(time.Minute)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, userRequest("u1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status after window rollover = %d, want 200", rec.Code)
	}
}

func TestHandler_GuardsSingleRoute(t *testing.T) {
	l, _ := newTestLimiter(t)

	h := Handler(l, testConfig(1, time.Minute), nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, userRequest("u1"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, userRequest("u1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestDecisionFromContext_Absent(t *testing.T) {
	if _, ok := DecisionFromContext(context.Background()); ok {
		t.Fatal("expected no decision in fresh context")
	}
}
