package admission

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/coursekit/admission/internal/ratelimit"
)

// Metrics is the slice of the metrics surface admission reports to.
// Nil is fine; enforcement never depends on observability.
type Metrics interface {
	IncAdmissionCheck(operation, outcome string)
	IncAdmissionDenied(operation string)
}

// deniedBody is the JSON payload returned with a 429.
type deniedBody struct {
	Error           string `json:"error"`
	Message         string `json:"message"`
	CurrentRequests int64  `json:"current_requests"`
	Limit           int64  `json:"limit"`
	RetryAfter      int64  `json:"retry_after"`
	WindowSize      int64  `json:"window_size"`
}

// Middleware guards every request to the wrapped handler with cfg.
// Allowed requests proceed with RateLimit headers set and the Decision
// in context; denied requests get 429 with machine-readable retry
// guidance and never reach the handler.
func Middleware(l *ratelimit.Limiter, cfg ratelimit.Config, m Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Check(r.Context(), cfg)
			record(m, cfg, d)

			if !d.Allowed {
				writeDenied(w, cfg, d)
				return
			}

			setQuotaHeaders(w, d)
			next.ServeHTTP(w, r.WithContext(WithDecision(r.Context(), d)))
		})
	}
}

// Handler is Middleware applied directly, for guarding a single route.
func Handler(l *ratelimit.Limiter, cfg ratelimit.Config, m Metrics, next http.Handler) http.Handler {
	return Middleware(l, cfg, m)(next)
}

func record(m Metrics, cfg ratelimit.Config, d ratelimit.Decision) {
	if m == nil {
		return
	}
	switch {
	case !d.Allowed:
		m.IncAdmissionCheck(cfg.KeyPrefix, "denied")
		m.IncAdmissionDenied(cfg.KeyPrefix)
	case d.Unmetered:
		m.IncAdmissionCheck(cfg.KeyPrefix, "unmetered")
	default:
		m.IncAdmissionCheck(cfg.KeyPrefix, "allowed")
	}
}

// setQuotaHeaders advertises remaining budget on metered responses.
// Unmetered admissions carry no headers; there is no counter behind
// them to report.
func setQuotaHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Unmetered {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
}

func writeDenied(w http.ResponseWriter, cfg ratelimit.Config, d ratelimit.Decision) {
	retry := d.RetryAfterSeconds()
	windowSecs := int64(cfg.Window.Seconds())

	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", "0")
	if !d.Reset.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	}
	h.Set("Retry-After", strconv.FormatInt(retry, 10))
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(deniedBody{
		Error:           "rate_limited",
		Message:         fmt.Sprintf("rate limit exceeded: %d requests per %d seconds", d.Limit, windowSecs),
		CurrentRequests: d.Current,
		Limit:           d.Limit,
		RetryAfter:      retry,
		WindowSize:      windowSecs,
	})
}
