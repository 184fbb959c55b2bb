package httpmw

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AnnotateHTTPRoute renames the active span after routing so it carries
// the chi route pattern ("/api/v1/relay/{hook}") instead of the raw URL.
// Runs after next because the pattern is only final once chi matched.
func AnnotateHTTPRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		ctx := r.Context()
		span := trace.SpanFromContext(ctx)
		if span == nil || !span.IsRecording() {
			return
		}

		pattern := ""
		if rc := chi.RouteContext(ctx); rc != nil {
			pattern = rc.RoutePattern()
		}
		if pattern == "" {
			pattern = r.URL.Path
		}

		span.SetAttributes(attribute.String("http.route", pattern))
		span.SetName(r.Method + " " + pattern)
	})
}
