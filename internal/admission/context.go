package admission

import (
	"context"

	"github.com/coursekit/admission/internal/ratelimit"
)

type decisionKey struct{}

// WithDecision stores the admission decision for downstream handlers.
func WithDecision(ctx context.Context, d ratelimit.Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// DecisionFromContext returns the decision recorded for this call, if
// any. ok is false when the call never went through admission.
func DecisionFromContext(ctx context.Context) (ratelimit.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(ratelimit.Decision)
	return d, ok
}
