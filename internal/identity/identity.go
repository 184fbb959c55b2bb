// Package identity carries the already-authenticated caller through
// request context. Authentication itself happens upstream (session
// service or auth proxy); this package only consumes its result.
package identity

import "context"

// Caller is the resolved identity attached to a request. Zero value
// means anonymous.
type Caller struct {
	UserID string
	OrgID  string
}

func (c Caller) Anonymous() bool { return c.UserID == "" && c.OrgID == "" }

type ctxKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	if c.Anonymous() {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, c)
}

// CallerFromContext returns the caller stored in ctx, or a zero Caller.
func CallerFromContext(ctx context.Context) Caller {
	c, _ := ctx.Value(ctxKey{}).(Caller)
	return c
}

type clientIPKey struct{}

// WithClientIP stores the resolved network origin (transport middleware
// decides what to trust before calling this).
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the resolved client address, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
