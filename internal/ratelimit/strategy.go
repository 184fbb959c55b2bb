package ratelimit

import (
	"context"
	"fmt"

	"github.com/coursekit/admission/internal/identity"
)

// Strategy resolves the identifier a quota is scoped to. Returning
// false means no meaningful identity; the limiter's unidentified policy
// decides what happens then.
//
// Strategies are a small enumerated set resolved by name from policy
// documents rather than arbitrary closures, so configuration stays
// inspectable and serializable.
type Strategy interface {
	Resolve(ctx context.Context) (string, bool)
	Name() string
}

type userStrategy struct{}

func (userStrategy) Name() string { return "user" }
func (userStrategy) Resolve(ctx context.Context) (string, bool) {
	if c := identity.CallerFromContext(ctx); c.UserID != "" {
		return "user:" + c.UserID, true
	}
	return "", false
}

type orgStrategy struct{}

func (orgStrategy) Name() string { return "org" }
func (orgStrategy) Resolve(ctx context.Context) (string, bool) {
	if c := identity.CallerFromContext(ctx); c.OrgID != "" {
		return "org:" + c.OrgID, true
	}
	return "", false
}

type ipStrategy struct{}

func (ipStrategy) Name() string { return "ip" }
func (ipStrategy) Resolve(ctx context.Context) (string, bool) {
	if ip := identity.ClientIPFromContext(ctx); ip != "" {
		return "ip:" + ip, true
	}
	return "", false
}

// defaultStrategy prefers the authenticated user and falls back to the
// network origin for anonymous callers.
type defaultStrategy struct{}

func (defaultStrategy) Name() string { return "default" }
func (defaultStrategy) Resolve(ctx context.Context) (string, bool) {
	if id, ok := (userStrategy{}).Resolve(ctx); ok {
		return id, true
	}
	return (ipStrategy{}).Resolve(ctx)
}

var (
	StrategyUser    Strategy = userStrategy{}
	StrategyOrg     Strategy = orgStrategy{}
	StrategyIP      Strategy = ipStrategy{}
	StrategyDefault Strategy = defaultStrategy{}
)

// ParseStrategy maps a policy-document name to a Strategy. Empty means
// default.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "", "default":
		return StrategyDefault, nil
	case "user":
		return StrategyUser, nil
	case "org":
		return StrategyOrg, nil
	case "ip":
		return StrategyIP, nil
	default:
		return nil, fmt.Errorf("unknown identifier strategy %q (valid: user|org|ip|default)", name)
	}
}
