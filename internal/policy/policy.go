// Package policy turns serializable rate-limit policy documents into
// validated limiter configs. A document is plain JSON: per-operation
// request budgets plus a named identifier strategy, so operators can
// inspect and diff limits without reading code.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/coursekit/admission/internal/ratelimit"
	"github.com/coursekit/admission/internal/xerrors"
)

// Operation is one protected operation's limit as written in a policy
// document.
type Operation struct {
	// Name identifies the protected operation ("courses.list",
	// "org.invite", ...). Also the default key prefix.
	Name string `json:"name"`

	Requests      int64 `json:"requests"`
	WindowSeconds int64 `json:"window_seconds"`

	// KeyPrefix overrides the prefix derived from Name.
	KeyPrefix string `json:"key_prefix,omitempty"`

	// Strategy names the identifier strategy: user|org|ip|default.
	Strategy string `json:"strategy,omitempty"`
}

// Document is the root of a policy file or SSM parameter.
type Document struct {
	Operations []Operation `json:"operations"`
}

// Defaults is the built-in document used when no policy source is
// configured: a permissive per-caller default for the API surface and a
// strict per-org budget for outbound webhook relays.
func Defaults() Document {
	return Document{Operations: []Operation{
		{Name: "api", Requests: 100, WindowSeconds: 60, Strategy: "default"},
		{Name: "relay", Requests: 3, WindowSeconds: 3600, Strategy: "org"},
	}}
}

// Compile validates a document and resolves it into limiter configs
// keyed by operation name. All problems are reported together so an
// operator can fix a document in one pass.
func Compile(doc Document) (map[string]ratelimit.Config, error) {
	if len(doc.Operations) == 0 {
		return nil, xerrors.New("policy document has no operations")
	}

	out := make(map[string]ratelimit.Config, len(doc.Operations))
	var errs []string

	for _, op := range doc.Operations {
		if op.Name == "" {
			errs = append(errs, "operation with empty name")
			continue
		}
		if _, dup := out[op.Name]; dup {
			errs = append(errs, fmt.Sprintf("duplicate operation %q", op.Name))
			continue
		}

		strat, err := ratelimit.ParseStrategy(op.Strategy)
		if err != nil {
			errs = append(errs, fmt.Sprintf("operation %q: %v", op.Name, err))
			continue
		}

		prefix := op.KeyPrefix
		if prefix == "" {
			prefix = derivePrefix(op.Name)
		}

		cfg := ratelimit.Config{
			Requests:  op.Requests,
			Window:    time.Duration(op.WindowSeconds) * time.Second,
			KeyPrefix: prefix,
			Strategy:  strat,
		}
		if err := cfg.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("operation %q: %v", op.Name, err))
			continue
		}
		out[op.Name] = cfg
	}

	if len(errs) > 0 {
		return nil, xerrors.Newf("invalid policy document: %s", strings.Join(errs, "; "))
	}
	return out, nil
}

// derivePrefix makes an operation name safe as a counter key prefix.
func derivePrefix(name string) string {
	return "rl_" + strings.ReplaceAll(name, ":", "_")
}
