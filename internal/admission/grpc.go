package admission

import (
	"context"
	"fmt"
	"net"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/coursekit/admission/internal/identity"
	"github.com/coursekit/admission/internal/ratelimit"
)

// Incoming metadata keys set by the auth layer, lowercase per gRPC
// metadata convention.
const (
	MetadataAuthUser = "x-auth-user"
	MetadataAuthOrg  = "x-auth-org"
)

// MethodConfigs maps full gRPC method names ("/pkg.Service/Method") to
// limiter configs. Methods without an entry use the fallback config;
// a nil fallback leaves them unguarded. ExemptServices lists services
// the fallback never applies to, such as grpc.health.v1.Health, so
// load-balancer probes do not consume caller budgets.
type MethodConfigs struct {
	PerMethod      map[string]ratelimit.Config
	Fallback       *ratelimit.Config
	ExemptServices []string
}

func (mc MethodConfigs) lookup(fullMethod string) (ratelimit.Config, bool) {
	if cfg, ok := mc.PerMethod[fullMethod]; ok {
		return cfg, true
	}
	svc := serviceName(fullMethod)
	for _, exempt := range mc.ExemptServices {
		if svc == exempt {
			return ratelimit.Config{}, false
		}
	}
	if mc.Fallback != nil {
		return *mc.Fallback, true
	}
	return ratelimit.Config{}, false
}

// serviceName extracts "pkg.Service" from "/pkg.Service/Method".
func serviceName(fullMethod string) string {
	s := strings.TrimPrefix(fullMethod, "/")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i]
	}
	return s
}

// UnaryServerInterceptor guards unary RPCs in the procedure chain the
// same way Middleware guards HTTP routes. Caller identity comes from
// incoming metadata, network origin from the peer address, and denials
// become ResourceExhausted with QuotaFailure and RetryInfo details so
// generated clients can back off mechanically.
func UnaryServerInterceptor(l *ratelimit.Limiter, configs MethodConfigs, m Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		cfg, guarded := configs.lookup(info.FullMethod)
		if !guarded {
			return handler(ctx, req)
		}

		ctx = annotateIdentity(ctx)

		d := l.Check(ctx, cfg)
		record(m, cfg, d)

		if !d.Allowed {
			return nil, deniedStatus(cfg, d).Err()
		}

		return handler(WithDecision(ctx, d), req)
	}
}

// annotateIdentity lifts caller identity out of gRPC transport state so
// the identifier strategies see the same context shape as HTTP.
func annotateIdentity(ctx context.Context) context.Context {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		c := identity.Caller{
			UserID: firstMD(md, MetadataAuthUser),
			OrgID:  firstMD(md, MetadataAuthOrg),
		}
		if !c.Anonymous() {
			ctx = identity.WithCaller(ctx, c)
		}
	}
	if identity.ClientIPFromContext(ctx) == "" {
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			ctx = identity.WithClientIP(ctx, hostOnly(p.Addr.String()))
		}
	}
	return ctx
}

func firstMD(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func deniedStatus(cfg ratelimit.Config, d ratelimit.Decision) *status.Status {
	st := status.New(codes.ResourceExhausted,
		fmt.Sprintf("rate limit exceeded: %d requests per %d seconds", d.Limit, int64(cfg.Window.Seconds())))

	quota := &errdetails.QuotaFailure{
		Violations: []*errdetails.QuotaFailure_Violation{{
			Subject:     cfg.KeyPrefix,
			Description: fmt.Sprintf("current %d of limit %d per %s window", d.Current, d.Limit, cfg.Window),
		}},
	}
	retry := &errdetails.RetryInfo{
		RetryDelay: durationpb.New(d.RetryAfter),
	}

	detailed, err := st.WithDetails(quota, retry)
	if err != nil {
		// detail marshaling should never fail for these types; keep the
		// bare status rather than drop the denial
		return st
	}
	return detailed
}
