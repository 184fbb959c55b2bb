// Package admission enforces rate-limit decisions at the transport
// edges. The HTTP middleware and the gRPC unary interceptor share one
// Limiter; each translates its Decision into transport-native denial
// shapes (429 + RateLimit headers, ResourceExhausted + QuotaFailure)
// and stashes the Decision in the request context for handlers that
// want to surface quota state.
package admission
