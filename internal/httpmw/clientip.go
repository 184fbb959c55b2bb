package httpmw

import (
	"net"
	"net/http"
	"strings"

	"github.com/coursekit/admission/internal/identity"
)

// ClientIPOptions configures client IP extraction behavior.
type ClientIPOptions struct {
	// TrustedHops is the number of trusted reverse proxies between the client
	// and this server. 0 = no proxies (X-Forwarded-For ignored), 1 = single ALB
	// (rightmost XFF entry), 2 = CDN + ALB (second from end), etc.
	TrustedHops int
}

// ClientIP extracts the client IP address from the request and stores
// it in the context, where the ip identifier strategy picks it up.
// Uses default options (TrustedHops=0: X-Forwarded-For is ignored).
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions returns middleware that extracts the client IP using the
// given options.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractRealClientAddr(r, opts.TrustedHops)
			ctx := identity.WithClientIP(r.Context(), ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractRealClientAddr resolves the address anonymous quotas key on.
// A spoofable identifier would let callers mint fresh buckets at will,
// so X-Forwarded-For is honored only when the direct peer is private
// (our own infrastructure) and trustedHops says how deep the proxy
// chain is.
func extractRealClientAddr(r *http.Request, trustedHops int) string {
	// should never happen
	if r.RemoteAddr == "" {
		return "0.0.0.0"
	}

	clientAddr, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// malformed remote addr, return r.RemoteAddr
		return r.RemoteAddr
	}

	ip := net.ParseIP(clientAddr)
	if ip == nil {
		// malformed remote addr, return 0.0.0.0
		return "0.0.0.0"
	}

	if !ip.IsPrivate() || trustedHops <= 0 {
		// not from our infrastructure, or no trusted proxies configured:
		// dont trust forwarded headers, clear them so no downstream
		// middleware accidentally trusts them
		r.Header.Del("X-Forwarded-For")
		r.Header.Del("X-Forwarded-Proto")
		return clientAddr
	}

	// trustedHops=1 means take the right-most X-Forwarded-For entry,
	// which is our most common case of a single ALB in front. If
	// trustedHops > 1, select the Nth-from-end entry, which correctly
	// handles multiple proxies (e.g. CDN -> ALB -> app = trustedHops 2).
	// If there are fewer entries than expected fail closed and ignore
	// the header.
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		idx := len(parts) - trustedHops
		if idx < 0 {
			// fewer entries than expected proxies - misconfiguration or
			// manipulation. fail closed: strip headers, use RemoteAddr
			r.Header.Del("X-Forwarded-For")
			r.Header.Del("X-Forwarded-Proto")
			return clientAddr
		}
		if candidate := strings.TrimSpace(parts[idx]); net.ParseIP(candidate) != nil {
			clientAddr = candidate
		}
	}

	return clientAddr
}
