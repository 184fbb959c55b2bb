package httpmw

import (
	"net/http"

	"github.com/coursekit/admission/internal/identity"
)

// Headers set by the auth proxy after session validation. They are only
// trusted because ClientIP has already stripped forwarded headers from
// requests that did not arrive through our own infrastructure; the same
// trust boundary applies here.
const (
	HeaderAuthUser = "X-Auth-User"
	HeaderAuthOrg  = "X-Auth-Org"
)

// CallerIdentity reads the upstream auth headers and attaches the
// resolved caller to the request context. Requests without the headers
// proceed as anonymous; the limiter's unidentified policy decides their
// fate per operation.
func CallerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := identity.Caller{
			UserID: r.Header.Get(HeaderAuthUser),
			OrgID:  r.Header.Get(HeaderAuthOrg),
		}
		if !c.Anonymous() {
			r = r.WithContext(identity.WithCaller(r.Context(), c))
		}
		next.ServeHTTP(w, r)
	})
}
