package httpmw

import "net/http"

// Chain wraps h so the first middleware listed sees the request first.
// Nil entries are allowed and skipped, which lets callers keep optional
// middleware in a fixed slice.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mw := mws[i]; mw != nil {
			h = mw(h)
		}
	}
	return h
}
