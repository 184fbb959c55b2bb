package httpmw

import "net/http"

// MaxBody caps request body size with http.MaxBytesReader. Handlers
// that read past the cap get *http.MaxBytesError and the connection is
// closed after the response.
func MaxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
