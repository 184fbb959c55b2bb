package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coursekit/admission/internal/identity"
)

func TestCallerIdentity_BothHeaders(t *testing.T) {
	var got identity.Caller
	h := CallerIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = identity.CallerFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.Header.Set(HeaderAuthUser, "u_42")
	r.Header.Set(HeaderAuthOrg, "o_7")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got.UserID != "u_42" || got.OrgID != "o_7" {
		t.Fatalf("caller = %+v", got)
	}
}

func TestCallerIdentity_UserOnly(t *testing.T) {
	var got identity.Caller
	h := CallerIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = identity.CallerFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.Header.Set(HeaderAuthUser, "u_42")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got.UserID != "u_42" || got.OrgID != "" {
		t.Fatalf("caller = %+v", got)
	}
}

func TestCallerIdentity_NoHeadersStaysAnonymous(t *testing.T) {
	var got identity.Caller
	h := CallerIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = identity.CallerFromContext(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if !got.Anonymous() {
		t.Fatalf("expected anonymous caller, got %+v", got)
	}
}
