package httpmw

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMaxBody_UnderLimit(t *testing.T) {
	var body []byte
	var readErr error
	h := MaxBody(64)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, readErr = io.ReadAll(r.Body)
	}))

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small payload"))
	h.ServeHTTP(httptest.NewRecorder(), r)

	if readErr != nil {
		t.Fatalf("read error: %v", readErr)
	}
	if string(body) != "small payload" {
		t.Fatalf("body = %q", body)
	}
}

func TestMaxBody_OverLimit(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 100)))
	h.ServeHTTP(httptest.NewRecorder(), r)

	var maxErr *http.MaxBytesError
	if !errors.As(readErr, &maxErr) {
		t.Fatalf("err = %v, want *http.MaxBytesError", readErr)
	}
}
