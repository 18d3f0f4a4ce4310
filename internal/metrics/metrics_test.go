package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/v1/caches/{cellID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/caches/{cellID}", "404"))

	for _, id := range []string{"1:2", "3:4"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/caches/"+id, nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/caches/{cellID}", "404"))
	if after-before != 2 {
		t.Errorf("expected 2 requests under the route pattern, got %v", after-before)
	}
}

func TestStatusWriter_DefaultsToOK(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &statusWriter{ResponseWriter: rec, status: http.StatusOK}
	w.Write([]byte("ok"))
	if w.status != http.StatusOK {
		t.Errorf("expected 200, got %d", w.status)
	}
	w.WriteHeader(http.StatusTeapot)
	if w.status != http.StatusTeapot {
		t.Errorf("expected 418, got %d", w.status)
	}
}

func TestStatusWriter_ExposesHijacker(t *testing.T) {
	var w http.ResponseWriter = &statusWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	hj, ok := w.(http.Hijacker)
	if !ok {
		t.Fatal("statusWriter must implement http.Hijacker")
	}
	// The recorder cannot hijack; the error comes from the wrapped writer.
	if _, _, err := hj.Hijack(); !errors.Is(err, http.ErrNotSupported) {
		t.Errorf("expected ErrNotSupported from recorder, got %v", err)
	}
	if got := w.(interface{ Unwrap() http.ResponseWriter }).Unwrap(); got == nil {
		t.Error("Unwrap returned nil")
	}
}
