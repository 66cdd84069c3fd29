package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizedPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/api/v1/students/42", "/api/v1/students/{id}"},
		{"/api/v1/fees/invoices/7/payments", "/api/v1/fees/invoices/{id}/payments"},
		{"/healthz", "/healthz"},
	}
	for _, tc := range tests {
		if got := normalizedPath(tc.in); got != tc.want {
			t.Fatalf("normalizedPath(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCollectorCountsRequests(t *testing.T) {
	c := NewCollector(nil)
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/students", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	h.ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	c.MetricsHandler(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := w.Body.String()
	if !strings.Contains(body, `schoolmgr_http_requests_total{method="POST",path="/api/v1/students",status="201"} 2`) {
		t.Fatalf("metrics output missing request counter:\n%s", body)
	}
	if !strings.Contains(body, "schoolmgr_uptime_seconds") {
		t.Fatalf("metrics output missing uptime gauge")
	}
}
