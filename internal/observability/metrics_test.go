package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDomainCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(sandboxRejectionsTotal.WithLabelValues("MultipleStatements"))
	IncrementSandboxRejection("MultipleStatements")
	if got := testutil.ToFloat64(sandboxRejectionsTotal.WithLabelValues("MultipleStatements")); got != before+1 {
		t.Fatalf("sandbox rejections = %v, want %v", got, before+1)
	}

	beforeDenials := testutil.ToFloat64(rateLimitDenialsTotal.WithLabelValues("free"))
	IncrementRateLimitDenial("free")
	if got := testutil.ToFloat64(rateLimitDenialsTotal.WithLabelValues("free")); got != beforeDenials+1 {
		t.Fatalf("rate limit denials = %v, want %v", got, beforeDenials+1)
	}
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/conversations/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := MetricsMiddleware(mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/conversations/abc", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/conversations/def", nil))

	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "GET /v1/conversations/{id}", "200"))
	if got < 2 {
		t.Fatalf("requests for route pattern = %v, want >= 2", got)
	}
}
