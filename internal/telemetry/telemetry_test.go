package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/products/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/abc", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.InDelta(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")), 0.001)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestObserveDiscoverySource(t *testing.T) {
	before := testutil.ToFloat64(discoverySourceTotal.WithLabelValues("reddit", "failure"))
	ObserveDiscoverySource("reddit", 0, errors.New("down"))
	require.InDelta(t, before+1, testutil.ToFloat64(discoverySourceTotal.WithLabelValues("reddit", "failure")), 0.001)

	ObserveDiscoverySource("hackernews", 4, nil)
	require.GreaterOrEqual(t, testutil.ToFloat64(discoveryItemsTotal.WithLabelValues("hackernews")), 4.0)
}

func TestSanitizeSite(t *testing.T) {
	require.Equal(t, "example.com", SanitizeSite("https://Example.com/path"))
	require.Equal(t, "example.com", SanitizeSite("example.com"))
	require.Equal(t, "unknown", SanitizeSite("http://"))
}
