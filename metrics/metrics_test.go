package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder_AuctionCounters(t *testing.T) {
	r := New()

	r.BidAccepted()
	r.BidAccepted()
	r.BidRejected("zone_mismatch")
	r.ClaimRequested()
	r.ClaimSettled(false)
	r.ClaimSettled(true)
	r.RoundStarted(1)
	r.RoundStarted(2)

	check.Equal(t, 2.0, testutil.ToFloat64(r.bidsAccepted))
	check.Equal(t, 1.0, testutil.ToFloat64(r.bidsRejected.WithLabelValues("zone_mismatch")))
	check.Equal(t, 0.0, testutil.ToFloat64(r.bidsRejected.WithLabelValues("auction_not_active")))
	check.Equal(t, 1.0, testutil.ToFloat64(r.claimsRequested))
	check.Equal(t, 1.0, testutil.ToFloat64(r.claimsSettled.WithLabelValues("winner")))
	check.Equal(t, 1.0, testutil.ToFloat64(r.claimsSettled.WithLabelValues("no_winner")))
	check.Equal(t, 2.0, testutil.ToFloat64(r.round))
	check.Equal(t, 2.0, testutil.ToFloat64(r.roundsStarted))
}

func TestRecorder_SeparateRegistries(t *testing.T) {
	a, b := New(), New()
	a.BidAccepted()

	check.Equal(t, 1.0, testutil.ToFloat64(a.bidsAccepted))
	check.Equal(t, 0.0, testutil.ToFloat64(b.bidsAccepted))
}

func TestRecorder_MiddlewareUsesRoutePattern(t *testing.T) {
	r := New()
	router := chi.NewRouter()
	router.Use(r.Middleware)
	router.Get("/rounds/{round}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	router.Handle("/metrics", r.Handler())

	for _, path := range []string{"/rounds/1", "/rounds/2"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	check.Equal(t, 2.0, testutil.ToFloat64(r.requestCounter.WithLabelValues("GET", "/rounds/{round}", "404")))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	check.True(t, strings.Contains(rec.Body.String(), "cipherbid_api_requests_total"))
}
