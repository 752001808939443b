// Package metrics exports auction and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cipherbid"

// Recorder collects auction outcomes and request metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	bidsAccepted    prometheus.Counter
	bidsRejected    *prometheus.CounterVec
	claimsRequested prometheus.Counter
	claimsSettled   *prometheus.CounterVec
	round           prometheus.Gauge
	roundsStarted   prometheus.Counter

	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		bidsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auction",
			Name:      "bids_accepted_total",
			Help:      "Total number of accepted encrypted bids",
		}),
		bidsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auction",
			Name:      "bids_rejected_total",
			Help:      "Total number of rejected bids by reason",
		}, []string{"reason"}),
		claimsRequested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auction",
			Name:      "claims_requested_total",
			Help:      "Total number of decryption requests started by claims",
		}),
		claimsSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auction",
			Name:      "claims_settled_total",
			Help:      "Total number of settled rounds",
		}, []string{"outcome"}),
		round: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "auction",
			Name:      "round",
			Help:      "Current round number",
		}),
		roundsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auction",
			Name:      "rounds_started_total",
			Help:      "Total number of rounds started",
		}),
		requestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"method", "route"}),
	}
}

func (r *Recorder) BidAccepted() { r.bidsAccepted.Inc() }

func (r *Recorder) BidRejected(reason string) { r.bidsRejected.WithLabelValues(reason).Inc() }

func (r *Recorder) ClaimRequested() { r.claimsRequested.Inc() }

func (r *Recorder) ClaimSettled(noWinner bool) {
	outcome := "winner"
	if noWinner {
		outcome = "no_winner"
	}
	r.claimsSettled.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RoundStarted(round uint64) {
	r.roundsStarted.Inc()
	r.round.Set(float64(round))
}

// Registry exposes the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Middleware counts requests and observes their latency, labelled by the
// matched chi route pattern rather than the raw path.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

		next.ServeHTTP(ww, req)

		route := req.URL.Path
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		r.requestCounter.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
		r.requestDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}
