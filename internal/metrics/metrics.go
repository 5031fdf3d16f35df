package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values shared by the counters below.
const (
	ResultCommitted = "committed"
	ResultRecovered = "recovered" // divergence or gate veto, live posterior kept
	ResultCancelled = "cancelled"
	ResultAccepted  = "accepted"
	ResultRejected  = "rejected"
)

var (
	// RefitsTotal counts completed refits by result.
	RefitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oed_refits_total",
		Help: "Posterior refits by result",
	}, []string{"result"})

	// RefitDuration tracks how long the background refit takes.
	RefitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oed_refit_duration_seconds",
		Help:    "Posterior refit duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	})

	// DesignWait tracks how long a design request blocked on the pending refit.
	DesignWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oed_design_wait_seconds",
		Help:    "Time a design request waited for the previous refit",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	// DesignRequestsTotal counts design requests by policy mode and result.
	DesignRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oed_design_requests_total",
		Help: "Design point requests by mode and result",
	}, []string{"mode", "result"})

	// ObservationsTotal counts recorded outcomes by result.
	ObservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oed_observations_total",
		Help: "Recorded trial outcomes by result",
	}, []string{"result"})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
