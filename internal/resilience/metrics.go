package resilience

import "github.com/prometheus/client_golang/prometheus"

// The client talks to exactly one backend, so the breaker metrics are plain
// series rather than per-target vectors.
var (
	BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "selfscan_breaker_state",
			Help: "Current breaker state: 0=closed,1=open,2=half-open",
		},
	)
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "selfscan_breaker_transition_total",
			Help: "Count of breaker state transitions",
		},
		[]string{"from", "to"},
	)
	BreakerOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "selfscan_breaker_open_total",
			Help: "Number of times the breaker transitioned into open state",
		},
	)
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal)
}
