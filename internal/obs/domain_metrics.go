package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutTransitionsTotal counts checkout state machine transitions.
	CheckoutTransitionsTotal *prometheus.CounterVec
	// CheckoutPollTotal counts payment process poll ticks by outcome.
	CheckoutPollTotal *prometheus.CounterVec
	// CheckoutDuration records wall time from checkout start to a terminal state.
	CheckoutDuration *prometheus.HistogramVec
	// CartMutationsTotal counts cart mutations by operation.
	CartMutationsTotal *prometheus.CounterVec
	// RetryQueueDepth tracks the number of queued offline checkouts.
	RetryQueueDepth prometheus.Gauge
	// RetrySweepTotal counts retry sweep attempt outcomes.
	RetrySweepTotal *prometheus.CounterVec
	// RetryDroppedTotal counts checkouts dropped after exhausting retries.
	RetryDroppedTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_transitions_total",
			Help:      "Count of checkout state machine transitions.",
		}, []string{"from", "to"})
		CheckoutPollTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_poll_total",
			Help:      "Count of payment process poll ticks by outcome.",
		}, []string{"result"})
		CheckoutDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_seconds",
			Help:      "Time from checkout start to a terminal state.",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"final"})
		CartMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Count of cart mutations by operation.",
		}, []string{"op"})
		RetryQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_queue_depth",
			Help:      "Number of offline checkouts waiting for resubmission.",
		})
		RetrySweepTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_sweep_total",
			Help:      "Count of retry sweep attempt outcomes.",
		}, []string{"result"})
		RetryDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_dropped_total",
			Help:      "Checkouts dropped after exhausting the retry budget.",
		})

		mustRegisterCollector(reg, CheckoutTransitionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutTransitionsTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutPollTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutPollTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				CheckoutDuration = v
			}
		})
		mustRegisterCollector(reg, CartMutationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CartMutationsTotal = v
			}
		})
		mustRegisterCollector(reg, RetryQueueDepth, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				RetryQueueDepth = v
			}
		})
		mustRegisterCollector(reg, RetrySweepTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RetrySweepTotal = v
			}
		})
		mustRegisterCollector(reg, RetryDroppedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				RetryDroppedTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
