package resilience

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	// BreakerState is 0 closed, 1 open, 2 half-open.
	BreakerState *prometheus.GaugeVec
	// BreakerTransitions counts state changes per target.
	BreakerTransitions *prometheus.CounterVec
	// RetryAttempts counts backend attempts beyond the first.
	RetryAttempts *prometheus.CounterVec
)

// MustRegisterMetrics creates and registers the breaker collectors once.
// Breakers built before registration simply skip metric updates.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_breaker_state",
			Help:      "Current breaker state: 0=closed,1=open,2=half-open",
		}, []string{"target"})
		BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_breaker_transitions_total",
			Help:      "Count of breaker state transitions",
		}, []string{"target", "from", "to"})
		RetryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_retries_total",
			Help:      "Backend request retries by target",
		}, []string{"target"})
		reg.MustRegister(BreakerState, BreakerTransitions, RetryAttempts)
	})
}

func setStateGauge(target string, s State) {
	if BreakerState == nil {
		return
	}
	v := -1.0
	switch s {
	case Closed:
		v = 0
	case Open:
		v = 1
	case HalfOpen:
		v = 2
	}
	BreakerState.WithLabelValues(target).Set(v)
}

func countTransition(target string, from, to State) {
	if BreakerTransitions == nil {
		return
	}
	BreakerTransitions.WithLabelValues(target, from.String(), to.String()).Inc()
}

func countRetry(target string) {
	if RetryAttempts == nil {
		return
	}
	RetryAttempts.WithLabelValues(target).Inc()
}
