package obs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CurrencyFallbackTotal counts conversions that fell back to rate 1 for an unregistered currency.
	CurrencyFallbackTotal *prometheus.CounterVec
	// SettlementsTotal counts computed settlements by kind (sale, return) and direction.
	SettlementsTotal *prometheus.CounterVec
	// ReturnRejectionsTotal counts rejected return basket mutations.
	ReturnRejectionsTotal *prometheus.CounterVec
	// SubmissionsTotal counts backend submissions by kind and outcome.
	SubmissionsTotal *prometheus.CounterVec
	// PriceOverridesTotal counts cashier price overrides, split by whether the cost floor applied.
	PriceOverridesTotal *prometheus.CounterVec
	// SubmissionLatency records backend submission latency in milliseconds.
	SubmissionLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus
// collectors. Empty buckets fall back to the defaults used for submission latency.
func MustRegisterDomainMetrics(namespace string, buckets []float64, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		if len(buckets) == 0 {
			buckets = []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000}
		} else {
			sort.Float64s(buckets)
		}
		CurrencyFallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "currency_fallback_total",
			Help:      "Conversions that used rate 1 because the currency is not in the active table.",
		}, []string{"currency"})
		SettlementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Computed settlements by kind and direction.",
		}, []string{"kind", "direction"})
		ReturnRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "return_rejections_total",
			Help:      "Rejected return basket mutations by reason.",
		}, []string{"reason"})
		SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Backend submissions by kind and result.",
		}, []string{"kind", "result"})
		PriceOverridesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_overrides_total",
			Help:      "Cashier price overrides, labelled by whether the cost floor was applied.",
		}, []string{"clamped"})
		SubmissionLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_ms",
			Help:      "Latency of backend submissions in milliseconds.",
			Buckets:   buckets,
		}, []string{"kind"})

		mustRegisterCollector(reg, CurrencyFallbackTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CurrencyFallbackTotal = v
			}
		})
		mustRegisterCollector(reg, SettlementsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SettlementsTotal = v
			}
		})
		mustRegisterCollector(reg, ReturnRejectionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReturnRejectionsTotal = v
			}
		})
		mustRegisterCollector(reg, SubmissionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SubmissionsTotal = v
			}
		})
		mustRegisterCollector(reg, PriceOverridesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PriceOverridesTotal = v
			}
		})
		mustRegisterCollector(reg, SubmissionLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				SubmissionLatency = v
			}
		})
	})
}

// IncCurrencyFallback records a lenient conversion for code. Safe to call before registration.
func IncCurrencyFallback(code string) {
	if CurrencyFallbackTotal == nil {
		return
	}
	CurrencyFallbackTotal.WithLabelValues(labelOrUnknown(code)).Inc()
}

// IncSettlement records a computed settlement.
func IncSettlement(kind, direction string) {
	if SettlementsTotal == nil {
		return
	}
	SettlementsTotal.WithLabelValues(labelOrUnknown(kind), labelOrUnknown(direction)).Inc()
}

// IncReturnRejection records a rejected return mutation.
func IncReturnRejection(reason string) {
	if ReturnRejectionsTotal == nil {
		return
	}
	ReturnRejectionsTotal.WithLabelValues(labelOrUnknown(reason)).Inc()
}

// ObserveSubmission records the outcome and latency of a backend submission.
func ObserveSubmission(kind, result string, millis float64) {
	if SubmissionsTotal != nil {
		SubmissionsTotal.WithLabelValues(labelOrUnknown(kind), labelOrUnknown(result)).Inc()
	}
	if SubmissionLatency != nil {
		SubmissionLatency.WithLabelValues(labelOrUnknown(kind)).Observe(millis)
	}
}

// IncPriceOverride records a cashier price override.
func IncPriceOverride(clamped bool) {
	if PriceOverridesTotal == nil {
		return
	}
	PriceOverridesTotal.WithLabelValues(strconv.FormatBool(clamped)).Inc()
}

func labelOrUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
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
