package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements aigate.Metrics using Prometheus.
type Metrics struct {
	gateChecksTotal       *prometheus.CounterVec
	gateCheckDuration     *prometheus.HistogramVec
	policyResolutionTotal *prometheus.CounterVec
	costAmount            *prometheus.HistogramVec
	costTotal             *prometheus.CounterVec
	storeOpsDuration      *prometheus.HistogramVec
	storeOpsErrors        *prometheus.CounterVec
	cacheHitsTotal        prometheus.Counter
	cacheMissesTotal      prometheus.Counter
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gateChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_checks_total",
			Help:      "Total number of gate admission decisions.",
		}, []string{"quota_type", "allowed", "reason"}),

		gateCheckDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gate_check_duration_seconds",
			Help:      "Latency of gate admission decisions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"quota_type"}),

		policyResolutionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_resolutions_total",
			Help:      "Total number of policy resolutions by source.",
		}, []string{"source", "conflicted"}),

		costAmount: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cost_amount",
			Help:      "Distribution of recorded AI call costs.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50},
		}, []string{"operation"}),

		costTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_total",
			Help:      "Total recorded AI spend.",
		}, []string{"operation"}),

		storeOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storeOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operation_errors_total",
			Help:      "Total number of store operation errors.",
		}, []string{"operation"}),

		cacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_cache_hits_total",
			Help:      "Total number of policy cache hits.",
		}),

		cacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_cache_misses_total",
			Help:      "Total number of policy cache misses.",
		}),
	}
}

func (m *Metrics) RecordGateCheck(quotaType string, allowed bool, reason string, duration time.Duration) {
	if reason == "" {
		reason = "none"
	}
	m.gateChecksTotal.WithLabelValues(quotaType, strconv.FormatBool(allowed), reason).Inc()
	m.gateCheckDuration.WithLabelValues(quotaType).Observe(duration.Seconds())
}

func (m *Metrics) RecordPolicyResolution(source string, conflicted bool) {
	m.policyResolutionTotal.WithLabelValues(source, strconv.FormatBool(conflicted)).Inc()
}

func (m *Metrics) RecordCost(operation string, amount float64) {
	if operation == "" {
		operation = "unknown"
	}
	m.costAmount.WithLabelValues(operation).Observe(amount)
	m.costTotal.WithLabelValues(operation).Add(amount)
}

func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	m.storeOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storeOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCacheHit() {
	m.cacheHitsTotal.Inc()
}

func (m *Metrics) RecordCacheMiss() {
	m.cacheMissesTotal.Inc()
}
