package prommetrics_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glintcare/aigate/pkg/aigate"
	prommetrics "github.com/glintcare/aigate/pkg/aigate/metrics/prometheus"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func TestMetrics_ImplementsInterface(t *testing.T) {
	var _ aigate.Metrics = prommetrics.NewMetrics(prometheus.NewRegistry(), "aigate")
}

func TestMetrics_RecordGateCheck(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := prommetrics.NewMetrics(reg, "aigate")

	m.RecordGateCheck("ai_scans", true, "", 5*time.Millisecond)
	m.RecordGateCheck("ai_scans", false, "rate_limit_exceeded", time.Millisecond)
	m.RecordGateCheck("ai_scans", false, "rate_limit_exceeded", time.Millisecond)

	families := gather(t, reg)
	checks := families["aigate_gate_checks_total"]
	require.NotNil(t, checks)

	byLabels := make(map[string]float64)
	for _, metric := range checks.GetMetric() {
		key := ""
		for _, l := range metric.GetLabel() {
			key += l.GetName() + "=" + l.GetValue() + ";"
		}
		byLabels[key] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, 1.0, byLabels["allowed=true;quota_type=ai_scans;reason=none;"])
	assert.Equal(t, 2.0, byLabels["allowed=false;quota_type=ai_scans;reason=rate_limit_exceeded;"])

	duration := families["aigate_gate_check_duration_seconds"]
	require.NotNil(t, duration)
	assert.Equal(t, uint64(3), duration.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestMetrics_RecordCost(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := prommetrics.NewMetrics(reg, "aigate")

	m.RecordCost("skin_scan", 2.5)
	m.RecordCost("skin_scan", 1.5)
	m.RecordCost("", 1.0)

	families := gather(t, reg)
	total := families["aigate_cost_total"]
	require.NotNil(t, total)

	byOp := make(map[string]float64)
	for _, metric := range total.GetMetric() {
		byOp[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, 4.0, byOp["skin_scan"])
	assert.Equal(t, 1.0, byOp["unknown"], "empty operation is normalized")
}

func TestMetrics_RecordStoreOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := prommetrics.NewMetrics(reg, "aigate")

	m.RecordStoreOperation("reserve_usage", time.Millisecond, nil)
	m.RecordStoreOperation("reserve_usage", time.Millisecond, fmt.Errorf("connection refused"))

	families := gather(t, reg)
	errs := families["aigate_store_operation_errors_total"]
	require.NotNil(t, errs)
	assert.Equal(t, 1.0, errs.GetMetric()[0].GetCounter().GetValue())

	duration := families["aigate_store_operation_duration_seconds"]
	require.NotNil(t, duration)
	assert.Equal(t, uint64(2), duration.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestMetrics_CacheCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := prommetrics.NewMetrics(reg, "aigate")

	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()

	families := gather(t, reg)
	hits := families["aigate_policy_cache_hits_total"]
	misses := families["aigate_policy_cache_misses_total"]
	require.NotNil(t, hits)
	require.NotNil(t, misses)
	assert.Equal(t, 2.0, hits.GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, misses.GetMetric()[0].GetCounter().GetValue())
}

func TestMetrics_RecordPolicyResolution(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := prommetrics.NewMetrics(reg, "aigate")

	m.RecordPolicyResolution("default", false)
	m.RecordPolicyResolution("tenant_override", true)

	families := gather(t, reg)
	res := families["aigate_policy_resolutions_total"]
	require.NotNil(t, res)
	assert.Len(t, res.GetMetric(), 2)
}
