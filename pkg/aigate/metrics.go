package aigate

import "time"

// Metrics defines the interface for tracking gate decisions and store health.
type Metrics interface {
	// RecordGateCheck records one gate decision. reason is empty for
	// admissions, otherwise a Reason constant.
	RecordGateCheck(quotaType string, allowed bool, reason string, duration time.Duration)

	// RecordPolicyResolution records where a resolved policy came from and
	// whether duplicate active configs had to be reconciled.
	RecordPolicyResolution(source string, conflicted bool)

	// RecordCost records the monetary amount of one cost record.
	RecordCost(operation string, amount float64)

	// RecordStoreOperation records the duration and status of a store call.
	RecordStoreOperation(operation string, duration time.Duration, err error)

	// RecordCacheHit records a policy cache hit.
	RecordCacheHit()

	// RecordCacheMiss records a policy cache miss.
	RecordCacheMiss()
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordGateCheck(quotaType string, allowed bool, reason string, duration time.Duration) {
}
func (n *NoopMetrics) RecordPolicyResolution(source string, conflicted bool)                  {}
func (n *NoopMetrics) RecordCost(operation string, amount float64)                            {}
func (n *NoopMetrics) RecordStoreOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCacheHit()                                                        {}
func (n *NoopMetrics) RecordCacheMiss()                                                       {}
