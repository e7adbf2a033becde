package aigate

import (
	"time"
)

// QuotaType identifies a class of gated, billable action.
type QuotaType string

const (
	// QuotaTypeAIScans covers AI-powered skin/food scan invocations.
	QuotaTypeAIScans QuotaType = "ai_scans"
)

// PeriodType defines the type of quota period
type PeriodType string

const (
	// PeriodTypeDaily represents a calendar-day quota period
	PeriodTypeDaily PeriodType = "daily"
	// PeriodTypeMonthly represents a calendar-month quota period
	PeriodTypeMonthly PeriodType = "monthly"
)

// Period represents a quota period with start and end times.
// Start is inclusive, End is exclusive.
type Period struct {
	Start time.Time
	End   time.Time
	Type  PeriodType
}

// Key returns a stable string key for this period.
// The key is derived from the period start in its own location, so two
// periods computed for the same business day always share a key.
func (p Period) Key() string {
	switch p.Type {
	case PeriodTypeMonthly:
		return p.Start.Format("2006-01")
	default:
		return p.Start.Format("2006-01-02")
	}
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// QuotaConfig is a per-tenant quota ceiling for one quota type.
// At most one active config per (tenant, quota type) is expected; when the
// store holds duplicates the resolver picks a deterministic winner.
type QuotaConfig struct {
	ID               string
	TenantID         string
	QuotaType        QuotaType
	Limit            int
	Period           PeriodType
	IsActive         bool
	OverridesDefault bool
	CreatedAt        time.Time
}

// UsageEvent is an immutable record of one admitted, billable action.
type UsageEvent struct {
	ID        string
	TenantID  string
	QuotaType QuotaType
	Timestamp time.Time
	Quantity  int
}

// CostRecord is an immutable record of the monetary cost of one AI call.
// Amount is denominated in the deployment currency (THB for the clinic
// product) and is never negative.
type CostRecord struct {
	ID        string
	TenantID  string
	Operation string
	Amount    float64
	Timestamp time.Time
}

// PolicySource identifies where a resolved policy came from.
type PolicySource string

const (
	// PolicySourceTenantOverride means an active per-tenant config won.
	PolicySourceTenantOverride PolicySource = "tenant_override"
	// PolicySourceDefault means the global default limit applied.
	PolicySourceDefault PolicySource = "default"
)

// ResolvedPolicy is the effective quota policy for one gate decision.
// It is derived, never persisted.
type ResolvedPolicy struct {
	TenantID  string
	QuotaType QuotaType
	Limit     int
	Period    PeriodType

	// Source records whether a tenant override or the global default won,
	// for observability and the debug endpoint.
	Source PolicySource

	// ConfigID is the winning config's ID, empty for defaults.
	ConfigID string

	// Conflicted is set when more than one active config existed for the
	// (tenant, quota type) key and a deterministic winner had to be picked.
	Conflicted bool
}

// Deny reasons carried on a Verdict. A denial is a normal business outcome,
// not an error.
const (
	ReasonRateLimitExceeded = "rate_limit_exceeded"
	ReasonBudgetExceeded    = "budget_exceeded"
)

// Verdict is the result of a gate check.
type Verdict struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`

	// Reason is empty for admissions, otherwise one of the Reason constants.
	Reason string `json:"reason,omitempty"`
}

// BudgetStatus is the result of a read-only budget preflight.
type BudgetStatus struct {
	Allowed         bool      `json:"allowed"`
	Budget          float64   `json:"budget"`
	Spent           float64   `json:"spent"`
	RemainingBudget float64   `json:"remaining_budget"`
	ResetAt         time.Time `json:"reset_at"`
}

// DayCost is a per-day aggregate in a usage report.
type DayCost struct {
	Date         string  `json:"date"`
	TotalCost    float64 `json:"total_cost"`
	RequestCount int     `json:"request_count"`
}

// OperationCost is a per-operation aggregate in a usage report.
type OperationCost struct {
	TotalCost    float64 `json:"total_cost"`
	RequestCount int     `json:"request_count"`
}

// UsageReport aggregates cost records over a trailing day window.
// Days with no records appear as explicit zero rows in ByDay.
type UsageReport struct {
	TenantID      string                   `json:"tenant_id"`
	Days          int                      `json:"days"`
	WindowStart   time.Time                `json:"window_start"`
	WindowEnd     time.Time                `json:"window_end"`
	TotalCost     float64                  `json:"total_cost"`
	TotalRequests int                      `json:"total_requests"`
	AverageCost   float64                  `json:"average_cost"`
	ByDay         []DayCost                `json:"by_day"`
	ByOperation   map[string]OperationCost `json:"by_operation"`
}

// InspectResult is a read-only dump of resolved policy and raw counter
// state for one (tenant, quota type), for operational troubleshooting.
type InspectResult struct {
	Policy  *ResolvedPolicy `json:"policy"`
	Configs []*QuotaConfig  `json:"configs"`
	Period  Period          `json:"period"`
	Used    int             `json:"used"`
	Budget  *BudgetStatus   `json:"budget"`
}
