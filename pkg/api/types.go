package api

import "github.com/glintcare/aigate/pkg/aigate"

// Envelope is the standard success/error wrapper on every response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// PreflightResponse combines the count and budget standing for a tenant so
// clients can explain "resets in Xh" before attempting a paid action.
type PreflightResponse struct {
	TenantID  string               `json:"tenant_id"`
	QuotaType string               `json:"quota_type"`
	Limit     int                  `json:"limit"`
	Used      int                  `json:"used"`
	Remaining int                  `json:"remaining"`
	WillDeny  bool                 `json:"will_deny"`
	ResetAt   string               `json:"reset_at"`
	Budget    *aigate.BudgetStatus `json:"budget"`
}
