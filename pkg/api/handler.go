package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/glintcare/aigate/pkg/aigate"
)

const maxTenantIDLen = 255

// Handler provides HTTP endpoints over the governance core. All endpoints
// return the standard {success, data} / {success:false, error} envelope.
type Handler struct {
	config Config
}

// CheckAndReserve handles POST requests that admit one unit of quota.
// An admission consumes a slot; a denial returns 200 with allowed=false so
// clients never mistake an expected business outcome for a failure.
func (h *Handler) CheckAndReserve(w http.ResponseWriter, r *http.Request) {
	tenantID, qt, ok := h.identify(w, r)
	if !ok {
		return
	}

	verdict, err := h.config.Gate.CheckAndReserve(r.Context(), tenantID, qt)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, verdict)
}

// Preflight handles read-only GET requests reporting the tenant's current
// quota and budget standing without consuming anything.
func (h *Handler) Preflight(w http.ResponseWriter, r *http.Request) {
	tenantID, qt, ok := h.identify(w, r)
	if !ok {
		return
	}

	dump, err := h.config.Gate.Inspect(r.Context(), tenantID, qt)
	if err != nil {
		h.writeError(w, err)
		return
	}

	remaining := dump.Policy.Limit - dump.Used
	if remaining < 0 {
		remaining = 0
	}

	h.writeData(w, &PreflightResponse{
		TenantID:  tenantID,
		QuotaType: string(qt),
		Limit:     dump.Policy.Limit,
		Used:      dump.Used,
		Remaining: remaining,
		WillDeny:  remaining == 0 || !dump.Budget.Allowed,
		ResetAt:   dump.Period.End.Format(time.RFC3339),
		Budget:    dump.Budget,
	})
}

// UsageReport handles GET requests for the N-day cost report
// (?days=7|14|30, capped by MaxReportDays).
func (h *Handler) UsageReport(w http.ResponseWriter, r *http.Request) {
	tenantID := h.config.GetTenantID(r)
	if tenantID == "" || len(tenantID) > maxTenantIDLen {
		h.writeErrorStatus(w, http.StatusUnauthorized, "tenant not identified")
		return
	}

	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeErrorStatus(w, http.StatusBadRequest, "invalid days parameter")
			return
		}
		days = parsed
	}
	if days > h.config.MaxReportDays {
		days = h.config.MaxReportDays
	}

	report, err := h.config.Costs.GetUsageReport(r.Context(), tenantID, days)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, report)
}

// Debug handles GET requests dumping resolved policy and raw counter state
// for a tenant. Read-only: it never mutates state.
func (h *Handler) Debug(w http.ResponseWriter, r *http.Request) {
	tenantID, qt, ok := h.identify(w, r)
	if !ok {
		return
	}

	dump, err := h.config.Gate.Inspect(r.Context(), tenantID, qt)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, dump)
}

func (h *Handler) identify(w http.ResponseWriter, r *http.Request) (string, aigate.QuotaType, bool) {
	tenantID := h.config.GetTenantID(r)
	if tenantID == "" || len(tenantID) > maxTenantIDLen {
		h.writeErrorStatus(w, http.StatusUnauthorized, "tenant not identified")
		return "", "", false
	}

	var qt aigate.QuotaType
	if h.config.GetQuotaType != nil {
		qt = h.config.GetQuotaType(r)
	} else {
		qt = aigate.QuotaType(r.URL.Query().Get("quota_type"))
	}
	if qt == "" {
		qt = aigate.QuotaTypeAIScans
	}

	return tenantID, qt, true
}

func (h *Handler) writeData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(Envelope{Success: true, Data: data}); err != nil {
		h.config.Logger.Error("failed to encode response", aigate.Field{Key: "error", Value: err.Error()})
	}
}

// writeError maps core errors onto HTTP statuses: bad input is the
// client's fault, store trouble is a 503 the client may retry.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, aigate.ErrInvalidInput), errors.Is(err, aigate.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, aigate.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	h.writeErrorStatus(w, status, err.Error())
}

func (h *Handler) writeErrorStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{Success: false, Error: msg}); err != nil {
		h.config.Logger.Error("failed to encode error response", aigate.Field{Key: "error", Value: err.Error()})
	}
}
