// Package http provides net/http middleware that gates requests through
// the budget gate before they reach a paid handler.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/glintcare/aigate/pkg/aigate"
)

// TenantExtractor extracts the tenant ID from an HTTP request.
// Return empty string if the request has no tenant.
type TenantExtractor func(r *http.Request) string

// Config holds middleware configuration.
type Config struct {
	// Gate is the budget gate instance (required)
	Gate *aigate.Gate

	// Ledger receives a usage event after the gated handler succeeds.
	// Optional: if nil, the host records usage itself.
	Ledger *aigate.Ledger

	// GetTenantID extracts tenant ID from the request (required)
	GetTenantID TenantExtractor

	// QuotaType is the quota type enforced by this middleware
	// (default: ai_scans)
	QuotaType aigate.QuotaType

	// OnDenied is called when the gate denies the request.
	// If nil, responds 429 with a JSON body carrying remaining and reset_at.
	OnDenied func(w http.ResponseWriter, r *http.Request, verdict *aigate.Verdict)

	// OnUnauthorized is called when no tenant could be extracted.
	// If nil, responds 401.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when the gate itself fails; the request is never
	// let through (fail closed). If nil, responds 503 for store trouble
	// and 500 otherwise.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that enforces the quota and budget
// gate. Denied and failed requests never reach the wrapped handler; an
// admitted request that completes without a 5xx gets a usage event
// recorded on its behalf.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.QuotaType == "" {
		config.QuotaType = aigate.QuotaTypeAIScans
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := config.GetTenantID(r)
			if tenantID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			verdict, err := config.Gate.CheckAndReserve(r.Context(), tenantID, config.QuotaType)
			if err != nil {
				handleError(config, w, r, err)
				return
			}

			if !verdict.Allowed {
				if config.OnDenied != nil {
					config.OnDenied(w, r, verdict)
				} else {
					writeDenied(w, verdict)
				}
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// The reservation already counted against the period; the
			// ledger event is the reporting record for the completed
			// action. Server failures skip it.
			if config.Ledger != nil && rec.status < http.StatusInternalServerError {
				if _, err := config.Ledger.Record(r.Context(), tenantID, config.QuotaType, 1, time.Time{}); err != nil && config.OnError != nil {
					config.OnError(w, r, err)
				}
			}
		})
	}
}

func handleError(config Config, w http.ResponseWriter, r *http.Request, err error) {
	if config.OnError != nil {
		config.OnError(w, r, err)
		return
	}
	if errors.Is(err, aigate.ErrStoreUnavailable) {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func writeDenied(w http.ResponseWriter, verdict *aigate.Verdict) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", verdict.ResetAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     "quota exceeded",
		"reason":    verdict.Reason,
		"remaining": verdict.Remaining,
		"reset_at":  verdict.ResetAt.Format(time.RFC3339),
	})
}

// statusRecorder captures the downstream status code so the middleware can
// decide whether to record a usage event.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
