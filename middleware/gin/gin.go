// Package gin provides Gin middleware for quota and budget enforcement
package gin

import (
	"errors"
	"net/http"
	"time"

	gongin "github.com/gin-gonic/gin"

	"github.com/glintcare/aigate/pkg/aigate"
)

// TenantExtractor extracts the tenant ID from a Gin context.
// Return empty string if the request has no tenant.
type TenantExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Gate is the budget gate instance (required)
	Gate *aigate.Gate

	// Ledger receives a usage event after the gated handler succeeds.
	// Optional: if nil, the host records usage itself.
	Ledger *aigate.Ledger

	// GetTenantID extracts tenant ID from context (required)
	GetTenantID TenantExtractor

	// QuotaType is the quota type enforced by this middleware
	// (default: ai_scans)
	QuotaType aigate.QuotaType

	// OnDenied is called when the gate denies the request.
	// If nil, responds 429 with a JSON body carrying remaining and reset_at.
	OnDenied func(c *gongin.Context, verdict *aigate.Verdict)

	// OnUnauthorized is called when no tenant could be extracted.
	// If nil, responds 401.
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when the gate itself fails; the request is never
	// let through (fail closed). If nil, responds 503 for store trouble
	// and 500 otherwise.
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that enforces the quota and budget
// gate before the handler runs.
func Middleware(config Config) gongin.HandlerFunc {
	if config.QuotaType == "" {
		config.QuotaType = aigate.QuotaTypeAIScans
	}

	return func(c *gongin.Context) {
		tenantID := config.GetTenantID(c)
		if tenantID == "" {
			if config.OnUnauthorized != nil {
				config.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
			}
			c.Abort()
			return
		}

		verdict, err := config.Gate.CheckAndReserve(c.Request.Context(), tenantID, config.QuotaType)
		if err != nil {
			handleError(config, c, err)
			c.Abort()
			return
		}

		if !verdict.Allowed {
			if config.OnDenied != nil {
				config.OnDenied(c, verdict)
			} else {
				c.Header("Retry-After", verdict.ResetAt.UTC().Format(http.TimeFormat))
				c.JSON(http.StatusTooManyRequests, gongin.H{
					"error":     "quota exceeded",
					"reason":    verdict.Reason,
					"remaining": verdict.Remaining,
					"reset_at":  verdict.ResetAt.Format(time.RFC3339),
				})
			}
			c.Abort()
			return
		}

		c.Next()

		if config.Ledger != nil && c.Writer.Status() < http.StatusInternalServerError {
			if _, err := config.Ledger.Record(c.Request.Context(), tenantID, config.QuotaType, 1, time.Time{}); err != nil && config.OnError != nil {
				config.OnError(c, err)
			}
		}
	}
}

func handleError(config Config, c *gongin.Context, err error) {
	if config.OnError != nil {
		config.OnError(c, err)
		return
	}
	if errors.Is(err, aigate.ErrStoreUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gongin.H{"error": "quota service unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gongin.H{"error": "internal server error"})
}
