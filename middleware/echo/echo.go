// Package echo provides Echo middleware for quota and budget enforcement
package echo

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/glintcare/aigate/pkg/aigate"
)

// TenantExtractor extracts the tenant ID from an Echo context.
// Return empty string if the request has no tenant.
type TenantExtractor func(c echo.Context) string

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
	OnDenied func(c echo.Context, verdict *aigate.Verdict) error

	// OnUnauthorized is called when no tenant could be extracted.
	// If nil, responds 401.
	OnUnauthorized func(c echo.Context) error

	// OnError is called when the gate itself fails; the request is never
	// let through (fail closed). If nil, responds 503 for store trouble
	// and 500 otherwise.
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that enforces the quota and budget
// gate before the handler runs.
func Middleware(config Config) echo.MiddlewareFunc {
	if config.QuotaType == "" {
		config.QuotaType = aigate.QuotaTypeAIScans
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := config.GetTenantID(c)
			if tenantID == "" {
				if config.OnUnauthorized != nil {
					return config.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}

			verdict, err := config.Gate.CheckAndReserve(c.Request().Context(), tenantID, config.QuotaType)
			if err != nil {
				return handleError(config, c, err)
			}

			if !verdict.Allowed {
				if config.OnDenied != nil {
					return config.OnDenied(c, verdict)
				}
				c.Response().Header().Set("Retry-After", verdict.ResetAt.UTC().Format(http.TimeFormat))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":     "quota exceeded",
					"reason":    verdict.Reason,
					"remaining": verdict.Remaining,
					"reset_at":  verdict.ResetAt.Format(time.RFC3339),
				})
			}

			if err := next(c); err != nil {
				return err
			}

			if config.Ledger != nil && c.Response().Status < http.StatusInternalServerError {
				if _, err := config.Ledger.Record(c.Request().Context(), tenantID, config.QuotaType, 1, time.Time{}); err != nil && config.OnError != nil {
					return config.OnError(c, err)
				}
			}
			return nil
		}
	}
}

func handleError(config Config, c echo.Context, err error) error {
	if config.OnError != nil {
		return config.OnError(c, err)
	}
	if errors.Is(err, aigate.ErrStoreUnavailable) {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "quota service unavailable"})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}
