package api

import (
	"fmt"
	"net/http"

	"github.com/glintcare/aigate/pkg/aigate"
)

// Config holds configuration for the governance API handler.
type Config struct {
	// Gate is the budget gate instance (required)
	Gate *aigate.Gate

	// Costs is the cost tracker instance (required)
	Costs *aigate.CostTracker

	// GetTenantID extracts the tenant ID from an HTTP request (required).
	// Return empty string if the request is not associated with a tenant.
	GetTenantID func(*http.Request) string

	// GetQuotaType extracts the quota type from a request. If nil, the
	// "quota_type" query parameter is used, falling back to ai_scans.
	GetQuotaType func(*http.Request) aigate.QuotaType

	// MaxReportDays caps the days parameter on usage reports (default: 90)
	MaxReportDays int

	// Logger is optional; defaults to NoopLogger.
	Logger aigate.Logger
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Gate == nil {
		return fmt.Errorf("gate is required")
	}
	if c.Costs == nil {
		return fmt.Errorf("cost tracker is required")
	}
	if c.GetTenantID == nil {
		return fmt.Errorf("getTenantID is required")
	}
	return nil
}

// NewHandler creates a new governance API handler with the given configuration.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.MaxReportDays <= 0 {
		config.MaxReportDays = 90
	}
	if config.Logger == nil {
		config.Logger = &aigate.NoopLogger{}
	}
	return &Handler{config: config}, nil
}

// FromHeader returns a GetTenantID function that reads a header.
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetTenantID function that reads a context value.
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if tenantID, ok := r.Context().Value(key).(string); ok {
			return tenantID
		}
		return ""
	}
}
