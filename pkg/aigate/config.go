package aigate

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Default values applied when Config fields are zero and the corresponding
// environment variables are unset.
const (
	DefaultDailyLimit   = 1000
	DefaultDailyBudget  = 500.0
	DefaultStoreTimeout = 3 * time.Second
)

// Environment variables read by ConfigFromEnv.
const (
	EnvRateLimitPerDay = "AI_RATE_LIMIT_PER_DAY"
	EnvDailyBudgetTHB  = "AI_DAILY_BUDGET_THB"
	EnvTimeZone        = "AIGATE_TIMEZONE"
)

// Config holds shared configuration for the resolver, gate and cost tracker.
type Config struct {
	// DefaultDailyLimit is the global fallback quota used when a tenant has
	// no active config (default: 1000/day, env AI_RATE_LIMIT_PER_DAY).
	DefaultDailyLimit int

	// DailyBudget is the per-tenant daily spend ceiling in the deployment
	// currency (default: 500, env AI_DAILY_BUDGET_THB).
	DailyBudget float64

	// Location is the business time zone periods align to
	// (default: Asia/Bangkok).
	Location *time.Location

	// StoreTimeout bounds every store call. On timeout the gate fails
	// closed (default: 3s).
	StoreTimeout time.Duration

	// PolicyTTL enables short-lived caching of resolved policies. Zero
	// disables caching. Values above one day are clamped so cached
	// allowances can never outlive the smallest period.
	PolicyTTL time.Duration

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking gate operations (default: NoopMetrics).
	Metrics Metrics
}

// ConfigFromEnv builds a Config from environment variables, falling back to
// package defaults for anything unset or unparseable.
func ConfigFromEnv() Config {
	return Config{
		DefaultDailyLimit: getEnvInt(EnvRateLimitPerDay, DefaultDailyLimit),
		DailyBudget:       getEnvFloat(EnvDailyBudgetTHB, DefaultDailyBudget),
		Location:          getEnvLocation(EnvTimeZone),
	}
}

// withDefaults returns a copy with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.DefaultDailyLimit <= 0 {
		c.DefaultDailyLimit = DefaultDailyLimit
	}
	if c.DailyBudget <= 0 {
		c.DailyBudget = DefaultDailyBudget
	}
	if c.Location == nil {
		c.Location = defaultLocation()
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.PolicyTTL > 24*time.Hour {
		c.PolicyTTL = 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = &NoopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = &NoopMetrics{}
	}
	return c
}

func defaultLocation() *time.Location {
	loc, err := time.LoadLocation(DefaultTimeZone)
	if err != nil {
		// Bangkok has no DST; a fixed offset is equivalent.
		return time.FixedZone("ICT", 7*60*60)
	}
	return loc
}

func getEnvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getEnvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getEnvLocation(key string) *time.Location {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultLocation()
	}
	loc, err := time.LoadLocation(value)
	if err != nil {
		return defaultLocation()
	}
	return loc
}
