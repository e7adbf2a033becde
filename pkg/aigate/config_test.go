package aigate

import (
	"testing"
	"time"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv(EnvRateLimitPerDay, "")
	t.Setenv(EnvDailyBudgetTHB, "")
	t.Setenv(EnvTimeZone, "")

	c := ConfigFromEnv()
	if c.DefaultDailyLimit != DefaultDailyLimit {
		t.Errorf("Expected default limit %d, got %d", DefaultDailyLimit, c.DefaultDailyLimit)
	}
	if c.DailyBudget != DefaultDailyBudget {
		t.Errorf("Expected default budget %v, got %v", DefaultDailyBudget, c.DailyBudget)
	}
	if c.Location == nil {
		t.Fatal("Expected a location")
	}
	if c.Location.String() != DefaultTimeZone && c.Location.String() != "ICT" {
		t.Errorf("Expected Bangkok time zone, got %q", c.Location)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv(EnvRateLimitPerDay, "250")
	t.Setenv(EnvDailyBudgetTHB, "1234.5")
	t.Setenv(EnvTimeZone, "UTC")

	c := ConfigFromEnv()
	if c.DefaultDailyLimit != 250 {
		t.Errorf("Expected limit 250, got %d", c.DefaultDailyLimit)
	}
	if c.DailyBudget != 1234.5 {
		t.Errorf("Expected budget 1234.5, got %v", c.DailyBudget)
	}
	if c.Location != time.UTC {
		t.Errorf("Expected UTC, got %v", c.Location)
	}
}

func TestConfigFromEnvUnparseable(t *testing.T) {
	t.Setenv(EnvRateLimitPerDay, "not-a-number")
	t.Setenv(EnvDailyBudgetTHB, "-5")
	t.Setenv(EnvTimeZone, "Mars/Olympus")

	c := ConfigFromEnv()
	if c.DefaultDailyLimit != DefaultDailyLimit {
		t.Errorf("Unparseable limit should fall back to default, got %d", c.DefaultDailyLimit)
	}
	if c.DailyBudget != DefaultDailyBudget {
		t.Errorf("Negative budget should fall back to default, got %v", c.DailyBudget)
	}
	if c.Location == nil {
		t.Error("Bad time zone should fall back to the default location")
	}
}

func TestConfigWithDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	if c.DefaultDailyLimit != DefaultDailyLimit {
		t.Errorf("Expected limit %d, got %d", DefaultDailyLimit, c.DefaultDailyLimit)
	}
	if c.StoreTimeout != DefaultStoreTimeout {
		t.Errorf("Expected timeout %v, got %v", DefaultStoreTimeout, c.StoreTimeout)
	}
	if c.Logger == nil || c.Metrics == nil {
		t.Error("Expected noop logger and metrics")
	}
}

func TestConfigPolicyTTLClamped(t *testing.T) {
	c := Config{PolicyTTL: 48 * time.Hour}.withDefaults()
	if c.PolicyTTL != 24*time.Hour {
		t.Errorf("Expected TTL clamped to 24h, got %v", c.PolicyTTL)
	}

	c = Config{PolicyTTL: time.Minute}.withDefaults()
	if c.PolicyTTL != time.Minute {
		t.Errorf("TTL under the clamp should pass through, got %v", c.PolicyTTL)
	}
}
