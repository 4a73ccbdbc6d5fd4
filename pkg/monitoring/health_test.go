package monitoring

import (
	"testing"
)

func TestCheckHealthAggregation(t *testing.T) {
	hc := NewHealthChecker("herald", "test")

	hc.AddCheck("ok", func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	})

	status := hc.CheckHealth()
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", status.Status)
	}

	hc.AddCheck("cache", func() CheckResult {
		return CheckResult{Status: StatusDegraded, Message: "redis down"}
	})

	status = hc.CheckHealth()
	if status.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", status.Status)
	}

	hc.AddCheck("db", func() CheckResult {
		return CheckResult{Status: StatusUnhealthy, Message: "ping failed"}
	})

	status = hc.CheckHealth()
	if status.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", status.Status)
	}
	if len(status.Checks) != 3 {
		t.Fatalf("expected 3 checks, got %d", len(status.Checks))
	}
}

func TestConfigurationHealthCheck(t *testing.T) {
	check := ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": "postgres://localhost/herald",
		"JWT_SECRET":   "",
	})

	result := check()
	if result.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy on missing config, got %s", result.Status)
	}

	check = ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": "postgres://localhost/herald",
	})
	if result := check(); result.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", result.Status)
	}
}

func TestRedisHealthCheckNilClient(t *testing.T) {
	result := RedisHealthCheck(nil)()
	if result.Status != StatusDegraded {
		t.Fatalf("nil redis client should degrade, not fail: got %s", result.Status)
	}
}
