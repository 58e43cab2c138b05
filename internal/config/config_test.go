package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("ADMIN_IDS", "11, 22,bogus")
	t.Setenv("VERIFY_TIMEOUT", "3s")
	t.Setenv("AUTO_PAY_INTERVAL", "not-a-duration")
	t.Setenv("SIM_SUCCESS_RATE", "0.5")

	cfg := LoadConfig()

	if cfg.DBDriver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", cfg.DBDriver)
	}
	if len(cfg.AdminIDs) != 2 || cfg.AdminIDs[0] != 11 || cfg.AdminIDs[1] != 22 {
		t.Fatalf("unexpected admin ids: %v", cfg.AdminIDs)
	}
	if !cfg.IsAdmin(22) || cfg.IsAdmin(33) {
		t.Fatalf("IsAdmin mismatch")
	}
	if cfg.VerifyTimeout != 3*time.Second {
		t.Fatalf("expected 3s verify timeout, got %s", cfg.VerifyTimeout)
	}
	if cfg.AutoPayInterval != 60*time.Second {
		t.Fatalf("expected fallback interval, got %s", cfg.AutoPayInterval)
	}
	if cfg.SimSuccessRate != 0.5 {
		t.Fatalf("expected 0.5 success rate, got %v", cfg.SimSuccessRate)
	}
	if cfg.SyntheticIDStart != 9000000000 {
		t.Fatalf("unexpected synthetic id start %d", cfg.SyntheticIDStart)
	}
}
