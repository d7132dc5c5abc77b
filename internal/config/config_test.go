package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.Tellers != 3 || cfg.Advisors != 1 || cfg.MaxOperationsPerTurn != 3 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.LockTimeout != 5*time.Second || cfg.PollInterval != 250*time.Millisecond || cfg.MaxServiceTime != 2*time.Minute {
		t.Fatalf("unexpected duration defaults %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TELLERS", "5")
	t.Setenv("ADVISORS", "0")
	t.Setenv("LOCK_TIMEOUT", "750ms")
	t.Setenv("ADMIN_KEY", "secret")
	t.Setenv("OPERATION_DELAY", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tellers != 5 || cfg.Advisors != 0 || cfg.AdminKey != "secret" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.LockTimeout != 750*time.Millisecond || cfg.OperationDelay != 2*time.Second {
		t.Fatalf("durations not parsed: %+v", cfg)
	}
}
