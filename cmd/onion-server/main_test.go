package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "onion.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestCheckConfig_Valid(t *testing.T) {
	path := writeConfig(t, "ONION_RATELIMIT_RPS: 10\nONION_CACHE_L1_ENTRIES: 100\n")
	if err := app().Run(t.Context(), []string{"onion-server", "check-config", "-c", path}); err != nil {
		t.Fatalf("check-config: %v", err)
	}
}

func TestCheckConfig_Invalid(t *testing.T) {
	path := writeConfig(t, "ONION_IP_ALLOW: [10.0.0.0/8]\nONION_IP_DENY: [10.0.0.0/8]\n")
	if err := app().Run(t.Context(), []string{"onion-server", "check-config", "--config", path}); err == nil {
		t.Fatal("expected conflicting IP lists to fail")
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "INFO"} {
		if _, err := newLogger(level); err != nil {
			t.Errorf("newLogger(%q): %v", level, err)
		}
	}
	if _, err := newLogger("loud"); err == nil {
		t.Error("expected an unknown level to fail")
	}
}
