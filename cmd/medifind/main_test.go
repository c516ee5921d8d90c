package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	// WHAT: Without a file the four built-in pharmacies are configured.
	t.Setenv("MEDIFIND_ADDR", "")
	cfg, err := loadConfig(options{})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if got := len(cfg.EnabledSources()); got != 4 {
		t.Errorf("got %d sources, want 4", got)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("got addr %q, want :8080", cfg.Addr)
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	// WHAT: The -addr flag beats MEDIFIND_ADDR, which beats the file.
	path := filepath.Join(t.TempDir(), "medifind.yaml")
	yaml := "addr: \":7000\"\ncache:\n  ttl: 5m\nsources:\n  - id: apollo\n    class: light\n    delivery_fee: 40\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MEDIFIND_ADDR", ":7100")
	cfg, err := loadConfig(options{configPath: path})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != ":7100" {
		t.Errorf("got addr %q, want :7100", cfg.Addr)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("got ttl %v, want 5m", cfg.Cache.TTL)
	}

	cfg, err = loadConfig(options{configPath: path, addr: ":7200"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != ":7200" {
		t.Errorf("got addr %q, want :7200", cfg.Addr)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	// WHAT: Validation errors stop startup.
	path := filepath.Join(t.TempDir(), "medifind.yaml")
	yaml := "sources:\n  - id: apollo\n  - id: apollo\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(options{configPath: path}); err == nil {
		t.Error("expected duplicate source error")
	}
}

func TestLoadConfig_BadEnv(t *testing.T) {
	// WHAT: A malformed environment override is reported.
	t.Setenv("MEDIFIND_CACHE_TTL", "soon")
	if _, err := loadConfig(options{}); err == nil {
		t.Error("expected error")
	}
}
