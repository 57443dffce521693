package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"dispatchline/internal/config"
)

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
dispatch:
  business_timezone: Europe/Paris
  default_strategy: round_robin
  internal_vendor_id: vendor-internal
auth:
  jwt_secret: s3cret
webhooks:
  - url: https://example.com/hooks/dispatch
    outcomes: [assigned]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Dispatch.InternalVendorID != "vendor-internal" {
		t.Fatalf("internal vendor = %q", cfg.Dispatch.InternalVendorID)
	}
	if cfg.Strategy() != "round_robin" {
		t.Fatalf("strategy = %q", cfg.Strategy())
	}
	if cfg.Location().String() != "Europe/Paris" {
		t.Fatalf("location = %v", cfg.Location())
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].URL == "" {
		t.Fatalf("webhooks = %+v", cfg.Webhooks)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	if _, err := config.FromYAML([]byte("dispatch:\n  default_strategy: fastest\n")); err == nil {
		t.Fatalf("expected unknown strategy error")
	}
	if _, err := config.FromYAML([]byte("dispatch:\n  business_timezone: Mars/Olympus\n")); err == nil {
		t.Fatalf("expected bad timezone error")
	}
	if _, err := config.FromYAML([]byte("webhooks:\n  - secret: x\n")); err == nil {
		t.Fatalf("expected missing webhook url error")
	}
}

func TestDefaultsAndFallbacks(t *testing.T) {
	cfg := config.Default()
	if cfg.Strategy() != "least_loaded" {
		t.Fatalf("default strategy = %q", cfg.Strategy())
	}
	if cfg.Location().String() != "UTC" {
		t.Fatalf("default location = %v", cfg.Location())
	}
	var nilCfg *config.Config
	if nilCfg.Strategy() != "least_loaded" || nilCfg.Location().String() != "UTC" {
		t.Fatalf("nil config fallbacks broken")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Strategy() != "least_loaded" {
		t.Fatalf("strategy = %q", cfg.Strategy())
	}

	if err := os.WriteFile(filepath.Join(dir, "dispatchline.yml"), []byte("dispatch:\n  default_strategy: priority_first\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Strategy() != "priority_first" {
		t.Fatalf("strategy = %q", cfg.Strategy())
	}
}

func TestGenerateDefaultParses(t *testing.T) {
	if _, err := config.FromYAML([]byte(config.GenerateDefault())); err != nil {
		t.Fatalf("generated template must parse: %v", err)
	}
}
