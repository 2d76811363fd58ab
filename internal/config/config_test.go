package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Storage.Driver != DriverFile {
		t.Errorf("expected file driver, got '%s'", cfg.Storage.Driver)
	}
	if cfg.Storage.LockTimeout != 5*time.Second {
		t.Errorf("expected 5s lock timeout, got %v", cfg.Storage.LockTimeout)
	}
	if cfg.Match.Tolerance != 0.48 || cfg.Match.Margin != 0.05 {
		t.Errorf("unexpected match defaults: %+v", cfg.Match)
	}
	if cfg.Detector.Dim != 128 {
		t.Errorf("expected dim 128, got %d", cfg.Detector.Dim)
	}
	if cfg.Enrollment.Policy != PolicyCanonical {
		t.Errorf("expected canonical policy, got '%s'", cfg.Enrollment.Policy)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "Memory")
	t.Setenv("MATCH_TOLERANCE", "0.5")
	t.Setenv("MATCH_MARGIN", "0.02")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("DESCRIPTOR_DIM", "512")
	t.Setenv("ENROLLMENT_POLICY", "all")
	t.Setenv("WEB_PORT", "8080")
	t.Setenv("LOG_DEVELOPMENT", "true")
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://school.example, ,https://admin.example")
	t.Setenv("DETECTOR_CONCURRENCY", "8")

	cfg := Load()

	if cfg.Storage.Driver != DriverMemory {
		t.Errorf("expected memory driver, got '%s'", cfg.Storage.Driver)
	}
	if cfg.Match.Tolerance != 0.5 || cfg.Match.Margin != 0.02 {
		t.Errorf("unexpected match config: %+v", cfg.Match)
	}
	if cfg.Storage.LockTimeout != 250*time.Millisecond {
		t.Errorf("unexpected lock timeout %v", cfg.Storage.LockTimeout)
	}
	if cfg.Detector.Dim != 512 {
		t.Errorf("expected dim 512, got %d", cfg.Detector.Dim)
	}
	if cfg.Enrollment.Policy != PolicyAll {
		t.Errorf("expected all policy, got '%s'", cfg.Enrollment.Policy)
	}
	if cfg.Web.Port != 8080 || !cfg.Log.Development {
		t.Errorf("unexpected web/log config: %+v %+v", cfg.Web, cfg.Log)
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "https://admin.example" {
		t.Errorf("unexpected allowed origins %q", cfg.Web.AllowedOrigins)
	}
	if cfg.Detector.Concurrency != 8 {
		t.Errorf("expected concurrency 8, got %d", cfg.Detector.Concurrency)
	}
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("MATCH_TOLERANCE", "abc")
	t.Setenv("MATCH_MARGIN", "-1")
	t.Setenv("WEB_PORT", "0")
	t.Setenv("LOCK_TIMEOUT", "soon")

	cfg := Load()
	d := Defaults()

	if cfg.Match != d.Match {
		t.Errorf("expected default match config, got %+v", cfg.Match)
	}
	if cfg.Web.Port != d.Web.Port {
		t.Errorf("expected default port, got %d", cfg.Web.Port)
	}
	if cfg.Storage.LockTimeout != d.Storage.LockTimeout {
		t.Errorf("expected default lock timeout, got %v", cfg.Storage.LockTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, "unknown storage driver"},
		{"postgres without url", func(c *Config) { c.Storage.Driver = DriverPostgres }, "DATABASE_URL"},
		{"zero tolerance", func(c *Config) { c.Match.Tolerance = 0 }, "tolerance"},
		{"negative margin", func(c *Config) { c.Match.Margin = -0.1 }, "margin"},
		{"unknown policy", func(c *Config) { c.Enrollment.Policy = "newest" }, "enrollment policy"},
		{"zero dim", func(c *Config) { c.Detector.Dim = 0 }, "dimension"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	cfg := Defaults()
	cfg.Storage.Driver = DriverPostgres
	cfg.Database.URL = "postgres://localhost/attendance"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid postgres config, got %v", err)
	}
}
