package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "development" {
		t.Errorf("expected default env development, got %s", cfg.Env)
	}
	if cfg.DefaultReductionPercent != 0.25 {
		t.Errorf("expected default reduction 0.25, got %g", cfg.DefaultReductionPercent)
	}
	if cfg.TaperRate != 0.10 {
		t.Errorf("expected default taper rate 0.10, got %g", cfg.TaperRate)
	}
	if cfg.TaperDuration != "short" {
		t.Errorf("expected default taper duration short, got %s", cfg.TaperDuration)
	}
	if cfg.TaperDrug != "oxycodone" {
		t.Errorf("expected default taper drug oxycodone, got %s", cfg.TaperDrug)
	}
	if cfg.MethadoneInduction != "rapid" {
		t.Errorf("expected default induction rapid, got %s", cfg.MethadoneInduction)
	}
	if cfg.MetricsEnabled {
		t.Error("expected metrics disabled by default")
	}
	if cfg.ReferenceDataPath != "" {
		t.Errorf("expected embedded reference data by default, got %s", cfg.ReferenceDataPath)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("TAPER_RATE", "0.2")
	t.Setenv("TAPER_DURATION", "long")
	t.Setenv("METHADONE_INDUCTION", "stepwise")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TaperRate != 0.2 {
		t.Errorf("expected taper rate 0.2, got %g", cfg.TaperRate)
	}
	if cfg.TaperDuration != "long" {
		t.Errorf("expected long taper, got %s", cfg.TaperDuration)
	}
	if cfg.MethadoneInduction != "stepwise" {
		t.Errorf("expected stepwise induction, got %s", cfg.MethadoneInduction)
	}
	if cfg.Level() != zerolog.DebugLevel {
		t.Errorf("expected debug level, got %s", cfg.Level())
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("TAPER_DURATION", "fortnightly")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid TAPER_DURATION")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Env:                     "development",
			LogLevel:                "info",
			DefaultReductionPercent: 0.25,
			TaperRate:               0.1,
			TaperDuration:           "short",
			TaperDrug:               "oxycodone",
			MethadoneInduction:      "rapid",
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"reduction 1", func(c *Config) { c.DefaultReductionPercent = 1 }},
		{"negative reduction", func(c *Config) { c.DefaultReductionPercent = -0.1 }},
		{"zero rate", func(c *Config) { c.TaperRate = 0 }},
		{"rate 1", func(c *Config) { c.TaperRate = 1 }},
		{"bad duration", func(c *Config) { c.TaperDuration = "weekly" }},
		{"no taper drug", func(c *Config) { c.TaperDrug = "" }},
		{"bad induction", func(c *Config) { c.MethadoneInduction = "slow" }},
		{"missing reference file", func(c *Config) { c.ReferenceDataPath = filepath.Join(t.TempDir(), "nope.yaml") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfig_ReferenceDataPathExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.yaml")
	if err := os.WriteFile(path, []byte("version: x\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c := &Config{
		LogLevel: "info", DefaultReductionPercent: 0.25, TaperRate: 0.1,
		TaperDuration: "short", TaperDrug: "oxycodone", MethadoneInduction: "rapid",
		ReferenceDataPath: path,
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
}
