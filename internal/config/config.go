package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Env                     string  `mapstructure:"ENV"`
	LogLevel                string  `mapstructure:"LOG_LEVEL"`
	ReferenceDataPath       string  `mapstructure:"REFERENCE_DATA_PATH"`
	DefaultReductionPercent float64 `mapstructure:"DEFAULT_REDUCTION_PERCENT"`
	TaperRate               float64 `mapstructure:"TAPER_RATE"`
	TaperDuration           string  `mapstructure:"TAPER_DURATION"`
	TaperDrug               string  `mapstructure:"TAPER_DRUG"`
	MethadoneInduction      string  `mapstructure:"METHADONE_INDUCTION"`
	MetricsEnabled          bool    `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"ENV",
	"LOG_LEVEL",
	"REFERENCE_DATA_PATH",
	"DEFAULT_REDUCTION_PERCENT",
	"TAPER_RATE",
	"TAPER_DURATION",
	"TAPER_DRUG",
	"METHADONE_INDUCTION",
	"METRICS_ENABLED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REFERENCE_DATA_PATH", "") // "" -> embedded bundle
	v.SetDefault("DEFAULT_REDUCTION_PERCENT", 0.25)
	v.SetDefault("TAPER_RATE", 0.10)
	v.SetDefault("TAPER_DURATION", "short")
	v.SetDefault("TAPER_DRUG", "oxycodone")
	v.SetDefault("METHADONE_INDUCTION", "rapid")
	v.SetDefault("METRICS_ENABLED", false)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	if _, err := os.Stat(".env"); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Level parses LOG_LEVEL. Validate has already rejected unknown names.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks ranges and enum values. The taper drug is only checked for
// presence here; the CLI parses it into a drug key.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.LogLevel)
	}
	if c.DefaultReductionPercent < 0 || c.DefaultReductionPercent >= 1 {
		return fmt.Errorf("DEFAULT_REDUCTION_PERCENT must be in [0, 1), got %g", c.DefaultReductionPercent)
	}
	if c.TaperRate <= 0 || c.TaperRate >= 1 {
		return fmt.Errorf("TAPER_RATE must be in (0, 1), got %g", c.TaperRate)
	}
	if c.TaperDuration != "short" && c.TaperDuration != "long" {
		return fmt.Errorf("TAPER_DURATION must be \"short\" or \"long\", got %q", c.TaperDuration)
	}
	if c.TaperDrug == "" {
		return fmt.Errorf("TAPER_DRUG is required")
	}
	if c.MethadoneInduction != "rapid" && c.MethadoneInduction != "stepwise" {
		return fmt.Errorf("METHADONE_INDUCTION must be \"rapid\" or \"stepwise\", got %q", c.MethadoneInduction)
	}
	if c.ReferenceDataPath != "" {
		if _, err := os.Stat(c.ReferenceDataPath); err != nil {
			return fmt.Errorf("REFERENCE_DATA_PATH: %w", err)
		}
	}
	return nil
}
