// Package config provides configuration loading for mdload.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a conversion run.
type Config struct {
	Conversion    ConversionConfig    `yaml:"conversion"`
	Tiers         []TierConfig        `yaml:"tiers"`
	Escalation    EscalationConfig    `yaml:"escalation"`
	Cache         CacheConfig         `yaml:"cache"`
	LLM           LLMConfig           `yaml:"llm"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ConversionConfig holds splitting and scheduling settings.
type ConversionConfig struct {
	Mode          string        `yaml:"mode"` // page or document
	Workers       int           `yaml:"workers"`
	UnitTimeout   time.Duration `yaml:"unit_timeout"`
	RenderQuality int           `yaml:"render_quality"` // JPEG quality of rendered pages
	OutputDir     string        `yaml:"output_dir"`
}

// TierConfig describes one converter in the escalation chain, cheapest first.
type TierConfig struct {
	Name    string            `yaml:"name"`
	Backend string            `yaml:"backend"` // openrouter, tesseract or textlayer
	Model   string            `yaml:"model"`
	Version string            `yaml:"version"`
	Options map[string]string `yaml:"options"`
}

// Signature renders the tier options deterministically for cache keys.
func (t TierConfig) Signature() string {
	keys := make([]string, 0, len(t.Options))
	for k := range t.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, "backend="+t.Backend)
	for _, k := range keys {
		parts = append(parts, k+"="+t.Options[k])
	}
	return strings.Join(parts, ";")
}

// EscalationConfig bounds quality-driven escalations per run.
type EscalationConfig struct {
	MaxFraction float64 `yaml:"max_fraction"`
	MaxAbsolute int     `yaml:"max_absolute"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Driver   string         `yaml:"driver"` // file, sqlite, postgres, redis or memory
	Dir      string         `yaml:"dir"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// LLMConfig holds settings shared by all openrouter tiers.
type LLMConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads .env files, then the YAML file at path (optional), then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the two-tier setup: a cheap vision model first and a
// strong one for escalations.
func DefaultConfig() *Config {
	return &Config{
		Conversion: ConversionConfig{
			Mode:          "page",
			Workers:       4,
			UnitTimeout:   0,
			RenderQuality: 85,
			OutputDir:     ".",
		},
		Tiers: []TierConfig{
			{
				Name:    "fast",
				Backend: "openrouter",
				Model:   "openai/gpt-4o-mini",
				Version: "v1",
			},
			{
				Name:    "strong",
				Backend: "openrouter",
				Model:   "openai/gpt-5",
				Version: "v1",
			},
		},
		Escalation: EscalationConfig{
			MaxFraction: 0.25,
			MaxAbsolute: 25,
		},
		Cache: CacheConfig{
			Driver: "file",
			Dir:    ".mdload_cache",
			SQLite: SQLiteConfig{
				Path: ".mdload_cache.db",
			},
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "mdload:",
			},
		},
		LLM: LLMConfig{
			BaseURL:    "https://openrouter.ai/api/v1",
			Timeout:    120 * time.Second,
			MaxRetries: 6,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

var (
	validBackends = map[string]bool{"openrouter": true, "tesseract": true, "textlayer": true}
	validDrivers  = map[string]bool{"file": true, "sqlite": true, "postgres": true, "redis": true, "memory": true}
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Conversion.Mode {
	case "page", "document":
	default:
		return fmt.Errorf("invalid conversion mode: %s", c.Conversion.Mode)
	}

	if c.Conversion.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Conversion.Workers)
	}

	if c.Conversion.RenderQuality < 1 || c.Conversion.RenderQuality > 100 {
		return fmt.Errorf("render_quality must be between 1 and 100, got %d", c.Conversion.RenderQuality)
	}

	if len(c.Tiers) < 2 {
		return fmt.Errorf("at least two tiers are required, got %d", len(c.Tiers))
	}

	seen := make(map[string]bool, len(c.Tiers))
	for i, t := range c.Tiers {
		if t.Name == "" {
			return fmt.Errorf("tier %d: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("tier %d: duplicate name %q", i, t.Name)
		}
		seen[t.Name] = true
		if !validBackends[t.Backend] {
			return fmt.Errorf("tier %s: invalid backend %q", t.Name, t.Backend)
		}
		if t.Backend == "openrouter" && t.Model == "" {
			return fmt.Errorf("tier %s: model is required for openrouter", t.Name)
		}
	}

	if c.Escalation.MaxFraction < 0 || c.Escalation.MaxFraction > 1 {
		return fmt.Errorf("escalation max_fraction must be within [0,1], got %v", c.Escalation.MaxFraction)
	}
	if c.Escalation.MaxAbsolute < 0 {
		return fmt.Errorf("escalation max_absolute must not be negative, got %d", c.Escalation.MaxAbsolute)
	}

	if !validDrivers[c.Cache.Driver] {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}
	if c.Cache.Driver == "postgres" && c.Cache.Postgres.DSN == "" {
		return fmt.Errorf("cache driver postgres requires a dsn")
	}

	return nil
}

// NeedsAPIKey reports whether any tier calls the OpenRouter API.
func (c *Config) NeedsAPIKey() bool {
	for _, t := range c.Tiers {
		if t.Backend == "openrouter" {
			return true
		}
	}
	return false
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}

	if v := os.Getenv("LLM_FAST_MODEL"); v != "" && len(cfg.Tiers) > 0 {
		cfg.Tiers[0].Model = v
	}

	if v := os.Getenv("LLM_STRONG_MODEL"); v != "" && len(cfg.Tiers) > 0 {
		cfg.Tiers[len(cfg.Tiers)-1].Model = v
	}

	if v := os.Getenv("MDLOAD_MODE"); v != "" {
		cfg.Conversion.Mode = v
	}

	if v := os.Getenv("MDLOAD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Conversion.Workers = n
		}
	}

	if v := os.Getenv("MDLOAD_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}

	if v := os.Getenv("MDLOAD_CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Cache.Driver = "sqlite"
			cfg.Cache.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Cache.Driver = "postgres"
			cfg.Cache.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
