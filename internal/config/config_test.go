package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "page", cfg.Conversion.Mode)
	assert.Len(t, cfg.Tiers, 2)
	assert.Equal(t, 0.25, cfg.Escalation.MaxFraction)
	assert.Equal(t, 25, cfg.Escalation.MaxAbsolute)
	assert.True(t, cfg.NeedsAPIKey())
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mdload.yaml")
	yamlDoc := `
conversion:
  mode: document
  workers: 2
  unit_timeout: 90s
tiers:
  - name: text
    backend: textlayer
    version: "1"
  - name: ocr
    backend: tesseract
    version: "5"
    options:
      lang: eng
escalation:
  max_fraction: 0.5
  max_absolute: 3
cache:
  driver: memory
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))
	t.Setenv("MDLOAD_WORKERS", "8")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "document", cfg.Conversion.Mode)
	assert.Equal(t, 8, cfg.Conversion.Workers)
	assert.Equal(t, 90*time.Second, cfg.Conversion.UnitTimeout)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	require.Len(t, cfg.Tiers, 2)
	assert.Equal(t, "tesseract", cfg.Tiers[1].Backend)
	assert.False(t, cfg.NeedsAPIKey())
}

func TestLoad_DatabaseURLSelectsDriver(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:/tmp/mdload-test.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Cache.Driver)
	assert.Equal(t, "/tmp/mdload-test.db", cfg.Cache.SQLite.Path)
}

func TestLoad_ModelOverrides(t *testing.T) {
	t.Setenv("LLM_FAST_MODEL", "google/gemini-2.5-flash")
	t.Setenv("LLM_STRONG_MODEL", "google/gemini-2.5-pro")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "google/gemini-2.5-flash", cfg.Tiers[0].Model)
	assert.Equal(t, "google/gemini-2.5-pro", cfg.Tiers[1].Model)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/mdload.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Conversion.Mode = "chapters" }},
		{"zero workers", func(c *Config) { c.Conversion.Workers = 0 }},
		{"quality out of range", func(c *Config) { c.Conversion.RenderQuality = 101 }},
		{"single tier", func(c *Config) { c.Tiers = c.Tiers[:1] }},
		{"duplicate tier", func(c *Config) { c.Tiers[1].Name = c.Tiers[0].Name }},
		{"unknown backend", func(c *Config) { c.Tiers[0].Backend = "marker" }},
		{"openrouter without model", func(c *Config) { c.Tiers[1].Model = "" }},
		{"fraction above one", func(c *Config) { c.Escalation.MaxFraction = 1.5 }},
		{"negative absolute", func(c *Config) { c.Escalation.MaxAbsolute = -1 }},
		{"unknown driver", func(c *Config) { c.Cache.Driver = "s3" }},
		{"postgres without dsn", func(c *Config) { c.Cache.Driver = "postgres" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestTierSignature_Deterministic(t *testing.T) {
	a := TierConfig{Backend: "openrouter", Options: map[string]string{"b": "2", "a": "1"}}
	b := TierConfig{Backend: "openrouter", Options: map[string]string{"a": "1", "b": "2"}}

	assert.Equal(t, "backend=openrouter;a=1;b=2", a.Signature())
	assert.Equal(t, a.Signature(), b.Signature())

	b.Options["a"] = "3"
	assert.NotEqual(t, a.Signature(), b.Signature())
}
