package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idxwatch/pkg/contracts/domain"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Validation.Concurrency)
	assert.Equal(t, 3.0, cfg.Validation.OutlierSigma)
	assert.Equal(t, 20, cfg.Validation.OutlierWindow)
	assert.Equal(t, 50, cfg.Store.CacheCapacity)
	assert.Equal(t, domain.SeverityWarning, cfg.Notify.SeverityThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Notify.SummaryInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
validation:
  concurrency: 2
  outlier_sigma: 2.5
notify:
  severity_threshold: critical
  summary_recipients: [digest@example.com]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Validation.Concurrency)
	assert.Equal(t, 2.5, cfg.Validation.OutlierSigma)
	assert.Equal(t, domain.SeverityCritical, cfg.Notify.SeverityThreshold)
	assert.Equal(t, []string{"digest@example.com"}, cfg.Notify.SummaryRecipients)
	// Untouched sections keep their defaults.
	assert.Equal(t, 50, cfg.Store.CacheCapacity)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	t.Setenv("IDXWATCH_SERVER_PORT", "7070")
	t.Setenv("IDXWATCH_VALIDATION_DAILY_LOOKBACK", "48h")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 48*time.Hour, cfg.Validation.DailyLookback)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero concurrency", func(c *Config) { c.Validation.Concurrency = 0 }},
		{"negative sigma", func(c *Config) { c.Validation.OutlierSigma = -1 }},
		{"window too small", func(c *Config) { c.Validation.OutlierWindow = 1 }},
		{"zero cache capacity", func(c *Config) { c.Store.CacheCapacity = 0 }},
		{"bad source url", func(c *Config) { c.Source.BaseURL = "not a url" }},
		{"bad severity", func(c *Config) { c.Notify.SeverityThreshold = "severe" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultLookback(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 7*24*time.Hour, cfg.DefaultLookback(domain.TableDailyPrices))
	assert.Equal(t, 365*24*time.Hour, cfg.DefaultLookback(domain.TableFinancialsQuarterly))
	assert.Equal(t, time.Duration(0), cfg.DefaultLookback(domain.TableFinancialsAnnual))
	assert.Equal(t, time.Duration(0), cfg.DefaultLookback(domain.TableDividends))
}
