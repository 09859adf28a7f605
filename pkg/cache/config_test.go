package cache

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/quantcache/quantcache/pkg/errors"
	"github.com/quantcache/quantcache/pkg/types"
)

func hasCode(err error, code cerrors.ErrorCode) bool {
	return stderrors.Is(err, cerrors.New(code, ""))
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, types.QuantInt8, cfg.Quantization.Type)
	assert.Equal(t, int64(64)*1024*1024, cfg.MaxMemoryBytes())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max size", func(c *Config) { c.MaxSize = 0 }},
		{"negative memory", func(c *Config) { c.MaxMemoryMB = -1 }},
		{"negative ttl", func(c *Config) { c.DefaultTTL = -time.Second }},
		{"bad quant type", func(c *Config) { c.Quantization.Type = "int2" }},
		{"quant none while enabled", func(c *Config) { c.Quantization.Type = types.QuantNone }},
		{"negative threshold", func(c *Config) { c.Quantization.ThresholdBytes = -1 }},
		{"resize min above max", func(c *Config) {
			c.AdaptiveResize.MinSize = 100
			c.AdaptiveResize.MaxSize = 10
		}},
		{"shrink factor out of range", func(c *Config) { c.AdaptiveResize.ShrinkFactor = 1.5 }},
		{"growth factor too small", func(c *Config) { c.AdaptiveResize.GrowthFactor = 0.9 }},
		{"resize threshold out of range", func(c *Config) { c.AdaptiveResize.ResizeThreshold = 1.2 }},
		{"zero prediction window", func(c *Config) { c.Prediction.PredictionWindow = 0 }},
		{"confidence above one", func(c *Config) { c.Prediction.ConfidenceThreshold = 1.5 }},
		{"zero metrics interval", func(c *Config) { c.Monitoring.MetricsInterval = 0 }},
		{"hit rate threshold above one", func(c *Config) { c.Monitoring.AlertThresholds.HitRate = 2 }},
		{"negative eviction rate", func(c *Config) { c.Monitoring.AlertThresholds.EvictionRate = -0.1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, hasCode(err, cerrors.ErrCodeConfigValidation))
		})
	}
}

func TestConfigValidateSkipsDisabledSections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Quantization.Enabled = false
	cfg.Quantization.Type = "garbage"
	cfg.AdaptiveResize.Enabled = false
	cfg.AdaptiveResize.ShrinkFactor = 5
	cfg.Monitoring.Enabled = false
	cfg.Monitoring.MetricsInterval = 0
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	yamlBody := `
max_size: 500
max_memory_mb: 8
default_ttl: 5m
quantization:
  enabled: true
  type: fp8
  threshold_bytes: 256
prediction:
  enabled: false
monitoring:
  metrics_interval: 10s
  alert_thresholds:
    hit_rate: 0.4
`
	path := filepath.Join(t.TempDir(), "cache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.MaxSize)
	assert.Equal(t, 8, cfg.MaxMemoryMB)
	assert.Equal(t, 5*time.Minute, cfg.DefaultTTL)
	assert.Equal(t, types.QuantFP8, cfg.Quantization.Type)
	assert.Equal(t, int64(256), cfg.Quantization.ThresholdBytes)
	assert.False(t, cfg.Prediction.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Monitoring.MetricsInterval)
	assert.Equal(t, 0.4, cfg.Monitoring.AlertThresholds.HitRate)
	// Untouched sections keep defaults.
	assert.Equal(t, 1.2, cfg.AdaptiveResize.GrowthFactor)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, hasCode(err, cerrors.ErrCodeConfigLoad))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("max_size: [not an int\n"), 0o600))
	_, err = LoadConfig(bad)
	require.Error(t, err)
	assert.True(t, hasCode(err, cerrors.ErrCodeConfigLoad))

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("max_size: -5\n"), 0o600))
	_, err = LoadConfig(invalid)
	require.Error(t, err)
	assert.True(t, hasCode(err, cerrors.ErrCodeConfigValidation))
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"512B", 512, false},
		{"4KB", 4 * 1024, false},
		{"16mb", 16 * 1024 * 1024, false},
		{" 2 GB ", 2 * 1024 * 1024 * 1024, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-1KB", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
