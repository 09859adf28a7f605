package cache

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/quantcache/quantcache/pkg/errors"
	"github.com/quantcache/quantcache/pkg/types"
)

// Config holds the full cache configuration. It is immutable once applied;
// UpdateConfig replaces it wholesale after validation.
type Config struct {
	MaxSize     int           `yaml:"max_size"`
	MaxMemoryMB int           `yaml:"max_memory_mb"`
	DefaultTTL  time.Duration `yaml:"default_ttl"`

	Quantization   QuantizationConfig   `yaml:"quantization"`
	AdaptiveResize AdaptiveResizeConfig `yaml:"adaptive_resize"`
	Prediction     PredictionConfig     `yaml:"prediction"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`

	// Logger is injected by the embedding application; nil means no logging.
	Logger *zap.Logger `yaml:"-" json:"-"`
}

// QuantizationConfig controls value quantization on insertion.
type QuantizationConfig struct {
	Enabled        bool                   `yaml:"enabled"`
	Type           types.QuantizationType `yaml:"type"`
	ThresholdBytes int64                  `yaml:"threshold_bytes"`
	Aggressive     bool                   `yaml:"aggressive"`
}

// AdaptiveResizeConfig controls maintenance-tick capacity adaptation.
type AdaptiveResizeConfig struct {
	Enabled         bool    `yaml:"enabled"`
	MinSize         int     `yaml:"min_size"`
	MaxSize         int     `yaml:"max_size"`
	ResizeThreshold float64 `yaml:"resize_threshold"`
	ShrinkFactor    float64 `yaml:"shrink_factor"`
	GrowthFactor    float64 `yaml:"growth_factor"`
}

// PredictionConfig controls the hit predictor.
type PredictionConfig struct {
	Enabled             bool          `yaml:"enabled"`
	PredictionWindow    time.Duration `yaml:"prediction_window"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
}

// MonitoringConfig controls the maintenance tick and alerting.
type MonitoringConfig struct {
	Enabled         bool                  `yaml:"enabled"`
	MetricsInterval time.Duration         `yaml:"metrics_interval"`
	AlertThresholds AlertThresholdsConfig `yaml:"alert_thresholds"`
}

// AlertThresholdsConfig holds the alert trigger points.
type AlertThresholdsConfig struct {
	HitRate      float64 `yaml:"hit_rate"`
	MemoryUsage  float64 `yaml:"memory_usage"`
	EvictionRate float64 `yaml:"eviction_rate"`
}

// DefaultConfig returns a configuration with production defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxSize:     10000,
		MaxMemoryMB: 64,
		DefaultTTL:  time.Hour,
		Quantization: QuantizationConfig{
			Enabled:        true,
			Type:           types.QuantInt8,
			ThresholdBytes: 1024,
			Aggressive:     false,
		},
		AdaptiveResize: AdaptiveResizeConfig{
			Enabled:         true,
			MinSize:         1000,
			MaxSize:         50000,
			ResizeThreshold: 0.80,
			ShrinkFactor:    0.8,
			GrowthFactor:    1.2,
		},
		Prediction: PredictionConfig{
			Enabled:             true,
			PredictionWindow:    time.Hour,
			ConfidenceThreshold: 0.7,
		},
		Monitoring: MonitoringConfig{
			Enabled:         true,
			MetricsInterval: 30 * time.Second,
			AlertThresholds: AlertThresholdsConfig{
				HitRate:      0.5,
				MemoryUsage:  0.9,
				EvictionRate: 0.3,
			},
		},
	}
}

// LoadConfig reads a yaml configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) // #nosec G304 -- caller-supplied config path
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithDetail("path", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithDetail("path", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for out-of-range values. It does not
// mutate the config.
func (c *Config) Validate() error {
	fail := func(field, msg string) error {
		return errors.New(errors.ErrCodeConfigValidation, msg).
			WithComponent("cache").WithDetail("field", field)
	}

	if c.MaxSize <= 0 {
		return fail("max_size", "max_size must be greater than 0")
	}
	if c.MaxMemoryMB <= 0 {
		return fail("max_memory_mb", "max_memory_mb must be greater than 0")
	}
	if c.DefaultTTL < 0 {
		return fail("default_ttl", "default_ttl cannot be negative")
	}

	if c.Quantization.Enabled {
		if !c.Quantization.Type.Valid() || c.Quantization.Type == types.QuantNone {
			return fail("quantization.type",
				fmt.Sprintf("invalid quantization type %q (must be int8, fp8, or int4)", c.Quantization.Type))
		}
		if c.Quantization.ThresholdBytes < 0 {
			return fail("quantization.threshold_bytes", "threshold_bytes cannot be negative")
		}
	}

	if c.AdaptiveResize.Enabled {
		ar := c.AdaptiveResize
		if ar.MinSize <= 0 || ar.MaxSize < ar.MinSize {
			return fail("adaptive_resize", "min_size must be positive and max_size >= min_size")
		}
		if ar.ShrinkFactor <= 0 || ar.ShrinkFactor >= 1 {
			return fail("adaptive_resize.shrink_factor", "shrink_factor must be in (0,1)")
		}
		if ar.GrowthFactor <= 1 {
			return fail("adaptive_resize.growth_factor", "growth_factor must be greater than 1")
		}
		if ar.ResizeThreshold <= 0 || ar.ResizeThreshold >= 1 {
			return fail("adaptive_resize.resize_threshold", "resize_threshold must be in (0,1)")
		}
	}

	if c.Prediction.Enabled {
		if c.Prediction.PredictionWindow <= 0 {
			return fail("prediction.prediction_window", "prediction_window must be positive")
		}
		if c.Prediction.ConfidenceThreshold < 0 || c.Prediction.ConfidenceThreshold > 1 {
			return fail("prediction.confidence_threshold", "confidence_threshold must be in [0,1]")
		}
	}

	if c.Monitoring.Enabled {
		if c.Monitoring.MetricsInterval <= 0 {
			return fail("monitoring.metrics_interval", "metrics_interval must be positive")
		}
		th := c.Monitoring.AlertThresholds
		if th.HitRate < 0 || th.HitRate > 1 || th.MemoryUsage < 0 || th.MemoryUsage > 1 {
			return fail("monitoring.alert_thresholds", "rate thresholds must be in [0,1]")
		}
		if th.EvictionRate < 0 {
			return fail("monitoring.alert_thresholds.eviction_rate", "eviction_rate cannot be negative")
		}
	}

	return nil
}

// MaxMemoryBytes returns the memory ceiling in bytes.
func (c *Config) MaxMemoryBytes() int64 {
	return int64(c.MaxMemoryMB) * 1024 * 1024
}

// clone returns a copy safe to hand out in exports; the logger pointer is
// shared deliberately.
func (c *Config) clone() Config {
	out := *c
	return out
}

// ParseSize parses a human-readable size string such as "512KB" or "2GB"
// into bytes. Bare numbers are bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, errors.New(errors.ErrCodeConfigValidation, "empty size string")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeConfigValidation, "invalid size string")
	}
	if n < 0 {
		return 0, errors.New(errors.ErrCodeConfigValidation, "size cannot be negative")
	}
	return n * multiplier, nil
}
