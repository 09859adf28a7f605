// Package pressure classifies cache memory usage into pressure levels and
// drives adaptive capacity sizing from observed hit rate and usage.
package pressure

import (
	"go.uber.org/zap"

	"github.com/quantcache/quantcache/pkg/types"
)

// Classification thresholds over usedBytes/limitBytes.
const (
	MediumThreshold   = 0.70
	HighThreshold     = 0.85
	CriticalThreshold = 0.95
)

// Recommended actions by level.
const (
	ActionNone      = "none"
	ActionQuantize  = "quantize"
	ActionEvict     = "evict"
	ActionEmergency = "emergency_cleanup"
)

// Classify maps current usage to a pressure level with a recommended
// action. A non-positive limit always reads as low pressure.
func Classify(usedBytes, limitBytes int64) types.MemoryPressure {
	mp := types.MemoryPressure{
		UsedBytes:  usedBytes,
		LimitBytes: limitBytes,
	}
	if limitBytes > 0 {
		mp.UsageRatio = float64(usedBytes) / float64(limitBytes)
	}

	switch {
	case mp.UsageRatio >= CriticalThreshold:
		mp.Level = types.PressureCritical
		mp.RecommendedAction = ActionEmergency
	case mp.UsageRatio >= HighThreshold:
		mp.Level = types.PressureHigh
		mp.RecommendedAction = ActionEvict
	case mp.UsageRatio >= MediumThreshold:
		mp.Level = types.PressureMedium
		mp.RecommendedAction = ActionQuantize
	default:
		mp.Level = types.PressureLow
		mp.RecommendedAction = ActionNone
	}
	return mp
}

// SizingConfig configures the adaptive capacity controller.
type SizingConfig struct {
	Enabled         bool
	MinSize         int
	MaxSize         int
	ResizeThreshold float64 // usage ratio above which the cache shrinks
	ShrinkFactor    float64
	GrowthFactor    float64
}

// Decision is the controller's verdict for one evaluation.
type Decision struct {
	Resize  bool
	NewSize int
	Grew    bool
	Reason  string
}

// Controller periodically re-evaluates the entry capacity. Growth needs a
// high hit rate and low usage; shrinking triggers on a poor hit rate or
// high usage.
type Controller struct {
	cfg    SizingConfig
	logger *zap.Logger
}

// NewController creates a sizing controller.
func NewController(cfg SizingConfig, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResizeThreshold <= 0 || cfg.ResizeThreshold >= 1 {
		cfg.ResizeThreshold = 0.80
	}
	if cfg.GrowthFactor <= 1 {
		cfg.GrowthFactor = 1.2
	}
	if cfg.ShrinkFactor <= 0 || cfg.ShrinkFactor >= 1 {
		cfg.ShrinkFactor = 0.8
	}
	return &Controller{cfg: cfg, logger: logger}
}

// Evaluate decides whether to resize from currentSize given the lifetime
// hit rate and current memory usage ratio.
func (c *Controller) Evaluate(currentSize int, hitRate, usageRatio float64) Decision {
	if !c.cfg.Enabled {
		return Decision{NewSize: currentSize}
	}

	switch {
	case hitRate > 0.9 && usageRatio < 0.60:
		newSize := int(float64(currentSize) * c.cfg.GrowthFactor)
		if c.cfg.MaxSize > 0 && newSize > c.cfg.MaxSize {
			newSize = c.cfg.MaxSize
		}
		if newSize <= currentSize {
			return Decision{NewSize: currentSize}
		}
		c.logger.Info("growing cache capacity",
			zap.Int("from", currentSize), zap.Int("to", newSize),
			zap.Float64("hit_rate", hitRate), zap.Float64("usage", usageRatio))
		return Decision{Resize: true, NewSize: newSize, Grew: true, Reason: "high hit rate, low usage"}

	case hitRate < 0.7 || usageRatio > c.cfg.ResizeThreshold:
		newSize := int(float64(currentSize) * c.cfg.ShrinkFactor)
		if newSize < c.cfg.MinSize {
			newSize = c.cfg.MinSize
		}
		if newSize >= currentSize {
			return Decision{NewSize: currentSize}
		}
		c.logger.Info("shrinking cache capacity",
			zap.Int("from", currentSize), zap.Int("to", newSize),
			zap.Float64("hit_rate", hitRate), zap.Float64("usage", usageRatio))
		return Decision{Resize: true, NewSize: newSize, Reason: "low hit rate or high usage"}
	}

	return Decision{NewSize: currentSize}
}
