package cache

import (
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/quantcache/quantcache/internal/pressure"
	"github.com/quantcache/quantcache/pkg/types"
)

// optimizeTarget is the usage ratio OptimizeMemory evicts down to.
const optimizeTarget = pressure.MediumThreshold

// topKeysCount is how many hot keys ExportStatistics includes.
const topKeysCount = 10

// respondToPressureLocked applies the escalating pressure playbook:
// medium quantizes what it can, high sheds a fixed fraction of entries,
// critical runs the full emergency cleanup.
func (c *AdaptiveCache) respondToPressureLocked(mp types.MemoryPressure) {
	switch {
	case mp.UsageRatio >= pressure.CriticalThreshold:
		c.emergencyCleanupLocked()
	case mp.UsageRatio >= pressure.HighThreshold:
		c.evictFractionLocked(evictFraction)
	default:
		c.requantizeLocked(c.pickType(mp))
	}
}

// requantizeLocked encodes every plain entry above the size threshold, and
// re-encodes already-quantized entries when qt is stronger than their
// current encoding. No-op when quantization is disabled.
func (c *AdaptiveCache) requantizeLocked(qt types.QuantizationType) {
	if !c.cfg.Quantization.Enabled {
		return
	}
	for _, e := range c.entries {
		switch {
		case !e.quantized:
			if e.originalSize >= c.cfg.Quantization.ThresholdBytes {
				c.quantizeEntryLocked(e, qt)
			}
		case qt == types.QuantInt4 && e.qtype != types.QuantInt4:
			c.reencodeLocked(e, qt)
		}
	}
}

// reencodeLocked decodes a quantized entry and re-encodes it with qt.
// Entries that fail to decode are dropped.
func (c *AdaptiveCache) reencodeLocked(e *entry, qt types.QuantizationType) {
	v, err := c.engine.Dequantize(e.payload, e.meta)
	if err != nil {
		c.logger.Warn("dropping undecodable entry during re-encode",
			zap.String("key", e.key), zap.Error(err))
		c.removeLocked(e)
		c.rec.RecordQuantizationError()
		return
	}
	e.value = v
	e.quantized = false
	e.payload = nil
	e.meta = nil
	c.quantizeEntryLocked(e, qt)
	if !e.quantized {
		// Encode failed; account for the plain form now resident.
		plain := v.SizeBytes() + int64(len(e.key))
		c.usedBytes += plain - e.size
		e.size = plain
	}
}

// evictFractionLocked removes the given share of entries, lowest priority
// first. At least one entry goes when any are resident.
func (c *AdaptiveCache) evictFractionLocked(fraction float64) {
	target := int(float64(len(c.entries)) * fraction)
	if target < 1 && len(c.entries) > 0 {
		target = 1
	}
	for i := 0; i < target; i++ {
		if !c.evictLowestLocked() {
			return
		}
	}
}

// emergencyCleanupLocked is the critical-pressure response: purge expired
// entries, force the strongest encoding when aggressive mode allows it,
// then evict until usage drops below the high watermark.
func (c *AdaptiveCache) emergencyCleanupLocked() {
	c.purgeExpiredLocked()

	if c.cfg.Quantization.Enabled && c.cfg.Quantization.Aggressive {
		c.requantizeLocked(types.QuantInt4)
	}

	limit := c.cfg.MaxMemoryBytes()
	for len(c.entries) > 0 &&
		float64(c.usedBytes) >= pressure.HighThreshold*float64(limit) {
		if !c.evictLowestLocked() {
			return
		}
	}
	c.logger.Warn("emergency cleanup completed",
		zap.Int64("used_bytes", c.usedBytes),
		zap.Int("entries", len(c.entries)))
}

// OptimizeMemory reclaims memory on demand: expired entries go first, then
// quantization of oversized plain entries, then eviction until usage sits
// at or below the medium watermark. It returns an account of what was
// reclaimed.
func (c *AdaptiveCache) OptimizeMemory() types.OptimizationReport {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.usedBytes
	report := types.OptimizationReport{}

	report.ExpiredPurged = c.purgeExpiredLocked()

	if c.cfg.Quantization.Enabled {
		for _, e := range c.entries {
			if !e.quantized && e.originalSize >= c.cfg.Quantization.ThresholdBytes {
				c.quantizeEntryLocked(e, c.cfg.Quantization.Type)
				if e.quantized {
					report.QuantizationsApplied++
				}
			}
		}
	}

	limit := c.cfg.MaxMemoryBytes()
	for len(c.entries) > 0 &&
		float64(c.usedBytes) > optimizeTarget*float64(limit) {
		if !c.evictLowestLocked() {
			break
		}
		report.EntriesEvicted++
	}

	if freed := before - c.usedBytes; freed > 0 {
		report.BytesFreed = freed
	}
	report.Duration = time.Since(start)
	c.publishOccupancyLocked()

	c.logger.Info("memory optimization completed",
		zap.Int("evicted", report.EntriesEvicted),
		zap.Int("quantized", report.QuantizationsApplied),
		zap.Int("expired", report.ExpiredPurged),
		zap.Int64("bytes_freed", report.BytesFreed))
	return report
}

// GetMetrics returns a point-in-time statistics snapshot.
func (c *AdaptiveCache) GetMetrics() types.CacheStats {
	c.mu.RLock()
	c.rec.SetOccupancy(len(c.entries), c.usedBytes, c.maxEntries, c.cfg.MaxMemoryBytes())
	c.mu.RUnlock()
	return c.rec.Snapshot()
}

// GetMemoryPressure classifies current usage.
func (c *AdaptiveCache) GetMemoryPressure() types.MemoryPressure {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return pressure.Classify(c.usedBytes, c.cfg.MaxMemoryBytes())
}

// GetAlerts returns the recorded alert history, newest last.
func (c *AdaptiveCache) GetAlerts() []types.Alert {
	return c.rec.Alerts()
}

// MetricsHandler returns an http.Handler serving the cache's Prometheus
// registry.
func (c *AdaptiveCache) MetricsHandler() http.Handler {
	return c.rec.Handler()
}

// StatisticsExport is the full monitoring snapshot produced by
// ExportStatistics, suitable for JSON serialization.
type StatisticsExport struct {
	Timestamp time.Time            `json:"timestamp"`
	Config    Config               `json:"config"`
	Metrics   types.CacheStats     `json:"metrics"`
	Pressure  types.MemoryPressure `json:"pressure"`
	Alerts    []types.Alert        `json:"alerts"`
	TopKeys   []types.KeyAccess    `json:"top_keys"`
}

// ExportStatistics assembles configuration, statistics, pressure, alerts,
// and the hottest keys into one snapshot.
func (c *AdaptiveCache) ExportStatistics() StatisticsExport {
	c.mu.RLock()
	c.rec.SetOccupancy(len(c.entries), c.usedBytes, c.maxEntries, c.cfg.MaxMemoryBytes())
	mp := pressure.Classify(c.usedBytes, c.cfg.MaxMemoryBytes())
	top := c.topKeysLocked(topKeysCount)
	cfg := c.cfg.clone()
	c.mu.RUnlock()

	return StatisticsExport{
		Timestamp: c.now(),
		Config:    cfg,
		Metrics:   c.rec.Snapshot(),
		Pressure:  mp,
		Alerts:    c.rec.Alerts(),
		TopKeys:   top,
	}
}

func (c *AdaptiveCache) topKeysLocked(n int) []types.KeyAccess {
	all := make([]types.KeyAccess, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, types.KeyAccess{
			Key:         e.key,
			AccessCount: e.accessCount,
			LastAccess:  e.lastAccess,
		})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].AccessCount != all[j].AccessCount {
			return all[i].AccessCount > all[j].AccessCount
		}
		return all[i].Key < all[j].Key
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// UpdateConfig validates and applies a new configuration. The sizing
// controller, predictor, and maintenance loop are rebuilt from the new
// settings; entries above the new capacity are evicted immediately.
// Resident values keep their current encoding.
func (c *AdaptiveCache) UpdateConfig(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Logger == nil {
		cfg.Logger = c.logger
	}

	c.mu.Lock()

	prevPred := c.cfg.Prediction
	prevMon := c.cfg.Monitoring
	c.cfg = cfg
	c.maxEntries = cfg.MaxSize
	c.sizer = newSizer(cfg, c.logger)
	if cfg.Prediction != prevPred {
		c.pred = newPredictor(cfg, c.logger)
	}

	limit := cfg.MaxMemoryBytes()
	for len(c.entries) > 0 &&
		(len(c.entries) > c.maxEntries ||
			float64(c.usedBytes) > evictHeadroom*float64(limit)) {
		if !c.evictLowestLocked() {
			break
		}
	}
	c.publishOccupancyLocked()
	c.mu.Unlock()

	// The ticker is pinned to the settings it started with, so monitoring
	// changes need the loop restarted.
	if cfg.Monitoring != prevMon {
		c.restartMaintenance()
	}

	c.logger.Info("configuration updated",
		zap.Int("max_size", cfg.MaxSize),
		zap.Int("max_memory_mb", cfg.MaxMemoryMB))
	return nil
}
