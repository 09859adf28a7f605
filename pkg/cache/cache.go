package cache

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quantcache/quantcache/internal/metrics"
	"github.com/quantcache/quantcache/internal/predictor"
	"github.com/quantcache/quantcache/internal/pressure"
	"github.com/quantcache/quantcache/internal/quant"
	"github.com/quantcache/quantcache/pkg/types"
)

// evictHeadroom is the fraction of the memory limit above which insertion
// starts evicting. The check runs against pre-insert occupancy, so a single
// insert may land above it; the maintenance tick and pressure responses pull
// usage back down.
const evictHeadroom = 0.9

// evictFraction is the share of entries removed under high pressure.
const evictFraction = 0.30

type entry struct {
	key          string
	value        types.Value
	payload      []byte
	meta         *quant.Metadata
	quantized    bool
	qtype        types.QuantizationType
	size         int64
	originalSize int64
	accessCount  int64
	createdAt    time.Time
	lastAccess   time.Time
	ttl          time.Duration

	// seed is the predictor's one-time boost for a brand-new entry. The
	// first read clears it; afterwards priority depends only on observed
	// accesses.
	seed float64
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) >= e.ttl
}

// AdaptiveCache is a quantizing key-value cache with TTL expiry,
// priority-based eviction, memory pressure responses, and adaptive
// capacity. All methods are safe for concurrent use.
type AdaptiveCache struct {
	mu         sync.RWMutex
	cfg        *Config
	entries    map[string]*entry
	usedBytes  int64
	maxEntries int

	engine *quant.Engine
	pred   *predictor.Predictor
	sizer  *pressure.Controller
	rec    *metrics.Recorder
	logger *zap.Logger

	now func() time.Time

	// lifecycleMu serializes starting and stopping the maintenance
	// goroutine; it is never held together with mu.
	lifecycleMu sync.Mutex
	stopCh      chan struct{}
	wg          sync.WaitGroup
	active      atomic.Bool
}

// New creates a cache from the given configuration. A nil config uses
// defaults. The maintenance goroutine starts only when monitoring is
// enabled; Destroy stops it.
func New(cfg *Config) (*AdaptiveCache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &AdaptiveCache{
		cfg:        cfg,
		entries:    make(map[string]*entry),
		maxEntries: cfg.MaxSize,
		engine:     quant.NewEngine(logger),
		pred:       newPredictor(cfg, logger),
		sizer:      newSizer(cfg, logger),
		rec:        metrics.NewRecorder(logger),
		logger:     logger,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	c.active.Store(true)

	if cfg.Monitoring.Enabled {
		c.wg.Add(1)
		go c.maintenanceLoop(cfg.Monitoring.MetricsInterval, c.stopCh)
	}

	logger.Info("cache started",
		zap.Int("max_size", cfg.MaxSize),
		zap.Int("max_memory_mb", cfg.MaxMemoryMB),
		zap.Bool("quantization", cfg.Quantization.Enabled),
		zap.Bool("prediction", cfg.Prediction.Enabled))
	return c, nil
}

func newPredictor(cfg *Config, logger *zap.Logger) *predictor.Predictor {
	return predictor.New(predictor.Config{
		Enabled:             cfg.Prediction.Enabled,
		PredictionWindow:    cfg.Prediction.PredictionWindow,
		ConfidenceThreshold: cfg.Prediction.ConfidenceThreshold,
	}, logger)
}

func newSizer(cfg *Config, logger *zap.Logger) *pressure.Controller {
	return pressure.NewController(pressure.SizingConfig{
		Enabled:         cfg.AdaptiveResize.Enabled,
		MinSize:         cfg.AdaptiveResize.MinSize,
		MaxSize:         cfg.AdaptiveResize.MaxSize,
		ResizeThreshold: cfg.AdaptiveResize.ResizeThreshold,
		ShrinkFactor:    cfg.AdaptiveResize.ShrinkFactor,
		GrowthFactor:    cfg.AdaptiveResize.GrowthFactor,
	}, logger)
}

// Get returns the value for key if present and unexpired. Expired entries
// are removed on access and count as misses. Quantized values are decoded
// on the way out; the stored form stays quantized.
func (c *AdaptiveCache) Get(key string) (types.Value, bool) {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.entries[key]
	if !ok {
		c.rec.RecordMiss(time.Since(start))
		c.pred.RecordAccess(key, false)
		return types.Value{}, false
	}
	if e.expired(now) {
		c.removeLocked(e)
		c.rec.RecordExpirations(1)
		c.rec.RecordMiss(time.Since(start))
		c.pred.RecordAccess(key, false)
		c.publishOccupancyLocked()
		return types.Value{}, false
	}

	v := e.value
	if e.quantized {
		decoded, err := c.engine.Dequantize(e.payload, e.meta)
		if err != nil {
			// Unrecoverable entry; drop it rather than serve garbage.
			c.logger.Warn("dropping undecodable entry",
				zap.String("key", key), zap.Error(err))
			c.removeLocked(e)
			c.rec.RecordQuantizationError()
			c.rec.RecordMiss(time.Since(start))
			c.pred.RecordAccess(key, false)
			c.publishOccupancyLocked()
			return types.Value{}, false
		}
		v = decoded
	}

	e.accessCount++
	e.lastAccess = now
	e.seed = 0
	c.rec.RecordHit(time.Since(start))
	c.pred.RecordAccess(key, true)
	return v, true
}

// Set stores value under key with the configured default TTL.
func (c *AdaptiveCache) Set(key string, value types.Value) bool {
	return c.SetWithTTL(key, value, c.cfg.DefaultTTL)
}

// SetWithTTL stores value under key with an explicit TTL. A zero ttl means
// the entry never expires. Insertion never fails while the cache is live:
// quantization errors fall back to storing the plain value, and capacity
// is made by evicting lower-priority entries.
func (c *AdaptiveCache) SetWithTTL(key string, value types.Value, ttl time.Duration) bool {
	if !c.active.Load() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}

	mp := pressure.Classify(c.usedBytes, c.cfg.MaxMemoryBytes())
	if mp.UsageRatio >= pressure.MediumThreshold {
		c.respondToPressureLocked(mp)
	}

	e := &entry{
		key:          key,
		value:        value,
		size:         value.SizeBytes() + int64(len(key)),
		originalSize: value.SizeBytes(),
		createdAt:    now,
		lastAccess:   now,
		ttl:          ttl,
	}
	if c.cfg.Prediction.Enabled {
		if prob := c.pred.Predict(key); prob >= c.cfg.Prediction.ConfidenceThreshold {
			e.seed = prob * 50
		}
	}
	if c.shouldQuantize(e.originalSize, mp) {
		c.quantizeEntryLocked(e, c.pickType(mp))
	}

	// Eviction keys off pre-insert occupancy, so one insert can overshoot
	// the headroom line. That keeps inserts under a hard limit from
	// thrashing and lets usage actually reach the critical band.
	limit := c.cfg.MaxMemoryBytes()
	for len(c.entries) > 0 &&
		(len(c.entries) >= c.maxEntries ||
			float64(c.usedBytes) > evictHeadroom*float64(limit)) {
		if !c.evictLowestLocked() {
			break
		}
	}

	c.entries[key] = e
	c.usedBytes += e.size
	c.publishOccupancyLocked()
	return true
}

// Has reports whether key holds a live entry. Unlike Get it does not touch
// access statistics, and it leaves expired entries for the sweep.
func (c *AdaptiveCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return ok && !e.expired(c.now())
}

// Delete removes key and reports whether it was present.
func (c *AdaptiveCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(e)
	c.publishOccupancyLocked()
	return true
}

// Clear removes every entry. Lifetime counters (hits, misses, evictions)
// are preserved; only occupancy resets.
func (c *AdaptiveCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.usedBytes = 0
	c.pred.Reset()
	c.publishOccupancyLocked()
	c.logger.Info("cache cleared")
}

// Len returns the number of resident entries, expired ones included until
// the next sweep.
func (c *AdaptiveCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// MemoryUsage returns the resident byte estimate.
func (c *AdaptiveCache) MemoryUsage() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usedBytes
}

// Destroy stops the maintenance goroutine and releases all entries. It is
// idempotent; only the first call does the work.
func (c *AdaptiveCache) Destroy() {
	if !c.active.CompareAndSwap(true, false) {
		return
	}
	c.lifecycleMu.Lock()
	close(c.stopCh)
	c.lifecycleMu.Unlock()
	c.wg.Wait()

	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.usedBytes = 0
	c.mu.Unlock()
	c.logger.Info("cache destroyed")
}

func (c *AdaptiveCache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.usedBytes -= e.size
	if c.usedBytes < 0 {
		c.usedBytes = 0
	}
}

func (c *AdaptiveCache) publishOccupancyLocked() {
	c.rec.SetOccupancy(len(c.entries), c.usedBytes, c.maxEntries, c.cfg.MaxMemoryBytes())
}

func (c *AdaptiveCache) shouldQuantize(size int64, mp types.MemoryPressure) bool {
	q := c.cfg.Quantization
	if !q.Enabled {
		return false
	}
	return q.Aggressive ||
		size >= q.ThresholdBytes ||
		mp.UsageRatio >= pressure.MediumThreshold
}

// pickType selects the quantization type for a new or requantized entry.
// Critical pressure with aggressive mode escalates to int4 regardless of
// the configured type.
func (c *AdaptiveCache) pickType(mp types.MemoryPressure) types.QuantizationType {
	if c.cfg.Quantization.Aggressive && mp.UsageRatio >= pressure.CriticalThreshold {
		return types.QuantInt4
	}
	return c.cfg.Quantization.Type
}

// quantizeEntryLocked encodes e in place. On failure the entry stays
// plain; storage never fails on a codec error.
func (c *AdaptiveCache) quantizeEntryLocked(e *entry, qt types.QuantizationType) {
	payload, meta, err := c.engine.Quantize(e.value, qt)
	if err != nil {
		c.logger.Warn("quantization failed, storing plain",
			zap.String("key", e.key),
			zap.String("type", string(qt)),
			zap.Error(err))
		c.rec.RecordQuantizationError()
		return
	}
	wasResident := e.size

	e.payload = payload
	e.meta = meta
	e.value = types.Value{}
	e.quantized = true
	e.qtype = qt
	e.size = int64(len(payload)) + meta.Overhead() + int64(len(e.key))

	// Resident entries carry their delta straight into the running total.
	if _, resident := c.entries[e.key]; resident {
		c.usedBytes += e.size - wasResident
	}
	c.rec.RecordQuantization(e.originalSize, int64(len(payload)))
}

// priorityLocked scores an entry for eviction. Higher scores survive
// longer: frequent, recent, and young entries score high. The predictor
// seed counts only until the first read; from then on the score comes from
// observed accesses alone.
func (c *AdaptiveCache) priorityLocked(e *entry, now time.Time) float64 {
	p := math.Log(float64(e.accessCount)+1) * 10

	minutes := now.Sub(e.lastAccess).Minutes()
	if minutes < 100 {
		p += 100 - minutes
	}
	hours := now.Sub(e.createdAt).Hours()
	if hours < 50 {
		p += 50 - hours
	}

	return p + e.seed
}

// evictLowestLocked removes the lowest-priority entry, breaking ties by
// oldest last access. Returns false when the cache is empty.
func (c *AdaptiveCache) evictLowestLocked() bool {
	now := c.now()
	var victim *entry
	var lowest float64
	for _, e := range c.entries {
		p := c.priorityLocked(e, now)
		if victim == nil || p < lowest ||
			(p == lowest && e.lastAccess.Before(victim.lastAccess)) {
			victim = e
			lowest = p
		}
	}
	if victim == nil {
		return false
	}
	c.removeLocked(victim)
	c.pred.Forget(victim.key)
	c.rec.RecordEvictions(1)
	c.logger.Debug("evicted entry",
		zap.String("key", victim.key),
		zap.Float64("priority", lowest))
	return true
}

// purgeExpiredLocked drops every expired entry and returns the count.
func (c *AdaptiveCache) purgeExpiredLocked() int {
	now := c.now()
	n := 0
	for _, e := range c.entries {
		if e.expired(now) {
			c.removeLocked(e)
			c.pred.Forget(e.key)
			n++
		}
	}
	if n > 0 {
		c.rec.RecordExpirations(n)
	}
	return n
}

func (c *AdaptiveCache) maintenanceLoop(interval time.Duration, stop <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.maintain()
		}
	}
}

// restartMaintenance stops any running maintenance goroutine and starts a
// fresh one from the current monitoring settings. No-op on a destroyed
// cache.
func (c *AdaptiveCache) restartMaintenance() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if !c.active.Load() {
		return
	}

	close(c.stopCh)
	c.wg.Wait()
	c.stopCh = make(chan struct{})

	c.mu.RLock()
	mon := c.cfg.Monitoring
	c.mu.RUnlock()
	if mon.Enabled {
		c.wg.Add(1)
		go c.maintenanceLoop(mon.MetricsInterval, c.stopCh)
	}
}

// maintain runs one maintenance pass: expiry sweep, adaptive resize,
// predictor training, and alert evaluation.
func (c *AdaptiveCache) maintain() {
	c.mu.Lock()
	c.purgeExpiredLocked()

	stats := c.rec.Snapshot()
	limit := c.cfg.MaxMemoryBytes()
	usage := 0.0
	if limit > 0 {
		usage = float64(c.usedBytes) / float64(limit)
	}
	if d := c.sizer.Evaluate(c.maxEntries, stats.HitRate, usage); d.Resize {
		c.maxEntries = d.NewSize
		for len(c.entries) > c.maxEntries {
			if !c.evictLowestLocked() {
				break
			}
		}
	}

	mp := pressure.Classify(c.usedBytes, limit)
	if mp.UsageRatio >= pressure.MediumThreshold {
		c.respondToPressureLocked(mp)
		mp = pressure.Classify(c.usedBytes, limit)
	}
	c.publishOccupancyLocked()
	c.mu.Unlock()

	if err := c.pred.Train(); err != nil {
		c.logger.Warn("predictor training failed", zap.Error(err))
	}
	c.rec.EvaluateAlerts(c.alertThresholds(), mp)
}

func (c *AdaptiveCache) alertThresholds() metrics.AlertThresholds {
	th := c.cfg.Monitoring.AlertThresholds
	return metrics.AlertThresholds{
		HitRate:      th.HitRate,
		MemoryUsage:  th.MemoryUsage,
		EvictionRate: th.EvictionRate,
	}
}
