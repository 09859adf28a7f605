// Package metrics implements cumulative cache counters, derived rates,
// threshold alerting, and Prometheus export for the adaptive cache.
package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quantcache/quantcache/pkg/types"
)

const (
	namespace = "quantcache"

	// maxAlertHistory caps the alert ring; oldest alerts are dropped.
	maxAlertHistory = 100

	// minRequestsForAlerts avoids hit-rate alerts on a cold cache.
	minRequestsForAlerts = 10
)

// AlertThresholds configures threshold alert evaluation.
type AlertThresholds struct {
	HitRate      float64
	MemoryUsage  float64
	EvictionRate float64
}

// Recorder tracks lifetime counters and occupancy, evaluates alerts, and
// mirrors everything into a private Prometheus registry.
type Recorder struct {
	mu     sync.RWMutex
	logger *zap.Logger

	hits          uint64
	misses        uint64
	evictions     uint64
	expirations   uint64
	quantizations uint64
	quantErrors   uint64

	totalAccessTime time.Duration

	memoryUsage int64
	memoryLimit int64
	entryCount  int
	capacity    int

	// Cumulative byte totals across quantization events; their ratio is
	// the lifetime compression ratio.
	originalBytes int64
	encodedBytes  int64

	alerts []types.Alert

	// Counter values at the previous alert evaluation, for windowed
	// eviction-rate computation.
	lastEvalEvictions uint64
	lastEvalRequests  uint64

	registry *prometheus.Registry

	promHits          prometheus.Counter
	promMisses        prometheus.Counter
	promEvictions     prometheus.Counter
	promExpirations   prometheus.Counter
	promQuantizations prometheus.Counter
	promQuantErrors   prometheus.Counter
	promMemory        prometheus.Gauge
	promEntries       prometheus.Gauge
	promCapacity      prometheus.Gauge
	promHitRate       prometheus.Gauge
	promCompression   prometheus.Gauge
}

// NewRecorder creates a recorder with its own Prometheus registry.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: name, Help: help,
		})
		r.registry.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: name, Help: help,
		})
		r.registry.MustRegister(g)
		return g
	}

	r.promHits = counter("hits_total", "Cache hits")
	r.promMisses = counter("misses_total", "Cache misses")
	r.promEvictions = counter("evictions_total", "Entries evicted")
	r.promExpirations = counter("expirations_total", "Entries expired")
	r.promQuantizations = counter("quantizations_total", "Values quantized")
	r.promQuantErrors = counter("quantization_errors_total", "Quantization failures")
	r.promMemory = gauge("memory_bytes", "Current accounted memory usage")
	r.promEntries = gauge("entries", "Current entry count")
	r.promCapacity = gauge("capacity", "Current adaptive entry capacity")
	r.promHitRate = gauge("hit_rate", "Lifetime hit rate")
	r.promCompression = gauge("compression_ratio", "Lifetime compression ratio")

	return r
}

// RecordHit records a successful lookup and its latency.
func (r *Recorder) RecordHit(latency time.Duration) {
	r.mu.Lock()
	r.hits++
	r.totalAccessTime += latency
	r.promHits.Inc()
	r.promHitRate.Set(r.hitRateLocked())
	r.mu.Unlock()
}

// RecordMiss records a failed lookup and its latency.
func (r *Recorder) RecordMiss(latency time.Duration) {
	r.mu.Lock()
	r.misses++
	r.totalAccessTime += latency
	r.promMisses.Inc()
	r.promHitRate.Set(r.hitRateLocked())
	r.mu.Unlock()
}

// RecordEvictions adds n to the eviction counter.
func (r *Recorder) RecordEvictions(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.evictions += uint64(n)
	r.promEvictions.Add(float64(n))
	r.mu.Unlock()
}

// RecordExpirations adds n to the expiration counter.
func (r *Recorder) RecordExpirations(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.expirations += uint64(n)
	r.promExpirations.Add(float64(n))
	r.mu.Unlock()
}

// RecordQuantization records one quantization event and its byte sizes.
func (r *Recorder) RecordQuantization(originalBytes, encodedBytes int64) {
	r.mu.Lock()
	r.quantizations++
	r.originalBytes += originalBytes
	r.encodedBytes += encodedBytes
	r.promQuantizations.Inc()
	r.promCompression.Set(r.compressionRatioLocked())
	r.mu.Unlock()
}

// RecordQuantizationError counts a quantization failure.
func (r *Recorder) RecordQuantizationError() {
	r.mu.Lock()
	r.quantErrors++
	r.promQuantErrors.Inc()
	r.mu.Unlock()
}

// SetOccupancy updates the occupancy gauges after a mutation.
func (r *Recorder) SetOccupancy(entries int, usedBytes int64, capacity int, limitBytes int64) {
	r.mu.Lock()
	r.entryCount = entries
	r.memoryUsage = usedBytes
	r.capacity = capacity
	r.memoryLimit = limitBytes
	r.promEntries.Set(float64(entries))
	r.promMemory.Set(float64(usedBytes))
	r.promCapacity.Set(float64(capacity))
	r.mu.Unlock()
}

// Snapshot returns the current statistics. Lifetime counters survive
// Clear; only occupancy resets with it.
func (r *Recorder) Snapshot() types.CacheStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := types.CacheStats{
		Hits:               r.hits,
		Misses:             r.misses,
		Evictions:          r.evictions,
		Expirations:        r.expirations,
		Quantizations:      r.quantizations,
		QuantizationErrors: r.quantErrors,
		TotalRequests:      r.hits + r.misses,
		MemoryUsage:        r.memoryUsage,
		MemoryLimit:        r.memoryLimit,
		EntryCount:         r.entryCount,
		Capacity:           r.capacity,
		HitRate:            r.hitRateLocked(),
		CompressionRatio:   r.compressionRatioLocked(),
	}
	if total := r.hits + r.misses; total > 0 {
		stats.AvgAccessTime = r.totalAccessTime / time.Duration(total)
	}
	return stats
}

// EvaluateAlerts checks thresholds and appends alerts to the capped ring.
// Called once per maintenance tick.
func (r *Recorder) EvaluateAlerts(th AlertThresholds, mp types.MemoryPressure) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := r.hits + r.misses
	hitRate := r.hitRateLocked()

	if th.HitRate > 0 && total >= minRequestsForAlerts && hitRate < th.HitRate {
		r.appendAlertLocked("low_hit_rate", "warning",
			fmt.Sprintf("hit rate %.2f below threshold %.2f", hitRate, th.HitRate))
	}

	if th.MemoryUsage > 0 && mp.UsageRatio >= th.MemoryUsage {
		severity := "warning"
		if mp.Level == types.PressureCritical {
			severity = "critical"
		}
		r.appendAlertLocked("high_memory_usage", severity,
			fmt.Sprintf("memory usage %.2f above threshold %.2f", mp.UsageRatio, th.MemoryUsage))
	}

	if th.EvictionRate > 0 {
		evictionDelta := r.evictions - r.lastEvalEvictions
		requestDelta := total - r.lastEvalRequests
		if requestDelta > 0 {
			rate := float64(evictionDelta) / float64(requestDelta)
			if rate > th.EvictionRate {
				r.appendAlertLocked("high_eviction_rate", "warning",
					fmt.Sprintf("eviction rate %.2f above threshold %.2f", rate, th.EvictionRate))
			}
		}
	}
	r.lastEvalEvictions = r.evictions
	r.lastEvalRequests = total
}

// Alerts returns a copy of the alert history, newest last.
func (r *Recorder) Alerts() []types.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Registry exposes the private Prometheus registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (r *Recorder) appendAlertLocked(alertType, severity, message string) {
	alert := types.Alert{
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now(),
	}
	r.alerts = append(r.alerts, alert)
	if len(r.alerts) > maxAlertHistory {
		r.alerts = r.alerts[len(r.alerts)-maxAlertHistory:]
	}
	r.logger.Warn("cache alert",
		zap.String("type", alertType),
		zap.String("severity", severity),
		zap.String("message", message))
}

func (r *Recorder) hitRateLocked() float64 {
	total := r.hits + r.misses
	if total == 0 {
		return 0
	}
	return float64(r.hits) / float64(total)
}

func (r *Recorder) compressionRatioLocked() float64 {
	if r.encodedBytes == 0 {
		return 1.0
	}
	return float64(r.originalBytes) / float64(r.encodedBytes)
}
