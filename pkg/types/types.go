package types

import "time"

// QuantizationType identifies the encoding applied to a cached value.
type QuantizationType string

const (
	QuantNone QuantizationType = "none"
	QuantInt8 QuantizationType = "int8"
	QuantFP8  QuantizationType = "fp8"
	QuantInt4 QuantizationType = "int4"
)

// Valid reports whether t is a recognized quantization type.
func (t QuantizationType) Valid() bool {
	switch t {
	case QuantNone, QuantInt8, QuantFP8, QuantInt4:
		return true
	}
	return false
}

// PressureLevel classifies memory usage relative to the configured limit.
type PressureLevel string

const (
	PressureLow      PressureLevel = "low"
	PressureMedium   PressureLevel = "medium"
	PressureHigh     PressureLevel = "high"
	PressureCritical PressureLevel = "critical"
)

// MemoryPressure describes the current usage classification and the
// action the store should take in response.
type MemoryPressure struct {
	Level             PressureLevel `json:"level"`
	UsageRatio        float64       `json:"usage_ratio"`
	UsedBytes         int64         `json:"used_bytes"`
	LimitBytes        int64         `json:"limit_bytes"`
	RecommendedAction string        `json:"recommended_action"`
}

// CacheStats represents cache performance statistics. Counters are
// cumulative over the process lifetime; occupancy fields reflect the
// current state.
type CacheStats struct {
	Hits               uint64        `json:"hits"`
	Misses             uint64        `json:"misses"`
	Evictions          uint64        `json:"evictions"`
	Expirations        uint64        `json:"expirations"`
	Quantizations      uint64        `json:"quantizations"`
	QuantizationErrors uint64        `json:"quantization_errors"`
	TotalRequests      uint64        `json:"total_requests"`
	MemoryUsage        int64         `json:"memory_usage"`
	MemoryLimit        int64         `json:"memory_limit"`
	EntryCount         int           `json:"entry_count"`
	Capacity           int           `json:"capacity"`
	HitRate            float64       `json:"hit_rate"`
	CompressionRatio   float64       `json:"compression_ratio"`
	AvgAccessTime      time.Duration `json:"avg_access_time"`
}

// Alert represents a threshold alert raised by the maintenance tick.
type Alert struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Resolved  bool      `json:"resolved"`
}

// OptimizationReport summarizes the effect of an explicit memory
// optimization pass.
type OptimizationReport struct {
	EntriesEvicted       int           `json:"entries_evicted"`
	QuantizationsApplied int           `json:"quantizations_applied"`
	ExpiredPurged        int           `json:"expired_purged"`
	BytesFreed           int64         `json:"bytes_freed"`
	Duration             time.Duration `json:"duration"`
}

// KeyAccess records access statistics for a single key, used by the
// statistics export to report the most-accessed entries.
type KeyAccess struct {
	Key         string    `json:"key"`
	AccessCount int64     `json:"access_count"`
	LastAccess  time.Time `json:"last_access"`
}
