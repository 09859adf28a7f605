package types

import "time"

// Store defines the key-value surface of the cache. The concrete
// implementation lives in pkg/cache; consumers that only read and write
// entries can depend on this interface.
type Store interface {
	Get(key string) (Value, bool)
	Set(key string, value Value) bool
	SetWithTTL(key string, value Value, ttl time.Duration) bool
	Has(key string) bool
	Delete(key string) bool
	Clear()
	Len() int
	MemoryUsage() int64
}

// HitPredictor estimates the probability of a future hit for a key.
// Predictions seed a new entry's initial priority only; they never gate
// correctness.
type HitPredictor interface {
	RecordAccess(key string, hit bool)
	Predict(key string) float64
	Train() error
}

// MetricsSource is the read-only monitoring surface polled by external
// collaborators.
type MetricsSource interface {
	GetMetrics() CacheStats
	GetMemoryPressure() MemoryPressure
	GetAlerts() []Alert
}
