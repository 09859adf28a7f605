package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantcache/quantcache/pkg/types"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder(nil)

	r.RecordHit(time.Millisecond)
	r.RecordHit(3 * time.Millisecond)
	r.RecordMiss(2 * time.Millisecond)
	r.RecordEvictions(2)
	r.RecordExpirations(1)
	r.RecordQuantization(1000, 250)
	r.RecordQuantizationError()
	r.SetOccupancy(5, 4096, 100, 1<<20)

	stats := r.Snapshot()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(3), stats.TotalRequests)
	assert.Equal(t, uint64(2), stats.Evictions)
	assert.Equal(t, uint64(1), stats.Expirations)
	assert.Equal(t, uint64(1), stats.Quantizations)
	assert.Equal(t, uint64(1), stats.QuantizationErrors)
	assert.Equal(t, 5, stats.EntryCount)
	assert.Equal(t, int64(4096), stats.MemoryUsage)
	assert.Equal(t, 100, stats.Capacity)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
	assert.InDelta(t, 4.0, stats.CompressionRatio, 1e-9)
	assert.Equal(t, 2*time.Millisecond, stats.AvgAccessTime)
}

func TestRecorder_EmptySnapshot(t *testing.T) {
	r := NewRecorder(nil)
	stats := r.Snapshot()
	assert.Zero(t, stats.HitRate)
	assert.Equal(t, 1.0, stats.CompressionRatio)
	assert.Zero(t, stats.AvgAccessTime)
}

func TestRecorder_EvaluateAlerts(t *testing.T) {
	r := NewRecorder(nil)
	th := AlertThresholds{HitRate: 0.5, MemoryUsage: 0.8, EvictionRate: 0.5}

	// Cold cache: too few requests for a hit-rate alert.
	r.RecordMiss(0)
	r.EvaluateAlerts(th, types.MemoryPressure{UsageRatio: 0.1, Level: types.PressureLow})
	assert.Empty(t, r.Alerts())

	// Enough misses to trip the hit-rate threshold.
	for i := 0; i < 20; i++ {
		r.RecordMiss(0)
	}
	r.EvaluateAlerts(th, types.MemoryPressure{UsageRatio: 0.1, Level: types.PressureLow})
	alerts := r.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "low_hit_rate", alerts[0].Type)
	assert.Equal(t, "warning", alerts[0].Severity)

	// Critical memory pressure escalates severity.
	r.EvaluateAlerts(th, types.MemoryPressure{UsageRatio: 0.97, Level: types.PressureCritical})
	alerts = r.Alerts()
	var memAlert *types.Alert
	for i := range alerts {
		if alerts[i].Type == "high_memory_usage" {
			memAlert = &alerts[i]
		}
	}
	require.NotNil(t, memAlert)
	assert.Equal(t, "critical", memAlert.Severity)
}

func TestRecorder_EvictionRateWindow(t *testing.T) {
	r := NewRecorder(nil)
	th := AlertThresholds{EvictionRate: 0.5}

	for i := 0; i < 10; i++ {
		r.RecordMiss(0)
	}
	r.RecordEvictions(8)
	r.EvaluateAlerts(th, types.MemoryPressure{})
	require.Len(t, r.Alerts(), 1)
	assert.Equal(t, "high_eviction_rate", r.Alerts()[0].Type)

	// The window resets: same counters, no new requests, no new alert.
	r.RecordMiss(0)
	r.EvaluateAlerts(th, types.MemoryPressure{})
	assert.Len(t, r.Alerts(), 1)
}

func TestRecorder_AlertHistoryCapped(t *testing.T) {
	r := NewRecorder(nil)
	for i := 0; i < maxAlertHistory+50; i++ {
		r.mu.Lock()
		r.appendAlertLocked("test", "warning", "overflow")
		r.mu.Unlock()
	}
	assert.Len(t, r.Alerts(), maxAlertHistory)
}

func TestRecorder_PrometheusHandler(t *testing.T) {
	r := NewRecorder(nil)
	r.RecordHit(time.Millisecond)
	r.SetOccupancy(1, 128, 10, 1024)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "quantcache_hits_total")
	assert.Contains(t, body, "quantcache_memory_bytes")
}
