package pressure

import (
	"testing"

	"github.com/quantcache/quantcache/pkg/types"
)

// TestClassify tests the pressure level state machine
func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		used   int64
		limit  int64
		level  types.PressureLevel
		action string
	}{
		{"empty", 0, 1000, types.PressureLow, ActionNone},
		{"below medium", 699, 1000, types.PressureLow, ActionNone},
		{"medium boundary", 700, 1000, types.PressureMedium, ActionQuantize},
		{"mid medium", 800, 1000, types.PressureMedium, ActionQuantize},
		{"high boundary", 850, 1000, types.PressureHigh, ActionEvict},
		{"mid high", 940, 1000, types.PressureHigh, ActionEvict},
		{"critical boundary", 950, 1000, types.PressureCritical, ActionEmergency},
		{"over limit", 1200, 1000, types.PressureCritical, ActionEmergency},
		{"zero limit reads low", 500, 0, types.PressureLow, ActionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mp := Classify(tt.used, tt.limit)
			if mp.Level != tt.level {
				t.Errorf("level = %s, want %s", mp.Level, tt.level)
			}
			if mp.RecommendedAction != tt.action {
				t.Errorf("action = %s, want %s", mp.RecommendedAction, tt.action)
			}
		})
	}
}

// TestController_Evaluate tests grow/shrink decisions and bounds
func TestController_Evaluate(t *testing.T) {
	cfg := SizingConfig{
		Enabled:         true,
		MinSize:         100,
		MaxSize:         10000,
		ResizeThreshold: 0.80,
		ShrinkFactor:    0.8,
		GrowthFactor:    1.5,
	}

	tests := []struct {
		name     string
		current  int
		hitRate  float64
		usage    float64
		resize   bool
		grew     bool
		newSize  int
	}{
		{"grow on hot cache", 1000, 0.95, 0.40, true, true, 1500},
		{"grow bounded by max", 8000, 0.95, 0.40, true, true, 10000},
		{"no grow at max", 10000, 0.95, 0.40, false, false, 10000},
		{"shrink on poor hit rate", 1000, 0.50, 0.40, true, false, 800},
		{"shrink on high usage", 1000, 0.85, 0.90, true, false, 800},
		{"shrink bounded by min", 110, 0.50, 0.40, true, false, 100},
		{"no shrink at min", 100, 0.50, 0.40, false, false, 100},
		{"steady state", 1000, 0.85, 0.70, false, false, 1000},
		{"high hit rate but busy", 1000, 0.95, 0.75, false, false, 1000},
	}

	c := NewController(cfg, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Evaluate(tt.current, tt.hitRate, tt.usage)
			if d.Resize != tt.resize {
				t.Errorf("resize = %v, want %v", d.Resize, tt.resize)
			}
			if d.Grew != tt.grew {
				t.Errorf("grew = %v, want %v", d.Grew, tt.grew)
			}
			if d.NewSize != tt.newSize {
				t.Errorf("newSize = %d, want %d", d.NewSize, tt.newSize)
			}
		})
	}
}

// TestController_Disabled tests that a disabled controller never resizes
func TestController_Disabled(t *testing.T) {
	c := NewController(SizingConfig{Enabled: false}, nil)
	d := c.Evaluate(1000, 0.99, 0.10)
	if d.Resize {
		t.Error("disabled controller must not resize")
	}
	if d.NewSize != 1000 {
		t.Errorf("newSize = %d, want 1000", d.NewSize)
	}
}
