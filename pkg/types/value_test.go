package types

import (
	"testing"
)

// TestValue_SizeBytes tests size estimation across kinds
func TestValue_SizeBytes(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want int64
	}{
		{"null", Null(), nodeOverhead},
		{"bool", Boolean(true), nodeOverhead + 1},
		{"number", Number(3.14), nodeOverhead + 8},
		{"empty string", String_(""), nodeOverhead},
		{"string", String_("hello"), nodeOverhead + 5},
		{"list", List_(Number(1), Number(2)), nodeOverhead + 2*(nodeOverhead+8)},
		{"map", Map_(map[string]Value{"ab": Boolean(false)}), nodeOverhead + 2 + nodeOverhead + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.SizeBytes(); got != tt.want {
				t.Errorf("SizeBytes() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestValue_Equal tests exact structural equality
func TestValue_Equal(t *testing.T) {
	nested := Map_(map[string]Value{
		"items": List_(Number(1), String_("a"), Null()),
		"flag":  Boolean(true),
	})

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"same null", Null(), Null(), true},
		{"null vs bool", Null(), Boolean(false), false},
		{"same string", String_("x"), String_("x"), true},
		{"different string", String_("x"), String_("y"), false},
		{"same number", Number(2.5), Number(2.5), true},
		{"different number", Number(2.5), Number(2.6), false},
		{"nested equal", nested, Map_(map[string]Value{
			"items": List_(Number(1), String_("a"), Null()),
			"flag":  Boolean(true),
		}), true},
		{"list length mismatch", List_(Number(1)), List_(Number(1), Number(2)), false},
		{"map key mismatch", Map_(map[string]Value{"a": Null()}), Map_(map[string]Value{"b": Null()}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestValue_EqualApprox tests tolerance-based number comparison
func TestValue_EqualApprox(t *testing.T) {
	a := List_(Number(3.14159), String_("pi"))
	b := List_(Number(3.14), String_("pi"))

	if !a.EqualApprox(b, 0.01) {
		t.Error("expected approx equality within 0.01")
	}
	if a.EqualApprox(b, 0.0001) {
		t.Error("expected inequality within 0.0001")
	}
}

// TestValue_SortedKeys tests deterministic map key ordering
func TestValue_SortedKeys(t *testing.T) {
	v := Map_(map[string]Value{"zeta": Null(), "alpha": Null(), "mid": Null()})
	keys := v.SortedKeys()
	want := []string{"alpha", "mid", "zeta"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
	if String_("x").SortedKeys() != nil {
		t.Error("expected nil keys for non-map value")
	}
}

// TestQuantizationType_Valid tests the quantization type enum
func TestQuantizationType_Valid(t *testing.T) {
	for _, qt := range []QuantizationType{QuantNone, QuantInt8, QuantFP8, QuantInt4} {
		if !qt.Valid() {
			t.Errorf("expected %s to be valid", qt)
		}
	}
	if QuantizationType("int2").Valid() {
		t.Error("expected int2 to be invalid")
	}
}
