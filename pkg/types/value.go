package types

import (
	"math"
	"sort"
)

// Kind identifies the shape of a Value. The set is closed: quantization
// operates over exactly these six kinds, recursively.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a tagged variant holding one of the six supported kinds.
// Only the field matching Kind is meaningful.
type Value struct {
	Kind Kind
	Bool bool
	Num  float64
	Str  string
	List []Value
	Map  map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// Boolean wraps a bool.
func Boolean(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Number wraps a float64.
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// String_ wraps a string. The underscore avoids shadowing Kind.String.
func String_(s string) Value { return Value{Kind: KindString, Str: s} }

// List_ wraps a list of values.
func List_(items ...Value) Value { return Value{Kind: KindList, List: items} }

// Map_ wraps a string-keyed map of values.
func Map_(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// Per-node bookkeeping overhead used by SizeBytes. Chosen to approximate
// the in-memory footprint of a node, not to be exact.
const nodeOverhead = 16

// SizeBytes estimates the memory footprint of the value in bytes. The
// estimate is deterministic for a given value, which the store relies on
// for incremental memory accounting.
func (v Value) SizeBytes() int64 {
	switch v.Kind {
	case KindNull:
		return nodeOverhead
	case KindBool:
		return nodeOverhead + 1
	case KindNumber:
		return nodeOverhead + 8
	case KindString:
		return nodeOverhead + int64(len(v.Str))
	case KindList:
		size := int64(nodeOverhead)
		for _, item := range v.List {
			size += item.SizeBytes()
		}
		return size
	case KindMap:
		size := int64(nodeOverhead)
		for key, item := range v.Map {
			size += int64(len(key)) + item.SizeBytes()
		}
		return size
	default:
		return nodeOverhead
	}
}

// Equal reports exact structural equality.
func (v Value) Equal(other Value) bool {
	return v.equalWithin(other, 0)
}

// EqualApprox reports structural equality with numbers compared within tol.
func (v Value) EqualApprox(other Value, tol float64) bool {
	return v.equalWithin(other, tol)
}

func (v Value) equalWithin(other Value, tol float64) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == other.Bool
	case KindNumber:
		if tol == 0 {
			return v.Num == other.Num
		}
		return math.Abs(v.Num-other.Num) <= tol
	case KindString:
		return v.Str == other.Str
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].equalWithin(other.List[i], tol) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(other.Map) {
			return false
		}
		for key, item := range v.Map {
			o, ok := other.Map[key]
			if !ok || !item.equalWithin(o, tol) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// SortedKeys returns the map keys in sorted order, or nil for non-maps.
// Quantization encodes map children in this order so the payload layout
// is deterministic.
func (v Value) SortedKeys() []string {
	if v.Kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.Map))
	for key := range v.Map {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
