// Package quant implements the quantization engine: reversible or
// documented-lossy encoding of variant value trees into compact byte
// payloads plus self-describing metadata.
package quant

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/quantcache/quantcache/pkg/errors"
	"github.com/quantcache/quantcache/pkg/types"
)

// Metadata mirrors the structure of an encoded value. Every node records
// its kind and the encoding applied to it; leaves record where their bytes
// live in the flat payload. Dequantize needs nothing but the metadata and
// the payload.
type Metadata struct {
	Kind   types.Kind
	Type   types.QuantizationType
	Offset int
	Length int
	StrLen int // original string length, needed to drop the int4 pad nibble

	Keys     []string
	Children []*Metadata
}

// Overhead estimates the in-memory cost of the metadata tree itself, so
// the store can account quantized entries as payload + metadata.
func (m *Metadata) Overhead() int64 {
	if m == nil {
		return 0
	}
	size := int64(24)
	for _, key := range m.Keys {
		size += int64(len(key))
	}
	for _, child := range m.Children {
		size += child.Overhead()
	}
	return size
}

// Engine encodes and decodes values. It is stateless apart from an error
// counter and safe for concurrent use.
type Engine struct {
	logger     *zap.Logger
	errorCount atomic.Uint64
}

// NewEngine creates a quantization engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// ErrorCount returns the number of encode/decode failures seen so far.
func (e *Engine) ErrorCount() uint64 {
	return e.errorCount.Load()
}

// Quantize encodes v with the given quantization type. The returned
// payload holds all leaf bytes back to back; the metadata tree records the
// layout. Numbers are lossy for every type; strings are lossless for int8,
// passed through for fp8, and best-effort for int4.
func (e *Engine) Quantize(v types.Value, qt types.QuantizationType) (payload []byte, meta *Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload, meta = nil, nil
			err = errors.Newf(errors.ErrCodeQuantizationFailed, "panic during quantization: %v", r).
				WithComponent("quant").WithOperation("quantize")
		}
		if err != nil {
			e.errorCount.Add(1)
		}
	}()

	if qt == types.QuantNone || !qt.Valid() {
		return nil, nil, errors.Newf(errors.ErrCodeQuantizationFailed, "cannot quantize with type %q", qt).
			WithComponent("quant").WithOperation("quantize")
	}

	payload = make([]byte, 0, 64)
	meta, payload, err = e.encode(v, qt, payload)
	if err != nil {
		return nil, nil, err
	}
	return payload, meta, nil
}

// Dequantize reconstructs a value from a payload and its metadata.
func (e *Engine) Dequantize(payload []byte, meta *Metadata) (v types.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = types.Null()
			err = errors.Newf(errors.ErrCodeDequantizationFailed, "panic during dequantization: %v", r).
				WithComponent("quant").WithOperation("dequantize")
		}
		if err != nil {
			e.errorCount.Add(1)
		}
	}()

	if meta == nil {
		return types.Null(), errors.New(errors.ErrCodeCorruptMetadata, "nil metadata").
			WithComponent("quant").WithOperation("dequantize")
	}
	return e.decode(payload, meta)
}

func (e *Engine) encode(v types.Value, qt types.QuantizationType, payload []byte) (*Metadata, []byte, error) {
	meta := &Metadata{Kind: v.Kind, Type: qt}

	switch v.Kind {
	case types.KindNull:
		meta.Type = types.QuantNone
		meta.Offset = len(payload)

	case types.KindBool:
		meta.Offset = len(payload)
		meta.Length = 1
		b := byte(0)
		if v.Bool {
			b = 1
		}
		payload = append(payload, b)

	case types.KindNumber:
		var err error
		meta, payload, err = encodeNumber(v.Num, qt, payload)
		if err != nil {
			return nil, nil, err
		}

	case types.KindString:
		meta, payload = encodeString(v.Str, qt, payload)

	case types.KindList:
		meta.Children = make([]*Metadata, 0, len(v.List))
		for _, item := range v.List {
			child, next, err := e.encode(item, qt, payload)
			if err != nil {
				return nil, nil, err
			}
			payload = next
			meta.Children = append(meta.Children, child)
		}

	case types.KindMap:
		keys := v.SortedKeys()
		meta.Keys = keys
		meta.Children = make([]*Metadata, 0, len(keys))
		for _, key := range keys {
			child, next, err := e.encode(v.Map[key], qt, payload)
			if err != nil {
				return nil, nil, err
			}
			payload = next
			meta.Children = append(meta.Children, child)
		}

	default:
		return nil, nil, errors.Newf(errors.ErrCodeUnsupportedKind, "unsupported value kind %d", v.Kind).
			WithComponent("quant").WithOperation("quantize")
	}

	return meta, payload, nil
}

// encodeNumber reduces a float64 to the range of the target type. All
// number encodings are lossy: int8 clamps to [-128,127], fp8 keeps two
// decimal digits, int4 clamps to [-8,7].
func encodeNumber(n float64, qt types.QuantizationType, payload []byte) (*Metadata, []byte, error) {
	meta := &Metadata{Kind: types.KindNumber, Type: qt, Offset: len(payload)}

	switch qt {
	case types.QuantInt8:
		meta.Length = 1
		payload = append(payload, byte(int8(clampRound(n, -128, 127))))
	case types.QuantFP8:
		meta.Length = 4
		scaled := clampRound(n*100, math.MinInt32, math.MaxInt32)
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(int32(scaled)))
		payload = append(payload, buf[:]...)
	case types.QuantInt4:
		meta.Length = 1
		payload = append(payload, byte(int8(clampRound(n, -8, 7))))
	default:
		return nil, nil, errors.Newf(errors.ErrCodeQuantizationFailed, "unsupported number quantization %q", qt)
	}

	return meta, payload, nil
}

// encodeString stores strings losslessly for int8, untouched for fp8, and
// nibble-packed for int4. int4 keeps only the low nibble of each byte, two
// per output byte; odd lengths carry a pad nibble dropped on decode.
func encodeString(s string, qt types.QuantizationType, payload []byte) (*Metadata, []byte) {
	meta := &Metadata{Kind: types.KindString, Type: qt, Offset: len(payload), StrLen: len(s)}

	switch qt {
	case types.QuantInt4:
		raw := []byte(s)
		packed := make([]byte, (len(raw)+1)/2)
		for i, b := range raw {
			nibble := b & 0x0F
			if i%2 == 0 {
				packed[i/2] = nibble << 4
			} else {
				packed[i/2] |= nibble
			}
		}
		meta.Length = len(packed)
		payload = append(payload, packed...)
	default:
		// int8 keeps the exact UTF-8 bytes; fp8 passes strings through.
		if qt == types.QuantFP8 {
			meta.Type = types.QuantNone
		}
		meta.Length = len(s)
		payload = append(payload, s...)
	}

	return meta, payload
}

func (e *Engine) decode(payload []byte, meta *Metadata) (types.Value, error) {
	switch meta.Kind {
	case types.KindNull:
		return types.Null(), nil

	case types.KindBool:
		b, err := leafBytes(payload, meta)
		if err != nil {
			return types.Null(), err
		}
		return types.Boolean(len(b) == 1 && b[0] == 1), nil

	case types.KindNumber:
		return decodeNumber(payload, meta)

	case types.KindString:
		return decodeString(payload, meta)

	case types.KindList:
		items := make([]types.Value, 0, len(meta.Children))
		for _, child := range meta.Children {
			item, err := e.decode(payload, child)
			if err != nil {
				return types.Null(), err
			}
			items = append(items, item)
		}
		return types.List_(items...), nil

	case types.KindMap:
		if len(meta.Keys) != len(meta.Children) {
			return types.Null(), errors.New(errors.ErrCodeCorruptMetadata, "map key/child count mismatch").
				WithComponent("quant").WithOperation("dequantize")
		}
		m := make(map[string]types.Value, len(meta.Keys))
		for i, key := range meta.Keys {
			item, err := e.decode(payload, meta.Children[i])
			if err != nil {
				return types.Null(), err
			}
			m[key] = item
		}
		return types.Map_(m), nil

	default:
		return types.Null(), errors.Newf(errors.ErrCodeUnsupportedKind, "unsupported metadata kind %d", meta.Kind).
			WithComponent("quant").WithOperation("dequantize")
	}
}

func decodeNumber(payload []byte, meta *Metadata) (types.Value, error) {
	b, err := leafBytes(payload, meta)
	if err != nil {
		return types.Null(), err
	}

	switch meta.Type {
	case types.QuantInt8, types.QuantInt4:
		if len(b) != 1 {
			return types.Null(), corrupt("number leaf length")
		}
		return types.Number(float64(int8(b[0]))), nil
	case types.QuantFP8:
		if len(b) != 4 {
			return types.Null(), corrupt("fp8 leaf length")
		}
		scaled := int32(binary.BigEndian.Uint32(b))
		return types.Number(float64(scaled) / 100), nil
	default:
		return types.Null(), corrupt("number quantization type")
	}
}

// int4StringBase is the byte block reconstructed nibbles are mapped into.
// Only the low nibble survives packing, so the decoded string is an
// approximation; 0x60 places it in a printable ASCII range.
const int4StringBase = 0x60

func decodeString(payload []byte, meta *Metadata) (types.Value, error) {
	b, err := leafBytes(payload, meta)
	if err != nil {
		return types.Null(), err
	}

	if meta.Type != types.QuantInt4 {
		return types.String_(string(b)), nil
	}

	if (meta.StrLen+1)/2 > len(b) {
		return types.Null(), corrupt("int4 string length mismatch")
	}
	out := make([]byte, 0, meta.StrLen)
	for i := 0; i < meta.StrLen; i++ {
		var nibble byte
		if i%2 == 0 {
			nibble = b[i/2] >> 4
		} else {
			nibble = b[i/2] & 0x0F
		}
		out = append(out, int4StringBase|nibble)
	}
	return types.String_(string(out)), nil
}

func leafBytes(payload []byte, meta *Metadata) ([]byte, error) {
	if meta.Offset < 0 || meta.Length < 0 || meta.Offset+meta.Length > len(payload) {
		return nil, corrupt("leaf out of payload bounds")
	}
	return payload[meta.Offset : meta.Offset+meta.Length], nil
}

func corrupt(msg string) error {
	return errors.New(errors.ErrCodeCorruptMetadata, msg).
		WithComponent("quant").WithOperation("dequantize")
}

// clampRound rounds n and clamps it into [lo, hi]. NaN maps to 0 so the
// float-to-int conversions downstream stay deterministic.
func clampRound(n, lo, hi float64) float64 {
	if math.IsNaN(n) {
		return 0
	}
	r := math.Round(n)
	if r < lo {
		return lo
	}
	if r > hi {
		return hi
	}
	return r
}
