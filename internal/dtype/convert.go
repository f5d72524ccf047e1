package dtype

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode converts vals to little-endian bytes of type t.
// The Go element type of vals must match t.
func Encode[T Element](t Type, vals []T) ([]byte, error) {
	return EncodeOrder(t, vals, binary.LittleEndian)
}

// EncodeOrder is Encode with an explicit byte order.
func EncodeOrder[T Element](t Type, vals []T, order binary.ByteOrder) ([]byte, error) {
	if Of[T]() != t {
		return nil, fmt.Errorf("cannot encode %T values as %s", vals, t)
	}
	size := t.Size()
	out := make([]byte, len(vals)*size)
	switch v := any(vals).(type) {
	case []uint8:
		copy(out, v)
	case []uint16:
		for i, x := range v {
			order.PutUint16(out[i*2:], x)
		}
	case []uint32:
		for i, x := range v {
			order.PutUint32(out[i*4:], x)
		}
	case []int32:
		for i, x := range v {
			order.PutUint32(out[i*4:], uint32(x))
		}
	case []float32:
		for i, x := range v {
			order.PutUint32(out[i*4:], math.Float32bits(x))
		}
	case []float64:
		for i, x := range v {
			order.PutUint64(out[i*8:], math.Float64bits(x))
		}
	}
	return out, nil
}

// Decode fills dst from little-endian raw bytes of type t.
// len(raw) must equal len(dst)*t.Size().
func Decode[T Element](t Type, raw []byte, dst []T) error {
	if Of[T]() != t {
		return fmt.Errorf("cannot decode %s into %T", t, dst)
	}
	if len(raw) != len(dst)*t.Size() {
		return fmt.Errorf("decoding %s: %d bytes for %d elements", t, len(raw), len(dst))
	}
	order := binary.LittleEndian
	switch v := any(dst).(type) {
	case []uint8:
		copy(v, raw)
	case []uint16:
		for i := range v {
			v[i] = order.Uint16(raw[i*2:])
		}
	case []uint32:
		for i := range v {
			v[i] = order.Uint32(raw[i*4:])
		}
	case []int32:
		for i := range v {
			v[i] = int32(order.Uint32(raw[i*4:]))
		}
	case []float32:
		for i := range v {
			v[i] = math.Float32frombits(order.Uint32(raw[i*4:]))
		}
	case []float64:
		for i := range v {
			v[i] = math.Float64frombits(order.Uint64(raw[i*8:]))
		}
	}
	return nil
}

// ToFloat32 decodes raw bytes of any numeric type t into float32 values.
// It is used where integer accumulators feed floating point arithmetic.
func ToFloat32(t Type, raw []byte, dst []float32) error {
	if len(raw) != len(dst)*t.Size() {
		return fmt.Errorf("converting %s: %d bytes for %d elements", t, len(raw), len(dst))
	}
	order := binary.LittleEndian
	switch t {
	case Uint8:
		for i := range dst {
			dst[i] = float32(raw[i])
		}
	case Uint16:
		for i := range dst {
			dst[i] = float32(order.Uint16(raw[i*2:]))
		}
	case Uint32:
		for i := range dst {
			dst[i] = float32(order.Uint32(raw[i*4:]))
		}
	case Int32:
		for i := range dst {
			dst[i] = float32(int32(order.Uint32(raw[i*4:])))
		}
	case Float32:
		return Decode(Float32, raw, dst)
	case Float64:
		for i := range dst {
			dst[i] = float32(math.Float64frombits(order.Uint64(raw[i*8:])))
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return nil
}

// IsZero reports, for each element of raw, whether it is zero.
// Zero tests run on the raw integer encoding, before any float conversion.
func IsZero(t Type, raw []byte, dst []bool) error {
	size := t.Size()
	if size == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	if len(raw) != len(dst)*size {
		return fmt.Errorf("zero mask %s: %d bytes for %d elements", t, len(raw), len(dst))
	}
	for i := range dst {
		zero := true
		for _, b := range raw[i*size : (i+1)*size] {
			if b != 0 {
				zero = false
				break
			}
		}
		dst[i] = zero
	}
	return nil
}
