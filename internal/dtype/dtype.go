package dtype

import (
	"errors"
	"fmt"
	"strings"
)

// Type identifies the element type of a dataset.
type Type uint8

const (
	Invalid Type = iota
	Uint8
	Uint16
	Uint32
	Int32
	Float32
	Float64
)

// ErrUnknownType is returned for type codes or names that do not map to a Type.
var ErrUnknownType = errors.New("unknown element type")

var typeNames = map[Type]string{
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Int32:   "int32",
	Float32: "float32",
	Float64: "float64",
}

// Size returns the width of one element in bytes, or 0 for Invalid.
func (t Type) Size() int {
	switch t {
	case Uint8:
		return 1
	case Uint16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether t is a known element type.
func (t Type) Valid() bool {
	return t.Size() > 0
}

// IsFloat reports whether t is a floating point type.
func (t Type) IsFloat() bool {
	return t == Float32 || t == Float64
}

// IsUnsigned reports whether t is an unsigned integer type.
func (t Type) IsUnsigned() bool {
	return t == Uint8 || t == Uint16 || t == Uint32
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Parse returns the Type named s (case-insensitive).
func Parse(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return Invalid, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// FromCode validates a type code read from a file.
func FromCode(code uint8) (Type, error) {
	t := Type(code)
	if !t.Valid() {
		return Invalid, fmt.Errorf("%w: code %d", ErrUnknownType, code)
	}
	return t, nil
}

// Element is the set of Go types a dataset can be read into or written from.
type Element interface {
	uint8 | uint16 | uint32 | int32 | float32 | float64
}

// Of returns the Type corresponding to the Go element type T.
func Of[T Element]() Type {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case int32:
		return Int32
	case float32:
		return Float32
	case float64:
		return Float64
	}
	return Invalid
}
