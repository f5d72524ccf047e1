package store

import "github.com/robert-malhotra/go-rasterstats/internal/dtype"

// Type is the element type of a dataset.
type Type = dtype.Type

// Element types.
const (
	Uint8   = dtype.Uint8
	Uint16  = dtype.Uint16
	Uint32  = dtype.Uint32
	Int32   = dtype.Int32
	Float32 = dtype.Float32
	Float64 = dtype.Float64
)

// Element is the set of Go types datasets can be read into and written from.
type Element = dtype.Element

// ParseType returns the element type named s, e.g. "float32".
func ParseType(s string) (Type, error) {
	return dtype.Parse(s)
}
