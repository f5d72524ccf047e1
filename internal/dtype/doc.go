// Package dtype provides the element types of store datasets and conversion
// between typed Go slices and their raw byte encoding.
//
// # Type Mapping
//
//	Type     | Go type  | Size
//	---------|----------|-----
//	Uint8    | uint8    | 1
//	Uint16   | uint16   | 2
//	Uint32   | uint32   | 4
//	Int32    | int32    | 4
//	Float32  | float32  | 4
//	Float64  | float64  | 8
//
// Store files hold elements little-endian. Raster files need big-endian,
// so [EncodeOrder] takes the byte order explicitly.
//
// # Reading and Writing
//
//	vals := make([]float32, n)
//	err := dtype.Decode(dtype.Float32, raw, vals)
//
//	raw, err := dtype.Encode(dtype.Float32, vals)
package dtype
