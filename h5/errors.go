// Package h5 reads and writes the subset of HDF5 that raster accumulators
// live in: groups and numeric datasets, contiguous or chunked, with the
// deflate, shuffle and fletcher32 filters.
package h5

import (
	"errors"

	"github.com/robert-malhotra/go-rasterstats/internal/filter"
)

// Common errors
var (
	ErrNotHDF5     = errors.New("not an HDF5 file")
	ErrNotFound    = errors.New("object not found")
	ErrNotDataset  = errors.New("object is not a dataset")
	ErrNotGroup    = errors.New("object is not a group")
	ErrExists      = errors.New("object already exists")
	ErrUnsupported = errors.New("unsupported feature")
	ErrInvalidPath = errors.New("invalid path")
	ErrClosed      = errors.New("file is closed")
	ErrWriteOnly   = errors.New("file is open for writing")
	ErrChecksum    = errors.New("metadata checksum mismatch")
	ErrCorrupt     = filter.ErrCorrupt
)

// undefined is the "no address" value of an 8-byte offset field.
const undefined = ^uint64(0)

// isUndefined reports whether addr is all ones in an offset field of size bytes.
func isUndefined(addr uint64, size int) bool {
	if size >= 8 {
		return addr == undefined
	}
	return addr == 1<<(8*uint(size))-1
}
