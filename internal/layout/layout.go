package layout

import (
	"errors"
	"fmt"
	"iter"
)

// ErrOutOfRange is returned for windows outside a dataset.
var ErrOutOfRange = errors.New("window out of range")

// Chunked describes the chunk geometry of a flat dataset.
type Chunked struct {
	Length   uint64 // elements in the dataset
	ChunkLen uint64 // elements per chunk
	ElemSize int    // bytes per element
}

// Segment is the part of a window that falls inside one chunk.
type Segment struct {
	Chunk  int    // chunk index
	Offset uint64 // first element within the chunk
	Dst    uint64 // first element within the window
	Count  uint64 // number of elements
}

// NumChunks returns the number of chunks needed to cover Length.
func (c Chunked) NumChunks() int {
	if c.ChunkLen == 0 {
		return 0
	}
	return int((c.Length + c.ChunkLen - 1) / c.ChunkLen)
}

// ChunkBytes returns the decoded size of one chunk in bytes.
func (c Chunked) ChunkBytes() int {
	return int(c.ChunkLen) * c.ElemSize
}

// Bounds returns the element range covered by chunk i, clipped to Length.
func (c Chunked) Bounds(i int) (lo, hi uint64) {
	lo = uint64(i) * c.ChunkLen
	hi = min(lo+c.ChunkLen, c.Length)
	return lo, hi
}

// Check validates the window [lo, hi).
func (c Chunked) Check(lo, hi uint64) error {
	if lo > hi || hi > c.Length {
		return fmt.Errorf("%w: [%d, %d) of %d elements", ErrOutOfRange, lo, hi, c.Length)
	}
	return nil
}

// Segments yields the per-chunk pieces of the window [lo, hi) in order.
// The window must already be valid.
func (c Chunked) Segments(lo, hi uint64) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		for pos := lo; pos < hi; {
			chunk := pos / c.ChunkLen
			offset := pos - chunk*c.ChunkLen
			count := min(c.ChunkLen-offset, hi-pos)
			seg := Segment{
				Chunk:  int(chunk),
				Offset: offset,
				Dst:    pos - lo,
				Count:  count,
			}
			if !yield(seg) {
				return
			}
			pos += count
		}
	}
}

// Full reports whether seg covers its whole chunk (including padding for
// the last chunk), so the chunk need not be read before it is overwritten.
func (c Chunked) Full(seg Segment) bool {
	lo, hi := c.Bounds(seg.Chunk)
	return seg.Offset == 0 && seg.Count == hi-lo
}
