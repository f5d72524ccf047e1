package engine

import "iter"

// Window is a half-open range [Lo, Hi) of flat element indices.
type Window struct {
	Lo, Hi uint64
}

// Len returns the number of elements in the window.
func (w Window) Len() uint64 {
	return w.Hi - w.Lo
}

// MirrorPair is one step of a row reversal: Rows rows starting at Row and
// the same number of rows ending at height-Row, read together and written
// to each other's place.
type MirrorPair struct {
	Row       int
	MirrorRow int
	Rows      int
	Forward   Window
	Mirror    Window
}

// NewMirrorPair returns the pair of rows rows starting at row yy.
func NewMirrorPair(yy, rows, width, height int) MirrorPair {
	mirror := height - yy - rows
	w := uint64(width)
	return MirrorPair{
		Row:       yy,
		MirrorRow: mirror,
		Rows:      rows,
		Forward:   Window{Lo: uint64(yy) * w, Hi: uint64(yy+rows) * w},
		Mirror:    Window{Lo: uint64(mirror) * w, Hi: uint64(mirror+rows) * w},
	}
}

// HalfHeight returns the number of forward rows needed to reverse height rows.
func HalfHeight(height int) int {
	return (height + 1) / 2
}

// Pairs yields the mirror pairs that reverse a width×height array in
// batches of at most batch rows. With an odd height the middle row ends up
// in the last pair as both forward and mirror row.
func Pairs(width, height, batch int) iter.Seq[MirrorPair] {
	return func(yield func(MirrorPair) bool) {
		if width <= 0 || height <= 0 {
			return
		}
		batch = max(batch, 1)
		half := HalfHeight(height)
		for yy := 0; yy < half; yy += batch {
			rows := min(batch, half-yy)
			if !yield(NewMirrorPair(yy, rows, width, height)) {
				return
			}
		}
	}
}

// ReverseRows reverses the order of rows rows of width elements in buf,
// in place. Row i is swapped with row rows-1-i.
func ReverseRows[T any](buf []T, rows, width int) {
	for i, j := 0, rows-1; i < j; i, j = i+1, j-1 {
		a := buf[i*width : (i+1)*width]
		b := buf[j*width : (j+1)*width]
		for k := range width {
			a[k], b[k] = b[k], a[k]
		}
	}
}
