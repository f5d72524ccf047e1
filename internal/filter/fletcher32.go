package filter

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	binpkg "github.com/robert-malhotra/go-rasterstats/internal/binary"
)

// Fletcher32 appends the HDF5 Fletcher-32 checksum and verifies it on decode.
type Fletcher32 struct{}

// NewFletcher32 creates a Fletcher-32 filter.
func NewFletcher32() *Fletcher32 {
	return &Fletcher32{}
}

func (f *Fletcher32) ID() ID {
	return IDFletcher32
}

func (f *Fletcher32) Encode(input []byte) ([]byte, error) {
	out := make([]byte, len(input)+4)
	copy(out, input)
	binary.LittleEndian.PutUint32(out[len(input):], binpkg.Fletcher32(input))
	return out, nil
}

// Decode also accepts the byte-swapped sum written by some older libraries.
func (f *Fletcher32) Decode(input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("%w: data too short for fletcher32", ErrCorrupt)
	}
	data := input[:len(input)-4]
	stored := binary.LittleEndian.Uint32(input[len(data):])
	computed := binpkg.Fletcher32(data)
	if stored != computed && stored != bits.ReverseBytes32(computed) {
		return nil, fmt.Errorf("%w: fletcher32 mismatch: stored 0x%08x, computed 0x%08x", ErrCorrupt, stored, computed)
	}
	return data, nil
}
