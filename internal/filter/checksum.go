package filter

import (
	"encoding/binary"
	"fmt"

	binpkg "github.com/robert-malhotra/go-rasterstats/internal/binary"
)

// Checksum appends an xxHash64 digest of the data and verifies it on decode.
type Checksum struct{}

// NewChecksum creates a checksum filter.
func NewChecksum() *Checksum {
	return &Checksum{}
}

func (f *Checksum) ID() ID {
	return IDChecksum
}

func (f *Checksum) Encode(input []byte) ([]byte, error) {
	out := make([]byte, len(input)+8)
	copy(out, input)
	binary.LittleEndian.PutUint64(out[len(input):], binpkg.Checksum64(input))
	return out, nil
}

func (f *Checksum) Decode(input []byte) ([]byte, error) {
	if len(input) < 8 {
		return nil, fmt.Errorf("%w: data too short for checksum", ErrCorrupt)
	}
	dataLen := len(input) - 8
	data := input[:dataLen]
	stored := binary.LittleEndian.Uint64(input[dataLen:])
	if computed := binpkg.Checksum64(data); computed != stored {
		return nil, fmt.Errorf("%w: checksum mismatch: stored 0x%016x, computed 0x%016x", ErrCorrupt, stored, computed)
	}
	return data, nil
}
