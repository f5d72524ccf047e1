package filter

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v4"
)

var lz4CompressorPool = sync.Pool{
	New: func() any {
		return &lz4.Compressor{}
	},
}

// LZ4 implements LZ4 block compression.
// Stored form: uint32 decoded length, then the compressed block.
// Decoded length is limited to 2 GiB.
type LZ4 struct{}

// NewLZ4 creates an lz4 filter.
func NewLZ4() *LZ4 {
	return &LZ4{}
}

func (f *LZ4) ID() ID {
	return IDLZ4
}

func (f *LZ4) Encode(input []byte) ([]byte, error) {
	dst := make([]byte, 4+lz4.CompressBlockBound(len(input)))
	binary.LittleEndian.PutUint32(dst, uint32(len(input)))
	if len(input) == 0 {
		return dst[:4], nil
	}

	lc := lz4CompressorPool.Get().(*lz4.Compressor)
	defer lz4CompressorPool.Put(lc)

	n, err := lc.CompressBlock(input, dst[4:])
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 {
		// Incompressible input is stored raw, flagged by the high bit of
		// the length prefix.
		binary.LittleEndian.PutUint32(dst, uint32(len(input))|1<<31)
		copy(dst[4:], input)
		return dst[:4+len(input)], nil
	}
	return dst[:4+n], nil
}

func (f *LZ4) Decode(input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("%w: lz4 block of %d bytes", ErrCorrupt, len(input))
	}
	header := binary.LittleEndian.Uint32(input)
	size := int(header &^ (1 << 31))
	if header&(1<<31) != 0 {
		if len(input)-4 != size {
			return nil, fmt.Errorf("%w: lz4 raw block length %d, want %d", ErrCorrupt, len(input)-4, size)
		}
		return append([]byte(nil), input[4:]...), nil
	}
	output := make([]byte, size)
	if size == 0 {
		return output, nil
	}
	n, err := lz4.UncompressBlock(input[4:], output)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
	}
	if n != size {
		return nil, fmt.Errorf("%w: lz4 decoded %d bytes, want %d", ErrCorrupt, n, size)
	}
	return output, nil
}
