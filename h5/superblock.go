package h5

import (
	"bytes"
	"fmt"
	"io"

	binpkg "github.com/robert-malhotra/go-rasterstats/internal/binary"
)

var signature = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

// signatureOffsets are the places a superblock may start when the file
// carries a user block.
var signatureOffsets = []int64{0, 512, 1024, 2048, 4096}

type superblock struct {
	version    uint8
	offsetSize int
	lengthSize int
	base       uint64
	eof        uint64
	root       uint64

	// Version 0 and 1 cache the root group's symbol table in the superblock.
	rootBTree uint64
	rootHeap  uint64
}

func readSuperblock(r io.ReaderAt) (*superblock, error) {
	sig := make([]byte, len(signature))
	for _, off := range signatureOffsets {
		if _, err := r.ReadAt(sig, off); err != nil {
			break
		}
		if bytes.Equal(sig, signature) {
			return parseSuperblock(r, off)
		}
	}
	return nil, ErrNotHDF5
}

func parseSuperblock(r io.ReaderAt, off int64) (*superblock, error) {
	head := make([]byte, 16)
	if _, err := r.ReadAt(head, off); err != nil {
		return nil, fmt.Errorf("%w: truncated superblock", ErrNotHDF5)
	}
	sb := &superblock{version: head[8], rootBTree: undefined, rootHeap: undefined}

	var fixed int64
	switch sb.version {
	case 0, 1:
		sb.offsetSize, sb.lengthSize = int(head[13]), int(head[14])
		fixed = 24
		if sb.version == 1 {
			fixed = 28
		}
	case 2, 3:
		sb.offsetSize, sb.lengthSize = int(head[9]), int(head[10])
		fixed = 12
	default:
		return nil, fmt.Errorf("%w: superblock version %d", ErrUnsupported, sb.version)
	}
	if !validSize(sb.offsetSize) || !validSize(sb.lengthSize) {
		return nil, fmt.Errorf("%w: offset size %d, length size %d", ErrNotHDF5, sb.offsetSize, sb.lengthSize)
	}

	var size int64
	if sb.version < 2 {
		// base, free space, EOF, driver, then the root symbol table entry
		size = fixed + 4*int64(sb.offsetSize) + 2*int64(sb.offsetSize) + 8 + 16
	} else {
		size = fixed + 4*int64(sb.offsetSize) + 4
	}
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("%w: truncated superblock", ErrNotHDF5)
	}
	d := newDecoder(buf, sb)
	d.seek(int(fixed))

	if sb.version < 2 {
		sb.base = d.addr()
		d.addr() // free space
		sb.eof = d.addr()
		d.addr() // driver info
		d.addr() // link name offset
		sb.root = d.addr()
		cacheType := d.u32()
		d.skip(4)
		if cacheType == 1 {
			sb.rootBTree = d.addr()
			sb.rootHeap = d.addr()
		}
	} else {
		sb.base = d.addr()
		d.addr() // superblock extension
		sb.eof = d.addr()
		sb.root = d.addr()
		stored := d.u32()
		if d.err == nil && stored != binpkg.Lookup3(buf[:size-4]) {
			return nil, fmt.Errorf("%w: superblock", ErrChecksum)
		}
	}
	if d.err != nil {
		return nil, fmt.Errorf("reading superblock: %w", d.err)
	}
	if sb.base == undefined {
		sb.base = 0
	}
	// The base address is absolute; a file behind a user block stores it.
	if sb.base == 0 && off != 0 {
		sb.base = uint64(off)
	}
	return sb, nil
}

func validSize(n int) bool {
	return n == 2 || n == 4 || n == 8
}

// encodeSuperblock returns a version 3 superblock with 8-byte offsets and
// lengths and no extension.
func encodeSuperblock(eof, root uint64) ([]byte, error) {
	e := newEncoder()
	e.raw(signature)
	e.u8(3)
	e.u8(8)
	e.u8(8)
	e.u8(0)
	e.u64(0)
	e.u64(undefined)
	e.u64(eof)
	e.u64(root)
	e.checksum()
	return e.Bytes(), e.err
}

// superblockSize is the encoded size of encodeSuperblock's output.
const superblockSize = 48

// based shifts every read by the superblock's base address.
type based struct {
	r    io.ReaderAt
	base int64
}

func (b based) ReadAt(p []byte, off int64) (int, error) {
	return b.r.ReadAt(p, off+b.base)
}
