// Package superblock handles the fixed header at offset 0 of a store file.
//
// The superblock is the commit point of the file: it records where the
// current catalog lives and is rewritten last on every flush. It is
// protected by a CRC-32 over its first 60 bytes.
//
//	offset  size  field
//	0       8     signature
//	8       1     version
//	9       1     flags
//	10      6     reserved
//	16      8     catalog address
//	24      8     catalog size
//	32      8     EOF address
//	40      8     generation
//	48      12    reserved
//	60      4     CRC-32
package superblock

import (
	"errors"
	"fmt"
	"io"

	binpkg "github.com/robert-malhotra/go-rasterstats/internal/binary"
)

// Signature identifies store files: 0x89 R S T \r \n 0x1a \n
var Signature = []byte{0x89, 'R', 'S', 'T', '\r', '\n', 0x1a, '\n'}

// Size is the encoded size of a superblock in bytes.
const Size = 64

// Version is the format version written by this package.
const Version = 1

// Errors
var (
	ErrNotStore           = errors.New("not a store file: signature not found")
	ErrUnsupportedVersion = errors.New("unsupported superblock version")
	ErrChecksum           = errors.New("superblock checksum mismatch")
)

// Superblock contains the essential file metadata.
type Superblock struct {
	Version uint8
	Flags   uint8

	// CatalogAddr and CatalogSize locate the committed catalog.
	// A zero size means the file holds only an empty root group.
	CatalogAddr uint64
	CatalogSize uint64

	// EOFAddress is the logical end of file.
	EOFAddress uint64

	// Generation counts commits since creation.
	Generation uint64
}

// New returns the superblock of an empty file.
func New() *Superblock {
	return &Superblock{
		Version:    Version,
		EOFAddress: Size,
	}
}

// Read parses and verifies the superblock at offset 0.
func Read(r io.ReaderAt) (*Superblock, error) {
	buf := make([]byte, Size)
	if n, err := r.ReadAt(buf, 0); n < Size {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, ErrNotStore
		}
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	for i, b := range Signature {
		if buf[i] != b {
			return nil, ErrNotStore
		}
	}

	stored := binpkg.Order.Uint32(buf[60:])
	if computed := binpkg.CRC32(buf[:60]); stored != computed {
		return nil, fmt.Errorf("%w: stored 0x%08x, computed 0x%08x", ErrChecksum, stored, computed)
	}

	sb := &Superblock{
		Version:     buf[8],
		Flags:       buf[9],
		CatalogAddr: binpkg.Order.Uint64(buf[16:]),
		CatalogSize: binpkg.Order.Uint64(buf[24:]),
		EOFAddress:  binpkg.Order.Uint64(buf[32:]),
		Generation:  binpkg.Order.Uint64(buf[40:]),
	}
	if sb.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, sb.Version)
	}
	return sb, nil
}

// Encode returns the 64-byte encoding of the superblock.
func (sb *Superblock) Encode() []byte {
	buf := make([]byte, Size)
	copy(buf, Signature)
	buf[8] = sb.Version
	buf[9] = sb.Flags
	binpkg.Order.PutUint64(buf[16:], sb.CatalogAddr)
	binpkg.Order.PutUint64(buf[24:], sb.CatalogSize)
	binpkg.Order.PutUint64(buf[32:], sb.EOFAddress)
	binpkg.Order.PutUint64(buf[40:], sb.Generation)
	binpkg.Order.PutUint32(buf[60:], binpkg.CRC32(buf[:60]))
	return buf
}

// Write writes the superblock at offset 0.
func (sb *Superblock) Write(w *binpkg.Writer) error {
	return w.At(0).WriteBytes(sb.Encode())
}
