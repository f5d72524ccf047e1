package h5

import (
	"fmt"

	"github.com/robert-malhotra/go-rasterstats/internal/dtype"
)

type dataspace struct {
	dims []uint64
}

func (f *File) decodeDataspace(data []byte) (*dataspace, error) {
	d := newDecoder(data, f.sb)
	version := d.u8()
	rank := int(d.u8())
	d.u8() // flags
	switch version {
	case 1:
		d.skip(5)
	case 2:
		if kind := d.u8(); kind == 2 {
			// null dataspace
			return &dataspace{}, d.err
		}
	default:
		return nil, fmt.Errorf("%w: dataspace version %d", ErrUnsupported, version)
	}
	ds := &dataspace{dims: make([]uint64, rank)}
	for i := range ds.dims {
		ds.dims[i] = d.length()
	}
	if d.err != nil {
		return nil, fmt.Errorf("dataspace: %w", d.err)
	}
	return ds, nil
}

func encodeDataspace(dims []uint64) []byte {
	e := newEncoder()
	e.u8(2)
	e.u8(uint8(len(dims)))
	e.u8(0)
	e.u8(1) // simple
	for _, n := range dims {
		e.u64(n)
	}
	return e.Bytes()
}

// datatype is a numeric element type with its stored byte order.
type datatype struct {
	typ       dtype.Type
	bigEndian bool
}

const (
	classFixed = 0
	classFloat = 1
)

func decodeDatatype(data []byte) (datatype, error) {
	if len(data) < 8 {
		return datatype{}, fmt.Errorf("%w: datatype message of %d bytes", ErrCorrupt, len(data))
	}
	class := data[0] & 0x0F
	bitsField := uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16
	size := uint32(data[4]) | uint32(data[5])<<8 | uint32(data[6])<<16 | uint32(data[7])<<24
	dt := datatype{bigEndian: bitsField&0x01 != 0}

	switch class {
	case classFixed:
		signed := bitsField&0x08 != 0
		switch {
		case size == 1 && !signed:
			dt.typ = dtype.Uint8
		case size == 2 && !signed:
			dt.typ = dtype.Uint16
		case size == 4 && !signed:
			dt.typ = dtype.Uint32
		case size == 4 && signed:
			dt.typ = dtype.Int32
		}
	case classFloat:
		if bitsField&0x40 != 0 {
			return datatype{}, fmt.Errorf("%w: VAX float order", ErrUnsupported)
		}
		switch size {
		case 4:
			dt.typ = dtype.Float32
		case 8:
			dt.typ = dtype.Float64
		}
	}
	if dt.typ == dtype.Invalid {
		return datatype{}, fmt.Errorf("%w: datatype class %d size %d", ErrUnsupported, class, size)
	}
	return dt, nil
}

func encodeDatatype(t dtype.Type) ([]byte, error) {
	e := newEncoder()
	size := uint32(t.Size())
	switch t {
	case dtype.Uint8, dtype.Uint16, dtype.Uint32, dtype.Int32:
		var bitsField uint32
		if t == dtype.Int32 {
			bitsField = 0x08
		}
		e.u8(1<<4 | classFixed)
		e.u8(uint8(bitsField))
		e.u16(0)
		e.u32(size)
		e.u16(0)
		e.u16(uint16(size * 8))
	case dtype.Float32, dtype.Float64:
		// Implied leading mantissa bit, sign in the top bit.
		bitsField := uint32(0x20) | (size*8-1)<<8
		e.u8(1<<4 | classFloat)
		e.u8(uint8(bitsField))
		e.u8(uint8(bitsField >> 8))
		e.u8(0)
		e.u32(size)
		e.u16(0)
		e.u16(uint16(size * 8))
		if t == dtype.Float32 {
			e.u8(23)
			e.u8(8)
			e.u8(0)
			e.u8(23)
			e.u32(127)
		} else {
			e.u8(52)
			e.u8(11)
			e.u8(0)
			e.u8(52)
			e.u32(1023)
		}
	default:
		return nil, fmt.Errorf("%w: element type %s", ErrUnsupported, t)
	}
	return e.Bytes(), e.err
}

// Storage layout classes.
const (
	layoutCompact    = 0
	layoutContiguous = 1
	layoutChunked    = 2
)

// Chunk index types of a version 4 layout.
const (
	indexBTreeV1    = 0 // implied by layout versions 1 to 3
	indexSingle     = 1
	indexImplicit   = 2
	indexFixed      = 3
	indexExtensible = 4
	indexBTreeV2    = 5
)

type storageLayout struct {
	class   uint8
	addr    uint64
	size    uint64 // contiguous bytes
	compact []byte

	chunk     []uint64 // chunk dims, without the element size
	index     uint8
	filtered  bool   // single chunk index: size and mask follow
	chunkSize uint64 // single chunk index: filtered size
	chunkMask uint32
	pageBits  uint8
}

func (f *File) decodeLayout(data []byte) (*storageLayout, error) {
	d := newDecoder(data, f.sb)
	version := d.u8()
	l := &storageLayout{addr: undefined}
	switch version {
	case 1, 2:
		ndims := int(d.u8())
		l.class = d.u8()
		d.skip(5)
		if l.class != layoutCompact {
			l.addr = d.addr()
		}
		dims := make([]uint64, ndims)
		for i := range dims {
			dims[i] = uint64(d.u32())
		}
		switch l.class {
		case layoutChunked:
			if ndims > 0 {
				l.chunk = dims[:ndims-1]
			}
		case layoutCompact:
			n := int(d.u32())
			l.compact = d.bytes(n)
		}
	case 3:
		l.class = d.u8()
		switch l.class {
		case layoutCompact:
			n := int(d.u16())
			l.compact = d.bytes(n)
		case layoutContiguous:
			l.addr = d.addr()
			l.size = d.length()
		case layoutChunked:
			ndims := int(d.u8())
			l.addr = d.addr()
			dims := make([]uint64, ndims)
			for i := range dims {
				dims[i] = uint64(d.u32())
			}
			if ndims > 0 {
				l.chunk = dims[:ndims-1]
			}
		}
	case 4:
		l.class = d.u8()
		switch l.class {
		case layoutCompact:
			n := int(d.u16())
			l.compact = d.bytes(n)
		case layoutContiguous:
			l.addr = d.addr()
			l.size = d.length()
		case layoutChunked:
			flags := d.u8()
			ndims := int(d.u8())
			width := int(d.u8())
			dims := make([]uint64, ndims)
			for i := range dims {
				dims[i] = d.uN(width)
			}
			if ndims > 0 {
				l.chunk = dims[:ndims-1]
			}
			l.index = d.u8()
			switch l.index {
			case indexSingle:
				if flags&0x02 != 0 {
					l.filtered = true
					l.chunkSize = d.length()
					l.chunkMask = d.u32()
				}
			case indexImplicit:
			case indexFixed:
				l.pageBits = d.u8()
			case indexExtensible:
				d.skip(5)
			case indexBTreeV2:
				d.skip(6)
			default:
				return nil, fmt.Errorf("%w: chunk index type %d", ErrUnsupported, l.index)
			}
			l.addr = d.addr()
		}
	default:
		return nil, fmt.Errorf("%w: layout version %d", ErrUnsupported, version)
	}
	if l.class > layoutChunked {
		return nil, fmt.Errorf("%w: layout class %d", ErrUnsupported, l.class)
	}
	if d.err != nil {
		return nil, fmt.Errorf("layout: %w", d.err)
	}
	return l, nil
}

// encodeChunkedLayout writes a version 4 chunked layout. elemSize is
// appended to the chunk dims as the format requires.
func encodeChunkedLayout(chunk []uint64, elemSize int, index uint8, addr uint64, single *filteredChunk, pageBits uint8) []byte {
	e := newEncoder()
	e.u8(4)
	e.u8(layoutChunked)
	var flags uint8
	if single != nil {
		flags |= 0x02
	}
	e.u8(flags)
	e.u8(uint8(len(chunk) + 1))
	e.u8(4)
	for _, n := range chunk {
		e.u32(uint32(n))
	}
	e.u32(uint32(elemSize))
	e.u8(index)
	switch index {
	case indexSingle:
		if single != nil {
			e.u64(single.size)
			e.u32(single.mask)
		}
	case indexFixed:
		e.u8(pageBits)
	}
	e.u64(addr)
	return e.Bytes()
}

type filteredChunk struct {
	size uint64
	mask uint32
}

// HDF5 filter identifiers.
const (
	h5Deflate    = 1
	h5Shuffle    = 2
	h5Fletcher32 = 3
)

type filterDesc struct {
	id     uint16
	flags  uint16
	name   string
	params []uint32
}

func decodeFilters(data []byte, sb *superblock) ([]filterDesc, error) {
	d := newDecoder(data, sb)
	version := d.u8()
	n := int(d.u8())
	if version == 1 {
		d.skip(6)
	} else if version != 2 {
		return nil, fmt.Errorf("%w: filter pipeline version %d", ErrUnsupported, version)
	}
	out := make([]filterDesc, 0, n)
	for i := 0; i < n; i++ {
		var fd filterDesc
		fd.id = d.u16()
		var nameLen int
		if version == 1 || fd.id >= 256 {
			nameLen = int(d.u16())
		}
		fd.flags = d.u16()
		nvals := int(d.u16())
		if nameLen > 0 {
			name := d.bytes(nameLen)
			for j, c := range name {
				if c == 0 {
					name = name[:j]
					break
				}
			}
			fd.name = string(name)
			if version == 1 {
				d.skip(align8(nameLen) - nameLen)
			}
		}
		fd.params = make([]uint32, nvals)
		for j := range fd.params {
			fd.params[j] = d.u32()
		}
		if version == 1 && nvals%2 == 1 {
			d.skip(4)
		}
		out = append(out, fd)
	}
	if d.err != nil {
		return nil, fmt.Errorf("filter pipeline: %w", d.err)
	}
	return out, nil
}

func encodeFilters(fds []filterDesc) []byte {
	e := newEncoder()
	e.u8(2)
	e.u8(uint8(len(fds)))
	for _, fd := range fds {
		e.u16(fd.id)
		e.u16(fd.flags)
		e.u16(uint16(len(fd.params)))
		for _, p := range fd.params {
			e.u32(p)
		}
	}
	return e.Bytes()
}

// decodeFillValue returns the defined fill value, or nil when there is none.
func decodeFillValue(m message) ([]byte, error) {
	data := m.data
	if m.typ == msgFillOld {
		if len(data) < 4 {
			return nil, nil
		}
		n := int(uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24)
		if 4+n > len(data) {
			return nil, fmt.Errorf("%w: fill value overruns its message", ErrCorrupt)
		}
		return data[4 : 4+n], nil
	}
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: fill value message of %d bytes", ErrCorrupt, len(data))
	}
	var p int
	switch version := data[0]; version {
	case 1, 2:
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: fill value message of %d bytes", ErrCorrupt, len(data))
		}
		defined := data[3] != 0
		if version == 2 && !defined {
			return nil, nil
		}
		p = 4
	case 3:
		if data[1]&0x20 == 0 {
			return nil, nil
		}
		p = 2
	default:
		return nil, fmt.Errorf("%w: fill value version %d", ErrUnsupported, version)
	}
	if p+4 > len(data) {
		return nil, nil
	}
	n := int(uint32(data[p]) | uint32(data[p+1])<<8 | uint32(data[p+2])<<16 | uint32(data[p+3])<<24)
	if n == 0 {
		return nil, nil
	}
	if p+4+n > len(data) {
		return nil, fmt.Errorf("%w: fill value overruns its message", ErrCorrupt)
	}
	return data[p+4 : p+4+n], nil
}

// encodeFillValue writes a version 3 fill value message with incremental
// allocation, fill-if-set timing and no user-defined value.
func encodeFillValue() []byte {
	return []byte{3, 0x03 | 0x02<<2}
}

type link struct {
	name string
	addr uint64
}

func (f *File) decodeLink(data []byte) (link, bool, error) {
	d := newDecoder(data, f.sb)
	if v := d.u8(); v != 1 {
		return link{}, false, fmt.Errorf("%w: link message version %d", ErrUnsupported, v)
	}
	flags := d.u8()
	kind := uint8(0)
	if flags&0x08 != 0 {
		kind = d.u8()
	}
	if flags&0x04 != 0 {
		d.skip(8)
	}
	if flags&0x10 != 0 {
		d.skip(1)
	}
	nameLen := int(d.uN(1 << (flags & 0x03)))
	name := string(d.bytes(nameLen))
	if d.err != nil {
		return link{}, false, fmt.Errorf("link message: %w", d.err)
	}
	// Soft and external links have no object of their own in this file.
	if kind != 0 {
		return link{name: name}, false, nil
	}
	l := link{name: name, addr: d.addr()}
	if d.err != nil {
		return link{}, false, fmt.Errorf("link message: %w", d.err)
	}
	return l, true, nil
}

func encodeLink(name string, addr uint64) []byte {
	e := newEncoder()
	e.u8(1)
	var width uint8
	switch {
	case len(name) <= 0xFF:
		width = 0
	case len(name) <= 0xFFFF:
		width = 1
	default:
		width = 2
	}
	e.u8(0x10 | width) // charset present
	e.u8(1)            // UTF-8
	e.uN(uint64(len(name)), 1<<width)
	e.raw([]byte(name))
	e.u64(addr)
	return e.Bytes()
}

// decodeLinkInfo returns the fractal heap address of dense link storage.
func (f *File) decodeLinkInfo(data []byte) (uint64, error) {
	d := newDecoder(data, f.sb)
	d.u8()
	flags := d.u8()
	if flags&0x01 != 0 {
		d.skip(8)
	}
	heap := d.addr()
	if d.err != nil {
		return 0, fmt.Errorf("link info: %w", d.err)
	}
	return heap, nil
}

func encodeLinkInfo() []byte {
	e := newEncoder()
	e.u8(0)
	e.u8(0)
	e.u64(undefined)
	e.u64(undefined)
	return e.Bytes()
}

func encodeGroupInfo() []byte {
	return []byte{0, 0}
}

func (f *File) decodeSymbolTable(data []byte) (btree, heap uint64, err error) {
	d := newDecoder(data, f.sb)
	btree = d.addr()
	heap = d.addr()
	if d.err != nil {
		return 0, 0, fmt.Errorf("symbol table message: %w", d.err)
	}
	return btree, heap, nil
}
