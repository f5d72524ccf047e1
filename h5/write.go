package h5

import (
	"fmt"
	"math/bits"
	"os"
	"sort"

	"github.com/robert-malhotra/go-rasterstats/internal/alloc"
	binpkg "github.com/robert-malhotra/go-rasterstats/internal/binary"
	"github.com/robert-malhotra/go-rasterstats/internal/dtype"
	"github.com/robert-malhotra/go-rasterstats/internal/filter"
)

// DefaultChunkBytes is the target size of a default chunk.
const DefaultChunkBytes = 1 << 20

// fixedArrayPageBits is the log2 of the entries per fixed array page.
var fixedArrayPageBits uint8 = 10

// DatasetOption configures dataset creation.
type DatasetOption func(*datasetOptions)

type datasetOptions struct {
	chunks     []uint64
	deflate    int
	shuffle    bool
	fletcher32 bool
}

// WithChunks sets the chunk shape. It must have the dataset's rank.
func WithChunks(dims ...uint64) DatasetOption {
	return func(o *datasetOptions) {
		o.chunks = dims
	}
}

// WithDeflate compresses chunks with zlib at the given level (1-9).
func WithDeflate(level int) DatasetOption {
	return func(o *datasetOptions) {
		o.deflate = min(max(level, 1), 9)
	}
}

// WithShuffle byte-shuffles chunks before compression.
func WithShuffle() DatasetOption {
	return func(o *datasetOptions) {
		o.shuffle = true
	}
}

// WithFletcher32 appends a Fletcher-32 checksum to every chunk.
func WithFletcher32() DatasetOption {
	return func(o *datasetOptions) {
		o.fletcher32 = true
	}
}

type writeState struct {
	alloc   *alloc.Allocator
	root    *wgroup
	writers map[*DatasetWriter]struct{}
}

type wgroup struct {
	links map[string]*wlink
}

type wlink struct {
	group *wgroup
	addr  uint64 // dataset header, set when the writer closes
}

// Create creates or truncates an HDF5 file for writing. Objects become
// readable once Close has written the group hierarchy and superblock.
func Create(path string) (*File, error) {
	fh, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	// Reserve the superblock; it is written last.
	if err := binpkg.NewWriter(fh).WriteZeros(superblockSize); err != nil {
		fh.Close()
		return nil, fmt.Errorf("creating file: %w", err)
	}
	return &File{
		path: path,
		file: fh,
		w: &writeState{
			alloc:   alloc.New(superblockSize),
			root:    &wgroup{links: map[string]*wlink{}},
			writers: map[*DatasetWriter]struct{}{},
		},
	}, nil
}

func (f *File) checkWritable() error {
	if f.closed {
		return ErrClosed
	}
	if f.w == nil {
		return fmt.Errorf("%w: %s is open for reading", ErrUnsupported, f.path)
	}
	return nil
}

func (f *File) mkdirAll(parts []string) (*wgroup, error) {
	g := f.w.root
	for i, name := range parts {
		l, ok := g.links[name]
		if !ok {
			l = &wlink{group: &wgroup{links: map[string]*wlink{}}}
			g.links[name] = l
		}
		if l.group == nil {
			return nil, fmt.Errorf("%w: %s is a dataset", ErrExists, joinPath(parts[:i+1]...))
		}
		g = l.group
	}
	return g, nil
}

// CreateGroup creates a group and any missing parents.
func (f *File) CreateGroup(path string) error {
	if err := f.checkWritable(); err != nil {
		return err
	}
	_, err := f.mkdirAll(splitPath(path))
	return err
}

// DatasetWriter streams a dataset's rows into a file in order.
type DatasetWriter struct {
	file     *File
	path     string
	parent   *wgroup
	name     string
	typ      dtype.Type
	dims     []uint64
	chunk    []uint64
	grid     []uint64
	fds      []filterDesc
	pipeline *filter.Pipeline

	rowBytes int
	band     []byte
	rows     uint64
	flushed  uint64
	refs     []chunkRef
	closed   bool
}

// CreateDataset adds a chunked dataset at path, creating missing parent
// groups, and returns a writer for its rows.
func (f *File) CreateDataset(path string, t dtype.Type, dims []uint64, opts ...DatasetOption) (*DatasetWriter, error) {
	if err := f.checkWritable(); err != nil {
		return nil, err
	}
	if !t.Valid() {
		return nil, fmt.Errorf("%w: element type %s", ErrUnsupported, t)
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("%w: scalar datasets", ErrUnsupported)
	}
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	o := &datasetOptions{}
	for _, opt := range opts {
		opt(o)
	}

	es := t.Size()
	chunk := append([]uint64(nil), o.chunks...)
	if o.chunks == nil {
		chunk = make([]uint64, len(dims))
		for d := 1; d < len(dims); d++ {
			chunk[d] = max(1, dims[d])
		}
		inner := uint64(es) * product(chunk[1:])
		chunk[0] = max(1, min(dims[0], DefaultChunkBytes/max(inner, 1)))
	}
	if len(chunk) != len(dims) {
		return nil, fmt.Errorf("%w: chunk rank %d for dataset rank %d", ErrInvalidPath, len(chunk), len(dims))
	}
	grid := make([]uint64, len(dims))
	for d, c := range chunk {
		if c == 0 || c > 0xFFFFFFFF {
			return nil, fmt.Errorf("%w: chunk dimension %d", ErrUnsupported, c)
		}
		grid[d] = (dims[d] + c - 1) / c
	}
	if product(chunk)*uint64(es) > maxBlock {
		return nil, fmt.Errorf("%w: chunks of %d bytes", ErrUnsupported, product(chunk)*uint64(es))
	}

	var fds []filterDesc
	var specs []filter.Spec
	if o.shuffle && es > 1 {
		fds = append(fds, filterDesc{id: h5Shuffle, flags: 1, params: []uint32{uint32(es)}})
		specs = append(specs, filter.Spec{ID: filter.IDShuffle, Param: uint32(es)})
	}
	if o.deflate > 0 {
		fds = append(fds, filterDesc{id: h5Deflate, flags: 1, params: []uint32{uint32(o.deflate)}})
		specs = append(specs, filter.Spec{ID: filter.IDDeflate, Param: uint32(o.deflate)})
	}
	if o.fletcher32 {
		fds = append(fds, filterDesc{id: h5Fletcher32})
		specs = append(specs, filter.Spec{ID: filter.IDFletcher32})
	}
	var pipeline *filter.Pipeline
	if len(specs) > 0 {
		p, err := filter.NewPipeline(specs)
		if err != nil {
			return nil, err
		}
		pipeline = p
	}

	parent, err := f.mkdirAll(parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}
	name := parts[len(parts)-1]
	if _, ok := parent.links[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, joinPath(parts...))
	}
	parent.links[name] = &wlink{addr: undefined}

	refs := make([]chunkRef, product(grid))
	for i := range refs {
		refs[i].addr = undefined
	}
	w := &DatasetWriter{
		file:     f,
		path:     joinPath(parts...),
		parent:   parent,
		name:     name,
		typ:      t,
		dims:     append([]uint64(nil), dims...),
		chunk:    chunk,
		grid:     grid,
		fds:      fds,
		pipeline: pipeline,
		rowBytes: int(product(dims[1:])) * es,
		refs:     refs,
	}
	f.w.writers[w] = struct{}{}
	return w, nil
}

// Path returns the absolute path of the dataset being written.
func (w *DatasetWriter) Path() string {
	return w.path
}

// Rows returns the number of rows written so far.
func (w *DatasetWriter) Rows() uint64 {
	return w.rows
}

// Write appends whole rows of little-endian elements.
func (w *DatasetWriter) Write(raw []byte) error {
	if w.closed {
		return ErrClosed
	}
	if w.rowBytes == 0 {
		return nil
	}
	if len(raw)%w.rowBytes != 0 {
		return fmt.Errorf("%s: %d bytes is not a whole number of %d-byte rows", w.path, len(raw), w.rowBytes)
	}
	n := uint64(len(raw) / w.rowBytes)
	if w.rows+n > w.dims[0] {
		return fmt.Errorf("%s: writing rows [%d,%d) past %d", w.path, w.rows, w.rows+n, w.dims[0])
	}
	bandRows := int(w.chunk[0])
	for len(raw) > 0 {
		room := bandRows*w.rowBytes - len(w.band)
		take := min(room, len(raw))
		w.band = append(w.band, raw[:take]...)
		raw = raw[take:]
		if len(w.band) == bandRows*w.rowBytes {
			if err := w.flushBand(); err != nil {
				return err
			}
		}
	}
	w.rows += n
	return nil
}

// WriteValues appends whole rows of Go values. T must match the dataset type.
func WriteValues[T dtype.Element](w *DatasetWriter, vals []T) error {
	raw, err := dtype.Encode(w.typ, vals)
	if err != nil {
		return err
	}
	return w.Write(raw)
}

// flushBand cuts the buffered rows into chunks and writes them.
func (w *DatasetWriter) flushBand() error {
	if len(w.band) == 0 {
		return nil
	}
	es := w.typ.Size()
	rank := len(w.dims)
	nrows := uint64(len(w.band) / w.rowBytes)
	bandDims := append([]uint64{nrows}, w.dims[1:]...)

	coord := make([]uint64, rank)
	coord[0] = w.flushed / w.chunk[0]
	srcAt := make([]uint64, rank)
	extent := make([]uint64, rank)
	for {
		for d := 1; d < rank; d++ {
			srcAt[d] = coord[d] * w.chunk[d]
			extent[d] = min(w.chunk[d], w.dims[d]-srcAt[d])
		}
		extent[0] = nrows
		buf := make([]byte, int(product(w.chunk))*es)
		copyBox(buf, w.chunk, make([]uint64, rank), w.band, bandDims, srcAt, extent, es)
		if err := w.writeChunk(coord, buf); err != nil {
			return err
		}

		d := rank - 1
		for ; d >= 1; d-- {
			if coord[d]+1 < w.grid[d] {
				coord[d]++
				break
			}
			coord[d] = 0
		}
		if d < 1 {
			break
		}
	}
	w.flushed += nrows
	w.band = w.band[:0]
	return nil
}

func (w *DatasetWriter) writeChunk(coord []uint64, buf []byte) error {
	var n uint64
	for d, c := range coord {
		n = n*w.grid[d] + c
	}
	stored := buf
	if w.pipeline != nil {
		var err error
		if stored, err = w.pipeline.Encode(buf); err != nil {
			return fmt.Errorf("%s: chunk %d: %w", w.path, n, err)
		}
	}
	addr := w.file.w.alloc.Alloc(uint64(len(stored)))
	if _, err := w.file.file.WriteAt(stored, int64(addr)); err != nil {
		return fmt.Errorf("%s: chunk %d: %w", w.path, n, err)
	}
	w.refs[n] = chunkRef{addr: addr, size: uint64(len(stored))}
	return nil
}

// Close flushes buffered rows and writes the chunk index and object
// header. Rows never written read back as zero.
func (w *DatasetWriter) Close() error {
	if w.closed {
		return nil
	}
	if err := w.flushBand(); err != nil {
		return err
	}
	w.closed = true
	delete(w.file.w.writers, w)

	es := w.typ.Size()
	var index uint8
	var indexAddr uint64
	var single *filteredChunk
	if len(w.refs) == 1 {
		index = indexSingle
		indexAddr = w.refs[0].addr
		if w.pipeline != nil {
			single = &filteredChunk{size: w.refs[0].size}
		}
	} else {
		index = indexFixed
		var err error
		if indexAddr, err = w.writeFixedArray(); err != nil {
			return err
		}
	}

	datatype, err := encodeDatatype(w.typ)
	if err != nil {
		return err
	}
	msgs := []message{
		{typ: msgDataspace, data: encodeDataspace(w.dims)},
		{typ: msgDatatype, flags: 0x01, data: datatype},
		{typ: msgFill, flags: 0x01, data: encodeFillValue()},
		{typ: msgLayout, data: encodeChunkedLayout(w.chunk, es, index, indexAddr, single, fixedArrayPageBits)},
	}
	if len(w.fds) > 0 {
		msgs = append(msgs, message{typ: msgFilters, data: encodeFilters(w.fds)})
	}
	addr, err := w.file.writeHeader(msgs)
	if err != nil {
		return fmt.Errorf("%s: %w", w.path, err)
	}
	w.parent.links[w.name].addr = addr
	return nil
}

// writeFixedArray writes the fixed array header and data block that index
// the chunks, paging the block once it exceeds one page.
func (w *DatasetWriter) writeFixedArray() (uint64, error) {
	entrySize := 8
	sizeWidth := 0
	if w.pipeline != nil {
		raw := product(w.chunk) * uint64(w.typ.Size())
		sizeWidth = min(8, 1+(bits.Len64(raw)-1+8)/8)
		entrySize += sizeWidth + 4
	}
	client := uint8(0)
	if w.pipeline != nil {
		client = 1
	}
	nelmts := uint64(len(w.refs))
	pageBits := fixedArrayPageBits
	pageElmts := uint64(1) << pageBits

	entries := func(e *encoder, refs []chunkRef) {
		for _, r := range refs {
			e.u64(r.addr)
			if w.pipeline != nil {
				e.uN(r.size, sizeWidth)
				e.u32(r.mask)
			}
		}
	}

	hdrSize := uint64(8 + 8 + 8 + 4)
	hdrAddr := w.file.w.alloc.Alloc(hdrSize)

	blk := newEncoder()
	blk.raw([]byte("FADB"))
	blk.u8(0)
	blk.u8(client)
	blk.u64(hdrAddr)
	if nelmts <= pageElmts {
		entries(blk, w.refs)
		blk.checksum()
	} else {
		npages := (nelmts + pageElmts - 1) / pageElmts
		bitmap := make([]byte, (npages+7)/8)
		for p := uint64(0); p < npages; p++ {
			bitmap[p/8] |= 0x80 >> (p % 8)
		}
		blk.raw(bitmap)
		blk.checksum()
		for p := uint64(0); p < npages; p++ {
			page := newEncoder()
			end := min(nelmts, (p+1)*pageElmts)
			entries(page, w.refs[p*pageElmts:end])
			page.checksum()
			if page.err != nil {
				return 0, page.err
			}
			blk.raw(page.Bytes())
		}
	}
	if blk.err != nil {
		return 0, blk.err
	}
	blkAddr := w.file.w.alloc.Alloc(uint64(len(blk.Bytes())))
	if _, err := w.file.file.WriteAt(blk.Bytes(), int64(blkAddr)); err != nil {
		return 0, err
	}

	hdr := newEncoder()
	hdr.raw([]byte("FAHD"))
	hdr.u8(0)
	hdr.u8(client)
	hdr.u8(uint8(entrySize))
	hdr.u8(pageBits)
	hdr.u64(nelmts)
	hdr.u64(blkAddr)
	hdr.checksum()
	if hdr.err != nil {
		return 0, hdr.err
	}
	if _, err := w.file.file.WriteAt(hdr.Bytes(), int64(hdrAddr)); err != nil {
		return 0, err
	}
	return hdrAddr, nil
}

func (f *File) writeHeader(msgs []message) (uint64, error) {
	buf, err := encodeHeader(msgs)
	if err != nil {
		return 0, err
	}
	addr := f.w.alloc.Alloc(uint64(len(buf)))
	if _, err := f.file.WriteAt(buf, int64(addr)); err != nil {
		return 0, err
	}
	return addr, nil
}

// finish closes open dataset writers, writes every group header from the
// leaves up, then the superblock.
func (f *File) finish() error {
	for w := range f.w.writers {
		if err := w.Close(); err != nil {
			return err
		}
	}
	root, err := f.writeGroup(f.w.root)
	if err != nil {
		return err
	}
	sb, err := encodeSuperblock(f.w.alloc.EOFAddr(), root)
	if err != nil {
		return err
	}
	if _, err := f.file.WriteAt(sb, 0); err != nil {
		return fmt.Errorf("writing superblock: %w", err)
	}
	return f.file.Sync()
}

func (f *File) writeGroup(g *wgroup) (uint64, error) {
	names := make([]string, 0, len(g.links))
	for name := range g.links {
		names = append(names, name)
	}
	sort.Strings(names)

	msgs := []message{
		{typ: msgLinkInfo, data: encodeLinkInfo()},
		{typ: msgGroupInfo, data: encodeGroupInfo()},
	}
	for _, name := range names {
		l := g.links[name]
		if l.group != nil {
			addr, err := f.writeGroup(l.group)
			if err != nil {
				return 0, err
			}
			l.addr = addr
		}
		msgs = append(msgs, message{typ: msgLink, data: encodeLink(name, l.addr)})
	}
	return f.writeHeader(msgs)
}
