package h5

import (
	"bytes"
	"fmt"

	"github.com/robert-malhotra/go-rasterstats/internal/dtype"
	"github.com/robert-malhotra/go-rasterstats/internal/filter"
	"github.com/robert-malhotra/go-rasterstats/internal/layout"
)

// Dataset is a numeric dataset in an open file. Reads return little-endian
// bytes whatever the stored byte order.
type Dataset struct {
	file     *File
	path     string
	addr     uint64
	dims     []uint64
	dt       datatype
	layout   *storageLayout
	filters  []filterDesc
	pipeline *filter.Pipeline
	fill     []byte
	grid     []uint64
	index    chunkIndex
}

func (f *File) datasetFromHeader(h *header, path string) (*Dataset, error) {
	sm, ok := h.find(msgDataspace)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotDataset, path)
	}
	lm, ok := h.find(msgLayout)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotDataset, path)
	}
	tm, ok := h.find(msgDatatype)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no datatype", ErrCorrupt, path)
	}
	if tm.flags&msgFlagShared != 0 {
		return nil, fmt.Errorf("%w: %s uses a committed datatype", ErrUnsupported, path)
	}

	space, err := f.decodeDataspace(sm.data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dt, err := decodeDatatype(tm.data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	l, err := f.decodeLayout(lm.data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	ds := &Dataset{file: f, path: path, addr: h.addr, dims: space.dims, dt: dt, layout: l}
	es := uint64(dt.typ.Size())

	switch l.class {
	case layoutChunked:
		if len(l.chunk) != len(ds.dims) {
			return nil, fmt.Errorf("%w: %s has %d chunk dims for rank %d", ErrCorrupt, path, len(l.chunk), len(ds.dims))
		}
		ds.grid = make([]uint64, len(ds.dims))
		for d, c := range l.chunk {
			if c == 0 {
				return nil, fmt.Errorf("%w: %s has a zero chunk dimension", ErrCorrupt, path)
			}
			ds.grid[d] = (ds.dims[d] + c - 1) / c
		}
		if ds.chunkBytes() > maxBlock {
			return nil, fmt.Errorf("%w: %s chunks of %d bytes", ErrUnsupported, path, ds.chunkBytes())
		}
	case layoutContiguous:
		if l.size == 0 {
			l.size = ds.Len() * es
		}
	case layoutCompact:
		if uint64(len(l.compact)) < ds.Len()*es {
			return nil, fmt.Errorf("%w: %s compact data of %d bytes", ErrCorrupt, path, len(l.compact))
		}
		if dt.bigEndian {
			swapBytes(l.compact, int(es))
		}
	}

	if fm, ok := h.find(msgFilters); ok {
		if ds.filters, err = decodeFilters(fm.data, f.sb); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if ds.pipeline, err = ds.buildPipeline(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	fm, ok := h.find(msgFill)
	if !ok {
		fm, ok = h.find(msgFillOld)
	}
	if ok {
		fill, err := decodeFillValue(fm)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if uint64(len(fill)) == es && !allZero(fill) {
			ds.fill = append([]byte(nil), fill...)
			if dt.bigEndian {
				swapBytes(ds.fill, int(es))
			}
		}
	}
	return ds, nil
}

func (ds *Dataset) buildPipeline() (*filter.Pipeline, error) {
	specs := make([]filter.Spec, 0, len(ds.filters))
	for _, fd := range ds.filters {
		switch fd.id {
		case h5Deflate:
			var level uint32
			if len(fd.params) > 0 {
				level = fd.params[0]
			}
			specs = append(specs, filter.Spec{ID: filter.IDDeflate, Param: level})
		case h5Shuffle:
			size := uint32(ds.dt.typ.Size())
			if len(fd.params) > 0 && fd.params[0] > 0 {
				size = fd.params[0]
			}
			specs = append(specs, filter.Spec{ID: filter.IDShuffle, Param: size})
		case h5Fletcher32:
			specs = append(specs, filter.Spec{ID: filter.IDFletcher32})
		default:
			return nil, fmt.Errorf("%w: filter %d %q", ErrUnsupported, fd.id, fd.name)
		}
	}
	return filter.NewPipeline(specs)
}

// Path returns the absolute path of the dataset.
func (ds *Dataset) Path() string {
	return ds.path
}

// Dims returns the dataset's dimensions.
func (ds *Dataset) Dims() []uint64 {
	return append([]uint64(nil), ds.dims...)
}

// Rank returns the number of dimensions.
func (ds *Dataset) Rank() int {
	return len(ds.dims)
}

// Len returns the number of elements.
func (ds *Dataset) Len() uint64 {
	return product(ds.dims)
}

// Type returns the element type.
func (ds *Dataset) Type() dtype.Type {
	return ds.dt.typ
}

// ChunkDims returns the chunk shape, or nil when the dataset is not chunked.
func (ds *Dataset) ChunkDims() []uint64 {
	if ds.layout.class != layoutChunked {
		return nil
	}
	return append([]uint64(nil), ds.layout.chunk...)
}

// Filters returns the names of the dataset's filters in pipeline order.
func (ds *Dataset) Filters() []string {
	names := make([]string, len(ds.filters))
	for i, fd := range ds.filters {
		switch fd.id {
		case h5Deflate:
			names[i] = "deflate"
		case h5Shuffle:
			names[i] = "shuffle"
		case h5Fletcher32:
			names[i] = "fletcher32"
		default:
			names[i] = fd.name
		}
	}
	return names
}

func (ds *Dataset) chunkBytes() uint64 {
	return product(ds.layout.chunk) * uint64(ds.dt.typ.Size())
}

func (ds *Dataset) numChunks() uint64 {
	return product(ds.grid)
}

// Read returns the whole dataset.
func (ds *Dataset) Read() ([]byte, error) {
	return ds.ReadSlice(make([]uint64, len(ds.dims)), ds.dims)
}

// ReadRows returns n slices along the first dimension starting at first.
func (ds *Dataset) ReadRows(first, n uint64) ([]byte, error) {
	if len(ds.dims) == 0 {
		return nil, fmt.Errorf("%w: %s is a scalar", ErrInvalidPath, ds.path)
	}
	start := make([]uint64, len(ds.dims))
	count := append([]uint64(nil), ds.dims...)
	start[0], count[0] = first, n
	return ds.ReadSlice(start, count)
}

// ReadSlice returns the hyperslab of count elements per dimension at start,
// row-major and little-endian.
func (ds *Dataset) ReadSlice(start, count []uint64) ([]byte, error) {
	if err := ds.file.check(); err != nil {
		return nil, err
	}
	if len(start) != len(ds.dims) || len(count) != len(ds.dims) {
		return nil, fmt.Errorf("%w: selection rank %d/%d for %s of rank %d", layout.ErrOutOfRange, len(start), len(count), ds.path, len(ds.dims))
	}
	for d := range ds.dims {
		if start[d] > ds.dims[d] || count[d] > ds.dims[d]-start[d] {
			return nil, fmt.Errorf("%w: [%d,+%d) in dimension %d of %s (size %d)", layout.ErrOutOfRange, start[d], count[d], d, ds.path, ds.dims[d])
		}
	}
	es := ds.dt.typ.Size()
	total := product(count)
	if total*uint64(es) > maxBlock {
		return nil, fmt.Errorf("%w: selection of %d elements", layout.ErrOutOfRange, total)
	}
	out := make([]byte, int(total)*es)
	if total == 0 {
		return out, nil
	}
	if ds.fill != nil {
		for p := 0; p < len(out); p += es {
			copy(out[p:], ds.fill)
		}
	}

	var err error
	switch ds.layout.class {
	case layoutCompact:
		copyBox(out, count, make([]uint64, len(count)), ds.layout.compact, ds.dims, start, count, es)
	case layoutContiguous:
		err = ds.readContiguous(start, count, out)
	case layoutChunked:
		err = ds.readChunked(start, count, out)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ds.path, err)
	}
	return out, nil
}

// ReadAs is ReadSlice decoded into Go values. T must match the dataset type.
func ReadAs[T dtype.Element](ds *Dataset, start, count []uint64) ([]T, error) {
	raw, err := ds.ReadSlice(start, count)
	if err != nil {
		return nil, err
	}
	vals := make([]T, len(raw)/ds.dt.typ.Size())
	if err := dtype.Decode(ds.dt.typ, raw, vals); err != nil {
		return nil, err
	}
	return vals, nil
}

func (ds *Dataset) readContiguous(start, count []uint64, out []byte) error {
	if ds.layout.addr == undefined {
		return nil
	}
	es := ds.dt.typ.Size()
	return runs(ds.dims, start, count, func(src, dst, n uint64) error {
		buf, err := ds.file.readAt(ds.layout.addr+src*uint64(es), int(n)*es)
		if err != nil {
			return err
		}
		if ds.dt.bigEndian {
			swapBytes(buf, es)
		}
		copy(out[int(dst)*es:], buf)
		return nil
	})
}

func (ds *Dataset) readChunked(start, count []uint64, out []byte) error {
	if err := ds.loadIndex(); err != nil {
		return err
	}
	rank := len(ds.dims)
	chunk := ds.layout.chunk
	lo := make([]uint64, rank)
	hi := make([]uint64, rank)
	for d := range ds.dims {
		lo[d] = start[d] / chunk[d]
		hi[d] = (start[d] + count[d] - 1) / chunk[d]
	}
	es := ds.dt.typ.Size()
	coord := append([]uint64(nil), lo...)
	dstAt := make([]uint64, rank)
	srcAt := make([]uint64, rank)
	extent := make([]uint64, rank)
	for {
		n, ok := ds.linear(coord)
		if !ok {
			return fmt.Errorf("%w: chunk %v outside grid %v of %s", ErrCorrupt, coord, ds.grid, ds.path)
		}
		data, err := ds.readChunk(n)
		if err != nil {
			return err
		}
		if data != nil {
			for d := range coord {
				origin := coord[d] * chunk[d]
				from := max(start[d], origin)
				to := min(start[d]+count[d], origin+chunk[d])
				extent[d] = to - from
				dstAt[d] = from - start[d]
				srcAt[d] = from - origin
			}
			copyBox(out, count, dstAt, data, chunk, srcAt, extent, es)
		}

		d := rank - 1
		for ; d >= 0; d-- {
			if coord[d] < hi[d] {
				coord[d]++
				break
			}
			coord[d] = lo[d]
		}
		if d < 0 {
			return nil
		}
	}
}

// readChunk returns a decoded chunk, or nil if it was never written.
func (ds *Dataset) readChunk(n uint64) ([]byte, error) {
	key := layout.Key{Dataset: ds.addr, Chunk: int(n)}
	if e, ok := ds.file.cache.Get(key); ok {
		return e.Data, nil
	}
	ref, ok := ds.index[n]
	if !ok {
		return nil, nil
	}
	raw, err := ds.file.readAt(ref.addr, int(ref.size))
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", n, err)
	}
	data := raw
	if ds.pipeline != nil {
		if data, err = ds.pipeline.DecodeMask(raw, ref.mask); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", n, err)
		}
	}
	want := ds.chunkBytes()
	if uint64(len(data)) < want {
		return nil, fmt.Errorf("%w: chunk %d holds %d bytes, want %d", ErrCorrupt, n, len(data), want)
	}
	data = data[:want]
	if ds.dt.bigEndian {
		swapBytes(data, ds.dt.typ.Size())
	}
	if err := ds.file.cache.Put(key, &layout.Entry{Data: data}); err != nil {
		return nil, err
	}
	return data, nil
}

// copyBox copies an extent-shaped box between two row-major arrays.
func copyBox(dst []byte, dstDims, dstAt []uint64, src []byte, srcDims, srcAt []uint64, extent []uint64, es int) {
	rank := len(extent)
	if rank == 0 {
		copy(dst[:es], src[:es])
		return
	}
	var walk func(d int, dBase, sBase uint64)
	walk = func(d int, dBase, sBase uint64) {
		dOff := dBase*dstDims[d] + dstAt[d]
		sOff := sBase*srcDims[d] + srcAt[d]
		if d == rank-1 {
			n := int(extent[d]) * es
			copy(dst[int(dOff)*es:int(dOff)*es+n], src[int(sOff)*es:int(sOff)*es+n])
			return
		}
		for i := uint64(0); i < extent[d]; i++ {
			walk(d+1, dOff+i, sOff+i)
		}
	}
	walk(0, 0, 0)
}

// runs calls fn for each contiguous run of a selection: its element offset
// in the full array, its offset in the selection, and its length. Runs over
// whole trailing dimensions are merged.
func runs(dims, start, count []uint64, fn func(src, dst, n uint64) error) error {
	rank := len(dims)
	if rank == 0 {
		return fn(0, 0, 1)
	}
	// Merge trailing dimensions that are selected in full.
	inner := rank - 1
	runLen := count[inner]
	for inner > 0 && count[inner] == dims[inner] && start[inner] == 0 {
		inner--
		runLen *= count[inner]
	}
	var dst uint64
	var walk func(d int, base uint64) error
	walk = func(d int, base uint64) error {
		off := base*dims[d] + start[d]
		if d == inner {
			for k := d + 1; k < rank; k++ {
				off *= dims[k]
			}
			err := fn(off, dst, runLen)
			dst += runLen
			return err
		}
		for i := uint64(0); i < count[d]; i++ {
			if err := walk(d+1, off+i); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(0, 0)
}

func swapBytes(b []byte, es int) {
	if es < 2 {
		return
	}
	for p := 0; p+es <= len(b); p += es {
		for i, j := p, p+es-1; i < j; i, j = i+1, j-1 {
			b[i], b[j] = b[j], b[i]
		}
	}
}

func product(dims []uint64) uint64 {
	n := uint64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

func allZero(b []byte) bool {
	return len(bytes.Trim(b, "\x00")) == 0
}
