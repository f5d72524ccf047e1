package store

import (
	"fmt"

	"github.com/robert-malhotra/go-rasterstats/internal/dtype"
	"github.com/robert-malhotra/go-rasterstats/internal/filter"
)

// Dataset represents a flat array of fixed-size elements stored in chunks.
type Dataset struct {
	file *File
	node *node
}

func (d *Dataset) meta() *datasetMeta {
	return d.node.dataset
}

// Name returns the dataset name (last component of path).
func (d *Dataset) Name() string {
	return d.node.name
}

// Path returns the full path to this dataset.
func (d *Dataset) Path() string {
	return d.node.path()
}

// Len returns the number of elements.
func (d *Dataset) Len() uint64 {
	return d.meta().length
}

// Type returns the element type.
func (d *Dataset) Type() Type {
	return d.meta().dtype
}

// ChunkLen returns the number of elements per chunk.
func (d *Dataset) ChunkLen() uint64 {
	return d.meta().chunkLen
}

// NumChunks returns the number of chunks.
func (d *Dataset) NumChunks() int {
	return len(d.meta().chunks)
}

// StoredBytes returns the bytes of chunk data held in the file.
func (d *Dataset) StoredBytes() uint64 {
	var n uint64
	for _, c := range d.meta().chunks {
		n += uint64(c.size)
	}
	return n
}

// Filters returns the names of the filters applied to stored chunks.
func (d *Dataset) Filters() []string {
	specs := d.meta().filters
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.ID.String()
		if s.ID == filter.IDDeflate {
			names[i] = fmt.Sprintf("%s(%d)", s.ID, s.Param)
		}
	}
	return names
}

// Complete reports whether the dataset was marked fully written.
func (d *Dataset) Complete() bool {
	return d.meta().complete
}

// MarkComplete records that the dataset is fully written. Complete
// datasets reject further writes. The flag is persisted at the next flush.
func (d *Dataset) MarkComplete() error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	if !d.meta().complete {
		d.meta().complete = true
		d.file.dirty = true
	}
	return nil
}

// Attr returns the value of a string attribute.
func (d *Dataset) Attr(name string) (string, bool) {
	return d.meta().attr(name)
}

// Attrs returns the attribute names in creation order.
func (d *Dataset) Attrs() []string {
	names := make([]string, 0, len(d.meta().attrs))
	for _, a := range d.meta().attrs {
		names = append(names, a.name)
	}
	return names
}

// SetAttr sets a string attribute, replacing any existing value.
func (d *Dataset) SetAttr(name, value string) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: empty attribute name", ErrInvalidPath)
	}
	d.meta().setAttr(name, value)
	d.file.dirty = true
	return nil
}

// ReadRaw returns the little-endian bytes of elements [lo, hi).
func (d *Dataset) ReadRaw(lo, hi uint64) ([]byte, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	m := d.meta()
	geom := m.geometry()
	if err := geom.Check(lo, hi); err != nil {
		return nil, fmt.Errorf("%s: %w", d.Path(), err)
	}

	es := uint64(geom.ElemSize)
	out := make([]byte, (hi-lo)*es)
	for seg := range geom.Segments(lo, hi) {
		e, err := d.file.chunk(m, seg.Chunk, false)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Path(), err)
		}
		copy(out[seg.Dst*es:], e.Data[seg.Offset*es:(seg.Offset+seg.Count)*es])
	}
	return out, nil
}

// WriteRaw writes little-endian element bytes starting at element lo.
func (d *Dataset) WriteRaw(lo uint64, p []byte) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	m := d.meta()
	if m.complete {
		return fmt.Errorf("%s: %w", d.Path(), ErrImmutable)
	}
	geom := m.geometry()
	es := uint64(geom.ElemSize)
	if uint64(len(p))%es != 0 {
		return fmt.Errorf("%s: %d bytes is not a whole number of %s elements", d.Path(), len(p), m.dtype)
	}
	hi := lo + uint64(len(p))/es
	if err := geom.Check(lo, hi); err != nil {
		return fmt.Errorf("%s: %w", d.Path(), err)
	}

	for seg := range geom.Segments(lo, hi) {
		e, err := d.file.chunk(m, seg.Chunk, geom.Full(seg))
		if err != nil {
			return fmt.Errorf("%s: %w", d.Path(), err)
		}
		copy(e.Data[seg.Offset*es:], p[seg.Dst*es:(seg.Dst+seg.Count)*es])
		e.Dirty = true
	}
	return nil
}

// ReadFloat32 reads elements [lo, hi) converted to float32.
func (d *Dataset) ReadFloat32(lo, hi uint64) ([]float32, error) {
	raw, err := d.ReadRaw(lo, hi)
	if err != nil {
		return nil, err
	}
	out := make([]float32, hi-lo)
	if err := dtype.ToFloat32(d.Type(), raw, out); err != nil {
		return nil, fmt.Errorf("%s: %w", d.Path(), err)
	}
	return out, nil
}

// ReadSlice reads elements [lo, hi) of d. T must match the dataset type.
func ReadSlice[T Element](d *Dataset, lo, hi uint64) ([]T, error) {
	if want := dtype.Of[T](); d.Type() != want {
		return nil, fmt.Errorf("%s: reading %s dataset as %s", d.Path(), d.Type(), want)
	}
	raw, err := d.ReadRaw(lo, hi)
	if err != nil {
		return nil, err
	}
	out := make([]T, hi-lo)
	if err := dtype.Decode(d.Type(), raw, out); err != nil {
		return nil, fmt.Errorf("%s: %w", d.Path(), err)
	}
	return out, nil
}

// WriteSlice writes data to d starting at element lo. T must match the
// dataset type.
func WriteSlice[T Element](d *Dataset, lo uint64, data []T) error {
	if want := dtype.Of[T](); d.Type() != want {
		return fmt.Errorf("%s: writing %s to %s dataset", d.Path(), want, d.Type())
	}
	raw, err := dtype.Encode(d.Type(), data)
	if err != nil {
		return fmt.Errorf("%s: %w", d.Path(), err)
	}
	return d.WriteRaw(lo, raw)
}

// ReadAll reads every element of d.
func ReadAll[T Element](d *Dataset) ([]T, error) {
	return ReadSlice[T](d, 0, d.Len())
}

// String returns a one-line description for listings.
func (d *Dataset) String() string {
	m := d.meta()
	s := fmt.Sprintf("%s %s[%d] chunk=%d", d.Path(), m.dtype, m.length, m.chunkLen)
	if f := d.Filters(); len(f) > 0 {
		s += fmt.Sprintf(" filters=%v", f)
	}
	if m.complete {
		s += " complete"
	}
	return s
}

func (d *Dataset) check() error {
	if d.file.closed {
		return ErrClosed
	}
	if d.node.removed {
		return fmt.Errorf("%w: %s was unlinked", ErrNotFound, d.node.name)
	}
	return nil
}

func (d *Dataset) checkWritable() error {
	if err := d.check(); err != nil {
		return err
	}
	if !d.file.writable {
		return ErrReadOnly
	}
	return nil
}

// ReadUint8 reads elements [lo, hi) of a uint8 dataset.
func (d *Dataset) ReadUint8(lo, hi uint64) ([]uint8, error) {
	return ReadSlice[uint8](d, lo, hi)
}

// WriteFloat32 writes float32 values starting at element lo.
func (d *Dataset) WriteFloat32(lo uint64, data []float32) error {
	return WriteSlice(d, lo, data)
}

// WriteUint8 writes uint8 values starting at element lo.
func (d *Dataset) WriteUint8(lo uint64, data []uint8) error {
	return WriteSlice(d, lo, data)
}
