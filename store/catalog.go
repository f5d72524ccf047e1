package store

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	binpkg "github.com/robert-malhotra/go-rasterstats/internal/binary"
	"github.com/robert-malhotra/go-rasterstats/internal/dtype"
	"github.com/robert-malhotra/go-rasterstats/internal/filter"
	"github.com/robert-malhotra/go-rasterstats/internal/layout"
)

// The catalog is the serialized object tree. It is rewritten in full on
// every flush and located through the superblock.
//
//	magic "RCAT", version u8, root node, xxHash64 of everything before it
//
// A node is kind u8 (0 group, 1 dataset) followed by its name. Groups
// carry a u32 child count and their children. Datasets carry
//
//	type u8, flags u8, length u64, chunk length u64,
//	filter count u8 {id u8, param u32},
//	attribute count u16 {name, value},
//	chunk count u32 {addr u64, size u32}
var catalogMagic = []byte("RCAT")

const catalogVersion = 1

const (
	kindGroup   = 0
	kindDataset = 1
)

const flagComplete = 1 << 0

// ErrBadCatalog is returned when the catalog cannot be decoded.
var ErrBadCatalog = errors.New("bad catalog")

// node is a group or dataset in the object tree.
type node struct {
	name     string
	parent   *node
	children []*node
	dataset  *datasetMeta // nil for groups
	removed  bool
}

func (n *node) isGroup() bool {
	return n.dataset == nil
}

func (n *node) child(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *node) addChild(c *node) {
	c.parent = n
	n.children = append(n.children, c)
}

func (n *node) removeChild(c *node) {
	n.children = slices.DeleteFunc(n.children, func(x *node) bool { return x == c })
	c.parent = nil
}

func (n *node) path() string {
	if n.parent == nil {
		return "/"
	}
	var parts []string
	for p := n; p.parent != nil; p = p.parent {
		parts = append(parts, p.name)
	}
	slices.Reverse(parts)
	return JoinPath(parts...)
}

// each calls fn for n and every descendant, parents first.
func (n *node) each(fn func(*node)) {
	fn(n)
	for _, c := range n.children {
		c.each(fn)
	}
}

type chunkRef struct {
	addr uint64
	size uint32 // stored size; zero means never written
}

type attr struct {
	name  string
	value string
}

// datasetMeta is the catalog record of a dataset plus its runtime state.
type datasetMeta struct {
	id       uint64
	dtype    dtype.Type
	length   uint64
	chunkLen uint64
	complete bool
	filters  []filter.Spec
	attrs    []attr
	chunks   []chunkRef

	pipeline *filter.Pipeline
}

func (m *datasetMeta) geometry() layout.Chunked {
	return layout.Chunked{Length: m.length, ChunkLen: m.chunkLen, ElemSize: m.dtype.Size()}
}

func (m *datasetMeta) attr(name string) (string, bool) {
	for _, a := range m.attrs {
		if a.name == name {
			return a.value, true
		}
	}
	return "", false
}

func (m *datasetMeta) setAttr(name, value string) {
	for i := range m.attrs {
		if m.attrs[i].name == name {
			m.attrs[i].value = value
			return
		}
	}
	m.attrs = append(m.attrs, attr{name: name, value: value})
}

func encodeCatalog(root *node) ([]byte, error) {
	buf := &binpkg.Buffer{}
	e := &catalogEncoder{w: binpkg.NewWriter(buf)}
	e.bytes(catalogMagic)
	e.u8(catalogVersion)
	e.node(root)
	if e.err != nil {
		return nil, e.err
	}
	e.u64(binpkg.Checksum64(buf.Bytes()))
	if e.err != nil {
		return nil, e.err
	}
	return buf.Bytes(), nil
}

type catalogEncoder struct {
	w   *binpkg.Writer
	err error
}

func (e *catalogEncoder) bytes(p []byte) {
	if e.err == nil {
		e.err = e.w.WriteBytes(p)
	}
}

func (e *catalogEncoder) u8(v uint8) {
	if e.err == nil {
		e.err = e.w.WriteUint8(v)
	}
}

func (e *catalogEncoder) u16(v uint16) {
	if e.err == nil {
		e.err = e.w.WriteUint16(v)
	}
}

func (e *catalogEncoder) u32(v uint32) {
	if e.err == nil {
		e.err = e.w.WriteUint32(v)
	}
}

func (e *catalogEncoder) u64(v uint64) {
	if e.err == nil {
		e.err = e.w.WriteUint64(v)
	}
}

func (e *catalogEncoder) str(s string) {
	if e.err == nil {
		e.err = e.w.WriteString(s)
	}
}

func (e *catalogEncoder) node(n *node) {
	if n.isGroup() {
		e.u8(kindGroup)
		e.str(n.name)
		e.u32(uint32(len(n.children)))
		for _, c := range n.children {
			e.node(c)
		}
		return
	}

	m := n.dataset
	if len(m.filters) > math.MaxUint8 || len(m.attrs) > math.MaxUint16 {
		e.err = fmt.Errorf("dataset %s: too many filters or attributes", n.path())
		return
	}
	var flags uint8
	if m.complete {
		flags |= flagComplete
	}

	e.u8(kindDataset)
	e.str(n.name)
	e.u8(uint8(m.dtype))
	e.u8(flags)
	e.u64(m.length)
	e.u64(m.chunkLen)
	e.u8(uint8(len(m.filters)))
	for _, f := range m.filters {
		e.u8(uint8(f.ID))
		e.u32(f.Param)
	}
	e.u16(uint16(len(m.attrs)))
	for _, a := range m.attrs {
		e.str(a.name)
		e.str(a.value)
	}
	e.u32(uint32(len(m.chunks)))
	for _, c := range m.chunks {
		e.u64(c.addr)
		e.u32(c.size)
	}
}

// decodeCatalog parses a catalog. newID assigns runtime dataset IDs.
func decodeCatalog(data []byte, newID func() uint64) (*node, error) {
	if len(data) < len(catalogMagic)+1+8 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadCatalog, len(data))
	}
	body, sum := data[:len(data)-8], data[len(data)-8:]
	if binpkg.Checksum64(body) != binpkg.Order.Uint64(sum) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrBadCatalog)
	}

	r := binpkg.NewReader(binpkg.NewBuffer(body))
	magic, err := r.ReadBytes(len(catalogMagic))
	if err != nil {
		return nil, err
	}
	if string(magic) != string(catalogMagic) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadCatalog, magic)
	}
	version, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	if version != catalogVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadCatalog, version)
	}

	d := &catalogDecoder{r: r, size: int64(len(body)), newID: newID}
	root, err := d.node(0)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, binpkg.ErrShortRead) {
			return nil, fmt.Errorf("%w: truncated", ErrBadCatalog)
		}
		return nil, err
	}
	if !root.isGroup() {
		return nil, fmt.Errorf("%w: root is not a group", ErrBadCatalog)
	}
	return root, nil
}

// maxDepth bounds group nesting in a decoded catalog.
const maxDepth = 256

type catalogDecoder struct {
	r     *binpkg.Reader
	size  int64
	newID func() uint64
	err   error
}

func (d *catalogDecoder) u8() uint8 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadUint8()
	d.err = err
	return v
}

func (d *catalogDecoder) u16() uint16 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadUint16()
	d.err = err
	return v
}

func (d *catalogDecoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadUint32()
	d.err = err
	return v
}

func (d *catalogDecoder) u64() uint64 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadUint64()
	d.err = err
	return v
}

func (d *catalogDecoder) str() string {
	if d.err != nil {
		return ""
	}
	v, err := d.r.ReadString()
	d.err = err
	return v
}

func (d *catalogDecoder) node(depth int) (*node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: groups nested deeper than %d", ErrBadCatalog, maxDepth)
	}
	kind := d.u8()
	n := &node{name: d.str()}
	if d.err != nil {
		return nil, d.err
	}

	switch kind {
	case kindGroup:
		count := d.u32()
		for range count {
			if d.err != nil {
				return nil, d.err
			}
			c, err := d.node(depth + 1)
			if err != nil {
				return nil, err
			}
			n.addChild(c)
		}
		return n, d.err
	case kindDataset:
		m, err := d.dataset()
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", n.name, err)
		}
		n.dataset = m
		return n, nil
	}
	return nil, fmt.Errorf("%w: unknown node kind %d", ErrBadCatalog, kind)
}

func (d *catalogDecoder) dataset() (*datasetMeta, error) {
	m := &datasetMeta{}
	code := d.u8()
	flags := d.u8()
	m.length = d.u64()
	m.chunkLen = d.u64()
	for range d.u8() {
		m.filters = append(m.filters, filter.Spec{ID: filter.ID(d.u8()), Param: d.u32()})
	}
	for range d.u16() {
		m.attrs = append(m.attrs, attr{name: d.str(), value: d.str()})
	}
	nchunks := d.u32()
	if d.err != nil {
		return nil, d.err
	}

	t, err := dtype.FromCode(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadCatalog, err)
	}
	m.dtype = t
	m.complete = flags&flagComplete != 0

	if m.chunkLen == 0 || m.chunkLen*uint64(t.Size()) > MaxChunkBytes {
		return nil, fmt.Errorf("%w: chunk length %d", ErrBadCatalog, m.chunkLen)
	}
	if int64(nchunks)*12 > d.size-d.r.Pos() || int(nchunks) != m.geometry().NumChunks() {
		return nil, fmt.Errorf("%w: %d chunks for length %d", ErrBadCatalog, nchunks, m.length)
	}
	m.chunks = make([]chunkRef, nchunks)
	for i := range m.chunks {
		m.chunks[i] = chunkRef{addr: d.u64(), size: d.u32()}
	}
	if d.err != nil {
		return nil, d.err
	}

	m.pipeline, err = filter.NewPipeline(m.filters)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadCatalog, err)
	}
	m.id = d.newID()
	return m, nil
}
