package h5

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binpkg "github.com/robert-malhotra/go-rasterstats/internal/binary"
	"github.com/robert-malhotra/go-rasterstats/internal/dtype"
	"github.com/robert-malhotra/go-rasterstats/internal/filter"
)

// fixture assembles a file the way older libraries lay it out: a version 0
// superblock, version 1 object headers and symbol table groups.
type fixture struct {
	buf binpkg.Buffer
}

func newFixture() *fixture {
	fx := &fixture{}
	fx.buf.WriteAt(make([]byte, 96), 0)
	return fx
}

func (fx *fixture) put(b []byte) uint64 {
	addr := uint64(align8(fx.buf.Len()))
	fx.buf.WriteAt(b, int64(addr))
	return addr
}

func (fx *fixture) finish(root, btree, heap uint64) []byte {
	e := newEncoder()
	e.raw(signature)
	e.raw([]byte{0, 0, 0, 0, 0, 8, 8, 0})
	e.u16(4)
	e.u16(16)
	e.u32(0)
	e.u64(0)
	e.u64(undefined)
	e.u64(uint64(fx.buf.Len()))
	e.u64(undefined)
	e.u64(0)
	e.u64(root)
	e.u32(1)
	e.u32(0)
	e.u64(btree)
	e.u64(heap)
	fx.buf.WriteAt(e.Bytes(), 0)
	return fx.buf.Bytes()
}

func messagesV1(msgs ...message) []byte {
	e := newEncoder()
	for _, m := range msgs {
		n := align8(len(m.data))
		e.u16(m.typ)
		e.u16(uint16(n))
		e.u8(m.flags)
		e.zeros(3)
		e.raw(m.data)
		e.zeros(n - len(m.data))
	}
	return e.Bytes()
}

func headerV1(msgs ...message) []byte {
	body := messagesV1(msgs...)
	e := newEncoder()
	e.u8(1)
	e.u8(0)
	e.u16(uint16(len(msgs)))
	e.u32(1)
	e.u32(uint32(len(body)))
	e.zeros(4)
	e.raw(body)
	return e.Bytes()
}

// symbolGroup writes a local heap, a one-leaf group B-tree and a symbol
// node for members given in name order.
func (fx *fixture) symbolGroup(names []string, addrs []uint64) (btree, heap uint64) {
	data := make([]byte, 8)
	offsets := make([]uint64, len(names))
	for i, n := range names {
		offsets[i] = uint64(len(data))
		entry := append([]byte(n), 0)
		entry = append(entry, make([]byte, align8(len(entry))-len(entry))...)
		data = append(data, entry...)
	}
	dataAddr := fx.put(data)
	h := newEncoder()
	h.raw([]byte("HEAP"))
	h.u8(0)
	h.zeros(3)
	h.u64(uint64(len(data)))
	h.u64(undefined)
	h.u64(dataAddr)
	heap = fx.put(h.Bytes())

	sn := newEncoder()
	sn.raw([]byte("SNOD"))
	sn.u8(1)
	sn.u8(0)
	sn.u16(uint16(len(names)))
	for i := range names {
		sn.u64(offsets[i])
		sn.u64(addrs[i])
		sn.u32(0)
		sn.u32(0)
		sn.zeros(16)
	}
	snod := fx.put(sn.Bytes())

	bt := newEncoder()
	bt.raw([]byte("TREE"))
	bt.u8(0)
	bt.u8(0)
	bt.u16(1)
	bt.u64(undefined)
	bt.u64(undefined)
	bt.u64(0)
	bt.u64(snod)
	bt.u64(offsets[len(offsets)-1])
	return fx.put(bt.Bytes()), heap
}

func symbolTableMsg(btree, heap uint64) message {
	e := newEncoder()
	e.u64(btree)
	e.u64(heap)
	return message{typ: msgSymbolTable, data: e.Bytes()}
}

func dataspaceV1(dims ...uint64) message {
	e := newEncoder()
	e.u8(1)
	e.u8(uint8(len(dims)))
	e.u8(0)
	e.zeros(5)
	for _, d := range dims {
		e.u64(d)
	}
	return message{typ: msgDataspace, data: e.Bytes()}
}

func fixedType(size uint32, signed, bigEndian bool) message {
	var bitsField uint8
	if bigEndian {
		bitsField |= 0x01
	}
	if signed {
		bitsField |= 0x08
	}
	e := newEncoder()
	e.u8(1<<4 | classFixed)
	e.u8(bitsField)
	e.u16(0)
	e.u32(size)
	e.u16(0)
	e.u16(uint16(size * 8))
	return message{typ: msgDatatype, flags: 0x01, data: e.Bytes()}
}

func floatType(t *testing.T, typ dtype.Type) message {
	data, err := encodeDatatype(typ)
	require.NoError(t, err)
	return message{typ: msgDatatype, flags: 0x01, data: data}
}

type chunkKey struct {
	size uint32
	mask uint32
	offs []uint64
}

func chunkNode(level uint8, keys []chunkKey, children []uint64) []byte {
	e := newEncoder()
	e.raw([]byte("TREE"))
	e.u8(1)
	e.u8(level)
	e.u16(uint16(len(children)))
	e.u64(undefined)
	e.u64(undefined)
	key := func(k chunkKey) {
		e.u32(k.size)
		e.u32(k.mask)
		for _, o := range k.offs {
			e.u64(o)
		}
	}
	for i, c := range children {
		key(keys[i])
		e.u64(c)
	}
	key(keys[len(children)])
	return e.Bytes()
}

// countValue is the value of cell (r, c) in the legacy counts dataset.
func countValue(r, c int) uint16 {
	return uint16(r*10 + c)
}

func legacyFile(t *testing.T) []byte {
	fx := newFixture()

	// counts: 5x4 big-endian uint16 in 2x3 chunks, chunk (1,1) never written.
	chunkAt := func(cr, cc int) uint64 {
		buf := make([]byte, 12)
		for i := 0; i < 2; i++ {
			for j := 0; j < 3; j++ {
				r, c := cr*2+i, cc*3+j
				if r < 5 && c < 4 {
					binary.BigEndian.PutUint16(buf[(i*3+j)*2:], countValue(r, c))
				}
			}
		}
		return fx.put(buf)
	}
	key := func(r, c uint64) chunkKey { return chunkKey{size: 12, offs: []uint64{r, c, 0}} }
	leafA := fx.put(chunkNode(0,
		[]chunkKey{key(0, 0), key(0, 3), key(2, 0), key(2, 3)},
		[]uint64{chunkAt(0, 0), chunkAt(0, 1), chunkAt(1, 0)}))
	leafB := fx.put(chunkNode(0,
		[]chunkKey{key(4, 0), key(4, 3), key(6, 0)},
		[]uint64{chunkAt(2, 0), chunkAt(2, 1)}))
	countsTree := fx.put(chunkNode(1,
		[]chunkKey{key(0, 0), key(4, 0), key(6, 0)},
		[]uint64{leafA, leafB}))

	layout := newEncoder()
	layout.u8(3)
	layout.u8(layoutChunked)
	layout.u8(3)
	layout.u64(countsTree)
	layout.u32(2)
	layout.u32(3)
	layout.u32(2)
	fill := []byte{2, 2, 0, 1, 2, 0, 0, 0, 0x00, 0x07}
	cont := fx.put(messagesV1(
		message{typ: msgLayout, data: layout.Bytes()},
		message{typ: msgFill, data: fill},
	))
	contMsg := newEncoder()
	contMsg.u64(cont)
	contMsg.u64(uint64(len(messagesV1(message{typ: msgLayout, data: layout.Bytes()}, message{typ: msgFill, data: fill}))))
	counts := fx.put(headerV1(
		dataspaceV1(5, 4),
		fixedType(2, false, true),
		message{typ: msgContinuation, data: contMsg.Bytes()},
	))

	// mean: contiguous float64.
	meanData := make([]byte, 24)
	for i, v := range []float64{1.5, 2.5, 3.5} {
		binary.LittleEndian.PutUint64(meanData[i*8:], math.Float64bits(v))
	}
	meanAddr := fx.put(meanData)
	ml := newEncoder()
	ml.u8(3)
	ml.u8(layoutContiguous)
	ml.u64(meanAddr)
	ml.u64(24)
	mean := fx.put(headerV1(dataspaceV1(3), floatType(t, dtype.Float64), message{typ: msgLayout, data: ml.Bytes()}))

	// flag: compact int32.
	fl := newEncoder()
	fl.u8(3)
	fl.u8(layoutCompact)
	fl.u16(16)
	for _, v := range []int32{-1, 2, -3, 4} {
		fl.u32(uint32(v))
	}
	flag := fx.put(headerV1(dataspaceV1(2, 2), fixedType(4, true, false), message{typ: msgLayout, data: fl.Bytes()}))

	// sum: one deflated float32 chunk described by a version 1 pipeline.
	sumRaw, err := dtype.Encode(dtype.Float32, []float32{0.5, 1.5, 2.5, 3.5})
	require.NoError(t, err)
	packed, err := filter.NewDeflate(6).Encode(sumRaw)
	require.NoError(t, err)
	sumChunk := fx.put(packed)
	sumTree := fx.put(chunkNode(0,
		[]chunkKey{{size: uint32(len(packed)), offs: []uint64{0, 0}}, {offs: []uint64{4, 0}}},
		[]uint64{sumChunk}))
	sl := newEncoder()
	sl.u8(3)
	sl.u8(layoutChunked)
	sl.u8(2)
	sl.u64(sumTree)
	sl.u32(4)
	sl.u32(4)
	pl := newEncoder()
	pl.u8(1)
	pl.u8(1)
	pl.zeros(6)
	pl.u16(h5Deflate)
	pl.u16(8)
	pl.u16(1)
	pl.u16(1)
	pl.raw([]byte("deflate\x00"))
	pl.u32(6)
	pl.zeros(4)
	sum := fx.put(headerV1(
		dataspaceV1(4),
		floatType(t, dtype.Float32),
		message{typ: msgLayout, data: sl.Bytes()},
		message{typ: msgFilters, data: pl.Bytes()},
	))

	gBTree, gHeap := fx.symbolGroup([]string{"counts", "flag", "mean", "sum"}, []uint64{counts, flag, mean, sum})
	legacy := fx.put(headerV1(symbolTableMsg(gBTree, gHeap)))

	rBTree, rHeap := fx.symbolGroup([]string{"legacy"}, []uint64{legacy})
	rootMsgs := messagesV1(symbolTableMsg(rBTree, rHeap))
	rootCont := fx.put(rootMsgs)
	rc := newEncoder()
	rc.u64(rootCont)
	rc.u64(uint64(len(rootMsgs)))
	root := fx.put(headerV1(message{typ: msgContinuation, data: rc.Bytes()}))
	return fx.finish(root, rBTree, rHeap)
}

func TestLegacyFile(t *testing.T) {
	data := legacyFile(t)
	withUserBlock := append(make([]byte, 512), data...)

	for name, raw := range map[string][]byte{"plain": data, "user block": withUserBlock} {
		t.Run(name, func(t *testing.T) {
			f, err := OpenReader(bytes.NewReader(raw))
			require.NoError(t, err)
			defer f.Close()

			root, err := f.Root()
			require.NoError(t, err)
			assert.Equal(t, []string{"legacy"}, root.Members())
			paths, err := f.Datasets()
			require.NoError(t, err)
			assert.Equal(t, []string{"/legacy/counts", "/legacy/flag", "/legacy/mean", "/legacy/sum"}, paths)

			counts, err := f.OpenDataset("/legacy/counts")
			require.NoError(t, err)
			assert.Equal(t, dtype.Uint16, counts.Type())
			assert.Equal(t, []uint64{2, 3}, counts.ChunkDims())
			all, err := ReadAs[uint16](counts, []uint64{0, 0}, []uint64{5, 4})
			require.NoError(t, err)
			for r := 0; r < 5; r++ {
				for c := 0; c < 4; c++ {
					want := countValue(r, c)
					if r >= 2 && r < 4 && c == 3 {
						want = 7
					}
					assert.Equal(t, want, all[r*4+c], "cell %d,%d", r, c)
				}
			}
			win, err := ReadAs[uint16](counts, []uint64{1, 2}, []uint64{3, 2})
			require.NoError(t, err)
			assert.Equal(t, []uint16{12, 13, 22, 7, 32, 7}, win)

			mean, err := f.OpenDataset("/legacy/mean")
			require.NoError(t, err)
			assert.Nil(t, mean.ChunkDims())
			mv, err := ReadAs[float64](mean, []uint64{1}, []uint64{2})
			require.NoError(t, err)
			assert.Equal(t, []float64{2.5, 3.5}, mv)

			flag, err := f.OpenDataset("/legacy/flag")
			require.NoError(t, err)
			fv, err := ReadAs[int32](flag, []uint64{0, 0}, []uint64{2, 2})
			require.NoError(t, err)
			assert.Equal(t, []int32{-1, 2, -3, 4}, fv)
			col, err := ReadAs[int32](flag, []uint64{0, 1}, []uint64{2, 1})
			require.NoError(t, err)
			assert.Equal(t, []int32{2, 4}, col)

			sum, err := f.OpenDataset("/legacy/sum")
			require.NoError(t, err)
			assert.Equal(t, []string{"deflate"}, sum.Filters())
			sv, err := ReadAs[float32](sum, []uint64{0}, []uint64{4})
			require.NoError(t, err)
			assert.Equal(t, []float32{0.5, 1.5, 2.5, 3.5}, sv)
		})
	}
}

func v2Record(e *encoder, addr uint64, scaled ...uint64) {
	e.u64(addr)
	for _, s := range scaled {
		e.u64(s)
	}
}

func TestBTreeV2ChunkIndex(t *testing.T) {
	fx := newFixture()
	chunks := map[[2]uint64]uint64{}
	for cr := uint64(0); cr < 2; cr++ {
		for cc := uint64(0); cc < 2; cc++ {
			buf := make([]byte, 4)
			for i := uint64(0); i < 2; i++ {
				for j := uint64(0); j < 2; j++ {
					buf[i*2+j] = uint8((cr*2+i)*4 + cc*2 + j)
				}
			}
			chunks[[2]uint64{cr, cc}] = fx.put(buf)
		}
	}
	leaf := func(keys ...[2]uint64) uint64 {
		e := newEncoder()
		e.raw([]byte("BTLF"))
		e.u8(0)
		e.u8(10)
		for _, k := range keys {
			v2Record(e, chunks[k], k[0], k[1])
		}
		e.checksum()
		return fx.put(e.Bytes())
	}
	leafA := leaf([2]uint64{0, 0}, [2]uint64{0, 1})
	leafB := leaf([2]uint64{1, 1})

	in := newEncoder()
	in.raw([]byte("BTIN"))
	in.u8(0)
	in.u8(10)
	v2Record(in, chunks[[2]uint64{1, 0}], 1, 0)
	in.u64(leafA)
	in.u8(2)
	in.u64(leafB)
	in.u8(1)
	in.checksum()
	rootNode := fx.put(in.Bytes())

	hd := newEncoder()
	hd.raw([]byte("BTHD"))
	hd.u8(0)
	hd.u8(10)
	hd.u32(512)
	hd.u16(24)
	hd.u16(1)
	hd.u8(100)
	hd.u8(40)
	hd.u64(rootNode)
	hd.u16(1)
	hd.u64(4)
	hd.checksum()
	bthd := fx.put(hd.Bytes())

	l := newEncoder()
	l.u8(4)
	l.u8(layoutChunked)
	l.u8(0)
	l.u8(3)
	l.u8(4)
	l.u32(2)
	l.u32(2)
	l.u32(1)
	l.u8(indexBTreeV2)
	l.u32(512)
	l.u8(100)
	l.u8(40)
	l.u64(bthd)

	hdr, err := encodeHeader([]message{
		{typ: msgDataspace, data: encodeDataspace([]uint64{4, 4})},
		fixedType(1, false, false),
		{typ: msgLayout, data: l.Bytes()},
	})
	require.NoError(t, err)
	ds := fx.put(hdr)
	btree, heap := fx.symbolGroup([]string{"tiles"}, []uint64{ds})
	root := fx.put(headerV1(symbolTableMsg(btree, heap)))

	f, err := OpenReader(bytes.NewReader(fx.finish(root, btree, heap)))
	require.NoError(t, err)
	defer f.Close()
	tiles, err := f.OpenDataset("tiles")
	require.NoError(t, err)
	got, err := tiles.Read()
	require.NoError(t, err)
	want := make([]byte, 16)
	for i := range want {
		want[i] = uint8(i)
	}
	assert.Equal(t, want, got)
}

func TestExtensibleArrayChunkIndex(t *testing.T) {
	fx := newFixture()
	c0 := fx.put([]byte{1, 0, 2, 0})
	c2 := fx.put([]byte{5, 0, 6, 0})

	header := func(iblk uint64) []byte {
		e := newEncoder()
		e.raw([]byte("EAHD"))
		e.raw([]byte{0, 0, 8, 32, 4, 16, 4, 10})
		for _, v := range []uint64{0, 0, 0, 0, 3, 3} {
			e.u64(v)
		}
		e.u64(iblk)
		e.checksum()
		return e.Bytes()
	}
	eahd := fx.put(header(0))
	ib := newEncoder()
	ib.raw([]byte("EAIB"))
	ib.u8(0)
	ib.u8(0)
	ib.u64(eahd)
	for _, a := range []uint64{c0, undefined, c2, undefined} {
		ib.u64(a)
	}
	ib.checksum()
	eaib := fx.put(ib.Bytes())
	fx.buf.WriteAt(header(eaib), int64(eahd))

	l := newEncoder()
	l.u8(4)
	l.u8(layoutChunked)
	l.u8(0)
	l.u8(2)
	l.u8(4)
	l.u32(2)
	l.u32(2)
	l.u8(indexExtensible)
	l.raw([]byte{32, 4, 4, 16, 10})
	l.u64(eahd)

	fill := newEncoder()
	fill.u8(3)
	fill.u8(0x20)
	fill.u32(2)
	fill.u16(9)

	hdr, err := encodeHeader([]message{
		{typ: msgDataspace, data: encodeDataspace([]uint64{6})},
		fixedType(2, false, false),
		{typ: msgFill, data: fill.Bytes()},
		{typ: msgLayout, data: l.Bytes()},
	})
	require.NoError(t, err)
	ds := fx.put(hdr)
	btree, heap := fx.symbolGroup([]string{"series"}, []uint64{ds})
	root := fx.put(headerV1(symbolTableMsg(btree, heap)))

	f, err := OpenReader(bytes.NewReader(fx.finish(root, btree, heap)))
	require.NoError(t, err)
	defer f.Close()
	series, err := f.OpenDataset("/series")
	require.NoError(t, err)
	vals, err := ReadAs[uint16](series, []uint64{0}, []uint64{6})
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2, 9, 9, 5, 6}, vals)
}
