package h5

import (
	"bytes"
	"fmt"
	"math/bits"

	binpkg "github.com/robert-malhotra/go-rasterstats/internal/binary"
)

// chunkRef locates one stored chunk.
type chunkRef struct {
	addr uint64
	size uint64
	mask uint32
}

// chunkIndex maps row-major chunk numbers to their storage.
type chunkIndex map[uint64]chunkRef

// maxIndexNodes bounds a chunk index walk.
const maxIndexNodes = 1 << 20

func (ds *Dataset) loadIndex() error {
	if ds.index != nil {
		return nil
	}
	idx := chunkIndex{}
	l := ds.layout
	var err error
	if l.addr != undefined {
		switch l.index {
		case indexBTreeV1:
			err = ds.indexBTreeV1(idx)
		case indexSingle:
			size := ds.chunkBytes()
			if l.filtered {
				size = l.chunkSize
			}
			idx[0] = chunkRef{addr: l.addr, size: size, mask: l.chunkMask}
		case indexImplicit:
			n := ds.numChunks()
			for i := uint64(0); i < n; i++ {
				idx[i] = chunkRef{addr: l.addr + i*ds.chunkBytes(), size: ds.chunkBytes()}
			}
		case indexFixed:
			err = ds.indexFixedArray(idx)
		case indexExtensible:
			err = ds.indexExtensibleArray(idx)
		case indexBTreeV2:
			err = ds.indexBTreeV2(idx)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: chunk index: %w", ds.path, err)
	}
	ds.index = idx
	return nil
}

// linear returns the row-major chunk number of scaled chunk coordinates.
func (ds *Dataset) linear(scaled []uint64) (uint64, bool) {
	var n uint64
	for d, c := range scaled {
		if c >= ds.grid[d] {
			return 0, false
		}
		n = n*ds.grid[d] + c
	}
	return n, true
}

type btreeV1Node struct {
	level    uint8
	children []uint64
	keys     [][]uint64 // chunk nodes: size, mask, then rank+1 offsets
}

func (f *File) readBTreeV1Node(addr uint64, typ uint8, rank int) (*btreeV1Node, error) {
	head, err := f.readAt(addr, 8)
	if err != nil {
		return nil, fmt.Errorf("B-tree node: %w", err)
	}
	if !bytes.Equal(head[:4], []byte("TREE")) {
		return nil, fmt.Errorf("%w: bad B-tree signature at 0x%x", ErrCorrupt, addr)
	}
	if head[4] != typ {
		return nil, fmt.Errorf("%w: B-tree node type %d, want %d", ErrCorrupt, head[4], typ)
	}
	entries := int(binpkg.Order.Uint16(head[6:]))
	keySize := f.sb.lengthSize
	if typ == 1 {
		keySize = 8 + 8*(rank+1)
	}
	size := 2*f.sb.offsetSize + entries*f.sb.offsetSize + (entries+1)*keySize
	body, err := f.readAt(addr+8, size)
	if err != nil {
		return nil, fmt.Errorf("B-tree node: %w", err)
	}
	d := newDecoder(body, f.sb)
	d.skip(2 * f.sb.offsetSize) // siblings
	n := &btreeV1Node{level: head[5], children: make([]uint64, entries)}
	for i := 0; i <= entries; i++ {
		if typ == 1 {
			key := make([]uint64, 2+rank+1)
			key[0] = uint64(d.u32())
			key[1] = uint64(d.u32())
			for j := 2; j < len(key); j++ {
				key[j] = d.u64()
			}
			n.keys = append(n.keys, key)
		} else {
			d.length()
		}
		if i < entries {
			n.children[i] = d.addr()
		}
	}
	if d.err != nil {
		return nil, fmt.Errorf("B-tree node: %w", d.err)
	}
	return n, nil
}

func (ds *Dataset) indexBTreeV1(idx chunkIndex) error {
	rank := len(ds.dims)
	visited := 0
	var visit func(addr uint64) error
	visit = func(addr uint64) error {
		if visited++; visited > maxIndexNodes {
			return fmt.Errorf("%w: chunk B-tree too large", ErrCorrupt)
		}
		node, err := ds.file.readBTreeV1Node(addr, 1, rank)
		if err != nil {
			return err
		}
		for i, child := range node.children {
			if node.level > 0 {
				if err := visit(child); err != nil {
					return err
				}
				continue
			}
			key := node.keys[i]
			scaled := make([]uint64, rank)
			for d := range scaled {
				scaled[d] = key[2+d] / ds.layout.chunk[d]
			}
			if n, ok := ds.linear(scaled); ok {
				idx[n] = chunkRef{addr: child, size: key[0], mask: uint32(key[1])}
			}
		}
		return nil
	}
	return visit(ds.layout.addr)
}

// readEntry decodes one fixed or extensible array element.
func (ds *Dataset) readEntry(d *decoder, entrySize int) chunkRef {
	ref := chunkRef{addr: d.addr(), size: ds.chunkBytes()}
	if ds.pipeline != nil {
		ref.size = d.uN(entrySize - ds.file.sb.offsetSize - 4)
		ref.mask = d.u32()
	}
	return ref
}

// verifyBlock checks the lookup3 sum stored in the last four bytes of b.
func verifyBlock(b []byte, what string, addr uint64) error {
	if len(b) < 4 {
		return fmt.Errorf("%w: %s at 0x%x", ErrCorrupt, what, addr)
	}
	body := b[:len(b)-4]
	if binpkg.Order.Uint32(b[len(body):]) != binpkg.Lookup3(body) {
		return fmt.Errorf("%w: %s at 0x%x", ErrChecksum, what, addr)
	}
	return nil
}

func (ds *Dataset) indexFixedArray(idx chunkIndex) error {
	f := ds.file
	o, l := f.sb.offsetSize, f.sb.lengthSize
	hdr, err := f.readAt(ds.layout.addr, 8+l+o+4)
	if err != nil {
		return err
	}
	if !bytes.Equal(hdr[:4], []byte("FAHD")) {
		return fmt.Errorf("%w: bad fixed array signature", ErrCorrupt)
	}
	if err := verifyBlock(hdr, "fixed array header", ds.layout.addr); err != nil {
		return err
	}
	d := newDecoder(hdr, f.sb)
	d.seek(6)
	entrySize := int(d.u8())
	pageBits := d.u8()
	nelmts := d.length()
	dblk := d.addr()
	if d.err != nil {
		return d.err
	}
	if dblk == undefined {
		return nil
	}

	prefix := 6 + o
	pageElmts := uint64(1) << pageBits
	if nelmts <= pageElmts {
		blk, err := f.readAt(dblk, prefix+int(nelmts)*entrySize+4)
		if err != nil {
			return err
		}
		if err := verifyBlock(blk, "fixed array data block", dblk); err != nil {
			return err
		}
		d := newDecoder(blk, f.sb)
		d.seek(prefix)
		return ds.collectEntries(idx, d, 0, nelmts, entrySize)
	}

	// Paged: a bitmap of initialised pages, then one checksummed block per page.
	npages := (nelmts + pageElmts - 1) / pageElmts
	bitmapSize := int((npages + 7) / 8)
	blk, err := f.readAt(dblk, prefix+bitmapSize+4)
	if err != nil {
		return err
	}
	if err := verifyBlock(blk, "fixed array data block", dblk); err != nil {
		return err
	}
	bitmap := blk[prefix : prefix+bitmapSize]
	pageAddr := dblk + uint64(len(blk))
	for p := uint64(0); p < npages; p++ {
		n := min(pageElmts, nelmts-p*pageElmts)
		size := int(n)*entrySize + 4
		if bitmap[p/8]&(0x80>>(p%8)) != 0 {
			page, err := f.readAt(pageAddr, size)
			if err != nil {
				return err
			}
			if err := verifyBlock(page, "fixed array page", pageAddr); err != nil {
				return err
			}
			if err := ds.collectEntries(idx, newDecoder(page, f.sb), p*pageElmts, n, entrySize); err != nil {
				return err
			}
		}
		pageAddr += uint64(size)
	}
	return nil
}

func (ds *Dataset) collectEntries(idx chunkIndex, d *decoder, first, n uint64, entrySize int) error {
	for i := uint64(0); i < n; i++ {
		ref := ds.readEntry(d, entrySize)
		if d.err != nil {
			return d.err
		}
		if ref.addr != undefined {
			idx[first+i] = ref
		}
	}
	return nil
}

// indexExtensibleArray reads the elements held directly in the index block.
// Arrays that spilled into data blocks are not supported.
func (ds *Dataset) indexExtensibleArray(idx chunkIndex) error {
	f := ds.file
	o, l := f.sb.offsetSize, f.sb.lengthSize
	hdr, err := f.readAt(ds.layout.addr, 12+6*l+o+4)
	if err != nil {
		return err
	}
	if !bytes.Equal(hdr[:4], []byte("EAHD")) {
		return fmt.Errorf("%w: bad extensible array signature", ErrCorrupt)
	}
	if err := verifyBlock(hdr, "extensible array header", ds.layout.addr); err != nil {
		return err
	}
	d := newDecoder(hdr, f.sb)
	d.seek(6)
	entrySize := int(d.u8())
	d.u8() // max elements bits
	direct := uint64(d.u8())
	d.skip(3)
	d.skip(4 * l) // secondary and data block counts and sizes
	maxIndex := d.length()
	d.length() // elements realised
	iblk := d.addr()
	if d.err != nil {
		return d.err
	}
	if iblk == undefined {
		return nil
	}
	if maxIndex > direct {
		return fmt.Errorf("%w: extensible array with data blocks", ErrUnsupported)
	}
	busy := 0
	for _, g := range ds.grid {
		if g > 1 {
			busy++
		}
	}
	if busy > 1 {
		return fmt.Errorf("%w: extensible array over a multi-dimensional chunk grid", ErrUnsupported)
	}
	prefix := 6 + o
	blk, err := f.readAt(iblk, prefix+int(direct)*entrySize)
	if err != nil {
		return err
	}
	if !bytes.Equal(blk[:4], []byte("EAIB")) {
		return fmt.Errorf("%w: bad extensible array index block signature", ErrCorrupt)
	}
	bd := newDecoder(blk, f.sb)
	bd.seek(prefix)
	return ds.collectEntries(idx, bd, 0, min(maxIndex, direct), entrySize)
}

// btreeV2 holds the node geometry derived from a v2 B-tree header.
type btreeV2 struct {
	recordSize int
	depth      int
	maxNrec    []uint64
	nrecSize   int   // width of a child's record count
	cumSize    []int // width of a child's total record count, per level
}

func newBTreeV2(nodeSize uint32, recordSize int, depth int, offsetSize int) (*btreeV2, error) {
	if recordSize == 0 || int(nodeSize) <= 10+recordSize {
		return nil, fmt.Errorf("%w: v2 B-tree node size %d, record size %d", ErrCorrupt, nodeSize, recordSize)
	}
	bt := &btreeV2{
		recordSize: recordSize,
		depth:      depth,
		maxNrec:    make([]uint64, depth+1),
		cumSize:    make([]int, depth+1),
	}
	cum := make([]uint64, depth+1)
	bt.maxNrec[0] = uint64(int(nodeSize)-10) / uint64(recordSize)
	bt.nrecSize = (bits.Len64(bt.maxNrec[0])-1)/8 + 1
	cum[0] = bt.maxNrec[0]
	for u := 1; u <= depth; u++ {
		ptr := offsetSize + bt.nrecSize
		if u > 1 {
			ptr += bt.cumSize[u-1]
		}
		bt.maxNrec[u] = uint64(int(nodeSize)-(10+ptr)) / uint64(recordSize+ptr)
		cum[u] = (bt.maxNrec[u]+1)*cum[u-1] + bt.maxNrec[u]
		bt.cumSize[u] = (bits.Len64(cum[u])-1)/8 + 1
	}
	return bt, nil
}

func (ds *Dataset) indexBTreeV2(idx chunkIndex) error {
	f := ds.file
	o, l := f.sb.offsetSize, f.sb.lengthSize
	hdr, err := f.readAt(ds.layout.addr, 16+o+2+l+4)
	if err != nil {
		return err
	}
	if !bytes.Equal(hdr[:4], []byte("BTHD")) {
		return fmt.Errorf("%w: bad v2 B-tree signature", ErrCorrupt)
	}
	if err := verifyBlock(hdr, "v2 B-tree header", ds.layout.addr); err != nil {
		return err
	}
	d := newDecoder(hdr, f.sb)
	d.seek(5)
	typ := d.u8()
	nodeSize := d.u32()
	recordSize := int(d.u16())
	depth := int(d.u16())
	d.skip(2)
	root := d.addr()
	rootNrec := uint64(d.u16())
	if d.err != nil {
		return d.err
	}
	if typ != 10 && typ != 11 {
		return fmt.Errorf("%w: v2 B-tree record type %d", ErrUnsupported, typ)
	}
	if root == undefined {
		return nil
	}
	bt, err := newBTreeV2(nodeSize, recordSize, depth, o)
	if err != nil {
		return err
	}

	rank := len(ds.dims)
	record := func(r *decoder) {
		ref := chunkRef{addr: r.addr(), size: ds.chunkBytes()}
		if typ == 11 {
			ref.size = r.uN(recordSize - o - 4 - 8*rank)
			ref.mask = r.u32()
		}
		scaled := make([]uint64, rank)
		for i := range scaled {
			scaled[i] = r.u64()
		}
		if n, ok := ds.linear(scaled); ok && r.err == nil && ref.addr != undefined {
			idx[n] = ref
		}
	}

	visited := 0
	var visit func(addr, nrec uint64, level int) error
	visit = func(addr, nrec uint64, level int) error {
		if visited++; visited > maxIndexNodes {
			return fmt.Errorf("%w: v2 B-tree too large", ErrCorrupt)
		}
		if nrec > bt.maxNrec[level] {
			return fmt.Errorf("%w: v2 B-tree node with %d records", ErrCorrupt, nrec)
		}
		size := 6 + int(nrec)*recordSize
		sig := "BTLF"
		ptr := 0
		if level > 0 {
			sig = "BTIN"
			ptr = o + bt.nrecSize
			if level > 1 {
				ptr += bt.cumSize[level-1]
			}
			size += int(nrec+1) * ptr
		}
		blk, err := f.readAt(addr, size+4)
		if err != nil {
			return err
		}
		if !bytes.Equal(blk[:4], []byte(sig)) {
			return fmt.Errorf("%w: bad %s signature at 0x%x", ErrCorrupt, sig, addr)
		}
		if err := verifyBlock(blk, sig, addr); err != nil {
			return err
		}
		r := newDecoder(blk, f.sb)
		for i := uint64(0); i < nrec; i++ {
			r.seek(6 + int(i)*recordSize)
			record(r)
		}
		if r.err != nil {
			return r.err
		}
		if level == 0 {
			return nil
		}
		for i := uint64(0); i <= nrec; i++ {
			r.seek(6 + int(nrec)*recordSize + int(i)*ptr)
			child := r.addr()
			childNrec := r.uN(bt.nrecSize)
			if r.err != nil {
				return r.err
			}
			if err := visit(child, childNrec, level-1); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(root, rootNrec, depth)
}
