package h5

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
)

// SkipGroup can be returned by a WalkFunc for a group to skip its members.
var SkipGroup = errors.New("skip this group")

// Group is a group in an open file.
type Group struct {
	file  *File
	path  string
	addr  uint64
	links []link
}

// maxGroupNodes bounds a group B-tree walk.
const maxGroupNodes = 1 << 16

func (f *File) openGroupAt(addr uint64, path string) (*Group, error) {
	h, err := f.readHeader(addr)
	if err != nil {
		return nil, err
	}
	return f.groupFromHeader(h, path)
}

func (f *File) groupFromHeader(h *header, path string) (*Group, error) {
	g := &Group{file: f, path: path, addr: h.addr}
	if m, ok := h.find(msgSymbolTable); ok {
		btree, heap, err := f.decodeSymbolTable(m.data)
		if err != nil {
			return nil, err
		}
		if g.links, err = f.readSymbolTable(btree, heap); err != nil {
			return nil, fmt.Errorf("group %s: %w", path, err)
		}
		return g, nil
	}

	info, isGroup := h.find(msgLinkInfo)
	if isGroup {
		heap, err := f.decodeLinkInfo(info.data)
		if err != nil {
			return nil, err
		}
		if heap != undefined {
			return nil, fmt.Errorf("%w: group %s uses dense link storage", ErrUnsupported, path)
		}
	}
	for _, m := range h.all(msgLink) {
		isGroup = true
		l, hard, err := f.decodeLink(m.data)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", path, err)
		}
		if hard {
			g.links = append(g.links, l)
		}
	}
	if !isGroup {
		return nil, fmt.Errorf("%w: %s", ErrNotGroup, path)
	}
	sort.Slice(g.links, func(i, j int) bool { return g.links[i].name < g.links[j].name })
	return g, nil
}

// readSymbolTable lists a version 1 group: a B-tree of symbol nodes whose
// entries name objects through the local heap.
func (f *File) readSymbolTable(btree, heapAddr uint64) ([]link, error) {
	names, err := f.readLocalHeap(heapAddr)
	if err != nil {
		return nil, err
	}
	var links []link
	visited := 0
	var visit func(addr uint64) error
	visit = func(addr uint64) error {
		if visited++; visited > maxGroupNodes {
			return fmt.Errorf("%w: group B-tree too large", ErrCorrupt)
		}
		node, err := f.readBTreeV1Node(addr, 0, 0)
		if err != nil {
			return err
		}
		for _, child := range node.children {
			if node.level > 0 {
				if err := visit(child); err != nil {
					return err
				}
				continue
			}
			entries, err := f.readSymbolNode(child, names)
			if err != nil {
				return err
			}
			links = append(links, entries...)
		}
		return nil
	}
	if btree != undefined {
		if err := visit(btree); err != nil {
			return nil, err
		}
	}
	return links, nil
}

func (f *File) readLocalHeap(addr uint64) ([]byte, error) {
	size := 8 + 2*f.sb.lengthSize + f.sb.offsetSize
	buf, err := f.readAt(addr, size)
	if err != nil {
		return nil, fmt.Errorf("local heap: %w", err)
	}
	if !bytes.Equal(buf[:4], []byte("HEAP")) {
		return nil, fmt.Errorf("%w: bad local heap signature at 0x%x", ErrCorrupt, addr)
	}
	d := newDecoder(buf, f.sb)
	d.seek(8)
	dataSize := d.length()
	d.length() // free list
	dataAddr := d.addr()
	if d.err != nil {
		return nil, fmt.Errorf("local heap: %w", d.err)
	}
	return f.readAt(dataAddr, int(dataSize))
}

func (f *File) readSymbolNode(addr uint64, names []byte) ([]link, error) {
	prefix, err := f.readAt(addr, 8)
	if err != nil {
		return nil, fmt.Errorf("symbol node: %w", err)
	}
	if !bytes.Equal(prefix[:4], []byte("SNOD")) {
		return nil, fmt.Errorf("%w: bad symbol node signature at 0x%x", ErrCorrupt, addr)
	}
	n := int(prefix[6]) | int(prefix[7])<<8
	entrySize := 2*f.sb.offsetSize + 24
	buf, err := f.readAt(addr+8, n*entrySize)
	if err != nil {
		return nil, fmt.Errorf("symbol node: %w", err)
	}
	d := newDecoder(buf, f.sb)
	links := make([]link, 0, n)
	for i := 0; i < n; i++ {
		d.seek(i * entrySize)
		nameOff := d.addr()
		obj := d.addr()
		if d.err != nil {
			return nil, fmt.Errorf("symbol node: %w", d.err)
		}
		name, err := heapString(names, nameOff)
		if err != nil {
			return nil, err
		}
		links = append(links, link{name: name, addr: obj})
	}
	return links, nil
}

func heapString(heap []byte, off uint64) (string, error) {
	if off >= uint64(len(heap)) {
		return "", fmt.Errorf("%w: name offset %d outside local heap", ErrCorrupt, off)
	}
	s := heap[off:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s), nil
}

// Path returns the absolute path of the group.
func (g *Group) Path() string {
	return g.path
}

// Members returns the names of the group's members in name order.
func (g *Group) Members() []string {
	names := make([]string, len(g.links))
	for i, l := range g.links {
		names[i] = l.name
	}
	return names
}

func (g *Group) lookup(name string) (link, bool) {
	i := sort.Search(len(g.links), func(i int) bool { return g.links[i].name >= name })
	if i < len(g.links) && g.links[i].name == name {
		return g.links[i], true
	}
	// Symbol tables from other writers may not be sorted.
	for _, l := range g.links {
		if l.name == name {
			return l, true
		}
	}
	return link{}, false
}

// open resolves a path relative to g and returns the header of its target.
func (g *Group) open(path string) (*header, string, error) {
	if err := g.file.check(); err != nil {
		return nil, "", err
	}
	parts := splitPath(path)
	cur := g
	full := g.path
	for i, name := range parts {
		l, ok := cur.lookup(name)
		full = joinPath(full, name)
		if !ok {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, full)
		}
		h, err := g.file.readHeader(l.addr)
		if err != nil {
			return nil, "", err
		}
		if i == len(parts)-1 {
			return h, full, nil
		}
		if cur, err = g.file.groupFromHeader(h, full); err != nil {
			return nil, "", err
		}
	}
	h, err := g.file.readHeader(g.addr)
	return h, full, err
}

// OpenGroup opens a group by path relative to g.
func (g *Group) OpenGroup(path string) (*Group, error) {
	h, full, err := g.open(path)
	if err != nil {
		return nil, err
	}
	if _, ok := h.find(msgLayout); ok {
		return nil, fmt.Errorf("%w: %s", ErrNotGroup, full)
	}
	return g.file.groupFromHeader(h, full)
}

// OpenDataset opens a dataset by path relative to g.
func (g *Group) OpenDataset(path string) (*Dataset, error) {
	h, full, err := g.open(path)
	if err != nil {
		return nil, err
	}
	return g.file.datasetFromHeader(h, full)
}

// WalkFunc is called for each object during traversal. obj is either
// *Group or *Dataset. Return SkipGroup from a group to skip its members.
type WalkFunc func(path string, obj any) error

// Walk visits g and everything below it, members in name order.
// Objects of kinds this package cannot read are skipped.
func Walk(g *Group, fn WalkFunc) error {
	if err := g.file.check(); err != nil {
		return err
	}
	err := walkGroup(g, fn, map[uint64]bool{})
	if errors.Is(err, SkipGroup) {
		return nil
	}
	return err
}

func walkGroup(g *Group, fn WalkFunc, seen map[uint64]bool) error {
	// Hard links may point back up the tree.
	seen[g.addr] = true
	if err := fn(g.path, g); err != nil {
		return err
	}
	for _, l := range g.links {
		full := joinPath(g.path, l.name)
		h, err := g.file.readHeader(l.addr)
		if err != nil {
			return err
		}
		if _, ok := h.find(msgLayout); ok {
			ds, err := g.file.datasetFromHeader(h, full)
			if errors.Is(err, ErrUnsupported) {
				continue
			}
			if err != nil {
				return err
			}
			if err := fn(full, ds); err != nil {
				return err
			}
			continue
		}
		if seen[l.addr] {
			continue
		}
		child, err := g.file.groupFromHeader(h, full)
		if errors.Is(err, ErrNotGroup) || errors.Is(err, ErrUnsupported) {
			continue
		}
		if err != nil {
			return err
		}
		err = walkGroup(child, fn, seen)
		if errors.Is(err, SkipGroup) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
