package store

import (
	"fmt"

	"github.com/robert-malhotra/go-rasterstats/internal/dtype"
	"github.com/robert-malhotra/go-rasterstats/internal/filter"
)

// Group represents a group in the object tree.
type Group struct {
	file *File
	node *node
}

// Name returns the group name (last component of path).
func (g *Group) Name() string {
	if g.node.parent == nil {
		return "/"
	}
	return g.node.name
}

// Path returns the full path to this group.
func (g *Group) Path() string {
	return g.node.path()
}

// Members returns the names of the group's direct children in creation order.
func (g *Group) Members() ([]string, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	names := make([]string, len(g.node.children))
	for i, c := range g.node.children {
		names[i] = c.name
	}
	return names, nil
}

// IsGroup reports whether the direct child name is a group.
func (g *Group) IsGroup(name string) bool {
	c := g.node.child(name)
	return c != nil && c.isGroup()
}

// IsDataset reports whether the direct child name is a dataset.
func (g *Group) IsDataset(name string) bool {
	c := g.node.child(name)
	return c != nil && !c.isGroup()
}

// Exists reports whether an object exists at the relative path.
func (g *Group) Exists(relativePath string) bool {
	if g.check() != nil {
		return false
	}
	_, err := lookupFrom(g.node, relativePath)
	return err == nil
}

// OpenGroup opens a subgroup by relative path.
func (g *Group) OpenGroup(relativePath string) (*Group, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	n, err := lookupFrom(g.node, relativePath)
	if err != nil {
		return nil, err
	}
	if !n.isGroup() {
		return nil, fmt.Errorf("%w: %s", ErrNotGroup, n.path())
	}
	return &Group{file: g.file, node: n}, nil
}

// OpenDataset opens a dataset by relative path.
func (g *Group) OpenDataset(relativePath string) (*Dataset, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	n, err := lookupFrom(g.node, relativePath)
	if err != nil {
		return nil, err
	}
	if n.isGroup() {
		return nil, fmt.Errorf("%w: %s", ErrNotDataset, n.path())
	}
	return &Dataset{file: g.file, node: n}, nil
}

// CreateGroup creates a subgroup, creating missing intermediate groups.
func (g *Group) CreateGroup(relativePath string) (*Group, error) {
	if err := g.checkWritable(); err != nil {
		return nil, err
	}
	n, err := g.file.mkdirAll(g.node, SplitPath(relativePath))
	if err != nil {
		return nil, err
	}
	return &Group{file: g.file, node: n}, nil
}

// CreateDataset creates a dataset of length elements in this group.
// All chunks read as zero until written.
func (g *Group) CreateDataset(name string, t Type, length uint64, opts ...DatasetOption) (*Dataset, error) {
	if err := g.checkWritable(); err != nil {
		return nil, err
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", dtype.ErrUnknownType, t)
	}
	if g.node.child(name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, JoinPath(g.Path(), name))
	}

	options := defaultDatasetOptions()
	for _, opt := range opts {
		opt(options)
	}
	chunkLen := max(min(options.chunkLen, length), 1)
	if chunkLen*uint64(t.Size()) > MaxChunkBytes {
		return nil, fmt.Errorf("chunk of %d %s elements exceeds %d bytes", chunkLen, t, MaxChunkBytes)
	}

	specs := options.specs(t)
	pipeline, err := filter.NewPipeline(specs)
	if err != nil {
		return nil, err
	}
	m := &datasetMeta{
		id:       g.file.newID(),
		dtype:    t,
		length:   length,
		chunkLen: chunkLen,
		filters:  specs,
		pipeline: pipeline,
	}
	m.chunks = make([]chunkRef, m.geometry().NumChunks())
	for _, a := range options.attributes {
		m.setAttr(a.name, a.value)
	}

	n := &node{name: name, dataset: m}
	g.node.addChild(n)
	g.file.datasets[m.id] = m
	g.file.dirty = true
	return &Dataset{file: g.file, node: n}, nil
}

func (g *Group) check() error {
	if g.file.closed {
		return ErrClosed
	}
	if g.node.removed {
		return fmt.Errorf("%w: group was unlinked", ErrNotFound)
	}
	return nil
}

func (g *Group) checkWritable() error {
	if err := g.check(); err != nil {
		return err
	}
	if !g.file.writable {
		return ErrReadOnly
	}
	return nil
}
