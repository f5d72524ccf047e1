package store

import (
	"errors"
	"fmt"
	"os"

	"github.com/robert-malhotra/go-rasterstats/internal/alloc"
	binpkg "github.com/robert-malhotra/go-rasterstats/internal/binary"
	"github.com/robert-malhotra/go-rasterstats/internal/layout"
	"github.com/robert-malhotra/go-rasterstats/internal/superblock"
)

// File represents an open store file.
type File struct {
	path       string
	file       *os.File
	reader     *binpkg.Reader
	superblock *superblock.Superblock
	root       *node
	closed     bool

	cache    *layout.Cache
	datasets map[uint64]*datasetMeta // by runtime id
	nextID   uint64

	// Write support fields
	writable  bool
	writer    *binpkg.Writer
	allocator *alloc.Allocator
	lock      *writerLock
	dirty     bool // catalog differs from the committed one
}

// Open opens a store file for reading.
func Open(path string, opts ...FileOption) (*File, error) {
	options := defaultFileOptions()
	for _, opt := range opts {
		opt(options)
	}

	osFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	f, err := load(path, osFile, options)
	if err != nil {
		osFile.Close()
		return nil, err
	}
	return f, nil
}

// OpenReadWrite opens an existing store file for reading and writing.
// Only one writer may hold a file at a time.
func OpenReadWrite(path string, opts ...FileOption) (*File, error) {
	options := defaultFileOptions()
	for _, opt := range opts {
		opt(options)
	}

	lock, err := acquireLock(path, options.lockTimeout)
	if err != nil {
		return nil, err
	}
	osFile, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("opening file: %w", err)
	}
	f, err := load(path, osFile, options)
	if err != nil {
		osFile.Close()
		lock.release()
		return nil, err
	}

	f.writable = true
	f.writer = binpkg.NewWriter(osFile)
	f.allocator = alloc.New(f.superblock.EOFAddress)
	f.lock = lock
	return f, nil
}

// Create creates a new, empty store file, truncating any existing file.
func Create(path string, opts ...FileOption) (*File, error) {
	options := defaultFileOptions()
	for _, opt := range opts {
		opt(options)
	}

	lock, err := acquireLock(path, options.lockTimeout)
	if err != nil {
		return nil, err
	}
	osFile, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		lock.release()
		return nil, err
	}

	writer := binpkg.NewWriter(osFile)
	sb := superblock.New()
	if err := sb.Write(writer); err != nil {
		osFile.Close()
		os.Remove(path)
		lock.release()
		return nil, fmt.Errorf("writing superblock: %w", err)
	}

	f := newFile(path, osFile, sb, options)
	f.root = &node{}
	f.writable = true
	f.writer = writer
	f.allocator = alloc.New(sb.EOFAddress)
	f.lock = lock
	f.dirty = true
	return f, nil
}

func newFile(path string, osFile *os.File, sb *superblock.Superblock, options *fileOptions) *File {
	f := &File{
		path:       path,
		file:       osFile,
		reader:     binpkg.NewReader(osFile),
		superblock: sb,
		datasets:   make(map[uint64]*datasetMeta),
	}
	f.cache = layout.NewCache(options.cacheChunks, f.storeChunk)
	return f
}

// load reads the superblock and the committed catalog.
func load(path string, osFile *os.File, options *fileOptions) (*File, error) {
	sb, err := superblock.Read(osFile)
	if err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	f := newFile(path, osFile, sb, options)

	if sb.CatalogSize == 0 {
		f.root = &node{}
		return f, nil
	}
	if sb.CatalogAddr+sb.CatalogSize > sb.EOFAddress {
		return nil, fmt.Errorf("%w: catalog [%d, +%d) beyond EOF %d",
			ErrBadCatalog, sb.CatalogAddr, sb.CatalogSize, sb.EOFAddress)
	}
	data, err := f.reader.At(int64(sb.CatalogAddr)).ReadBytes(int(sb.CatalogSize))
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	root, err := decodeCatalog(data, f.newID)
	if err != nil {
		return nil, err
	}
	f.root = root
	root.each(func(n *node) {
		if !n.isGroup() {
			f.datasets[n.dataset.id] = n.dataset
		}
	})
	return f, nil
}

func (f *File) newID() uint64 {
	f.nextID++
	return f.nextID
}

// Close flushes pending changes, releases the writer lock and closes the file.
func (f *File) Close() error {
	if f.closed {
		return nil
	}

	var err error
	if f.writable {
		err = f.Flush()
		if lockErr := f.lock.release(); lockErr != nil && err == nil {
			err = fmt.Errorf("releasing lock: %w", lockErr)
		}
	}
	f.closed = true
	if closeErr := f.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Flush writes cached chunks and a new catalog, then commits them by
// rewriting the superblock. A crash before the superblock write leaves the
// previous commit intact.
func (f *File) Flush() error {
	if f.closed {
		return ErrClosed
	}
	if !f.writable {
		return nil
	}
	if err := f.cache.FlushDirty(); err != nil {
		return fmt.Errorf("writing chunks: %w", err)
	}
	if !f.dirty {
		return nil
	}

	data, err := encodeCatalog(f.root)
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	addr := f.allocator.Alloc(uint64(len(data)))
	if err := f.writer.At(int64(addr)).WriteBytes(data); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	if f.superblock.CatalogSize > 0 {
		f.allocator.Free(f.superblock.CatalogAddr, f.superblock.CatalogSize)
	}
	if err := f.file.Sync(); err != nil {
		return err
	}

	f.superblock.CatalogAddr = addr
	f.superblock.CatalogSize = uint64(len(data))
	f.superblock.EOFAddress = f.allocator.EOFAddr()
	f.superblock.Generation++
	if err := f.superblock.Write(f.writer); err != nil {
		return fmt.Errorf("writing superblock: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return err
	}

	f.allocator.Commit()
	f.dirty = false
	return nil
}

// Root returns the root group of the file.
func (f *File) Root() *Group {
	return &Group{file: f, node: f.root}
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

// Generation returns the number of commits made to the file.
func (f *File) Generation() uint64 {
	return f.superblock.Generation
}

// Writable reports whether the file was opened for writing.
func (f *File) Writable() bool {
	return f.writable
}

// AllocStats returns allocation statistics (for debugging/testing).
func (f *File) AllocStats() alloc.Stats {
	if f.allocator == nil {
		return alloc.Stats{}
	}
	return f.allocator.Stats()
}

// Exists reports whether an object exists at path.
func (f *File) Exists(path string) bool {
	if f.closed {
		return false
	}
	_, err := f.lookup(path)
	return err == nil
}

// OpenGroup opens a group by path.
func (f *File) OpenGroup(path string) (*Group, error) {
	if f.closed {
		return nil, ErrClosed
	}
	return f.Root().OpenGroup(path)
}

// OpenDataset opens a dataset by path.
func (f *File) OpenDataset(path string) (*Dataset, error) {
	if f.closed {
		return nil, ErrClosed
	}
	return f.Root().OpenDataset(path)
}

// CreateGroup creates a group and any missing intermediate groups.
// It returns the existing group if one is already at path.
func (f *File) CreateGroup(path string) (*Group, error) {
	if err := f.checkWritable(); err != nil {
		return nil, err
	}
	n, err := f.mkdirAll(f.root, SplitPath(path))
	if err != nil {
		return nil, err
	}
	return &Group{file: f, node: n}, nil
}

// CreateDataset creates a dataset of length elements at path, creating
// missing intermediate groups.
func (f *File) CreateDataset(path string, t Type, length uint64, opts ...DatasetOption) (*Dataset, error) {
	if err := f.checkWritable(); err != nil {
		return nil, err
	}
	parts := SplitPath(path)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	parent, err := f.mkdirAll(f.root, parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}
	return (&Group{file: f, node: parent}).CreateDataset(parts[len(parts)-1], t, length, opts...)
}

// Unlink removes the object at path. Removing a group removes everything
// below it. Space held by removed datasets is reused after the next flush.
func (f *File) Unlink(path string) error {
	if err := f.checkWritable(); err != nil {
		return err
	}
	n, err := f.lookup(path)
	if err != nil {
		return err
	}
	if n == f.root {
		return fmt.Errorf("%w: cannot unlink the root group", ErrInvalidPath)
	}

	n.parent.removeChild(n)
	n.each(func(c *node) {
		c.removed = true
		if c.isGroup() {
			return
		}
		m := c.dataset
		f.cache.Drop(m.id)
		for _, ref := range m.chunks {
			if ref.size > 0 {
				f.allocator.Free(ref.addr, uint64(ref.size))
			}
		}
		delete(f.datasets, m.id)
	})
	f.dirty = true
	return nil
}

func (f *File) checkWritable() error {
	if f.closed {
		return ErrClosed
	}
	if !f.writable {
		return ErrReadOnly
	}
	return nil
}

// lookup resolves an absolute path from the root.
func (f *File) lookup(path string) (*node, error) {
	return lookupFrom(f.root, path)
}

func lookupFrom(start *node, path string) (*node, error) {
	n := start
	for _, part := range SplitPath(path) {
		if n.isGroup() {
			if c := n.child(part); c != nil {
				n = c
				continue
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return n, nil
}

// mkdirAll walks parts below start, creating groups that do not exist.
func (f *File) mkdirAll(start *node, parts []string) (*node, error) {
	n := start
	for _, part := range parts {
		if err := validName(part); err != nil {
			return nil, err
		}
		c := n.child(part)
		if c == nil {
			c = &node{name: part}
			n.addChild(c)
			f.dirty = true
		} else if !c.isGroup() {
			return nil, fmt.Errorf("%w: %s", ErrNotGroup, c.path())
		}
		n = c
	}
	return n, nil
}

// IsNotFound reports whether err means an object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
