package h5

import (
	"fmt"
	"io"
	"os"

	binpkg "github.com/robert-malhotra/go-rasterstats/internal/binary"
	"github.com/robert-malhotra/go-rasterstats/internal/layout"
	"github.com/robert-malhotra/go-rasterstats/store"
)

// maxBlock bounds any single metadata or chunk read.
const maxBlock = 1 << 30

// DefaultCacheChunks is the default number of decoded chunks kept in memory.
const DefaultCacheChunks = 64

// FileOption configures how a file is opened.
type FileOption func(*fileOptions)

type fileOptions struct {
	cacheChunks int
}

// WithCacheChunks sets how many decoded chunks are cached in memory.
func WithCacheChunks(n int) FileOption {
	return func(o *fileOptions) {
		if n > 0 {
			o.cacheChunks = n
		}
	}
}

// File is an HDF5 file open for reading, or one being written by Create.
// A File is not safe for concurrent use.
type File struct {
	path   string
	file   *os.File
	reader *binpkg.Reader
	sb     *superblock
	root   *Group
	cache  *layout.Cache
	closed bool

	w *writeState
}

// Open opens an HDF5 file for reading.
func Open(path string, opts ...FileOption) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	f, err := newReader(fh, opts)
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.path = path
	f.file = fh
	return f, nil
}

// OpenReader reads an HDF5 file from r. Closing the File does not close r.
func OpenReader(r io.ReaderAt, opts ...FileOption) (*File, error) {
	return newReader(r, opts)
}

func newReader(r io.ReaderAt, opts []FileOption) (*File, error) {
	o := &fileOptions{cacheChunks: DefaultCacheChunks}
	for _, opt := range opts {
		opt(o)
	}
	sb, err := readSuperblock(r)
	if err != nil {
		return nil, err
	}
	f := &File{
		reader: binpkg.NewReader(based{r: r, base: int64(sb.base)}),
		sb:     sb,
		cache:  layout.NewCache(o.cacheChunks, nil),
	}
	root, err := f.openGroupAt(sb.root, "/")
	if err != nil {
		return nil, fmt.Errorf("opening root group: %w", err)
	}
	f.root = root
	return f, nil
}

// Path returns the file name given to Open or Create.
func (f *File) Path() string {
	return f.path
}

// Close releases the file. For a file from Create, Close first writes the
// group hierarchy and the superblock.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.w != nil {
		if err := f.finish(); err != nil {
			f.file.Close()
			return err
		}
	}
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}

func (f *File) check() error {
	if f.closed {
		return ErrClosed
	}
	if f.w != nil {
		return ErrWriteOnly
	}
	return nil
}

// Root returns the root group.
func (f *File) Root() (*Group, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.root, nil
}

// OpenGroup opens the group at an absolute path.
func (f *File) OpenGroup(path string) (*Group, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.root.OpenGroup(path)
}

// OpenDataset opens the dataset at an absolute path.
func (f *File) OpenDataset(path string) (*Dataset, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.root.OpenDataset(path)
}

// Datasets returns the paths of all datasets in the file in walk order.
func (f *File) Datasets() ([]string, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	var paths []string
	err := Walk(f.root, func(path string, obj any) error {
		if _, ok := obj.(*Dataset); ok {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

func (f *File) readAt(addr uint64, n int) ([]byte, error) {
	if n < 0 || n > maxBlock {
		return nil, fmt.Errorf("%w: read of %d bytes", ErrCorrupt, n)
	}
	if addr == undefined {
		return nil, fmt.Errorf("%w: read at undefined address", ErrCorrupt)
	}
	buf := make([]byte, n)
	if err := f.reader.At(int64(addr)).ReadFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// splitPath and joinPath follow the store's path rules.
var (
	splitPath = store.SplitPath
	joinPath  = store.JoinPath
)
