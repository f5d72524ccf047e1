// Package config loads rasterstats settings from defaults and a YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"
	yml "gopkg.in/yaml.v2"

	"github.com/robert-malhotra/go-rasterstats/engine"
	"github.com/robert-malhotra/go-rasterstats/store"
)

// FileName is the default configuration file.
var FileName = "rasterstats.yml"

// Compression configures output dataset storage.
type Compression struct {
	// Codec is one of none, deflate, zstd, lz4, s2
	Codec string `yaml:"Codec"`

	// Level is the deflate level, 1-9
	Level int `yaml:"Level"`

	Shuffle  bool `yaml:"Shuffle"`
	Checksum bool `yaml:"Checksum"`
}

// Export configures FITS export of the statistics.
type Export struct {
	Enabled bool `yaml:"Enabled"`

	// Dir is the folder images are written to
	Dir string `yaml:"Dir"`

	// Prefix starts every image file name
	Prefix string `yaml:"Prefix"`

	// HDF5 is a file in Dir that also receives every group's statistics.
	// Empty disables it.
	HDF5 string `yaml:"HDF5"`
}

// Config holds every setting of a run.
type Config struct {
	// Store is the path of the store file
	Store string `yaml:"Store"`

	// Source is an HDF5 file whose raw accumulators are imported into Store
	Source string `yaml:"Source"`

	// Width and Height are the raster dimensions. Zero takes them from
	// Template, or from the first 2D dataset of Source.
	Width  int `yaml:"Width"`
	Height int `yaml:"Height"`

	// Template is a FITS image whose shape and header cards are copied
	Template string `yaml:"Template"`

	RowBatch    int         `yaml:"RowBatch"`
	StatsBatch  int         `yaml:"StatsBatch"`
	ChunkLen    uint64      `yaml:"ChunkLen"`
	CacheChunks int         `yaml:"CacheChunks"`
	Compression Compression `yaml:"Compression"`

	// SingleSample is the sd written where count is 1: sentinel, zero or raw
	SingleSample string `yaml:"SingleSample"`

	// LockTimeout is how long to wait for another writer, e.g. "30s"
	LockTimeout string `yaml:"LockTimeout"`

	Export   Export `yaml:"Export"`
	LogLevel string `yaml:"LogLevel"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store:       "rasterstats.rst",
		RowBatch:    engine.DefaultRowBatch,
		StatsBatch:  engine.DefaultStatsBatch,
		ChunkLen:    store.DefaultChunkLen,
		CacheChunks: store.DefaultCacheChunks,
		Compression: Compression{
			Codec: "deflate",
			Level: 1,
		},
		SingleSample: engine.SingleSampleSentinel.String(),
		LockTimeout:  "0s",
		Export: Export{
			Enabled: true,
			Dir:     ".",
			Prefix:  "stats",
		},
		LogLevel: "info",
	}
}

// Load reads the defaults and overlays path. A missing file leaves the
// defaults in place.
func Load(path string) (*koanf.Koanf, Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, Config{}, fmt.Errorf("loading defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, Config{}, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return k, c, nil
}

// Validate checks values that the rest of the program relies on.
func (c Config) Validate() error {
	var errs []error
	if c.Store == "" {
		errs = append(errs, errors.New("Store is empty"))
	}
	if c.Width < 0 || c.Height < 0 {
		errs = append(errs, fmt.Errorf("invalid size %dx%d", c.Width, c.Height))
	}
	if (c.Width == 0 || c.Height == 0) && c.Template == "" && c.Source == "" {
		errs = append(errs, errors.New("Width and Height, a Template or a Source are required"))
	}
	if c.RowBatch <= 0 {
		errs = append(errs, fmt.Errorf("RowBatch must be positive, got %d", c.RowBatch))
	}
	if c.StatsBatch <= 0 {
		errs = append(errs, fmt.Errorf("StatsBatch must be positive, got %d", c.StatsBatch))
	}
	if _, err := c.DatasetOptions(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.FileOptions(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SingleSamplePolicy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DatasetOptions returns the store options for output datasets.
func (c Config) DatasetOptions() ([]store.DatasetOption, error) {
	codec, err := store.WithCodec(c.Compression.Codec, c.Compression.Level)
	if err != nil {
		return nil, err
	}
	opts := []store.DatasetOption{codec}
	if c.ChunkLen > 0 {
		opts = append(opts, store.WithChunkLen(c.ChunkLen))
	}
	if c.Compression.Shuffle {
		opts = append(opts, store.WithShuffle())
	}
	if c.Compression.Checksum {
		opts = append(opts, store.WithChecksum())
	}
	return opts, nil
}

// FileOptions returns the store options for opening the store.
func (c Config) FileOptions() ([]store.FileOption, error) {
	timeout, err := c.lockTimeout()
	if err != nil {
		return nil, err
	}
	return []store.FileOption{
		store.WithCacheChunks(c.CacheChunks),
		store.WithLockTimeout(timeout),
	}, nil
}

func (c Config) lockTimeout() (time.Duration, error) {
	if c.LockTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.LockTimeout)
	if err != nil {
		return 0, fmt.Errorf("LockTimeout: %w", err)
	}
	return d, nil
}

// SingleSamplePolicy parses SingleSample.
func (c Config) SingleSamplePolicy() (engine.SingleSample, error) {
	return engine.ParseSingleSample(c.SingleSample)
}

// Level parses LogLevel.
func (c Config) Level() (logrus.Level, error) {
	return logrus.ParseLevel(c.LogLevel)
}

// Write encodes c as YAML.
func Write(w io.Writer, c Config) error {
	return yml.NewEncoder(w).Encode(c)
}
