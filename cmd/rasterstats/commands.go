package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"

	"github.com/astrogo/fitsio"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/robert-malhotra/go-rasterstats/engine"
	"github.com/robert-malhotra/go-rasterstats/h5"
	"github.com/robert-malhotra/go-rasterstats/internal/config"
	"github.com/robert-malhotra/go-rasterstats/internal/progress"
	"github.com/robert-malhotra/go-rasterstats/pipeline"
	"github.com/robert-malhotra/go-rasterstats/raster"
	"github.com/robert-malhotra/go-rasterstats/store"
)

func run(c config.Config) int {
	setupLogging(c)
	src := openSource(c)
	if src != nil {
		defer src.Close()
	}
	width, height, cards := shape(c, src)
	c.Width, c.Height = width, height
	if err := c.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	fileOpts, err := c.FileOptions()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	dsOpts, err := c.DatasetOptions()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	policy, err := c.SingleSamplePolicy()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	open := store.OpenReadWrite
	if src != nil {
		open = func(path string, opts ...store.FileOption) (*store.File, error) {
			return openOrCreate(path, opts)
		}
	}
	f, err := open(c.Store, fileOpts...)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r := &pipeline.Runner{Store: f, Options: pipeline.Options{
		Width:          width,
		Height:         height,
		RowBatch:       c.RowBatch,
		StatsBatch:     c.StatsBatch,
		SingleSample:   policy,
		DatasetOptions: dsOpts,
		Source:         src,
		ImportElements: c.StatsBatch,
		Export:         c.Export.Enabled,
		ExportDir:      c.Export.Dir,
		ExportPrefix:   c.Export.Prefix,
		ExportCards:    cards,
		ExportHDF5:     c.Export.HDF5,
		ExportDeflate:  c.Compression.Level,
		Log:            log,
		Tracker:        tracker(),
	}}
	report, err := r.Run(ctx)
	if err != nil {
		log.WithError(err).Error("run stopped")
		return 1
	}
	for _, it := range report.Items {
		fmt.Println(it)
	}
	computed, skipped, failed := report.Counts()
	fmt.Printf("%d computed, %d skipped, %d failed\n", computed, skipped, failed)
	if failed > 0 {
		return 1
	}
	return 0
}

// openSource opens the HDF5 source named by the config, if any.
func openSource(c config.Config) *h5.File {
	if c.Source == "" {
		return nil
	}
	src, err := h5.Open(c.Source, h5.WithCacheChunks(c.CacheChunks))
	if err != nil {
		log.Fatalf("opening source: %v", err)
	}
	return src
}

// shape returns the raster size and header cards. A size left at zero in
// the config comes from the template, then from the source.
func shape(c config.Config, src *h5.File) (int, int, []fitsio.Card) {
	width, height := c.Width, c.Height
	var cards []fitsio.Card
	if c.Template != "" {
		tpl, err := raster.ReadTemplate(c.Template)
		if err != nil {
			log.Fatalf("reading template: %v", err)
		}
		if width == 0 || height == 0 {
			width, height = tpl.Width, tpl.Height
		}
		cards = tpl.Cards
		log.WithFields(logrus.Fields{"template": c.Template, "width": width, "height": height}).Debug("template loaded")
	}
	if (width == 0 || height == 0) && src != nil {
		w, h, err := pipeline.SourceShape(src)
		if err != nil {
			log.Fatalf("reading source shape: %v", err)
		}
		width, height = w, h
		log.WithFields(logrus.Fields{"source": c.Source, "width": width, "height": height}).Debug("size taken from source")
	}
	return width, height, cards
}

// importSource copies the source's raw datasets into the store without
// running anything else.
func importSource(c config.Config) int {
	setupLogging(c)
	src := openSource(c)
	if src == nil {
		log.Fatal("Source is not set")
	}
	defer src.Close()
	fileOpts, err := c.FileOptions()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	dsOpts, err := c.DatasetOptions()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	f, err := openOrCreate(c.Store, fileOpts)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer f.Close()

	paths, err := pipeline.Sources(src)
	if err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	im := &pipeline.Importer{
		Source:         src,
		Store:          f,
		Elements:       c.StatsBatch,
		DatasetOptions: dsOpts,
		Log:            log,
	}
	tr := tracker()
	code := 0
	for _, p := range paths {
		im.Progress = tr.Begin(engine.OpImport, p)
		status, err := im.Import(ctx, p)
		tr.End(err)
		if err != nil {
			log.WithError(err).Error("import failed")
			code = 1
			continue
		}
		fmt.Printf("%s %s: %s\n", engine.OpImport, p, status)
	}
	return code
}

// openOrCreate opens the store for writing, creating it when absent.
func openOrCreate(path string, opts []store.FileOption) (*store.File, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return store.Create(path, opts...)
	}
	return store.OpenReadWrite(path, opts...)
}

func tracker() pipeline.Tracker {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		sp, err := progress.NewSpinner(os.Stdout, progress.DefaultInterval)
		if err == nil {
			return sp
		}
		log.WithError(err).Warn("falling back to plain progress")
	}
	return progress.NewPercent(os.Stdout, progress.DefaultInterval)
}

func ls(c config.Config) {
	setupLogging(c)
	fileOpts, err := c.FileOptions()
	if err != nil {
		log.Fatal(err)
	}
	f, err := store.Open(c.Store, fileOpts...)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer f.Close()

	err = store.Walk(f.Root(), func(path string, obj any) error {
		if ds, ok := obj.(*store.Dataset); ok {
			fmt.Println(ds)
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}
	plan, err := pipeline.Scan(f)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("\n%d datasets to reverse, %d groups to reduce\n", len(plan.Datasets), len(plan.Groups))
	for _, g := range plan.Groups {
		fmt.Println("  group", g)
	}
}

func synth(c config.Config, args []string) {
	setupLogging(c)
	fs := flag.NewFlagSet("synth", flag.ExitOnError)
	obs := fs.Int("obs", 5, "maximum observations per pixel")
	seed := fs.Uint64("seed", 1, "random seed")
	fs.Parse(args)
	groups := fs.Args()
	if len(groups) == 0 {
		groups = []string{"/stats"}
	}

	fileOpts, err := c.FileOptions()
	if err != nil {
		log.Fatal(err)
	}
	dsOpts, err := c.DatasetOptions()
	if err != nil {
		log.Fatal(err)
	}
	f, err := store.Create(c.Store, fileOpts...)
	if err != nil {
		log.Fatalf("creating store: %v", err)
	}
	defer f.Close()

	if err := pipeline.Synthesize(f, groups, c.Width, c.Height, *obs, *seed, dsOpts...); err != nil {
		log.Fatal(err)
	}
	log.WithFields(logrus.Fields{"store": c.Store, "groups": groups}).Info("synthesized")
}
