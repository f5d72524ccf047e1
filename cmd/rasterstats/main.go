package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/robert-malhotra/go-rasterstats/internal/config"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	log = logrus.New()
)

func root() {
	str := `rasterstats reverses the row order of chunked 2D rasters held in a store file
and reduces sum, sumsq and count accumulators into per-pixel mean and
standard deviation images.

Usage:
	rasterstats <command>

Commands:
	run
	import
	ls
	synth
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `rasterstats is configured via ` + config.FileName + ` in the working directory.
mkconf writes the defaults there; conf prints the active configuration.

run
	Reverses every dataset of the store whose name does not end in _rev,
	writing <name>_rev next to it.  Every group holding sum, sumsq and count
	then gets mean_rev and sd_rev, and with Export.Enabled the reversed count,
	mean and sd are written as <Prefix>_<group>_<stat>.fits in Export.Dir.
	Outputs that are already complete are skipped, so an interrupted run can
	simply be started again.  With Source set, the raw datasets of that
	HDF5 file are imported into the store first (the store is created if
	missing), and with Export.HDF5 set the statistics of every group are
	also written to that HDF5 file in Export.Dir.

import
	Imports the raw datasets of Source into the store and stops.

ls
	Lists the datasets of the store and the work a run would do.

synth [-obs N] [-seed S] group...
	Creates a store with random accumulators for the given groups, sized
	Width x Height.

Width and Height may be left at 0 when Template names a FITS image; its
axes and header cards are used for the exported images.  Without a
Template they come from the first 2D dataset of Source.

SingleSample picks the sd written where exactly one observation exists:
"sentinel" writes -1, "zero" writes 0, "raw" writes the unguarded result.`
	fmt.Println(str)
}

func mkconf() {
	f, err := os.Create(config.FileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := config.Write(f, loadConfig()); err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	if err := config.Write(os.Stdout, loadConfig()); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("rasterstats version %v\n", Version)
}

func loadConfig() config.Config {
	_, c, err := config.Load(config.FileName)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	return c
}

func setupLogging(c config.Config) {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := c.Level()
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(level)
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "version":
		pversion()
	case "run":
		os.Exit(run(loadConfig()))
	case "import":
		os.Exit(importSource(loadConfig()))
	case "ls":
		ls(loadConfig())
	case "synth":
		synth(loadConfig(), args[2:])
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}
