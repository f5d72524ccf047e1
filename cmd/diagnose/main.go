// Diagnostic tool for inspecting rasterstats store files and HDF5 sources
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/robert-malhotra/go-rasterstats/h5"
	"github.com/robert-malhotra/go-rasterstats/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/diagnose/main.go <file.rst|file.h5>")
		os.Exit(1)
	}

	filename := os.Args[1]
	fmt.Printf("=== Analyzing %s ===\n\n", filename)

	hf, err := h5.Open(filename)
	if err == nil {
		defer hf.Close()
		diagnoseHDF5(hf)
		return
	}
	if !errors.Is(err, h5.ErrNotHDF5) {
		fmt.Printf("ERROR: Failed to open HDF5 file: %v\n", err)
		os.Exit(1)
	}

	f, err := store.Open(filename)
	if err != nil {
		fmt.Printf("ERROR: Failed to open file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	fmt.Printf("Generation: %d\n", f.Generation())
	fmt.Println()

	// Walk the entire file
	walkGroup(f.Root(), "", 0)
}

func walkGroup(g *store.Group, indent string, depth int) {
	if depth > 20 {
		fmt.Printf("%s[MAX DEPTH REACHED]\n", indent)
		return
	}

	members, err := g.Members()
	if err != nil {
		fmt.Printf("%sERROR getting members: %v\n", indent, err)
		return
	}

	fmt.Printf("%sGroup %q:\n", indent, g.Path())
	fmt.Printf("%s  Members: %d\n", indent, len(members))

	if len(members) == 0 && depth > 0 {
		fmt.Printf("%s  [EMPTY - no members]\n", indent)
	}

	for _, name := range members {
		if g.IsGroup(name) {
			subg, err := g.OpenGroup(name)
			if err != nil {
				fmt.Printf("%s  %q: ERROR opening group: %v\n", indent, name, err)
				continue
			}
			walkGroup(subg, indent+"  ", depth+1)
			continue
		}

		ds, err := g.OpenDataset(name)
		if err != nil {
			fmt.Printf("%s  %q: ERROR opening dataset: %v\n", indent, name, err)
			continue
		}
		fmt.Printf("%s  Dataset %q:\n", indent, name)
		fmt.Printf("%s    Type: %s  Len: %d  Chunks: %d x %d\n", indent, ds.Type(), ds.Len(), ds.NumChunks(), ds.ChunkLen())
		fmt.Printf("%s    Stored: %d bytes  Filters: %v  Complete: %v\n", indent, ds.StoredBytes(), ds.Filters(), ds.Complete())
		for _, a := range ds.Attrs() {
			v, _ := ds.Attr(a)
			fmt.Printf("%s    @%s = %q\n", indent, a, v)
		}
		if ds.Len() > 0 {
			checkChunks(ds, indent+"    ")
		}
	}
}

// checkChunks reads every chunk so decode and checksum failures show up.
func checkChunks(ds *store.Dataset, indent string) {
	for i := range ds.NumChunks() {
		lo := uint64(i) * ds.ChunkLen()
		hi := min(lo+ds.ChunkLen(), ds.Len())
		if _, err := ds.ReadRaw(lo, hi); err != nil {
			fmt.Printf("%sERROR reading chunk %d: %v\n", indent, i, err)
		}
	}
}

// diagnoseHDF5 lists every group and dataset of an HDF5 file and reads
// each dataset a few rows at a time so chunk index and filter failures
// show up.
func diagnoseHDF5(f *h5.File) {
	root, err := f.Root()
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	err = h5.Walk(root, func(path string, obj any) error {
		switch o := obj.(type) {
		case *h5.Group:
			fmt.Printf("Group %q: %d members\n", path, len(o.Members()))
		case *h5.Dataset:
			fmt.Printf("  Dataset %q:\n", path)
			fmt.Printf("    Type: %s  Dims: %v  Chunks: %v  Filters: %v\n", o.Type(), o.Dims(), o.ChunkDims(), o.Filters())
			checkRows(o)
		}
		return nil
	})
	if err != nil {
		fmt.Printf("ERROR walking file: %v\n", err)
	}
}

func checkRows(ds *h5.Dataset) {
	if ds.Rank() == 0 {
		if _, err := ds.Read(); err != nil {
			fmt.Printf("    ERROR reading: %v\n", err)
		}
		return
	}
	rows := ds.Dims()[0]
	step := uint64(1)
	if c := ds.ChunkDims(); c != nil {
		step = c[0]
	}
	step = max(step, 1)
	for r := uint64(0); r < rows; r += step {
		if _, err := ds.ReadRows(r, min(step, rows-r)); err != nil {
			fmt.Printf("    ERROR reading rows %d+: %v\n", r, err)
			return
		}
	}
}
