package raster

import (
	"bufio"
	"fmt"
	"os"

	"github.com/astrogo/fitsio"
)

// Template is the shape and metadata of an existing image.
type Template struct {
	Width  int
	Height int
	Cards  []fitsio.Card // non-structural header cards
}

// ReadTemplate reads the primary HDU of the FITS image at path.
func ReadTemplate(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fits, err := fitsio.Open(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer fits.Close()

	hdr := fits.HDU(0).Header()
	axes := hdr.Axes()
	if len(axes) < 2 {
		return nil, fmt.Errorf("%s: primary HDU has %d axes, want at least 2", path, len(axes))
	}

	tpl := &Template{Width: axes[0], Height: axes[1]}
	for i := range hdr.Keys() {
		c := hdr.Card(i)
		if c == nil || isStructural(c.Name) {
			continue
		}
		tpl.Cards = append(tpl.Cards, *c)
	}
	return tpl, nil
}
