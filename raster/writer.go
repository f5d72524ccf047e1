package raster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/astrogo/fitsio"

	"github.com/robert-malhotra/go-rasterstats/internal/dtype"
)

// Errors
var (
	ErrUnsupportedType = errors.New("unsupported raster element type")
	ErrWindow          = errors.New("window outside raster")
	ErrClosed          = errors.New("raster is closed")
)

// TmpSuffix is appended to the output path while an image is being written.
const TmpSuffix = ".tmp"

// bitpix maps element types to FITS BITPIX values.
var bitpix = map[dtype.Type]int{
	dtype.Uint8:   8,
	dtype.Uint16:  16,
	dtype.Uint32:  32,
	dtype.Int32:   32,
	dtype.Float32: -32,
	dtype.Float64: -64,
}

// Bitpix returns the FITS BITPIX used for t.
func Bitpix(t dtype.Type) (int, error) {
	b, ok := bitpix[t]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	return b, nil
}

// Writer writes one FITS image.
type Writer struct {
	path   string
	tmp    string
	file   *os.File
	width  int
	height int
	dtype  dtype.Type
	data   int64 // offset of the data unit
	closed bool
}

// Create starts a width×height single-band image of type t at path.
// cards are appended to the primary header after the structural keywords;
// structural keywords among them are ignored.
func Create(path string, width, height int, t dtype.Type, cards []fitsio.Card) (*Writer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid raster size %dx%d", width, height)
	}
	bp, err := Bitpix(t)
	if err != nil {
		return nil, err
	}

	hdr := []fitsio.Card{
		{Name: "SIMPLE", Value: true, Comment: "conforms to FITS standard"},
		{Name: "BITPIX", Value: bp, Comment: "array data type"},
		{Name: "NAXIS", Value: 2, Comment: "number of array dimensions"},
		{Name: "NAXIS1", Value: width},
		{Name: "NAXIS2", Value: height},
	}
	switch t {
	case dtype.Uint16:
		hdr = append(hdr, fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1})
	case dtype.Uint32:
		hdr = append(hdr, fitsio.Card{Name: "BZERO", Value: int64(1) << 31}, fitsio.Card{Name: "BSCALE", Value: 1})
	}
	for _, c := range cards {
		if !isStructural(c.Name) {
			hdr = append(hdr, c)
		}
	}
	header, err := encodeHeader(hdr)
	if err != nil {
		return nil, fmt.Errorf("encoding header: %w", err)
	}

	tmp := path + TmpSuffix
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	dataBytes := int64(width) * int64(height) * int64(t.Size())
	size := int64(len(header)) + padded(dataBytes)
	if _, err := f.WriteAt(header, 0); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, err
	}

	return &Writer{
		path:   path,
		tmp:    tmp,
		file:   f,
		width:  width,
		height: height,
		dtype:  t,
		data:   int64(len(header)),
	}, nil
}

// Width returns the image width in pixels.
func (w *Writer) Width() int { return w.width }

// Height returns the image height in pixels.
func (w *Writer) Height() int { return w.height }

// Path returns the final path of the image.
func (w *Writer) Path() string { return w.path }

// WriteWindow writes a width×height block of row-major pixels with its top
// left corner at (xoff, yoff). Bands are numbered from 1 and only band 1
// exists. T must match the image type.
//
// Row 0 is the top of the image. A FITS data unit starts with the bottom
// row, so raster row y is stored as data row height-1-y and viewers show
// the image the way the rows are numbered here.
func WriteWindow[T dtype.Element](w *Writer, band, xoff, yoff, width, height int, data []T) error {
	if w.closed {
		return ErrClosed
	}
	if band != 1 {
		return fmt.Errorf("%w: band %d of 1", ErrWindow, band)
	}
	if xoff < 0 || yoff < 0 || width < 0 || height < 0 || xoff+width > w.width || yoff+height > w.height {
		return fmt.Errorf("%w: %dx%d at (%d, %d) in %dx%d", ErrWindow, width, height, xoff, yoff, w.width, w.height)
	}
	if len(data) != width*height {
		return fmt.Errorf("%w: %d pixels for %dx%d window", ErrWindow, len(data), width, height)
	}
	if got := dtype.Of[T](); got != w.dtype {
		return fmt.Errorf("%w: writing %s to %s image", ErrUnsupportedType, got, w.dtype)
	}

	raw, err := dtype.EncodeOrder(w.dtype, data, binary.BigEndian)
	if err != nil {
		return err
	}
	if w.dtype == dtype.Uint16 || w.dtype == dtype.Uint32 {
		// Unsigned values are stored offset by BZERO, which for
		// big-endian data flips the sign bit.
		size := w.dtype.Size()
		for i := 0; i < len(raw); i += size {
			raw[i] ^= 0x80
		}
	}

	es := int64(w.dtype.Size())
	rowBytes := int64(width) * es
	for row := range height {
		stored := int64(w.height - 1 - (yoff + row))
		off := w.data + (stored*int64(w.width)+int64(xoff))*es
		if _, err := w.file.WriteAt(raw[int64(row)*rowBytes:int64(row+1)*rowBytes], off); err != nil {
			return err
		}
	}
	return nil
}

// Close syncs the image and moves it to its final path.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(w.tmp)
		return err
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmp)
		return err
	}
	if err := os.Rename(w.tmp, w.path); err != nil {
		os.Remove(w.tmp)
		return err
	}
	return nil
}

// Abort discards a partially written image.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.file.Close()
	return os.Remove(w.tmp)
}
