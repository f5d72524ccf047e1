// Package raster writes single-band FITS images window by window and reads
// the shape and metadata of template images.
//
// Images are written to "<path>.tmp", pre-sized so windows can be written
// in any order, and renamed into place on Close. Only the primary HDU is
// used.
package raster
