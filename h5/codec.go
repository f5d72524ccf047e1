package h5

import (
	"fmt"

	binpkg "github.com/robert-malhotra/go-rasterstats/internal/binary"
)

// decoder reads fields from a metadata block. The first error sticks and
// later reads return zero values.
type decoder struct {
	r          *binpkg.Reader
	offsetSize int
	lengthSize int
	err        error
}

func newDecoder(data []byte, sb *superblock) *decoder {
	return &decoder{r: binpkg.NewReader(binpkg.NewBuffer(data)), offsetSize: sb.offsetSize, lengthSize: sb.lengthSize}
}

func (d *decoder) pos() int {
	return int(d.r.Pos())
}

func (d *decoder) seek(p int) {
	d.r = d.r.At(int64(p))
}

func (d *decoder) skip(n int) {
	d.r.Skip(int64(n))
}

func (d *decoder) u8() uint8 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadUint8()
	d.err = err
	return v
}

func (d *decoder) u16() uint16 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadUint16()
	d.err = err
	return v
}

func (d *decoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadUint32()
	d.err = err
	return v
}

func (d *decoder) u64() uint64 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadUint64()
	d.err = err
	return v
}

func (d *decoder) uN(n int) uint64 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadUintN(n)
	d.err = err
	return v
}

// addr reads a file offset, mapping the all-ones value to undefined.
func (d *decoder) addr() uint64 {
	v := d.uN(d.offsetSize)
	if d.err == nil && isUndefined(v, d.offsetSize) {
		return undefined
	}
	return v
}

func (d *decoder) length() uint64 {
	return d.uN(d.lengthSize)
}

func (d *decoder) bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 {
		d.err = fmt.Errorf("%w: negative field length", ErrCorrupt)
		return nil
	}
	v, err := d.r.ReadBytes(n)
	d.err = err
	return v
}

// encoder assembles a metadata block in memory. Offsets and lengths are
// always written 8 bytes wide.
type encoder struct {
	buf *binpkg.Buffer
	w   *binpkg.Writer
	err error
}

func newEncoder() *encoder {
	buf := &binpkg.Buffer{}
	return &encoder{buf: buf, w: binpkg.NewWriter(buf)}
}

func (e *encoder) Bytes() []byte {
	return e.buf.Bytes()
}

func (e *encoder) raw(p []byte) {
	if e.err == nil {
		e.err = e.w.WriteBytes(p)
	}
}

func (e *encoder) u8(v uint8) {
	if e.err == nil {
		e.err = e.w.WriteUint8(v)
	}
}

func (e *encoder) u16(v uint16) {
	if e.err == nil {
		e.err = e.w.WriteUint16(v)
	}
}

func (e *encoder) u32(v uint32) {
	if e.err == nil {
		e.err = e.w.WriteUint32(v)
	}
}

func (e *encoder) u64(v uint64) {
	if e.err == nil {
		e.err = e.w.WriteUint64(v)
	}
}

func (e *encoder) uN(v uint64, n int) {
	if e.err == nil {
		e.err = e.w.WriteUintN(v, n)
	}
}

func (e *encoder) zeros(n int) {
	if e.err == nil {
		e.err = e.w.WriteZeros(n)
	}
}

// checksum appends the lookup3 sum of everything written so far.
func (e *encoder) checksum() {
	e.u32(binpkg.Lookup3(e.buf.Bytes()))
}
