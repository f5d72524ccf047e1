package h5

import (
	"bytes"
	"fmt"

	binpkg "github.com/robert-malhotra/go-rasterstats/internal/binary"
)

// Header message types.
const (
	msgNil          = 0x00
	msgDataspace    = 0x01
	msgLinkInfo     = 0x02
	msgDatatype     = 0x03
	msgFillOld      = 0x04
	msgFill         = 0x05
	msgLink         = 0x06
	msgLayout       = 0x08
	msgGroupInfo    = 0x0A
	msgFilters      = 0x0B
	msgContinuation = 0x10
	msgSymbolTable  = 0x11
)

// msgFlagShared marks a message stored in the shared message heap.
const msgFlagShared = 0x02

// maxHeaderChunks bounds continuation chains.
const maxHeaderChunks = 1024

type message struct {
	typ   uint16
	flags uint8
	data  []byte
}

type header struct {
	addr     uint64
	messages []message
}

func (h *header) find(typ uint16) (message, bool) {
	for _, m := range h.messages {
		if m.typ == typ {
			return m, true
		}
	}
	return message{}, false
}

func (h *header) all(typ uint16) []message {
	var out []message
	for _, m := range h.messages {
		if m.typ == typ {
			out = append(out, m)
		}
	}
	return out
}

type span struct {
	addr, size uint64
}

func (f *File) readHeader(addr uint64) (*header, error) {
	if addr == undefined {
		return nil, fmt.Errorf("%w: undefined object header address", ErrCorrupt)
	}
	prefix, err := f.readAt(addr, 4)
	if err != nil {
		return nil, fmt.Errorf("object header at 0x%x: %w", addr, err)
	}
	h := &header{addr: addr}
	switch {
	case bytes.Equal(prefix, []byte("OHDR")):
		err = f.readHeaderV2(h)
	case prefix[0] == 1:
		err = f.readHeaderV1(h)
	default:
		err = fmt.Errorf("%w: object header version %d", ErrUnsupported, prefix[0])
	}
	if err != nil {
		return nil, fmt.Errorf("object header at 0x%x: %w", addr, err)
	}
	return h, nil
}

func (f *File) readHeaderV1(h *header) error {
	prefix, err := f.readAt(h.addr, 16)
	if err != nil {
		return err
	}
	size := uint64(binpkg.Order.Uint32(prefix[8:]))
	queue := []span{{h.addr + 16, size}}
	for n := 0; len(queue) > 0; n++ {
		if n == maxHeaderChunks {
			return fmt.Errorf("%w: too many header continuations", ErrCorrupt)
		}
		c := queue[0]
		queue = queue[1:]
		block, err := f.readAt(c.addr, int(c.size))
		if err != nil {
			return err
		}
		for p := 0; p+8 <= len(block); {
			typ := binpkg.Order.Uint16(block[p:])
			msize := int(binpkg.Order.Uint16(block[p+2:]))
			flags := block[p+4]
			start := p + 8
			if start+msize > len(block) {
				return fmt.Errorf("%w: message 0x%x overruns its header chunk", ErrCorrupt, typ)
			}
			data := block[start : start+msize]
			p = start + align8(msize)
			next, err := f.collect(h, typ, flags, data)
			if err != nil {
				return err
			}
			if next.size > 0 {
				queue = append(queue, next)
			}
		}
	}
	return nil
}

func (f *File) readHeaderV2(h *header) error {
	fixed, err := f.readAt(h.addr, 6)
	if err != nil {
		return err
	}
	if fixed[4] != 2 {
		return fmt.Errorf("%w: OHDR version %d", ErrUnsupported, fixed[4])
	}
	flags := fixed[5]
	p := 6
	if flags&0x20 != 0 {
		p += 16
	}
	if flags&0x10 != 0 {
		p += 4
	}
	width := 1 << (flags & 0x03)
	field, err := f.readAt(h.addr+uint64(p), width)
	if err != nil {
		return err
	}
	size := binpkg.UintN(field)
	p += width
	if size > maxBlock {
		return fmt.Errorf("%w: OHDR chunk of %d bytes", ErrCorrupt, size)
	}

	whole, err := f.readAt(h.addr, p+int(size)+4)
	if err != nil {
		return err
	}
	body := whole[:p+int(size)]
	if binpkg.Order.Uint32(whole[len(body):]) != binpkg.Lookup3(body) {
		return fmt.Errorf("%w: OHDR", ErrChecksum)
	}
	ordered := flags&0x04 != 0
	return f.parseV2Messages(h, body[p:], ordered, func(s span) error {
		return f.readContinuationV2(h, s, ordered, 1)
	})
}

func (f *File) readContinuationV2(h *header, s span, ordered bool, depth int) error {
	if depth == maxHeaderChunks {
		return fmt.Errorf("%w: too many header continuations", ErrCorrupt)
	}
	if s.size < 8 {
		return fmt.Errorf("%w: continuation block of %d bytes", ErrCorrupt, s.size)
	}
	block, err := f.readAt(s.addr, int(s.size))
	if err != nil {
		return err
	}
	if !bytes.Equal(block[:4], []byte("OCHK")) {
		return fmt.Errorf("%w: bad OCHK signature at 0x%x", ErrCorrupt, s.addr)
	}
	body := block[:len(block)-4]
	if binpkg.Order.Uint32(block[len(body):]) != binpkg.Lookup3(body) {
		return fmt.Errorf("%w: OCHK at 0x%x", ErrChecksum, s.addr)
	}
	return f.parseV2Messages(h, body[4:], ordered, func(next span) error {
		return f.readContinuationV2(h, next, ordered, depth+1)
	})
}

func (f *File) parseV2Messages(h *header, block []byte, ordered bool, follow func(span) error) error {
	hdr := 4
	if ordered {
		hdr = 6
	}
	// Fewer bytes than a message prefix is a gap at the end of the chunk.
	for p := 0; p+hdr <= len(block); {
		typ := uint16(block[p])
		msize := int(binpkg.Order.Uint16(block[p+1:]))
		flags := block[p+3]
		start := p + hdr
		if start+msize > len(block) {
			return fmt.Errorf("%w: message 0x%x overruns its header chunk", ErrCorrupt, typ)
		}
		data := block[start : start+msize]
		p = start + msize
		next, err := f.collect(h, typ, flags, data)
		if err != nil {
			return err
		}
		if next.size > 0 {
			if err := follow(next); err != nil {
				return err
			}
		}
	}
	return nil
}

// collect stores a message on h, or returns the block a continuation
// message points at.
func (f *File) collect(h *header, typ uint16, flags uint8, data []byte) (span, error) {
	switch typ {
	case msgNil:
		return span{}, nil
	case msgContinuation:
		d := newDecoder(data, f.sb)
		s := span{addr: d.addr(), size: d.length()}
		if d.err != nil {
			return span{}, fmt.Errorf("continuation message: %w", d.err)
		}
		return s, nil
	}
	h.messages = append(h.messages, message{typ: typ, flags: flags, data: data})
	return span{}, nil
}

func align8(n int) int {
	return (n + 7) &^ 7
}

// encodeHeader returns a version 2 object header holding msgs.
func encodeHeader(msgs []message) ([]byte, error) {
	body := newEncoder()
	for _, m := range msgs {
		if len(m.data) > 0xFFFF {
			return nil, fmt.Errorf("%w: header message of %d bytes", ErrUnsupported, len(m.data))
		}
		body.u8(uint8(m.typ))
		body.u16(uint16(len(m.data)))
		body.u8(m.flags)
		body.raw(m.data)
	}
	if body.err != nil {
		return nil, body.err
	}
	size := uint64(len(body.Bytes()))

	var code uint8
	switch {
	case size <= 0xFF:
		code = 0
	case size <= 0xFFFF:
		code = 1
	case size <= 0xFFFFFFFF:
		code = 2
	default:
		code = 3
	}
	e := newEncoder()
	e.raw([]byte("OHDR"))
	e.u8(2)
	e.u8(code)
	e.uN(size, 1<<code)
	e.raw(body.Bytes())
	e.checksum()
	return e.Bytes(), e.err
}
