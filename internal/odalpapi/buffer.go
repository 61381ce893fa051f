package odalpapi

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
)

// ErrShortBuffer is returned when a read runs past the end of the
// datagram. A truncated packet is a failed query, never a panic.
var ErrShortBuffer = errors.New("odalpapi: read past end of buffer")

// reader is a bounds-checked cursor over one response datagram.
// All multi-byte fields on the wire are little-endian.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) u8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, ErrShortBuffer
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, ErrShortBuffer
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrShortBuffer
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// str reads bytes until NUL or end of buffer. The terminator is
// consumed; running off the end without one is not an error, matching
// the wire format's length-implicit strings.
func (r *reader) str() (string, error) {
	if r.remaining() < 1 {
		return "", ErrShortBuffer
	}
	start := r.pos
	for r.pos < len(r.buf) && r.buf[r.pos] != 0 {
		r.pos++
	}
	s := string(r.buf[start:r.pos])
	if r.pos < len(r.buf) {
		r.pos++ // consume NUL
	}
	return s, nil
}

// hexStr reads one length byte followed by that many raw bytes and
// returns them hex-encoded. This is the second length convention on
// the wire, used for password and WAD hashes.
func (r *reader) hexStr() (string, error) {
	n, err := r.u8()
	if err != nil {
		return "", err
	}
	if r.remaining() < int(n) {
		return "", ErrShortBuffer
	}
	s := hex.EncodeToString(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// writer builds outgoing datagrams (and synthetic responses in tests).
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *writer) str(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

func (w *writer) hexStr(raw []byte) {
	w.u8(uint8(len(raw)))
	w.buf = append(w.buf, raw...)
}

func (w *writer) bytes() []byte { return w.buf }
