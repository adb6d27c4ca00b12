// Package wire implements the length-prefixed wire codecs of spec §4.8: a
// common messageHeader followed by a fixed block, optional repeating
// groups, and trailing variable-ASCII fields. All multi-byte integers are
// little-endian; variable fields use a 4-byte length prefix; repeating
// groups use a 2-byte count and a 2-byte per-element block length -- the
// same framing discipline the teacher applies by hand in transport/pdu.go.
package wire

import (
	"encoding/binary"
	"math"

	"github.com/tensorpool/tpool/tpcmn/cos"
)

// NullU32/NullU64/NullU16 are the nullable sentinels: the type's maximum value.
const (
	NullU16 = uint16(math.MaxUint16)
	NullU32 = uint32(math.MaxUint32)
	NullU64 = uint64(math.MaxUint64)
)

// Writer appends wire-encoded fields to an internal buffer.
type Writer struct {
	buf []byte
}

func NewWriter(capHint int) *Writer { return &Writer{buf: make([]byte, 0, capHint)} }

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) U8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) U16(v uint16) { w.buf = appendU16(w.buf, v) }
func (w *Writer) U32(v uint32) { w.buf = appendU32(w.buf, v) }
func (w *Writer) U64(v uint64) { w.buf = appendU64(w.buf, v) }
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Str appends a 4-byte length-prefixed ASCII string.
func (w *Writer) Str(s string) {
	w.U32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// GroupHeader appends the 2-byte count + 2-byte element-block-length header
// for a repeating group.
func (w *Writer) GroupHeader(count int, elemBlockLen uint16) {
	w.U16(uint16(count))
	w.U16(elemBlockLen)
}

func appendU16(b []byte, v uint16) []byte {
	var t [2]byte
	binary.LittleEndian.PutUint16(t[:], v)
	return append(b, t[:]...)
}
func appendU32(b []byte, v uint32) []byte {
	var t [4]byte
	binary.LittleEndian.PutUint32(t[:], v)
	return append(b, t[:]...)
}
func appendU64(b []byte, v uint64) []byte {
	var t [8]byte
	binary.LittleEndian.PutUint64(t[:], v)
	return append(b, t[:]...)
}

// Reader consumes wire-encoded fields from a buffer, tracking offset and
// surfacing short-buffer conditions as InvalidWire errors.
type Reader struct {
	b   []byte
	off int
}

func NewReader(b []byte) *Reader { return &Reader{b: b} }

func (r *Reader) remaining() int { return len(r.b) - r.off }

func (r *Reader) need(n int) error {
	if r.remaining() < n {
		return cos.NewInvalidWireErr("wire: need %d bytes, have %d", n, r.remaining())
	}
	return nil
}

func (r *Reader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.off]
	r.off++
	return v, nil
}

func (r *Reader) U16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) U64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v, nil
}

func (r *Reader) Raw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v, nil
}

func (r *Reader) Str() (string, error) {
	n, err := r.U32()
	if err != nil {
		return "", err
	}
	b, err := r.Raw(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GroupHeader reads a repeating group's count and element-block-length.
func (r *Reader) GroupHeader() (count int, elemBlockLen uint16, err error) {
	c, err := r.U16()
	if err != nil {
		return 0, 0, err
	}
	l, err := r.U16()
	if err != nil {
		return 0, 0, err
	}
	return int(c), l, nil
}

func (r *Reader) Done() bool { return r.remaining() == 0 }
