package wire

import "encoding/binary"

// Writer accumulates big-endian fields into a growable byte slice.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer with the given initial capacity hint.
func NewWriter(capHint int) *Writer {
	return &Writer{buf: make([]byte, 0, capHint)}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// U8 appends one byte.
func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

// U32 appends a 4-byte big-endian unsigned integer.
func (w *Writer) U32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// U64 appends an 8-byte big-endian unsigned integer.
func (w *Writer) U64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// Raw appends b verbatim, with no length prefix.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// ShortBytes appends b with a 1-byte length prefix. Callers must ensure
// len(b) <= 255.
func (w *Writer) ShortBytes(b []byte) {
	w.U8(uint8(len(b)))
	w.Raw(b)
}

// LongBytes appends b with a 4-byte length prefix.
func (w *Writer) LongBytes(b []byte) {
	w.U32(uint32(len(b)))
	w.Raw(b)
}
