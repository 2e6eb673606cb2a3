// Package wire implements the consensus core's serialization codec: fixed
// big-endian integers and length-prefixed byte strings (spec.md §4.1). It
// generalizes the cursor/writer split of the teacher repo's
// consensus/wire.go and consensus/wire_read.go/wire_write.go from their
// little-endian CompactSize scheme to Thunderbolt's big-endian, explicit
// per-field prefix-width scheme.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Reader reads big-endian fields from a fixed byte slice, tracking position.
type Reader struct {
	b   []byte
	pos int
}

// NewReader wraps b for sequential big-endian reads starting at offset 0.
func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

// Pos returns the current read offset.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	if r.pos >= len(r.b) {
		return 0
	}
	return len(r.b) - r.pos
}

func (r *Reader) readExact(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("wire: truncated read: need %d, have %d", n, r.Remaining())
	}
	start := r.pos
	r.pos += n
	return r.b[start:r.pos], nil
}

// U8 reads one byte.
func (r *Reader) U8() (uint8, error) {
	b, err := r.readExact(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U32 reads a 4-byte big-endian unsigned integer.
func (r *Reader) U32() (uint32, error) {
	b, err := r.readExact(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// U64 reads an 8-byte big-endian unsigned integer.
func (r *Reader) U64() (uint64, error) {
	b, err := r.readExact(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Bytes reads n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	return r.readExact(n)
}

// Hash32 reads a fixed 32-byte value.
func (r *Reader) Hash32() ([32]byte, error) {
	var out [32]byte
	b, err := r.readExact(32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// ShortBytes reads a 1-byte-length-prefixed byte string (fields specified
// as "<=255" in spec.md §3, e.g. a SingleSig signature).
func (r *Reader) ShortBytes() ([]byte, error) {
	n, err := r.U8()
	if err != nil {
		return nil, err
	}
	return r.Bytes(int(n))
}

// LongBytes reads a 4-byte-length-prefixed byte string.
func (r *Reader) LongBytes() ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if n > uint32(r.Remaining()) {
		return nil, fmt.Errorf("wire: long-bytes length %d exceeds remaining %d", n, r.Remaining())
	}
	return r.Bytes(int(n))
}

// AtEnd reports whether every byte has been consumed.
func (r *Reader) AtEnd() bool { return r.Remaining() == 0 }
