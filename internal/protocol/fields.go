package protocol

import (
	"encoding/binary"
	"fmt"
)

// Fields are encoded as a 4-byte little-endian length followed by the raw
// bytes. Declared lengths are validated against both the remaining buffer
// and the field's protocol maximum before any bytes are copied, so a hostile
// length can never trigger an oversized allocation or an out-of-bounds read.

// AppendField appends the length-prefixed encoding of v to b.
func AppendField(b, v []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(v)))
	return append(b, v...)
}

// FieldReader walks a buffer of length-prefixed fields.
type FieldReader struct {
	buf []byte
	off int
}

func NewFieldReader(buf []byte) *FieldReader {
	return &FieldReader{buf: buf}
}

// Next extracts the next field, rejecting declared lengths that exceed max
// or the remaining buffer. The returned slice is a copy.
func (r *FieldReader) Next(max int) ([]byte, error) {
	rem := len(r.buf) - r.off
	if rem < 4 {
		return nil, fmt.Errorf("%w: missing length prefix", ErrMsgFormat)
	}
	n := binary.LittleEndian.Uint32(r.buf[r.off : r.off+4])
	if n > uint32(max) {
		return nil, fmt.Errorf("%w: field length %d exceeds maximum %d", ErrMsgFormat, n, max)
	}
	if int(n) > rem-4 {
		return nil, fmt.Errorf("%w: field length %d exceeds remaining %d bytes", ErrMsgFormat, n, rem-4)
	}
	r.off += 4
	v := make([]byte, n)
	copy(v, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return v, nil
}

// Close verifies the whole buffer was consumed. Trailing bytes after the last
// declared field are a format error.
func (r *FieldReader) Close() error {
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMsgFormat, len(r.buf)-r.off)
	}
	return nil
}
