// Package wire implements the deterministic, length-prefixed binary
// encoding used for every witness and proof in the challenge/revert engine
// (SPEC_FULL EXP-3): a small fixed LE/length-prefix toolkit, since the
// on-chain layout here is fixed-width rather than a variable-width scheme.
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned when a Reader runs out of bytes mid-field.
var ErrTruncated = errors.New("wire: truncated input")

// Writer builds a byte sequence using fixed-width little-endian fields and
// length-prefixed variable fields, matching the field order on-chain
// validators expect (see contracts/state-validator layout referenced in
// SPEC_FULL EXP-4).
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// WriteUint32LE appends a 4-byte little-endian integer.
func (w *Writer) WriteUint32LE(v uint32) *Writer {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// WriteUint64LE appends an 8-byte little-endian integer.
func (w *Writer) WriteUint64LE(v uint64) *Writer {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// WriteFixed appends b verbatim, with no length prefix. Use for fields whose
// length is implied by context (a 32-byte hash, a fixed-size array).
func (w *Writer) WriteFixed(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// WriteBytesWithLen appends a uint32-LE length prefix followed by b.
func (w *Writer) WriteBytesWithLen(b []byte) *Writer {
	w.WriteUint32LE(uint32(len(b)))
	w.buf = append(w.buf, b...)
	return w
}

// WriteVec writes a uint32-LE element count followed by each element,
// encoded by write.
func WriteVec[T any](w *Writer, items []T, write func(*Writer, T)) *Writer {
	w.WriteUint32LE(uint32(len(items)))
	for _, item := range items {
		write(w, item)
	}
	return w
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Reader consumes a byte sequence produced by Writer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps b for sequential reads.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// ReadUint32LE reads a 4-byte little-endian integer.
func (r *Reader) ReadUint32LE() (uint32, error) {
	if len(r.buf)-r.pos < 4 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

// ReadUint64LE reads an 8-byte little-endian integer.
func (r *Reader) ReadUint64LE() (uint64, error) {
	if len(r.buf)-r.pos < 8 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

// ReadFixed reads exactly n bytes verbatim.
func (r *Reader) ReadFixed(n int) ([]byte, error) {
	if len(r.buf)-r.pos < n {
		return nil, ErrTruncated
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// ReadBytesWithLen reads a uint32-LE length prefix followed by that many
// bytes.
func (r *Reader) ReadBytesWithLen() ([]byte, error) {
	n, err := r.ReadUint32LE()
	if err != nil {
		return nil, err
	}
	return r.ReadFixed(int(n))
}

// ReadVec reads a uint32-LE element count followed by that many elements,
// each decoded by read.
func ReadVec[T any](r *Reader, read func(*Reader) (T, error)) ([]T, error) {
	n, err := r.ReadUint32LE()
	if err != nil {
		return nil, err
	}
	out := make([]T, n)
	for i := range out {
		v, err := read(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Empty reports whether every byte has been consumed.
func (r *Reader) Empty() bool {
	return r.pos == len(r.buf)
}

// Remaining returns the number of unconsumed bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}
