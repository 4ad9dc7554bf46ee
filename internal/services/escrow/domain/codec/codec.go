// Package codec implements the fixed little-endian layout shared by account
// records and instruction arguments.
//
// Integers are little-endian, booleans are one byte (0 or 1), strings and
// byte strings carry a u32 length prefix, and vectors carry a u32 count.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
)

var (
	// ErrShortBuffer reports input that ended before a field was complete.
	ErrShortBuffer = errors.New("short buffer")
	// ErrInvalidBool reports a boolean byte other than 0 or 1.
	ErrInvalidBool = errors.New("invalid bool")
	// ErrInvalidUTF8 reports a string field that is not UTF-8.
	ErrInvalidUTF8 = errors.New("invalid utf-8 string")
	// ErrTooLong reports a length prefix above the caller's cap.
	ErrTooLong = errors.New("length prefix exceeds limit")
	// ErrTrailingBytes reports unread input after the last field.
	ErrTrailingBytes = errors.New("trailing bytes")
)

// Writer appends fields to a byte slice.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity hint size.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// Bytes returns the encoded bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) U16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

func (w *Writer) U32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *Writer) U64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

func (w *Writer) Address(a address.Address) { w.buf = append(w.buf, a[:]...) }

// Raw appends b without a length prefix.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// ByteString appends b with a u32 length prefix.
func (w *Writer) ByteString(b []byte) {
	w.U32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// String appends s with a u32 length prefix.
func (w *Writer) String(s string) { w.ByteString([]byte(s)) }

// PadTo zero-fills the buffer up to size bytes. Larger buffers are left alone.
func (w *Writer) PadTo(size int) {
	for len(w.buf) < size {
		w.buf = append(w.buf, 0)
	}
}

// Reader consumes fields from a byte slice. The first failure sticks: later
// reads return zero values and Err reports the original failure.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader reads from b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Err returns the first decode failure.
func (r *Reader) Err() error { return r.err }

// Fail records err unless an earlier failure is already recorded.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Finish fails with ErrTrailingBytes when unread input remains.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if r.Remaining() != 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, r.Remaining())
	}
	return nil
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d", ErrShortBuffer, n, r.off)
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) I64() int64 { return int64(r.U64()) }

func (r *Reader) Bool() bool {
	v := r.U8()
	if r.err != nil {
		return false
	}
	switch v {
	case 0:
		return false
	case 1:
		return true
	default:
		r.err = fmt.Errorf("%w: %d", ErrInvalidBool, v)
		return false
	}
}

func (r *Reader) Address() address.Address {
	var a address.Address
	copy(a[:], r.take(address.Size))
	return a
}

// Raw reads n bytes without a length prefix.
func (r *Reader) Raw(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// ByteString reads a u32-length-prefixed byte string of at most max bytes.
func (r *Reader) ByteString(max int) []byte {
	n := r.U32()
	if r.err != nil {
		return nil
	}
	if uint64(n) > uint64(max) {
		r.err = fmt.Errorf("%w: %d > %d", ErrTooLong, n, max)
		return nil
	}
	return r.Raw(int(n))
}

// String reads a u32-length-prefixed UTF-8 string of at most max bytes.
func (r *Reader) String(max int) string {
	b := r.ByteString(max)
	if r.err != nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.err = ErrInvalidUTF8
		return ""
	}
	return string(b)
}

// Count reads a u32 vector length of at most max elements.
func (r *Reader) Count(max int) int {
	n := r.U32()
	if r.err != nil {
		return 0
	}
	if uint64(n) > uint64(max) {
		r.err = fmt.Errorf("%w: %d > %d", ErrTooLong, n, max)
		return 0
	}
	return int(n)
}
