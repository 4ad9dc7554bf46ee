package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
)

func TestWriterLayout(t *testing.T) {
	w := NewWriter(0)
	w.U8(1)
	w.U16(0x0203)
	w.U64(5)
	w.I64(-1)
	w.Bool(true)
	w.String("ab")

	want := []byte{
		1,
		0x03, 0x02,
		5, 0, 0, 0, 0, 0, 0, 0,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		1,
		2, 0, 0, 0, 'a', 'b',
	}
	if !bytes.Equal(w.Bytes(), want) {
		t.Fatalf("layout = %v, want %v", w.Bytes(), want)
	}
}

func TestReaderDecodesWriterOutput(t *testing.T) {
	addr := address.Address{4, 5, 6}
	w := NewWriter(0)
	w.U32(7)
	w.Address(addr)
	w.ByteString([]byte{9, 9})
	w.Bool(false)
	w.I64(-42)

	r := NewReader(w.Bytes())
	if got := r.U32(); got != 7 {
		t.Fatalf("u32 = %d", got)
	}
	if got := r.Address(); got != addr {
		t.Fatalf("address = %v", got)
	}
	if got := r.ByteString(2); !bytes.Equal(got, []byte{9, 9}) {
		t.Fatalf("byte string = %v", got)
	}
	if r.Bool() {
		t.Fatal("expected false")
	}
	if got := r.I64(); got != -42 {
		t.Fatalf("i64 = %d", got)
	}
	if err := r.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
}

func TestReaderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		read func(*Reader)
		want error
	}{
		{"short", []byte{1, 2}, func(r *Reader) { r.U64() }, ErrShortBuffer},
		{"bool", []byte{2}, func(r *Reader) { r.Bool() }, ErrInvalidBool},
		{"too long", []byte{5, 0, 0, 0, 'a', 'b', 'c', 'd', 'e'}, func(r *Reader) { r.String(4) }, ErrTooLong},
		{"utf8", []byte{1, 0, 0, 0, 0xff}, func(r *Reader) { r.String(4) }, ErrInvalidUTF8},
		{"count", []byte{9, 0, 0, 0}, func(r *Reader) { r.Count(3) }, ErrTooLong},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReader(tc.data)
			tc.read(r)
			if !errors.Is(r.Err(), tc.want) {
				t.Fatalf("err = %v, want %v", r.Err(), tc.want)
			}
		})
	}
}

func TestReaderErrorSticks(t *testing.T) {
	r := NewReader([]byte{1})
	_ = r.U16()
	if got := r.U8(); got != 0 {
		t.Fatalf("expected zero after failure, got %d", got)
	}
	if !errors.Is(r.Finish(), ErrShortBuffer) {
		t.Fatalf("finish = %v", r.Finish())
	}
}

func TestFinishRejectsTrailingBytes(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_ = r.U8()
	if !errors.Is(r.Finish(), ErrTrailingBytes) {
		t.Fatalf("expected trailing bytes error, got %v", r.Finish())
	}
}

func TestPadTo(t *testing.T) {
	w := NewWriter(0)
	w.U8(1)
	w.PadTo(4)
	if !bytes.Equal(w.Bytes(), []byte{1, 0, 0, 0}) {
		t.Fatalf("padded = %v", w.Bytes())
	}
	w.PadTo(2)
	if w.Len() != 4 {
		t.Fatalf("pad must not shrink, len = %d", w.Len())
	}
}
