package starchive

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestBytesBuilder_Basics(t *testing.T) {
	var bb bytesBuilder
	off := bb.Grow(3)
	copy(bb.Buf[off:], []byte{1, 2, 3})
	bb.AppendByte(4)
	bb.AppendUint16(0x0605)
	bb.AppendUint32(0x0a090807)
	bb.AppendString("hi")
	_, _ = bb.Write([]byte{0xee})

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 2, 0, 0, 0, 'h', 'i', 0xee}
	if !reflect.DeepEqual(bb.Buf, want) {
		t.Fatalf("bb.Buf = %x, wanted %x", bb.Buf, want)
	}

	bb.PutUint32At(0, 0xddccbbaa)
	if !reflect.DeepEqual(bb.Buf[:4], []byte{0xaa, 0xbb, 0xcc, 0xdd}) {
		t.Fatalf("after PutUint32At: bb.Buf = %x", bb.Buf[:4])
	}
}

func TestEnsureCapacity(t *testing.T) {
	buf := ensureCapacity([]byte{1}, 5)
	if cap(buf) != 16 || len(buf) != 1 || buf[0] != 1 {
		t.Fatalf("ensureCapacity = len %d cap %d, wanted len 1 cap 16", len(buf), cap(buf))
	}
	buf = ensureCapacity(buf, 40)
	if cap(buf) != 64 {
		t.Fatalf("cap = %d, wanted 64", cap(buf))
	}
}

func TestSize(t *testing.T) {
	tests := []struct {
		v       uint64
		encoded int
	}{
		{0, 1},
		{252, 1},
		{253, 3},
		{math.MaxUint16, 3},
		{math.MaxUint16 + 1, 5},
		{math.MaxUint32, 5},
		{math.MaxUint32 + 1, 9},
		{math.MaxUint64, 9},
	}
	for _, tt := range tests {
		var bb bytesBuilder
		bb.AppendSize(tt.v)
		if bb.Len() != tt.encoded {
			t.Fatalf("AppendSize(%d) wrote %d bytes, wanted %d", tt.v, bb.Len(), tt.encoded)
		}
		d := makeByteDecoder(bb.Buf)
		v, err := d.Size()
		if err != nil || v != tt.v || d.Remaining() != 0 {
			t.Fatalf("Size() = %d, %v (remaining %d), wanted %d", v, err, d.Remaining(), tt.v)
		}
	}

	d := makeByteDecoder([]byte{sizeMarker32, 1, 2})
	if _, err := d.Size(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("Size() on truncated data = %v, wanted ErrTruncated", err)
	}
}

func TestByteDecoder(t *testing.T) {
	var bb bytesBuilder
	bb.AppendUint64(42)
	bb.AppendVarBytes([]byte("abc"))
	bb.AppendUint32(3)

	d := makeByteDecoder(bb.Buf)
	if v, err := d.Uint64(); err != nil || v != 42 {
		t.Fatalf("Uint64() = %d, %v, wanted 42", v, err)
	}
	if s, err := d.Str(); err != nil || s != "abc" {
		t.Fatalf("Str() = %q, %v, wanted abc", s, err)
	}
	pos := d.Pos
	if _, err := d.Count(2); !errors.Is(err, ErrTruncated) {
		t.Fatalf("Count(2) with nothing left = %v, wanted ErrTruncated", err)
	}
	d.Pos = pos
	if n, err := d.Count(0); err != nil || n != 3 {
		t.Fatalf("Count(0) = %d, %v, wanted 3", n, err)
	}
	if _, err := d.Byte(); !errors.Is(err, ErrTruncated) || !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Byte() at end = %v, wanted ErrTruncated", err)
	}

	if err := d.SeekTo(8); err != nil || d.Remaining() != len(bb.Buf)-8 {
		t.Fatalf("SeekTo(8) = %v, remaining %d", err, d.Remaining())
	}
	if err := d.SeekTo(len(bb.Buf) + 1); !errors.Is(err, ErrTruncated) {
		t.Fatalf("SeekTo past end = %v, wanted ErrTruncated", err)
	}
	if err := d.SeekTo(-1); err == nil {
		t.Fatalf("SeekTo(-1) succeeded")
	}
}
