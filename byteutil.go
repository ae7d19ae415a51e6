package starchive

import (
	"encoding/binary"
	"io"
	"math"
)

func ensureCapacity(buf []byte, minCap int) []byte {
	c := cap(buf)
	if minCap > c {
		if c < 16 {
			c = 16
		}
		for minCap > c {
			c <<= 1
		}
		old := buf
		buf = make([]byte, len(old), c)
		copy(buf, old)
	}
	return buf
}

func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	newLen := off + n
	buf = ensureCapacity(buf, newLen)
	return off, buf[:newLen]
}

func appendRaw(buf []byte, chunk []byte) []byte {
	n := len(chunk)
	off, buf := grow(buf, n)
	copy(buf[off:], chunk)
	return buf
}

// bytesBuilder is the output sink of the binary formatters. All fixed-width
// values are little-endian.
type bytesBuilder struct {
	Buf []byte
}

var _ io.Writer = (*bytesBuilder)(nil)

func (bb *bytesBuilder) Len() int {
	return len(bb.Buf)
}

func (bb *bytesBuilder) Grow(n int) (off int) {
	off, bb.Buf = grow(bb.Buf, n)
	return
}

func (bb *bytesBuilder) Write(b []byte) (int, error) {
	bb.Buf = appendRaw(bb.Buf, b)
	return len(b), nil
}

func (bb *bytesBuilder) AppendRaw(b []byte) {
	bb.Buf = appendRaw(bb.Buf, b)
}

func (bb *bytesBuilder) AppendByte(v byte) {
	off := bb.Grow(1)
	bb.Buf[off] = v
}

func (bb *bytesBuilder) AppendUint16(v uint16) {
	off := bb.Grow(2)
	binary.LittleEndian.PutUint16(bb.Buf[off:], v)
}

func (bb *bytesBuilder) AppendUint32(v uint32) {
	off := bb.Grow(4)
	binary.LittleEndian.PutUint32(bb.Buf[off:], v)
}

func (bb *bytesBuilder) AppendUint64(v uint64) {
	off := bb.Grow(8)
	binary.LittleEndian.PutUint64(bb.Buf[off:], v)
}

func (bb *bytesBuilder) AppendVarBytes(v []byte) {
	bb.AppendUint32(uint32(len(v)))
	bb.AppendRaw(v)
}

func (bb *bytesBuilder) AppendString(s string) {
	bb.AppendUint32(uint32(len(s)))
	off := bb.Grow(len(s))
	copy(bb.Buf[off:], s)
}

// AppendSize writes the variable-length field size used by the tagged
// format's record index: one byte below 253, otherwise a marker byte
// followed by a 16, 32 or 64-bit value.
func (bb *bytesBuilder) AppendSize(v uint64) {
	switch {
	case v < sizeMarker16:
		bb.AppendByte(byte(v))
	case v <= math.MaxUint16:
		bb.AppendByte(sizeMarker16)
		bb.AppendUint16(uint16(v))
	case v <= math.MaxUint32:
		bb.AppendByte(sizeMarker32)
		bb.AppendUint32(uint32(v))
	default:
		bb.AppendByte(sizeMarker64)
		bb.AppendUint64(v)
	}
}

func (bb *bytesBuilder) PutUint32At(off int, v uint32) {
	binary.LittleEndian.PutUint32(bb.Buf[off:], v)
}

func (bb *bytesBuilder) PutUint64At(off int, v uint64) {
	binary.LittleEndian.PutUint64(bb.Buf[off:], v)
}

const (
	sizeMarker16 = 253
	sizeMarker32 = 254
	sizeMarker64 = 255
)

// byteDecoder reads from an in-memory archive. It can
// seek, which the tagged format needs for random field access.
type byteDecoder struct {
	Orig []byte
	Pos  int
}

func makeByteDecoder(buf []byte) byteDecoder {
	return byteDecoder{Orig: buf}
}

func (d *byteDecoder) Remaining() int {
	return len(d.Orig) - d.Pos
}

func (d *byteDecoder) SeekTo(off int) error {
	if off < 0 || off > len(d.Orig) {
		return dataErrf(d.Orig, d.Pos, ErrTruncated, "seek to %d out of range", off)
	}
	d.Pos = off
	return nil
}

func (d *byteDecoder) Raw(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, dataErrf(d.Orig, d.Pos, ErrTruncated, "not enough data: %d bytes remaining, %d wanted", d.Remaining(), n)
	}
	v := d.Orig[d.Pos : d.Pos+n]
	d.Pos += n
	return v, nil
}

func (d *byteDecoder) Byte() (byte, error) {
	b, err := d.Raw(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *byteDecoder) Uint16() (uint16, error) {
	b, err := d.Raw(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *byteDecoder) Uint32() (uint32, error) {
	b, err := d.Raw(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *byteDecoder) Uint64() (uint64, error) {
	b, err := d.Raw(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Count reads a 4-byte element count and sanity-checks it against the
// remaining data, assuming every element occupies at least minElemSize bytes.
func (d *byteDecoder) Count(minElemSize int) (int, error) {
	off := d.Pos
	v, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	if minElemSize > 0 && uint64(v)*uint64(minElemSize) > uint64(d.Remaining()) {
		return 0, dataErrf(d.Orig, off, ErrTruncated, "count %d exceeds remaining %d bytes", v, d.Remaining())
	}
	return int(v), nil
}

func (d *byteDecoder) VarBytes() ([]byte, error) {
	n, err := d.Count(1)
	if err != nil {
		return nil, err
	}
	return d.Raw(n)
}

func (d *byteDecoder) Str() (string, error) {
	b, err := d.VarBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *byteDecoder) Size() (uint64, error) {
	m, err := d.Byte()
	if err != nil {
		return 0, err
	}
	switch m {
	case sizeMarker16:
		v, err := d.Uint16()
		return uint64(v), err
	case sizeMarker32:
		v, err := d.Uint32()
		return uint64(v), err
	case sizeMarker64:
		return d.Uint64()
	default:
		return uint64(m), nil
	}
}
