package starchive

import (
	"bytes"
	"encoding/binary"
	"math"
)

// BinaryWriter writes the compact binary format: scalars in traversal order
// with no names and no type tags. Array and map counts are 4-byte integers
// written up front; stream counts are back-patched when the stream closes.
// Optional fields are preceded by a presence byte.
type BinaryWriter struct {
	out     bytesBuilder
	streams []binaryStream
	closed  bool
}

type binaryStream struct {
	countOff int
	count    uint32
}

func NewBinaryWriter() *BinaryWriter {
	return &BinaryWriter{}
}

func (w *BinaryWriter) IsLoading() bool { return false }
func (w *BinaryWriter) Err() error      { return nil }
func (w *BinaryWriter) passthrough()    {}

func (w *BinaryWriter) Close() error {
	w.closed = true
	return nil
}

func (w *BinaryWriter) Data() []byte {
	return w.out.Buf
}

func (w *BinaryWriter) EnterRecord()           {}
func (w *BinaryWriter) LeaveRecord()           {}
func (w *BinaryWriter) EnterField(name string) {}
func (w *BinaryWriter) LeaveField()            {}

func (w *BinaryWriter) TryEnterField(name string, enterWhenWriting bool) bool {
	w.out.AppendByte(boolByte(enterWhenWriting))
	return enterWhenWriting
}

func (w *BinaryWriter) EnterArray(count *int) {
	w.out.AppendUint32(checkedCount(*count))
}
func (w *BinaryWriter) LeaveArray()        {}
func (w *BinaryWriter) EnterArrayElement() {}
func (w *BinaryWriter) LeaveArrayElement() {}

func (w *BinaryWriter) EnterStream(count *int) {
	w.streams = append(w.streams, binaryStream{countOff: w.out.Grow(4)})
}

func (w *BinaryWriter) LeaveStream() {
	n := len(w.streams) - 1
	s := w.streams[n]
	w.streams = w.streams[:n]
	w.out.PutUint32At(s.countOff, s.count)
}

func (w *BinaryWriter) EnterStreamElement() {
	w.streams[len(w.streams)-1].count++
}
func (w *BinaryWriter) LeaveStreamElement() {}

func (w *BinaryWriter) EnterMap(count *int) {
	w.out.AppendUint32(checkedCount(*count))
}
func (w *BinaryWriter) LeaveMap() {}

func (w *BinaryWriter) EnterMapElement(key *string) {
	w.out.AppendString(*key)
}
func (w *BinaryWriter) LeaveMapElement() {}

func (w *BinaryWriter) Int8(v *int8)       { w.out.AppendByte(byte(*v)) }
func (w *BinaryWriter) Int16(v *int16)     { w.out.AppendUint16(uint16(*v)) }
func (w *BinaryWriter) Int32(v *int32)     { w.out.AppendUint32(uint32(*v)) }
func (w *BinaryWriter) Int64(v *int64)     { w.out.AppendUint64(uint64(*v)) }
func (w *BinaryWriter) Uint8(v *uint8)     { w.out.AppendByte(*v) }
func (w *BinaryWriter) Uint16(v *uint16)   { w.out.AppendUint16(*v) }
func (w *BinaryWriter) Uint32(v *uint32)   { w.out.AppendUint32(*v) }
func (w *BinaryWriter) Uint64(v *uint64)   { w.out.AppendUint64(*v) }
func (w *BinaryWriter) Float32(v *float32) { w.out.AppendUint32(math.Float32bits(*v)) }
func (w *BinaryWriter) Float64(v *float64) { w.out.AppendUint64(math.Float64bits(*v)) }
func (w *BinaryWriter) Bool(v *bool)       { w.out.AppendByte(boolByte(*v)) }
func (w *BinaryWriter) String(v *string)   { w.out.AppendString(*v) }
func (w *BinaryWriter) Name(v *Name)       { w.out.AppendString(string(*v)) }
func (w *BinaryWriter) Object(v *ObjectRef) {
	w.out.AppendString(v.Path)
}
func (w *BinaryWriter) Bytes(v *[]byte) { w.out.AppendVarBytes(*v) }
func (w *BinaryWriter) Raw(v []byte)    { w.out.AppendRaw(v) }

// BinaryReader reads archives produced by BinaryWriter. The reading code
// must follow the writer's schema exactly.
type BinaryReader struct {
	in   byteDecoder
	maps mapKeys
	err  error
}

func NewBinaryReader(data []byte) *BinaryReader {
	return &BinaryReader{in: makeByteDecoder(data)}
}

func (r *BinaryReader) IsLoading() bool { return true }
func (r *BinaryReader) Err() error      { return r.err }
func (r *BinaryReader) Close() error    { return r.err }
func (r *BinaryReader) passthrough()    {}

func (r *BinaryReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *BinaryReader) raw(n int) []byte {
	if r.err != nil {
		return nil
	}
	b, err := r.in.Raw(n)
	if err != nil {
		r.fail(err)
		return nil
	}
	return b
}

func (r *BinaryReader) count() int {
	if r.err != nil {
		return 0
	}
	n, err := r.in.Count(0)
	if err != nil {
		r.fail(err)
		return 0
	}
	return n
}

func (r *BinaryReader) str() string {
	if r.err != nil {
		return ""
	}
	s, err := r.in.Str()
	if err != nil {
		r.fail(err)
		return ""
	}
	return s
}

func (r *BinaryReader) boolean() bool {
	off := r.in.Pos
	b := r.raw(1)
	if b == nil {
		return false
	}
	switch b[0] {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail(dataErrf(r.in.Orig, off, ErrTypeMismatch, "invalid bool byte 0x%02x", b[0]))
		return false
	}
}

func (r *BinaryReader) EnterRecord()           {}
func (r *BinaryReader) LeaveRecord()           {}
func (r *BinaryReader) EnterField(name string) {}
func (r *BinaryReader) LeaveField()            {}

func (r *BinaryReader) TryEnterField(name string, enterWhenWriting bool) bool {
	return r.boolean()
}

func (r *BinaryReader) EnterArray(count *int) { *count = r.count() }
func (r *BinaryReader) LeaveArray()           {}
func (r *BinaryReader) EnterArrayElement()    {}
func (r *BinaryReader) LeaveArrayElement()    {}

func (r *BinaryReader) EnterStream(count *int) { *count = r.count() }
func (r *BinaryReader) LeaveStream()           {}
func (r *BinaryReader) EnterStreamElement()    {}
func (r *BinaryReader) LeaveStreamElement()    {}

func (r *BinaryReader) EnterMap(count *int) {
	r.maps.push()
	*count = r.count()
}

func (r *BinaryReader) LeaveMap() { r.maps.pop() }

func (r *BinaryReader) EnterMapElement(key *string) {
	off := r.in.Pos
	*key = r.str()
	if r.err == nil && !r.maps.add(*key) {
		r.fail(dataErrf(r.in.Orig, off, ErrCorrupt, "duplicate map key %q", *key))
	}
}

func (r *BinaryReader) LeaveMapElement() {}

func (r *BinaryReader) Int8(v *int8) {
	var u uint8
	r.Uint8(&u)
	*v = int8(u)
}

func (r *BinaryReader) Int16(v *int16) {
	var u uint16
	r.Uint16(&u)
	*v = int16(u)
}

func (r *BinaryReader) Int32(v *int32) {
	var u uint32
	r.Uint32(&u)
	*v = int32(u)
}

func (r *BinaryReader) Int64(v *int64) {
	var u uint64
	r.Uint64(&u)
	*v = int64(u)
}

func (r *BinaryReader) Uint8(v *uint8) {
	if b := r.raw(1); b != nil {
		*v = b[0]
	} else {
		*v = 0
	}
}

func (r *BinaryReader) Uint16(v *uint16) {
	if b := r.raw(2); b != nil {
		*v = binary.LittleEndian.Uint16(b)
	} else {
		*v = 0
	}
}

func (r *BinaryReader) Uint32(v *uint32) {
	if b := r.raw(4); b != nil {
		*v = binary.LittleEndian.Uint32(b)
	} else {
		*v = 0
	}
}

func (r *BinaryReader) Uint64(v *uint64) {
	if b := r.raw(8); b != nil {
		*v = binary.LittleEndian.Uint64(b)
	} else {
		*v = 0
	}
}

func (r *BinaryReader) Float32(v *float32) {
	var u uint32
	r.Uint32(&u)
	*v = math.Float32frombits(u)
}

func (r *BinaryReader) Float64(v *float64) {
	var u uint64
	r.Uint64(&u)
	*v = math.Float64frombits(u)
}

func (r *BinaryReader) Bool(v *bool)     { *v = r.boolean() }
func (r *BinaryReader) String(v *string) { *v = r.str() }
func (r *BinaryReader) Name(v *Name)     { *v = Name(r.str()) }

func (r *BinaryReader) Object(v *ObjectRef) {
	*v = ObjectRef{Path: r.str()}
}

func (r *BinaryReader) Bytes(v *[]byte) {
	if r.err != nil {
		*v = nil
		return
	}
	b, err := r.in.VarBytes()
	if err != nil {
		r.fail(err)
		*v = nil
		return
	}
	*v = bytes.Clone(b)
}

func (r *BinaryReader) Raw(v []byte) {
	if b := r.raw(len(v)); b != nil {
		copy(v, b)
	} else {
		clear(v)
	}
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func checkedCount(n int) uint32 {
	if n < 0 || uint64(n) > math.MaxUint32 {
		usagef("element count %d out of range", n)
	}
	return uint32(n)
}
