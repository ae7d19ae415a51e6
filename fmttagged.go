package starchive

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Tagged binary layout:
//
//	trailerOffset:64 value trailer
//	value   = tag:8 payload            (every value, containers included)
//	trailer = numNames:32 (len:32 bytes)*
//	          numRecords:32 (numFields:32 startOffset:64 (nameIndex:32 size:var)*)*
//
// Record payloads are just their fields' values, back to back; the trailer
// gives each field's name and size so that readers can jump to any field.
// Sizes use a 1/3/5/9 byte encoding, see bytesBuilder.AppendSize.
const taggedHeaderSize = 8

// nameTable interns strings, assigning dense indices in order of first use.
type nameTable struct {
	names []string
	index map[string]uint32
}

func (t *nameTable) intern(s string) uint32 {
	if idx, ok := t.index[s]; ok {
		return idx
	}
	if t.index == nil {
		t.index = make(map[string]uint32)
	}
	idx := uint32(len(t.names))
	t.names = append(t.names, s)
	t.index[s] = idx
	return idx
}

type taggedRecord struct {
	start  uint64
	fields []taggedField
}

type taggedField struct {
	name uint32
	size uint64
}

// TaggedWriter writes the tagged binary format. The trailer is written by
// Close.
type TaggedWriter struct {
	out         bytesBuilder
	names       nameTable
	records     []taggedRecord
	openRecords []int
	fieldStarts []int
	streams     []binaryStream
	closed      bool
}

func NewTaggedWriter() *TaggedWriter {
	w := &TaggedWriter{}
	w.out.Grow(taggedHeaderSize)
	return w
}

func (w *TaggedWriter) IsLoading() bool { return false }
func (w *TaggedWriter) Err() error      { return nil }

// Names returns the interned name table collected so far.
func (w *TaggedWriter) Names() []string {
	return w.names.names
}

func (w *TaggedWriter) Data() []byte {
	return w.out.Buf
}

func (w *TaggedWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	trailerOff := w.out.Len()
	w.out.AppendUint32(uint32(len(w.names.names)))
	for _, s := range w.names.names {
		w.out.AppendString(s)
	}
	w.out.AppendUint32(uint32(len(w.records)))
	for _, rec := range w.records {
		w.out.AppendUint32(uint32(len(rec.fields)))
		w.out.AppendUint64(rec.start)
		for _, f := range rec.fields {
			w.out.AppendUint32(f.name)
			w.out.AppendSize(f.size)
		}
	}
	w.out.PutUint64At(0, uint64(trailerOff))
	return nil
}

func (w *TaggedWriter) tag(vt ValueType) {
	w.out.AppendByte(byte(vt))
}

func (w *TaggedWriter) EnterRecord() {
	w.tag(ValueRecord)
	w.openRecords = append(w.openRecords, len(w.records))
	w.records = append(w.records, taggedRecord{start: uint64(w.out.Len())})
}

func (w *TaggedWriter) LeaveRecord() {
	w.openRecords = w.openRecords[:len(w.openRecords)-1]
}

func (w *TaggedWriter) EnterField(name string) {
	rec := &w.records[w.openRecords[len(w.openRecords)-1]]
	rec.fields = append(rec.fields, taggedField{name: w.names.intern(name)})
	w.fieldStarts = append(w.fieldStarts, w.out.Len())
}

func (w *TaggedWriter) LeaveField() {
	n := len(w.fieldStarts) - 1
	start := w.fieldStarts[n]
	w.fieldStarts = w.fieldStarts[:n]
	rec := &w.records[w.openRecords[len(w.openRecords)-1]]
	rec.fields[len(rec.fields)-1].size = uint64(w.out.Len() - start)
}

func (w *TaggedWriter) TryEnterField(name string, enterWhenWriting bool) bool {
	if enterWhenWriting {
		w.EnterField(name)
	}
	return enterWhenWriting
}

func (w *TaggedWriter) EnterArray(count *int) {
	w.tag(ValueArray)
	w.out.AppendUint32(checkedCount(*count))
}
func (w *TaggedWriter) LeaveArray()        {}
func (w *TaggedWriter) EnterArrayElement() {}
func (w *TaggedWriter) LeaveArrayElement() {}

func (w *TaggedWriter) EnterStream(count *int) {
	w.tag(ValueStream)
	w.streams = append(w.streams, binaryStream{countOff: w.out.Grow(4)})
}

func (w *TaggedWriter) LeaveStream() {
	n := len(w.streams) - 1
	s := w.streams[n]
	w.streams = w.streams[:n]
	w.out.PutUint32At(s.countOff, s.count)
}

func (w *TaggedWriter) EnterStreamElement() {
	w.streams[len(w.streams)-1].count++
}
func (w *TaggedWriter) LeaveStreamElement() {}

func (w *TaggedWriter) EnterMap(count *int) {
	w.tag(ValueMap)
	w.out.AppendUint32(checkedCount(*count))
}
func (w *TaggedWriter) LeaveMap() {}

func (w *TaggedWriter) EnterMapElement(key *string) {
	w.out.AppendString(*key)
}
func (w *TaggedWriter) LeaveMapElement() {}

func (w *TaggedWriter) Int8(v *int8) {
	w.tag(ValueInt8)
	w.out.AppendByte(byte(*v))
}

func (w *TaggedWriter) Int16(v *int16) {
	w.tag(ValueInt16)
	w.out.AppendUint16(uint16(*v))
}

func (w *TaggedWriter) Int32(v *int32) {
	w.tag(ValueInt32)
	w.out.AppendUint32(uint32(*v))
}

func (w *TaggedWriter) Int64(v *int64) {
	w.tag(ValueInt64)
	w.out.AppendUint64(uint64(*v))
}

func (w *TaggedWriter) Uint8(v *uint8) {
	w.tag(ValueUint8)
	w.out.AppendByte(*v)
}

func (w *TaggedWriter) Uint16(v *uint16) {
	w.tag(ValueUint16)
	w.out.AppendUint16(*v)
}

func (w *TaggedWriter) Uint32(v *uint32) {
	w.tag(ValueUint32)
	w.out.AppendUint32(*v)
}

func (w *TaggedWriter) Uint64(v *uint64) {
	w.tag(ValueUint64)
	w.out.AppendUint64(*v)
}

func (w *TaggedWriter) Float32(v *float32) {
	w.tag(ValueFloat)
	w.out.AppendUint32(math.Float32bits(*v))
}

func (w *TaggedWriter) Float64(v *float64) {
	w.tag(ValueDouble)
	w.out.AppendUint64(math.Float64bits(*v))
}

func (w *TaggedWriter) Bool(v *bool) {
	w.tag(ValueBool)
	w.out.AppendByte(boolByte(*v))
}

func (w *TaggedWriter) String(v *string) {
	w.tag(ValueString)
	w.out.AppendString(*v)
}

func (w *TaggedWriter) Name(v *Name) {
	w.tag(ValueName)
	w.out.AppendUint32(w.names.intern(string(*v)))
}

func (w *TaggedWriter) Object(v *ObjectRef) {
	w.tag(ValueObject)
	w.out.AppendString(v.Path)
}

func (w *TaggedWriter) Bytes(v *[]byte) {
	w.tag(ValueRawData)
	w.out.AppendVarBytes(*v)
}

func (w *TaggedWriter) Raw(v []byte) {
	w.tag(ValueRawData)
	w.out.AppendVarBytes(v)
}

type taggedRecordIndex struct {
	end    int
	names  []string
	fields []taggedFieldIndex
}

type taggedFieldIndex struct {
	name string
	off  int
	size int
}

func (ri *taggedRecordIndex) lookup(name string) (taggedFieldIndex, bool) {
	for _, f := range ri.fields {
		if f.name == name {
			return f, true
		}
	}
	return taggedFieldIndex{}, false
}

// TaggedReader reads the tagged binary format. The trailer is loaded up
// front, so fields can be read in any order and unknown or missing fields
// are tolerated.
type TaggedReader struct {
	in          byteDecoder
	dataEnd     int
	names       []string
	records     map[int]*taggedRecordIndex
	openRecords []*taggedRecordIndex
	maps        mapKeys
	err         error
}

var _ AnnotatedFormatter = (*TaggedReader)(nil)

func NewTaggedReader(data []byte) (*TaggedReader, error) {
	r := &TaggedReader{in: makeByteDecoder(data)}
	if err := r.loadTrailer(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *TaggedReader) loadTrailer() error {
	d := &r.in
	trailerOff, err := d.Uint64()
	if err != nil {
		return err
	}
	if trailerOff < taggedHeaderSize || trailerOff > uint64(len(d.Orig)) {
		return dataErrf(d.Orig, 0, ErrCorrupt, "invalid trailer offset %d", trailerOff)
	}
	r.dataEnd = int(trailerOff)
	if err := d.SeekTo(r.dataEnd); err != nil {
		return err
	}

	numNames, err := d.Count(4)
	if err != nil {
		return err
	}
	r.names = make([]string, numNames)
	for i := range r.names {
		if r.names[i], err = d.Str(); err != nil {
			return err
		}
	}

	numRecords, err := d.Count(12)
	if err != nil {
		return err
	}
	r.records = make(map[int]*taggedRecordIndex, numRecords)
	for range numRecords {
		recOff := d.Pos
		numFields, err := d.Count(5)
		if err != nil {
			return err
		}
		start, err := d.Uint64()
		if err != nil {
			return err
		}
		if start < taggedHeaderSize || start > uint64(r.dataEnd) {
			return dataErrf(d.Orig, recOff, ErrCorrupt, "record start %d out of range", start)
		}
		ri := &taggedRecordIndex{
			names:  make([]string, numFields),
			fields: make([]taggedFieldIndex, numFields),
		}
		off := start
		for i := range numFields {
			nameIdx, err := d.Uint32()
			if err != nil {
				return err
			}
			if int(nameIdx) >= len(r.names) {
				return dataErrf(d.Orig, d.Pos-4, ErrCorrupt, "name index %d out of range", nameIdx)
			}
			size, err := d.Size()
			if err != nil {
				return err
			}
			if size > uint64(r.dataEnd)-off {
				return dataErrf(d.Orig, recOff, ErrCorrupt, "field %q overruns data", r.names[nameIdx])
			}
			for _, prev := range ri.names[:i] {
				if prev == r.names[nameIdx] {
					return dataErrf(d.Orig, d.Pos, ErrCorrupt, "duplicate field %q", prev)
				}
			}
			ri.names[i] = r.names[nameIdx]
			ri.fields[i] = taggedFieldIndex{name: r.names[nameIdx], off: int(off), size: int(size)}
			off += size
		}
		ri.end = int(off)
		r.records[int(start)] = ri
	}

	d.Pos = taggedHeaderSize
	return nil
}

func (r *TaggedReader) IsLoading() bool { return true }
func (r *TaggedReader) Err() error      { return r.err }
func (r *TaggedReader) Close() error    { return r.err }

// Names returns the archive's name table.
func (r *TaggedReader) Names() []string {
	return r.names
}

func (r *TaggedReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *TaggedReader) ValueType() ValueType {
	if r.err != nil || r.in.Pos >= r.dataEnd {
		return ValueNone
	}
	vt := ValueType(r.in.Orig[r.in.Pos])
	if vt >= valueTypeCount {
		return ValueNone
	}
	return vt
}

func (r *TaggedReader) FieldNames() []string {
	if len(r.openRecords) == 0 {
		return nil
	}
	return r.openRecords[len(r.openRecords)-1].names
}

// expect consumes a type tag, failing unless it matches vt.
func (r *TaggedReader) expect(vt ValueType) bool {
	if r.err != nil {
		return false
	}
	off := r.in.Pos
	if off >= r.dataEnd {
		r.fail(dataErrf(r.in.Orig, off, ErrTruncated, "expected %v, got end of data", vt))
		return false
	}
	actual := ValueType(r.in.Orig[off])
	if actual != vt {
		r.fail(dataErrf(r.in.Orig, off, ErrTypeMismatch, "expected %v, got %v", vt, actual))
		return false
	}
	r.in.Pos++
	return true
}

func (r *TaggedReader) scalar(vt ValueType, n int) []byte {
	if !r.expect(vt) {
		return nil
	}
	b, err := r.in.Raw(n)
	if err != nil {
		r.fail(err)
		return nil
	}
	return b
}

func (r *TaggedReader) count(minElemSize int) int {
	if r.err != nil {
		return 0
	}
	n, err := r.in.Count(minElemSize)
	if err != nil {
		r.fail(err)
		return 0
	}
	return n
}

func (r *TaggedReader) varBytes(vt ValueType) []byte {
	if !r.expect(vt) {
		return nil
	}
	b, err := r.in.VarBytes()
	if err != nil {
		r.fail(err)
		return nil
	}
	return b
}

func (r *TaggedReader) seek(off int) {
	if r.err != nil {
		return
	}
	if err := r.in.SeekTo(off); err != nil {
		r.fail(err)
	}
}

func (r *TaggedReader) EnterRecord() {
	if !r.expect(ValueRecord) {
		r.openRecords = append(r.openRecords, &taggedRecordIndex{})
		return
	}
	ri := r.records[r.in.Pos]
	if ri == nil {
		r.fail(dataErrf(r.in.Orig, r.in.Pos, ErrCorrupt, "no index entry for record"))
		ri = &taggedRecordIndex{}
	}
	r.openRecords = append(r.openRecords, ri)
}

func (r *TaggedReader) LeaveRecord() {
	n := len(r.openRecords) - 1
	ri := r.openRecords[n]
	r.openRecords = r.openRecords[:n]
	r.seek(ri.end)
}

func (r *TaggedReader) EnterField(name string) {
	if !r.TryEnterField(name, true) {
		if r.err == nil {
			r.fail(dataErrf(nil, r.in.Pos, ErrMissingField, "field %q not found", name))
		}
	}
}

func (r *TaggedReader) LeaveField() {}

func (r *TaggedReader) TryEnterField(name string, enterWhenWriting bool) bool {
	if r.err != nil {
		return false
	}
	f, ok := r.openRecords[len(r.openRecords)-1].lookup(name)
	if !ok {
		return false
	}
	r.seek(f.off)
	return true
}

func (r *TaggedReader) EnterArray(count *int) {
	*count = 0
	if r.expect(ValueArray) {
		*count = r.count(1)
	}
}
func (r *TaggedReader) LeaveArray()        {}
func (r *TaggedReader) EnterArrayElement() {}
func (r *TaggedReader) LeaveArrayElement() {}

func (r *TaggedReader) EnterStream(count *int) {
	*count = 0
	if r.expect(ValueStream) {
		*count = r.count(1)
	}
}
func (r *TaggedReader) LeaveStream()        {}
func (r *TaggedReader) EnterStreamElement() {}
func (r *TaggedReader) LeaveStreamElement() {}

func (r *TaggedReader) EnterMap(count *int) {
	*count = 0
	r.maps.push()
	if r.expect(ValueMap) {
		*count = r.count(5)
	}
}
func (r *TaggedReader) LeaveMap() { r.maps.pop() }

func (r *TaggedReader) EnterMapElement(key *string) {
	*key = ""
	if r.err != nil {
		return
	}
	off := r.in.Pos
	s, err := r.in.Str()
	if err != nil {
		r.fail(err)
		return
	}
	if !r.maps.add(s) {
		r.fail(dataErrf(r.in.Orig, off, ErrCorrupt, "duplicate map key %q", s))
		return
	}
	*key = s
}
func (r *TaggedReader) LeaveMapElement() {}

func (r *TaggedReader) Int8(v *int8) {
	*v = 0
	if b := r.scalar(ValueInt8, 1); b != nil {
		*v = int8(b[0])
	}
}

func (r *TaggedReader) Int16(v *int16) {
	*v = 0
	if b := r.scalar(ValueInt16, 2); b != nil {
		*v = int16(binary.LittleEndian.Uint16(b))
	}
}

func (r *TaggedReader) Int32(v *int32) {
	*v = 0
	if b := r.scalar(ValueInt32, 4); b != nil {
		*v = int32(binary.LittleEndian.Uint32(b))
	}
}

func (r *TaggedReader) Int64(v *int64) {
	*v = 0
	if b := r.scalar(ValueInt64, 8); b != nil {
		*v = int64(binary.LittleEndian.Uint64(b))
	}
}

func (r *TaggedReader) Uint8(v *uint8) {
	*v = 0
	if b := r.scalar(ValueUint8, 1); b != nil {
		*v = b[0]
	}
}

func (r *TaggedReader) Uint16(v *uint16) {
	*v = 0
	if b := r.scalar(ValueUint16, 2); b != nil {
		*v = binary.LittleEndian.Uint16(b)
	}
}

func (r *TaggedReader) Uint32(v *uint32) {
	*v = 0
	if b := r.scalar(ValueUint32, 4); b != nil {
		*v = binary.LittleEndian.Uint32(b)
	}
}

func (r *TaggedReader) Uint64(v *uint64) {
	*v = 0
	if b := r.scalar(ValueUint64, 8); b != nil {
		*v = binary.LittleEndian.Uint64(b)
	}
}

func (r *TaggedReader) Float32(v *float32) {
	*v = 0
	if b := r.scalar(ValueFloat, 4); b != nil {
		*v = math.Float32frombits(binary.LittleEndian.Uint32(b))
	}
}

func (r *TaggedReader) Float64(v *float64) {
	*v = 0
	if b := r.scalar(ValueDouble, 8); b != nil {
		*v = math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
}

func (r *TaggedReader) Bool(v *bool) {
	*v = false
	off := r.in.Pos
	if b := r.scalar(ValueBool, 1); b != nil {
		switch b[0] {
		case 0:
		case 1:
			*v = true
		default:
			r.fail(dataErrf(r.in.Orig, off, ErrTypeMismatch, "invalid bool byte 0x%02x", b[0]))
		}
	}
}

func (r *TaggedReader) String(v *string) {
	*v = string(r.varBytes(ValueString))
}

func (r *TaggedReader) Name(v *Name) {
	*v = ""
	off := r.in.Pos
	if b := r.scalar(ValueName, 4); b != nil {
		idx := binary.LittleEndian.Uint32(b)
		if int(idx) >= len(r.names) {
			r.fail(dataErrf(r.in.Orig, off, ErrCorrupt, "name index %d out of range", idx))
			return
		}
		*v = Name(r.names[idx])
	}
}

func (r *TaggedReader) Object(v *ObjectRef) {
	*v = ObjectRef{Path: string(r.varBytes(ValueObject))}
}

func (r *TaggedReader) Bytes(v *[]byte) {
	b := r.varBytes(ValueRawData)
	if b == nil {
		*v = nil
		return
	}
	*v = bytes.Clone(b)
}

func (r *TaggedReader) Raw(v []byte) {
	off := r.in.Pos
	b := r.varBytes(ValueRawData)
	if b == nil {
		clear(v)
		return
	}
	if len(b) != len(v) {
		r.fail(dataErrf(r.in.Orig, off, ErrTypeMismatch, "raw block has %d bytes, wanted %d", len(b), len(v)))
		clear(v)
		return
	}
	copy(v, b)
}
