package starchive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var errFlatClosed = errors.New("flat archive is closed")

const (
	flatFieldData    = "Data"
	flatFieldObjects = "Objects"
	flatFieldNames   = "Names"
)

// FlatArchive lets byte-stream serialization code write into a single
// slot. Formats without per-value framing receive the bytes directly.
// Other formats get a record with the buffered bytes in "Data"; names and
// object references are replaced by int32 indices into the "Names" and
// "Objects" arrays, which are only present when non-empty.
//
// A writing FlatArchive must be closed before the enclosing archive moves
// on. A reading FlatArchive loads the whole slot when created.
type FlatArchive struct {
	slot        Slot
	loading     bool
	passthrough bool
	closed      bool

	data []byte
	pos  int

	names       []Name
	nameIndex   map[Name]int32
	objects     []ObjectRef
	objectIndex map[ObjectRef]int32
}

var (
	_ io.ReadWriteSeeker = (*FlatArchive)(nil)
	_ io.Closer          = (*FlatArchive)(nil)
)

func NewFlatArchive(s Slot) *FlatArchive {
	fa := &FlatArchive{slot: s, loading: s.ar.loading}
	if _, ok := s.ar.f.(passthroughFormatter); ok {
		fa.passthrough = true
		s.ar.enterSlot(s.id)
		return fa
	}
	if fa.loading {
		fa.load()
	} else {
		fa.nameIndex = make(map[Name]int32)
		fa.objectIndex = make(map[ObjectRef]int32)
	}
	return fa
}

func (fa *FlatArchive) IsLoading() bool {
	return fa.loading
}

// IsPassthrough reports whether bytes go straight to the formatter.
func (fa *FlatArchive) IsPassthrough() bool {
	return fa.passthrough
}

func (fa *FlatArchive) load() {
	rec := fa.slot.EnterRecord()
	rec.EnterField(flatFieldData).Bytes(&fa.data)
	if s, ok := rec.TryEnterField(flatFieldObjects, false); ok {
		var n int
		arr := s.EnterArray(&n)
		fa.objects = make([]ObjectRef, n)
		for i := range fa.objects {
			arr.EnterElement().Object(&fa.objects[i])
		}
	}
	if s, ok := rec.TryEnterField(flatFieldNames, false); ok {
		var n int
		arr := s.EnterArray(&n)
		fa.names = make([]Name, n)
		for i := range fa.names {
			arr.EnterElement().Name(&fa.names[i])
		}
	}
}

func (fa *FlatArchive) commit() {
	rec := fa.slot.EnterRecord()
	rec.EnterField(flatFieldData).Bytes(&fa.data)
	if s, ok := rec.TryEnterField(flatFieldObjects, len(fa.objects) > 0); ok {
		n := len(fa.objects)
		arr := s.EnterArray(&n)
		for i := range fa.objects {
			arr.EnterElement().Object(&fa.objects[i])
		}
	}
	if s, ok := rec.TryEnterField(flatFieldNames, len(fa.names) > 0); ok {
		n := len(fa.names)
		arr := s.EnterArray(&n)
		for i := range fa.names {
			arr.EnterElement().Name(&fa.names[i])
		}
	}
}

func (fa *FlatArchive) check(writing bool) error {
	if fa.closed {
		return errFlatClosed
	}
	if writing == fa.loading {
		if writing {
			return fmt.Errorf("cannot write to a loading flat archive")
		}
		return fmt.Errorf("cannot read from a saving flat archive")
	}
	return nil
}

func (fa *FlatArchive) Write(p []byte) (int, error) {
	if err := fa.check(true); err != nil {
		return 0, err
	}
	if fa.passthrough {
		fa.slot.ar.f.Raw(p)
		return len(p), nil
	}
	fa.put(p)
	return len(p), nil
}

// put writes at the current position, overwriting or extending the data.
func (fa *FlatArchive) put(p []byte) {
	end := fa.pos + len(p)
	if end > len(fa.data) {
		fa.data = ensureCapacity(fa.data, end)[:end]
	}
	copy(fa.data[fa.pos:], p)
	fa.pos = end
}

// Read fills p from the archive. In passthrough mode reads are exact: a
// read past the end of data fails instead of returning a short count.
func (fa *FlatArchive) Read(p []byte) (int, error) {
	if err := fa.check(false); err != nil {
		return 0, err
	}
	if fa.passthrough {
		f := fa.slot.ar.f
		f.Raw(p)
		if err := f.Err(); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	if fa.pos >= len(fa.data) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, fa.data[fa.pos:])
	fa.pos += n
	return n, nil
}

func (fa *FlatArchive) readIndex() (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(fa, b[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, dataErrf(fa.data, fa.pos, ErrTruncated, "flat archive: index past end of data")
		}
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

func (fa *FlatArchive) writeIndex(idx int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(idx))
	fa.put(b[:])
}

func (fa *FlatArchive) WriteName(name Name) error {
	if err := fa.check(true); err != nil {
		return err
	}
	if fa.passthrough {
		fa.slot.ar.f.Name(&name)
		return nil
	}
	idx, found := fa.nameIndex[name]
	if !found {
		idx = int32(len(fa.names))
		fa.names = append(fa.names, name)
		fa.nameIndex[name] = idx
	}
	fa.writeIndex(idx)
	return nil
}

func (fa *FlatArchive) ReadName() (Name, error) {
	if err := fa.check(false); err != nil {
		return "", err
	}
	if fa.passthrough {
		var name Name
		fa.slot.ar.f.Name(&name)
		return name, fa.slot.ar.f.Err()
	}
	idx, err := fa.readIndex()
	if err != nil {
		return "", err
	}
	if idx < 0 || int(idx) >= len(fa.names) {
		return "", dataErrf(fa.data, fa.pos-4, ErrCorrupt, "flat archive: name index %d out of range (%d names)", idx, len(fa.names))
	}
	return fa.names[idx], nil
}

func (fa *FlatArchive) WriteObject(obj ObjectRef) error {
	if err := fa.check(true); err != nil {
		return err
	}
	if fa.passthrough {
		fa.slot.ar.f.Object(&obj)
		return nil
	}
	idx, found := fa.objectIndex[obj]
	if !found {
		idx = int32(len(fa.objects))
		fa.objects = append(fa.objects, obj)
		fa.objectIndex[obj] = idx
	}
	fa.writeIndex(idx)
	return nil
}

func (fa *FlatArchive) ReadObject() (ObjectRef, error) {
	if err := fa.check(false); err != nil {
		return ObjectRef{}, err
	}
	if fa.passthrough {
		var obj ObjectRef
		fa.slot.ar.f.Object(&obj)
		return obj, fa.slot.ar.f.Err()
	}
	idx, err := fa.readIndex()
	if err != nil {
		return ObjectRef{}, err
	}
	if idx < 0 || int(idx) >= len(fa.objects) {
		return ObjectRef{}, dataErrf(fa.data, fa.pos-4, ErrCorrupt, "flat archive: object index %d out of range (%d objects)", idx, len(fa.objects))
	}
	return fa.objects[idx], nil
}

// Tell returns the current position. Passthrough archives do not track
// positions and return -1.
func (fa *FlatArchive) Tell() int64 {
	if fa.passthrough {
		return -1
	}
	return int64(fa.pos)
}

// Seek moves within the buffered data. Passthrough archives cannot seek.
func (fa *FlatArchive) Seek(offset int64, whence int) (int64, error) {
	if fa.closed {
		return 0, errFlatClosed
	}
	if fa.passthrough {
		return 0, fmt.Errorf("cannot seek a passthrough flat archive")
	}
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(fa.pos)
	case io.SeekEnd:
		base = int64(len(fa.data))
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	pos := base + offset
	if pos < 0 || pos > int64(len(fa.data)) {
		return 0, fmt.Errorf("seek to %d outside of data (%d bytes)", pos, len(fa.data))
	}
	fa.pos = int(pos)
	return pos, nil
}

// Flush hands the buffered data to the enclosing archive. After Flush the
// flat archive is closed.
func (fa *FlatArchive) Flush() error {
	return fa.Close()
}

func (fa *FlatArchive) Close() error {
	if fa.closed {
		return nil
	}
	fa.closed = true
	if fa.passthrough {
		fa.slot.ar.leaveSlot()
		return fa.slot.ar.f.Err()
	}
	if !fa.loading {
		fa.commit()
	}
	return fa.slot.ar.Err()
}
