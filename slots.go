package starchive

// Slot is a position that takes exactly one value: a scalar or a container.
// It is only valid until the next slot is produced or a value is placed in
// it.
type Slot struct {
	ar    *Archive
	depth int
	id    elementID
}

// Record is an open record. Fields may be written in any order, but each
// name at most once.
type Record struct {
	ar    *Archive
	depth int
	id    elementID
}

// Array is an open array whose element count was fixed on entry.
type Array struct {
	ar    *Archive
	depth int
	id    elementID
}

// Stream is an open sequence whose length is not known up front when
// writing.
type Stream struct {
	ar    *Archive
	depth int
	id    elementID
}

// Map is an open map with string keys that are themselves data.
type Map struct {
	ar    *Archive
	depth int
	id    elementID
}

func (s Slot) Archive() *Archive {
	return s.ar
}

func (s Slot) IsLoading() bool {
	return s.ar.loading
}

func (s Slot) EnterRecord() Record {
	s.ar.enterSlotAs(s.id, elementRecord, -1)
	s.ar.f.EnterRecord()
	return Record{s.ar, s.depth + 1, s.id}
}

// EnterArray takes the element count from *count when writing and stores
// it there when reading.
func (s Slot) EnterArray(count *int) Array {
	s.ar.enterSlot(s.id)
	if !s.ar.loading && *count < 0 {
		usagef("negative array length %d", *count)
	}
	s.ar.f.EnterArray(count)
	s.ar.scopes = append(s.ar.scopes, scope{id: s.id, typ: elementArray, count: *count})
	return Array{s.ar, s.depth + 1, s.id}
}

func (s Slot) EnterStream() Stream {
	s.ar.enterSlot(s.id)
	count := -1
	s.ar.f.EnterStream(&count)
	if !s.ar.loading {
		count = -1
	}
	s.ar.scopes = append(s.ar.scopes, scope{id: s.id, typ: elementStream, count: count})
	return Stream{s.ar, s.depth + 1, s.id}
}

func (s Slot) EnterMap(count *int) Map {
	s.ar.enterSlot(s.id)
	if !s.ar.loading && *count < 0 {
		usagef("negative map length %d", *count)
	}
	s.ar.f.EnterMap(count)
	s.ar.scopes = append(s.ar.scopes, scope{id: s.id, typ: elementMap, count: *count})
	return Map{s.ar, s.depth + 1, s.id}
}

// ValueType describes the value in this slot. Requires a reading archive
// with an annotated formatter.
func (s Slot) ValueType() ValueType {
	af := s.ar.annotated()
	if s.ar.strict && (!s.ar.slotOpen || s.ar.slotID != s.id) {
		usagef("slot %d is stale", s.id)
	}
	return af.ValueType()
}

func serialize[T any](s Slot, v *T, fn func(*T)) {
	s.ar.enterSlot(s.id)
	fn(v)
	s.ar.leaveSlot()
}

func (s Slot) Int8(v *int8)        { serialize(s, v, s.ar.f.Int8) }
func (s Slot) Int16(v *int16)      { serialize(s, v, s.ar.f.Int16) }
func (s Slot) Int32(v *int32)      { serialize(s, v, s.ar.f.Int32) }
func (s Slot) Int64(v *int64)      { serialize(s, v, s.ar.f.Int64) }
func (s Slot) Uint8(v *uint8)      { serialize(s, v, s.ar.f.Uint8) }
func (s Slot) Uint16(v *uint16)    { serialize(s, v, s.ar.f.Uint16) }
func (s Slot) Uint32(v *uint32)    { serialize(s, v, s.ar.f.Uint32) }
func (s Slot) Uint64(v *uint64)    { serialize(s, v, s.ar.f.Uint64) }
func (s Slot) Float32(v *float32)  { serialize(s, v, s.ar.f.Float32) }
func (s Slot) Float64(v *float64)  { serialize(s, v, s.ar.f.Float64) }
func (s Slot) Bool(v *bool)        { serialize(s, v, s.ar.f.Bool) }
func (s Slot) String(v *string)    { serialize(s, v, s.ar.f.String) }
func (s Slot) Name(v *Name)        { serialize(s, v, s.ar.f.Name) }
func (s Slot) Object(v *ObjectRef) { serialize(s, v, s.ar.f.Object) }
func (s Slot) Bytes(v *[]byte)     { serialize(s, v, s.ar.f.Bytes) }

// Raw handles a block of len(v) bytes whose size the reader already knows.
func (s Slot) Raw(v []byte) {
	s.ar.enterSlot(s.id)
	s.ar.f.Raw(v)
	s.ar.leaveSlot()
}

func (r Record) EnterField(name string) Slot {
	r.ar.setScope(r.depth, r.id)
	r.ar.claimName(r.ar.scopeAt(r.depth), name, "field")
	id := r.ar.newSlot()
	r.ar.f.EnterField(name)
	return Slot{r.ar, r.depth, id}
}

// TryEnterField handles optional fields. When writing, the field is written
// only if enterWhenWriting is true; when reading, ok reports whether the
// field is present. An absent field does not reserve its name.
func (r Record) TryEnterField(name string, enterWhenWriting bool) (slot Slot, ok bool) {
	r.ar.setScope(r.depth, r.id)
	if !r.ar.f.TryEnterField(name, enterWhenWriting) {
		return Slot{}, false
	}
	r.ar.claimName(r.ar.scopeAt(r.depth), name, "field")
	id := r.ar.newSlot()
	return Slot{r.ar, r.depth, id}, true
}

// FieldNames lists the stored fields of this record. Requires a reading
// archive with an annotated formatter.
func (r Record) FieldNames() []string {
	af := r.ar.annotated()
	r.ar.setScope(r.depth, r.id)
	return af.FieldNames()
}

func (a Array) EnterElement() Slot {
	a.ar.setScope(a.depth, a.id)
	sc := a.ar.scopeAt(a.depth)
	if a.ar.strict && sc.index >= sc.count {
		usagef("array %d has only %d elements", a.id, sc.count)
	}
	id := a.ar.newSlot()
	a.ar.f.EnterArrayElement()
	return Slot{a.ar, a.depth, id}
}

func (a Array) Len() int {
	return a.ar.current(a.depth, a.id).count
}

func (s Stream) EnterElement() Slot {
	s.ar.setScope(s.depth, s.id)
	sc := s.ar.scopeAt(s.depth)
	if s.ar.strict && s.ar.loading && sc.index >= sc.count {
		usagef("stream %d has only %d elements", s.id, sc.count)
	}
	id := s.ar.newSlot()
	s.ar.f.EnterStreamElement()
	return Slot{s.ar, s.depth, id}
}

// Len returns the number of elements when reading and -1 when writing.
func (s Stream) Len() int {
	return s.ar.current(s.depth, s.id).count
}

// EnterElement writes *key or reads the next key into it. Repeated keys
// are a usage error when writing and a data error when reading.
func (m Map) EnterElement(key *string) Slot {
	m.ar.setScope(m.depth, m.id)
	sc := m.ar.scopeAt(m.depth)
	if m.ar.strict && sc.index >= sc.count {
		usagef("map %d has only %d elements", m.id, sc.count)
	}
	id := m.ar.newSlot()
	m.ar.f.EnterMapElement(key)
	if !m.ar.loading {
		m.ar.claimName(sc, *key, "map key")
	}
	return Slot{m.ar, m.depth, id}
}

func (m Map) Len() int {
	return m.ar.current(m.depth, m.id).count
}
