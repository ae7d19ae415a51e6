package starchive

import (
	"fmt"
	"strings"
)

// Value is a schema-less snapshot of an archive subtree. Scalars keep their
// exact type; integers of every width live in Int or Uint.
type Value struct {
	Type   ValueType `msgpack:"t" cbor:"1,keyasint"`
	Int    int64     `msgpack:"i,omitempty" cbor:"2,keyasint,omitempty"`
	Uint   uint64    `msgpack:"u,omitempty" cbor:"3,keyasint,omitempty"`
	Float  float64   `msgpack:"f,omitempty" cbor:"4,keyasint,omitempty"`
	Bool   bool      `msgpack:"b,omitempty" cbor:"5,keyasint,omitempty"`
	Str    string    `msgpack:"s,omitempty" cbor:"6,keyasint,omitempty"`
	Bytes  []byte    `msgpack:"r,omitempty" cbor:"7,keyasint,omitempty"`
	Fields []Field   `msgpack:"fs,omitempty" cbor:"8,keyasint,omitempty"`
	Elems  []Value   `msgpack:"es,omitempty" cbor:"9,keyasint,omitempty"`
}

// Field is a record field or a map entry.
type Field struct {
	Name  string `msgpack:"n" cbor:"1,keyasint"`
	Value Value  `msgpack:"v" cbor:"2,keyasint"`
}

func IntValue(vt ValueType, v int64) Value     { return Value{Type: vt, Int: v} }
func UintValue(vt ValueType, v uint64) Value   { return Value{Type: vt, Uint: v} }
func FloatValue(vt ValueType, v float64) Value { return Value{Type: vt, Float: v} }
func BoolValue(v bool) Value                   { return Value{Type: ValueBool, Bool: v} }
func StringValue(v string) Value               { return Value{Type: ValueString, Str: v} }
func NameValue(v Name) Value                   { return Value{Type: ValueName, Str: string(v)} }
func ObjectValue(v ObjectRef) Value            { return Value{Type: ValueObject, Str: v.Path} }
func BytesValue(v []byte) Value                { return Value{Type: ValueRawData, Bytes: v} }

func RecordValue(fields ...Field) Value { return Value{Type: ValueRecord, Fields: fields} }
func ArrayValue(elems ...Value) Value   { return Value{Type: ValueArray, Elems: elems} }
func StreamValue(elems ...Value) Value  { return Value{Type: ValueStream, Elems: elems} }
func MapValue(entries ...Field) Value   { return Value{Type: ValueMap, Fields: entries} }

// Get returns the field or map entry with the given name.
func (v Value) Get(name string) (Value, bool) {
	for _, f := range v.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

func (v Value) String() string {
	var buf strings.Builder
	v.format(&buf)
	return buf.String()
}

func (v Value) format(buf *strings.Builder) {
	switch v.Type {
	case ValueRecord, ValueMap:
		buf.WriteString(v.Type.String())
		buf.WriteByte('{')
		for i, f := range v.Fields {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(f.Name)
			buf.WriteString(": ")
			f.Value.format(buf)
		}
		buf.WriteByte('}')
	case ValueArray, ValueStream:
		buf.WriteString(v.Type.String())
		buf.WriteByte('[')
		for i, e := range v.Elems {
			if i > 0 {
				buf.WriteString(", ")
			}
			e.format(buf)
		}
		buf.WriteByte(']')
	case ValueInt8, ValueInt16, ValueInt32, ValueInt64:
		fmt.Fprintf(buf, "%s(%d)", v.Type, v.Int)
	case ValueUint8, ValueUint16, ValueUint32, ValueUint64:
		fmt.Fprintf(buf, "%s(%d)", v.Type, v.Uint)
	case ValueFloat, ValueDouble:
		fmt.Fprintf(buf, "%s(%g)", v.Type, v.Float)
	case ValueBool:
		fmt.Fprintf(buf, "%v", v.Bool)
	case ValueString, ValueName, ValueObject:
		fmt.Fprintf(buf, "%s(%q)", v.Type, v.Str)
	case ValueRawData:
		fmt.Fprintf(buf, "rawdata(%d)", len(v.Bytes))
	default:
		buf.WriteString(v.Type.String())
	}
}

// ReadValue reads the subtree at s. The archive must be loading through an
// annotated formatter.
func ReadValue(s Slot) (Value, error) {
	v := readValue(s)
	return v, s.ar.Err()
}

func readValue(s Slot) Value {
	vt := s.ValueType()
	switch vt {
	case ValueRecord:
		rec := s.EnterRecord()
		names := rec.FieldNames()
		v := Value{Type: vt, Fields: make([]Field, 0, len(names))}
		for _, name := range names {
			v.Fields = append(v.Fields, Field{name, readValue(rec.EnterField(name))})
		}
		return v
	case ValueArray:
		var n int
		arr := s.EnterArray(&n)
		v := Value{Type: vt, Elems: make([]Value, 0, n)}
		for range n {
			v.Elems = append(v.Elems, readValue(arr.EnterElement()))
		}
		return v
	case ValueStream:
		st := s.EnterStream()
		v := Value{Type: vt, Elems: make([]Value, 0, st.Len())}
		for range st.Len() {
			v.Elems = append(v.Elems, readValue(st.EnterElement()))
		}
		return v
	case ValueMap:
		var n int
		m := s.EnterMap(&n)
		v := Value{Type: vt, Fields: make([]Field, 0, n)}
		for range n {
			var key string
			elem := m.EnterElement(&key)
			v.Fields = append(v.Fields, Field{key, readValue(elem)})
		}
		return v
	case ValueInt8:
		var x int8
		s.Int8(&x)
		return IntValue(vt, int64(x))
	case ValueInt16:
		var x int16
		s.Int16(&x)
		return IntValue(vt, int64(x))
	case ValueInt32:
		var x int32
		s.Int32(&x)
		return IntValue(vt, int64(x))
	case ValueInt64:
		var x int64
		s.Int64(&x)
		return IntValue(vt, x)
	case ValueUint8:
		var x uint8
		s.Uint8(&x)
		return UintValue(vt, uint64(x))
	case ValueUint16:
		var x uint16
		s.Uint16(&x)
		return UintValue(vt, uint64(x))
	case ValueUint32:
		var x uint32
		s.Uint32(&x)
		return UintValue(vt, uint64(x))
	case ValueUint64:
		var x uint64
		s.Uint64(&x)
		return UintValue(vt, x)
	case ValueFloat:
		var x float32
		s.Float32(&x)
		return FloatValue(vt, float64(x))
	case ValueDouble:
		var x float64
		s.Float64(&x)
		return FloatValue(vt, x)
	case ValueBool:
		var x bool
		s.Bool(&x)
		return BoolValue(x)
	case ValueString:
		var x string
		s.String(&x)
		return StringValue(x)
	case ValueName:
		var x Name
		s.Name(&x)
		return NameValue(x)
	case ValueObject:
		var x ObjectRef
		s.Object(&x)
		return ObjectValue(x)
	case ValueRawData:
		var x []byte
		s.Bytes(&x)
		return BytesValue(x)
	default:
		// The formatter has already recorded an error.
		s.skip()
		return Value{}
	}
}

// skip consumes the slot without touching the formatter's value stream.
func (s Slot) skip() {
	s.ar.enterSlot(s.id)
	s.ar.leaveSlot()
}

// WriteValue writes v into s. Integers are narrowed to the width named by
// v.Type.
func WriteValue(s Slot, v Value) {
	switch v.Type {
	case ValueRecord:
		rec := s.EnterRecord()
		for _, f := range v.Fields {
			WriteValue(rec.EnterField(f.Name), f.Value)
		}
	case ValueArray:
		n := len(v.Elems)
		arr := s.EnterArray(&n)
		for _, e := range v.Elems {
			WriteValue(arr.EnterElement(), e)
		}
	case ValueStream:
		st := s.EnterStream()
		for _, e := range v.Elems {
			WriteValue(st.EnterElement(), e)
		}
	case ValueMap:
		n := len(v.Fields)
		m := s.EnterMap(&n)
		for _, f := range v.Fields {
			key := f.Name
			WriteValue(m.EnterElement(&key), f.Value)
		}
	case ValueInt8:
		x := int8(v.Int)
		s.Int8(&x)
	case ValueInt16:
		x := int16(v.Int)
		s.Int16(&x)
	case ValueInt32:
		x := int32(v.Int)
		s.Int32(&x)
	case ValueInt64:
		x := v.Int
		s.Int64(&x)
	case ValueUint8:
		x := uint8(v.Uint)
		s.Uint8(&x)
	case ValueUint16:
		x := uint16(v.Uint)
		s.Uint16(&x)
	case ValueUint32:
		x := uint32(v.Uint)
		s.Uint32(&x)
	case ValueUint64:
		x := v.Uint
		s.Uint64(&x)
	case ValueFloat:
		x := float32(v.Float)
		s.Float32(&x)
	case ValueDouble:
		x := v.Float
		s.Float64(&x)
	case ValueBool:
		x := v.Bool
		s.Bool(&x)
	case ValueString:
		x := v.Str
		s.String(&x)
	case ValueName:
		x := Name(v.Str)
		s.Name(&x)
	case ValueObject:
		x := ObjectRef{v.Str}
		s.Object(&x)
	case ValueRawData:
		x := v.Bytes
		s.Bytes(&x)
	default:
		usagef("cannot write a value of type %v", v.Type)
	}
}
