package starchive

import (
	"fmt"
	"strings"
)

// ValueType is the kind of a value as recorded by the tagged binary format
// and as inferred by the text reader. The numeric values are part of the
// tagged wire format.
type ValueType uint8

const (
	ValueNone ValueType = iota
	ValueRecord
	ValueArray
	ValueStream
	ValueMap
	ValueInt8
	ValueInt16
	ValueInt32
	ValueInt64
	ValueUint8
	ValueUint16
	ValueUint32
	ValueUint64
	ValueFloat
	ValueDouble
	ValueBool
	ValueString
	ValueName
	ValueObject
	ValueRawData

	valueTypeCount
)

var valueTypeNames = [...]string{
	ValueNone:    "none",
	ValueRecord:  "record",
	ValueArray:   "array",
	ValueStream:  "stream",
	ValueMap:     "map",
	ValueInt8:    "int8",
	ValueInt16:   "int16",
	ValueInt32:   "int32",
	ValueInt64:   "int64",
	ValueUint8:   "uint8",
	ValueUint16:  "uint16",
	ValueUint32:  "uint32",
	ValueUint64:  "uint64",
	ValueFloat:   "float",
	ValueDouble:  "double",
	ValueBool:    "bool",
	ValueString:  "string",
	ValueName:    "name",
	ValueObject:  "object",
	ValueRawData: "rawdata",
}

func (vt ValueType) String() string {
	if vt < valueTypeCount {
		return valueTypeNames[vt]
	}
	return fmt.Sprintf("ValueType(%d)", uint8(vt))
}

func (vt ValueType) IsContainer() bool {
	return vt >= ValueRecord && vt <= ValueMap
}

// Name is an interned identifier. Formats that keep a name table store each
// distinct Name once.
type Name string

// ObjectRef refers to an object outside the archive by path. The zero value
// is a null reference.
type ObjectRef struct {
	Path string
}

func (o ObjectRef) IsNull() bool {
	return o.Path == ""
}

// Formatter is a concrete encoding driven by Archive. Every Enter call is
// matched by exactly one Leave call; Archive guarantees this, so formatters
// do not check it.
//
// Scalar methods are bidirectional: a writer encodes *v, a reader decodes
// into *v. Readers never panic on bad data; they record the first error
// (reported by Err) and return zero values from then on.
type Formatter interface {
	IsLoading() bool

	EnterRecord()
	LeaveRecord()
	EnterField(name string)
	LeaveField()
	// TryEnterField enters an optional field. When writing, the field is
	// only entered if enterWhenWriting is true. When reading, it reports
	// whether the field is present.
	TryEnterField(name string, enterWhenWriting bool) bool

	// EnterArray takes the element count from *count when writing and
	// stores it there when reading.
	EnterArray(count *int)
	LeaveArray()
	EnterArrayElement()
	LeaveArrayElement()

	// EnterStream ignores *count when writing; the count is determined when
	// the stream is left. Reading stores it in *count.
	EnterStream(count *int)
	LeaveStream()
	EnterStreamElement()
	LeaveStreamElement()

	EnterMap(count *int)
	LeaveMap()
	EnterMapElement(key *string)
	LeaveMapElement()

	Int8(v *int8)
	Int16(v *int16)
	Int32(v *int32)
	Int64(v *int64)
	Uint8(v *uint8)
	Uint16(v *uint16)
	Uint32(v *uint32)
	Uint64(v *uint64)
	Float32(v *float32)
	Float64(v *float64)
	Bool(v *bool)
	String(v *string)
	Name(v *Name)
	Object(v *ObjectRef)
	// Bytes handles a length-prefixed buffer; reading allocates.
	Bytes(v *[]byte)
	// Raw handles a block whose size both sides already know.
	Raw(v []byte)

	Err() error
	// Close finishes the output (trailers, final newline) or releases the
	// input. It returns the first error encountered.
	Close() error
}

// AnnotatedFormatter is a reading formatter that can describe the data
// without a schema. This is what makes Copy and ReadValue possible.
type AnnotatedFormatter interface {
	Formatter
	// ValueType returns the kind of the value in the slot just entered.
	ValueType() ValueType
	// FieldNames returns the field names of the record just entered, in
	// stored order.
	FieldNames() []string
}

// WriteFormatter is a writing formatter producing an in-memory archive.
type WriteFormatter interface {
	Formatter
	// Data returns the encoded archive. Only valid after Close.
	Data() []byte
}

// passthroughFormatter is implemented by formats with no per-value framing,
// which lets FlatArchive hand bytes straight to them.
type passthroughFormatter interface {
	Formatter
	passthrough()
}

type Format int

const (
	FormatBinary Format = iota
	FormatTagged
	FormatText
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatTagged:
		return "tagged"
	case FormatText:
		return "text"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "binary", "bin":
		return FormatBinary, nil
	case "tagged":
		return FormatTagged, nil
	case "text", "json":
		return FormatText, nil
	default:
		return 0, fmt.Errorf("unknown archive format %q", s)
	}
}

// IsAnnotated reports whether readers of this format implement
// AnnotatedFormatter.
func (f Format) IsAnnotated() bool {
	return f == FormatTagged || f == FormatText
}

func NewWriter(f Format) WriteFormatter {
	switch f {
	case FormatBinary:
		return NewBinaryWriter()
	case FormatTagged:
		return NewTaggedWriter()
	case FormatText:
		return NewTextWriter()
	default:
		panic(fmt.Errorf("unsupported format %v", f))
	}
}

func NewReader(f Format, data []byte) (Formatter, error) {
	switch f {
	case FormatBinary:
		return NewBinaryReader(data), nil
	case FormatTagged:
		r, err := NewTaggedReader(data)
		if err != nil {
			return nil, err
		}
		return r, nil
	case FormatText:
		r, err := NewTextReader(data)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported format %v", f)
	}
}

// DetectFormat guesses the format of an encoded archive. Compact binary
// carries no signature, so it is the fallback.
func DetectFormat(data []byte) Format {
	if looksLikeText(data) {
		return FormatText
	}
	if _, err := NewTaggedReader(data); err == nil {
		return FormatTagged
	}
	return FormatBinary
}

// mapKeys tracks the keys seen in each open map of a reader, innermost
// last. Keys come from the data, so a repeated key is corruption.
type mapKeys []map[string]struct{}

func (mk *mapKeys) push() { *mk = append(*mk, nil) }
func (mk *mapKeys) pop()  { *mk = (*mk)[:len(*mk)-1] }

// add reports whether key is new to the innermost map.
func (mk mapKeys) add(key string) bool {
	m := &mk[len(mk)-1]
	if *m == nil {
		*m = make(map[string]struct{})
	}
	if _, dup := (*m)[key]; dup {
		return false
	}
	(*m)[key] = struct{}{}
	return true
}
