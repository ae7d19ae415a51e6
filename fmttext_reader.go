package starchive

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
)

type jsonKind uint8

const (
	jsonNull jsonKind = iota
	jsonBool
	jsonNumber
	jsonString
	jsonArray
	jsonObject
)

var jsonKindNames = [...]string{"null", "bool", "number", "string", "array", "object"}

func (k jsonKind) String() string {
	return jsonKindNames[k]
}

// jsonValue is a parsed JSON value. Objects keep their keys in document
// order, which encoding/json maps would lose.
type jsonValue struct {
	kind jsonKind
	str  string // string contents, or the literal of a number
	b    bool
	keys []string
	vals []*jsonValue
}

var jsonNullValue = &jsonValue{kind: jsonNull}

func (v *jsonValue) get(key string) (*jsonValue, bool) {
	for i, k := range v.keys {
		if k == key {
			return v.vals[i], true
		}
	}
	return nil, false
}

func parseJSON(data []byte) (*jsonValue, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.UseNumber()
	v, err := parseJSONValue(dec)
	if err != nil {
		return nil, dataErrf(nil, int(dec.InputOffset()), err, "invalid text archive")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, dataErrf(nil, int(dec.InputOffset()), err, "invalid text archive: trailing data")
	}
	return v, nil
}

func parseJSONValue(dec *json.Decoder) (*jsonValue, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			v := &jsonValue{kind: jsonObject}
			seen := make(map[string]struct{})
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("object key is %T", kt)
				}
				// "_A" and "A" name the same field once unescaped
				if _, dup := seen[unescapeFieldName(key)]; dup {
					return nil, fmt.Errorf("duplicate key %q", key)
				}
				seen[unescapeFieldName(key)] = struct{}{}
				item, err := parseJSONValue(dec)
				if err != nil {
					return nil, err
				}
				v.keys = append(v.keys, key)
				v.vals = append(v.vals, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return v, nil
		case '[':
			v := &jsonValue{kind: jsonArray}
			for dec.More() {
				item, err := parseJSONValue(dec)
				if err != nil {
					return nil, err
				}
				v.vals = append(v.vals, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return v, nil
		default:
			return nil, fmt.Errorf("unexpected %v", t)
		}
	case json.Number:
		return &jsonValue{kind: jsonNumber, str: string(t)}, nil
	case string:
		return &jsonValue{kind: jsonString, str: t}, nil
	case bool:
		return &jsonValue{kind: jsonBool, b: t}, nil
	case nil:
		return jsonNullValue, nil
	default:
		return nil, fmt.Errorf("unexpected token %T", tok)
	}
}

type textIter struct {
	v    *jsonValue
	next int
}

// TextReader reads documents produced by TextWriter. The whole document is
// parsed up front; comments and trailing commas are tolerated so that
// hand-edited files load.
type TextReader struct {
	values  []*jsonValue
	records []*jsonValue
	iters   []textIter
	path    []string
	err     error
}

var _ AnnotatedFormatter = (*TextReader)(nil)

func NewTextReader(data []byte) (*TextReader, error) {
	root, err := parseJSON(data)
	if err != nil {
		return nil, err
	}
	return &TextReader{values: []*jsonValue{root}}, nil
}

func (r *TextReader) IsLoading() bool { return true }
func (r *TextReader) Err() error      { return r.err }
func (r *TextReader) Close() error    { return r.err }

func (r *TextReader) cur() *jsonValue {
	return r.values[len(r.values)-1]
}

func (r *TextReader) push(v *jsonValue, pathElem string) {
	r.values = append(r.values, v)
	r.path = append(r.path, pathElem)
}

func (r *TextReader) pop() {
	r.values = r.values[:len(r.values)-1]
	r.path = r.path[:len(r.path)-1]
}

func (r *TextReader) where() string {
	if len(r.path) == 0 {
		return "(root)"
	}
	return strings.Join(r.path, "")
}

func (r *TextReader) fail(sentinel error, format string, args ...any) {
	if r.err == nil {
		r.err = dataErrf(nil, 0, sentinel, "%s: %s", r.where(), fmt.Sprintf(format, args...))
	}
}

// want returns the current value if it has the given kind.
func (r *TextReader) want(kind jsonKind, what string) *jsonValue {
	if r.err != nil {
		return nil
	}
	v := r.cur()
	if v.kind != kind {
		r.fail(ErrTypeMismatch, "expected %s, got %v", what, v.kind)
		return nil
	}
	return v
}

func (r *TextReader) ValueType() ValueType {
	if r.err != nil {
		return ValueNone
	}
	return inferValueType(r.cur())
}

func inferValueType(v *jsonValue) ValueType {
	switch v.kind {
	case jsonNull:
		return ValueObject
	case jsonBool:
		return ValueBool
	case jsonNumber:
		return inferNumberType(v.str)
	case jsonString:
		switch {
		case strings.HasPrefix(v.str, textPrefixName):
			return ValueName
		case strings.HasPrefix(v.str, textPrefixObject):
			return ValueObject
		case strings.HasPrefix(v.str, textPrefixBase64):
			return ValueRawData
		case isNonFiniteLiteral(v.str):
			// the width is not recorded; double holds either
			return ValueDouble
		default:
			return ValueString
		}
	case jsonArray:
		return ValueArray
	case jsonObject:
		if isRawDataRecord(v) {
			return ValueRawData
		}
		return ValueRecord
	}
	return ValueNone
}

// inferNumberType picks the narrowest type that represents the literal
// exactly. Literals with a fraction or exponent are floating point.
func inferNumberType(lit string) ValueType {
	if strings.ContainsAny(lit, ".eE") {
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return ValueDouble
		}
		if float64(float32(f)) == f {
			return ValueFloat
		}
		return ValueDouble
	}
	if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
		switch {
		case n == int64(int8(n)):
			return ValueInt8
		case n == int64(int16(n)):
			return ValueInt16
		case n == int64(int32(n)):
			return ValueInt32
		default:
			return ValueInt64
		}
	}
	if _, err := strconv.ParseUint(lit, 10, 64); err == nil {
		return ValueUint64
	}
	return ValueDouble
}

func isRawDataRecord(v *jsonValue) bool {
	if len(v.keys) != 2 {
		return false
	}
	_, hasDigest := v.get(textKeyDigest)
	_, hasBase64 := v.get(textKeyBase64)
	return hasDigest && hasBase64
}

func (r *TextReader) FieldNames() []string {
	if len(r.records) == 0 {
		return nil
	}
	rec := r.records[len(r.records)-1]
	names := make([]string, len(rec.keys))
	for i, k := range rec.keys {
		names[i] = unescapeFieldName(k)
	}
	return names
}

func (r *TextReader) EnterRecord() {
	v := r.want(jsonObject, "record")
	if v == nil {
		v = &jsonValue{kind: jsonObject}
	}
	r.records = append(r.records, v)
}

func (r *TextReader) LeaveRecord() {
	r.records = r.records[:len(r.records)-1]
}

func (r *TextReader) EnterField(name string) {
	if !r.TryEnterField(name, true) {
		if r.err == nil {
			r.fail(ErrMissingField, "field %q not found", name)
		}
		r.push(jsonNullValue, "."+name)
	}
}

func (r *TextReader) LeaveField() { r.pop() }

func (r *TextReader) TryEnterField(name string, enterWhenWriting bool) bool {
	if r.err != nil {
		return false
	}
	v, ok := r.records[len(r.records)-1].get(escapeFieldName(name))
	if !ok {
		return false
	}
	r.push(v, "."+name)
	return true
}

func (r *TextReader) enterList(count *int, what string) {
	v := r.want(jsonArray, what)
	if v == nil {
		v = &jsonValue{kind: jsonArray}
	}
	*count = len(v.vals)
	r.iters = append(r.iters, textIter{v: v})
}

func (r *TextReader) leaveIter() {
	r.iters = r.iters[:len(r.iters)-1]
}

func (r *TextReader) enterListElement() {
	it := &r.iters[len(r.iters)-1]
	v := jsonNullValue
	if it.next < len(it.v.vals) {
		v = it.v.vals[it.next]
	}
	r.push(v, "["+strconv.Itoa(it.next)+"]")
	it.next++
}

func (r *TextReader) EnterArray(count *int) { r.enterList(count, "array") }
func (r *TextReader) LeaveArray()           { r.leaveIter() }
func (r *TextReader) EnterArrayElement()    { r.enterListElement() }
func (r *TextReader) LeaveArrayElement()    { r.pop() }

func (r *TextReader) EnterStream(count *int) { r.enterList(count, "stream") }
func (r *TextReader) LeaveStream()           { r.leaveIter() }
func (r *TextReader) EnterStreamElement()    { r.enterListElement() }
func (r *TextReader) LeaveStreamElement()    { r.pop() }

func (r *TextReader) EnterMap(count *int) {
	v := r.want(jsonObject, "map")
	if v == nil {
		v = &jsonValue{kind: jsonObject}
	}
	*count = len(v.keys)
	r.iters = append(r.iters, textIter{v: v})
}

func (r *TextReader) LeaveMap() { r.leaveIter() }

func (r *TextReader) EnterMapElement(key *string) {
	it := &r.iters[len(r.iters)-1]
	v := jsonNullValue
	*key = ""
	if it.next < len(it.v.keys) {
		*key = unescapeFieldName(it.v.keys[it.next])
		v = it.v.vals[it.next]
	}
	r.push(v, "["+strconv.Quote(*key)+"]")
	it.next++
}

func (r *TextReader) LeaveMapElement() { r.pop() }

func (r *TextReader) integer(bitSize int) int64 {
	v := r.want(jsonNumber, "integer")
	if v == nil {
		return 0
	}
	n, err := strconv.ParseInt(v.str, 10, bitSize)
	if err == nil {
		return n
	}
	// hand-edited files may spell integers as 1.0 or 1e3
	f, ferr := strconv.ParseFloat(v.str, 64)
	if ferr == nil && f == math.Trunc(f) && math.Abs(f) < math.Ldexp(1, 63) {
		n := int64(f)
		if float64(n) == f && n == signExtend(n, bitSize) {
			return n
		}
	}
	r.fail(ErrTypeMismatch, "%s is not an int%d", v.str, bitSize)
	return 0
}

func (r *TextReader) unsigned(bitSize int) uint64 {
	v := r.want(jsonNumber, "unsigned integer")
	if v == nil {
		return 0
	}
	n, err := strconv.ParseUint(v.str, 10, bitSize)
	if err == nil {
		return n
	}
	f, ferr := strconv.ParseFloat(v.str, 64)
	if ferr == nil && f >= 0 && f == math.Trunc(f) && f < math.Ldexp(1, bitSize) {
		return uint64(f)
	}
	r.fail(ErrTypeMismatch, "%s is not a uint%d", v.str, bitSize)
	return 0
}

func signExtend(n int64, bitSize int) int64 {
	shift := 64 - bitSize
	return n << shift >> shift
}

func (r *TextReader) float(bitSize int) float64 {
	if r.err != nil {
		return 0
	}
	v := r.cur()
	if v.kind == jsonString {
		switch v.str {
		case textNaN:
			return math.NaN()
		case textInf:
			return math.Inf(1)
		case textNegInf:
			return math.Inf(-1)
		}
	}
	if v = r.want(jsonNumber, "number"); v == nil {
		return 0
	}
	f, err := strconv.ParseFloat(v.str, bitSize)
	if err != nil {
		r.fail(ErrTypeMismatch, "%s is not a float%d", v.str, bitSize)
		return 0
	}
	return f
}

func (r *TextReader) Int8(v *int8)       { *v = int8(r.integer(8)) }
func (r *TextReader) Int16(v *int16)     { *v = int16(r.integer(16)) }
func (r *TextReader) Int32(v *int32)     { *v = int32(r.integer(32)) }
func (r *TextReader) Int64(v *int64)     { *v = r.integer(64) }
func (r *TextReader) Uint8(v *uint8)     { *v = uint8(r.unsigned(8)) }
func (r *TextReader) Uint16(v *uint16)   { *v = uint16(r.unsigned(16)) }
func (r *TextReader) Uint32(v *uint32)   { *v = uint32(r.unsigned(32)) }
func (r *TextReader) Uint64(v *uint64)   { *v = r.unsigned(64) }
func (r *TextReader) Float32(v *float32) { *v = float32(r.float(32)) }
func (r *TextReader) Float64(v *float64) { *v = r.float(64) }

func (r *TextReader) Bool(v *bool) {
	*v = false
	if jv := r.want(jsonBool, "bool"); jv != nil {
		*v = jv.b
	}
}

func (r *TextReader) String(v *string) {
	*v = ""
	if jv := r.want(jsonString, "string"); jv != nil {
		*v = strings.TrimPrefix(jv.str, textPrefixString)
	}
}

func (r *TextReader) Name(v *Name) {
	*v = ""
	jv := r.want(jsonString, "name")
	if jv == nil {
		return
	}
	if s, ok := strings.CutPrefix(jv.str, textPrefixName); ok {
		*v = Name(s)
	} else if hasTextPrefix(jv.str) {
		r.fail(ErrTypeMismatch, "expected name, got %q", jv.str)
	} else {
		*v = Name(jv.str)
	}
}

func (r *TextReader) Object(v *ObjectRef) {
	*v = ObjectRef{}
	if r.err != nil || r.cur().kind == jsonNull {
		return
	}
	jv := r.want(jsonString, "object reference")
	if jv == nil {
		return
	}
	path, ok := strings.CutPrefix(jv.str, textPrefixObject)
	if !ok {
		r.fail(ErrTypeMismatch, "expected object reference, got %q", jv.str)
		return
	}
	*v = ObjectRef{Path: path}
}

func (r *TextReader) Bytes(v *[]byte) {
	*v = r.rawData()
}

func (r *TextReader) Raw(v []byte) {
	b := r.rawData()
	if r.err != nil {
		clear(v)
		return
	}
	if len(b) != len(v) {
		r.fail(ErrTypeMismatch, "raw block has %d bytes, wanted %d", len(b), len(v))
		clear(v)
		return
	}
	copy(v, b)
}

func (r *TextReader) rawData() []byte {
	if r.err != nil {
		return nil
	}
	v := r.cur()
	switch v.kind {
	case jsonString:
		b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v.str, textPrefixBase64))
		if err != nil {
			r.fail(ErrCorrupt, "invalid base64: %v", err)
			return nil
		}
		return b
	case jsonObject:
		return r.rawDataRecord(v)
	default:
		r.fail(ErrTypeMismatch, "expected raw data, got %v", v.kind)
		return nil
	}
}

func (r *TextReader) rawDataRecord(v *jsonValue) []byte {
	digestVal, ok1 := v.get(textKeyDigest)
	linesVal, ok2 := v.get(textKeyBase64)
	if !ok1 || !ok2 || digestVal.kind != jsonString || linesVal.kind != jsonArray {
		r.fail(ErrTypeMismatch, "expected raw data record with %s and %s", textKeyDigest, textKeyBase64)
		return nil
	}
	var encoded strings.Builder
	for i, line := range linesVal.vals {
		if line.kind != jsonString {
			r.fail(ErrCorrupt, "%s[%d] is %v, wanted string", textKeyBase64, i, line.kind)
			return nil
		}
		encoded.WriteString(line.str)
	}
	data, err := base64.StdEncoding.DecodeString(encoded.String())
	if err != nil {
		r.fail(ErrCorrupt, "invalid base64: %v", err)
		return nil
	}
	expected, err := hex.DecodeString(digestVal.str)
	if err != nil {
		r.fail(ErrCorrupt, "invalid digest %q", digestVal.str)
		return nil
	}
	actual := sha1.Sum(data)
	if !bytes.Equal(actual[:], expected) {
		r.fail(ErrDigestMismatch, "stored digest %s, computed %x", digestVal.str, actual)
		return nil
	}
	return data
}

// looksLikeText is a cheap sniff used by format detection.
func looksLikeText(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[' || trimmed[0] == '/')
}
