package starchive

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	textRawLineChars = 120
	// textRawInlineLimit is the largest payload that fits on one base64
	// line; anything at least this big becomes a digest record.
	textRawInlineLimit = textRawLineChars / 4 * 3

	textKeyDigest = "Digest"
	textKeyBase64 = "Base64"

	textPrefixName   = "Name:"
	textPrefixObject = "Object:"
	textPrefixBase64 = "Base64:"
	textPrefixString = "String:"

	textNaN    = "NaN"
	textInf    = "Infinity"
	textNegInf = "-Infinity"
)

var textPrefixes = [...]string{textPrefixName, textPrefixObject, textPrefixBase64, textPrefixString}

// escapeFieldName keeps user field names from colliding with the keys of
// the raw data record.
func escapeFieldName(name string) string {
	if name == textKeyBase64 || name == textKeyDigest || strings.HasPrefix(name, "_") {
		return "_" + name
	}
	return name
}

func unescapeFieldName(key string) string {
	return strings.TrimPrefix(key, "_")
}

// isNonFiniteLiteral reports whether s is how the text format spells a NaN
// or infinite float.
func isNonFiniteLiteral(s string) bool {
	return s == textNaN || s == textInf || s == textNegInf
}

func hasTextPrefix(s string) bool {
	for _, p := range textPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// TextWriter writes a JSON document. Strings carry a kind prefix where
// needed (Name:, Object:, Base64:, String:) so that a reader without a
// schema can tell the kinds apart.
//
// Layout is driven by two pending flags rather than by recursion: every
// Enter flushes a pending comma and newline before writing, every Leave
// closes the bracket on a fresh line and sets both flags again.
//
// JSON strings cannot hold arbitrary bytes, so a string, name, object path
// or key that is not valid UTF-8 fails the archive with ErrNotRepresentable.
type TextWriter struct {
	out          bytesBuilder
	newline      []byte
	needsComma   bool
	needsNewline bool
	closed       bool
	err          error
}

func NewTextWriter() *TextWriter {
	return &TextWriter{newline: []byte{'\n'}}
}

func (w *TextWriter) IsLoading() bool { return false }
func (w *TextWriter) Err() error      { return w.err }

func (w *TextWriter) Data() []byte {
	return w.out.Buf
}

func (w *TextWriter) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if w.out.Len() > 0 {
		w.out.AppendByte('\n')
	}
	return w.err
}

// str appends s as a JSON string after checking that it survives the trip.
func (w *TextWriter) str(s string, what string) {
	if w.err == nil && !utf8.ValidString(s) {
		w.err = fmt.Errorf("%w: %s %q is not valid UTF-8", ErrNotRepresentable, what, s)
	}
	w.out.Buf = appendJSONString(w.out.Buf, s)
}

func (w *TextWriter) writeOptionalComma() {
	if w.needsComma {
		w.out.AppendByte(',')
		w.needsComma = false
	}
}

func (w *TextWriter) writeOptionalNewline() {
	if w.needsNewline {
		w.out.AppendRaw(w.newline)
		w.needsNewline = false
	}
}

func (w *TextWriter) open(bracket byte) {
	w.writeOptionalComma()
	w.writeOptionalNewline()
	w.out.AppendByte(bracket)
	w.newline = append(w.newline, '\t')
	w.needsNewline = true
}

func (w *TextWriter) close(bracket byte) {
	w.newline = w.newline[:len(w.newline)-1]
	w.needsNewline = true
	w.writeOptionalNewline()
	w.out.AppendByte(bracket)
	w.needsComma = true
	w.needsNewline = true
}

func (w *TextWriter) enterKey(key string) {
	w.writeOptionalComma()
	w.writeOptionalNewline()
	w.str(key, "key")
	w.out.AppendRaw([]byte(": "))
}

func (w *TextWriter) leaveItem() {
	w.needsComma = true
	w.needsNewline = true
}

func (w *TextWriter) EnterRecord() { w.open('{') }
func (w *TextWriter) LeaveRecord() { w.close('}') }

func (w *TextWriter) EnterField(name string) { w.enterKey(escapeFieldName(name)) }
func (w *TextWriter) LeaveField()            { w.leaveItem() }

func (w *TextWriter) TryEnterField(name string, enterWhenWriting bool) bool {
	if enterWhenWriting {
		w.EnterField(name)
	}
	return enterWhenWriting
}

func (w *TextWriter) EnterArray(count *int) { w.open('[') }
func (w *TextWriter) LeaveArray()           { w.close(']') }

func (w *TextWriter) EnterArrayElement() {
	w.writeOptionalComma()
	w.writeOptionalNewline()
}
func (w *TextWriter) LeaveArrayElement() { w.leaveItem() }

func (w *TextWriter) EnterStream(count *int) { w.open('[') }
func (w *TextWriter) LeaveStream()           { w.close(']') }
func (w *TextWriter) EnterStreamElement()    { w.EnterArrayElement() }
func (w *TextWriter) LeaveStreamElement()    { w.leaveItem() }

func (w *TextWriter) EnterMap(count *int)         { w.open('{') }
func (w *TextWriter) LeaveMap()                   { w.close('}') }
func (w *TextWriter) EnterMapElement(key *string) { w.enterKey(escapeFieldName(*key)) }
func (w *TextWriter) LeaveMapElement()            { w.leaveItem() }

func (w *TextWriter) Int8(v *int8)     { w.out.Buf = strconv.AppendInt(w.out.Buf, int64(*v), 10) }
func (w *TextWriter) Int16(v *int16)   { w.out.Buf = strconv.AppendInt(w.out.Buf, int64(*v), 10) }
func (w *TextWriter) Int32(v *int32)   { w.out.Buf = strconv.AppendInt(w.out.Buf, int64(*v), 10) }
func (w *TextWriter) Int64(v *int64)   { w.out.Buf = strconv.AppendInt(w.out.Buf, *v, 10) }
func (w *TextWriter) Uint8(v *uint8)   { w.out.Buf = strconv.AppendUint(w.out.Buf, uint64(*v), 10) }
func (w *TextWriter) Uint16(v *uint16) { w.out.Buf = strconv.AppendUint(w.out.Buf, uint64(*v), 10) }
func (w *TextWriter) Uint32(v *uint32) { w.out.Buf = strconv.AppendUint(w.out.Buf, uint64(*v), 10) }
func (w *TextWriter) Uint64(v *uint64) { w.out.Buf = strconv.AppendUint(w.out.Buf, *v, 10) }

func (w *TextWriter) Float32(v *float32) { w.float(float64(*v), 32) }
func (w *TextWriter) Float64(v *float64) { w.float(*v, 64) }

// float always writes a decimal point or exponent so that the reader
// classifies the number as floating point. JSON has no NaN or infinities;
// those are written as the strings "NaN", "Infinity" and "-Infinity", which
// String escapes when they occur as real strings.
func (w *TextWriter) float(f float64, bitSize int) {
	switch {
	case math.IsNaN(f):
		w.out.Buf = appendJSONString(w.out.Buf, textNaN)
	case math.IsInf(f, 1):
		w.out.Buf = appendJSONString(w.out.Buf, textInf)
	case math.IsInf(f, -1):
		w.out.Buf = appendJSONString(w.out.Buf, textNegInf)
	default:
		s := strconv.FormatFloat(f, 'g', -1, bitSize)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		w.out.AppendRaw([]byte(s))
	}
}

func (w *TextWriter) Bool(v *bool) {
	w.out.Buf = strconv.AppendBool(w.out.Buf, *v)
}

func (w *TextWriter) String(v *string) {
	s := *v
	if hasTextPrefix(s) || isNonFiniteLiteral(s) {
		s = textPrefixString + s
	}
	w.str(s, "string")
}

func (w *TextWriter) Name(v *Name) {
	w.str(textPrefixName+string(*v), "name")
}

func (w *TextWriter) Object(v *ObjectRef) {
	if v.IsNull() {
		w.out.AppendRaw([]byte("null"))
		return
	}
	w.str(textPrefixObject+v.Path, "object path")
}

func (w *TextWriter) Bytes(v *[]byte) { w.raw(*v) }
func (w *TextWriter) Raw(v []byte)    { w.raw(v) }

// raw writes small payloads as one "Base64:" string. Larger ones become
// {"Digest": sha1, "Base64": [lines...]} so that diffs stay readable and
// damaged payloads are detected on load.
func (w *TextWriter) raw(data []byte) {
	if len(data) < textRawInlineLimit {
		w.out.Buf = appendJSONString(w.out.Buf, textPrefixBase64+base64.StdEncoding.EncodeToString(data))
		return
	}

	digest := sha1.Sum(data)
	encoded := base64.StdEncoding.EncodeToString(data)

	w.open('{')
	w.enterKey(textKeyDigest)
	w.out.Buf = appendJSONString(w.out.Buf, hex.EncodeToString(digest[:]))
	w.leaveItem()

	w.enterKey(textKeyBase64)
	w.open('[')
	for len(encoded) > 0 {
		n := min(len(encoded), textRawLineChars)
		w.EnterArrayElement()
		w.out.Buf = appendJSONString(w.out.Buf, encoded[:n])
		w.leaveItem()
		encoded = encoded[n:]
	}
	w.close(']')
	w.leaveItem()
	w.close('}')
}

const hexDigits = "0123456789abcdef"

func appendJSONString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch {
			case c == '"' || c == '\\':
				buf = append(buf, '\\', c)
			case c == '\n':
				buf = append(buf, '\\', 'n')
			case c == '\r':
				buf = append(buf, '\\', 'r')
			case c == '\t':
				buf = append(buf, '\\', 't')
			case c < 0x20 || c == 0x7f:
				buf = append(buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xF])
			default:
				buf = append(buf, c)
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf = append(buf, `�`...)
		} else {
			buf = append(buf, s[i:i+size]...)
		}
		i += size
	}
	return append(buf, '"')
}
