package starchive

import (
	"bytes"
	"errors"
	"math"
	"slices"
	"strings"
	"testing"
)

type scalars struct {
	I8   int8
	I16  int16
	I32  int32
	I64  int64
	U8   uint8
	U16  uint16
	U32  uint32
	U64  uint64
	F32  float32
	F64  float64
	B    bool
	S    string
	N    Name
	O    ObjectRef
	Null ObjectRef
	Data []byte
	Big  []byte
}

func (v *scalars) serialize(s Slot) {
	rec := s.EnterRecord()
	rec.EnterField("I8").Int8(&v.I8)
	rec.EnterField("I16").Int16(&v.I16)
	rec.EnterField("I32").Int32(&v.I32)
	rec.EnterField("I64").Int64(&v.I64)
	rec.EnterField("U8").Uint8(&v.U8)
	rec.EnterField("U16").Uint16(&v.U16)
	rec.EnterField("U32").Uint32(&v.U32)
	rec.EnterField("U64").Uint64(&v.U64)
	rec.EnterField("F32").Float32(&v.F32)
	rec.EnterField("F64").Float64(&v.F64)
	rec.EnterField("B").Bool(&v.B)
	rec.EnterField("S").String(&v.S)
	rec.EnterField("N").Name(&v.N)
	rec.EnterField("O").Object(&v.O)
	rec.EnterField("Null").Object(&v.Null)
	rec.EnterField("Data").Bytes(&v.Data)
	rec.EnterField("Big").Bytes(&v.Big)
}

func bigPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestFormats_ScalarRoundTrip(t *testing.T) {
	orig := scalars{
		I8:   math.MinInt8,
		I16:  math.MaxInt16,
		I32:  -123456,
		I64:  math.MinInt64,
		U8:   math.MaxUint8,
		U16:  60000,
		U32:  math.MaxUint32,
		U64:  math.MaxUint64,
		F32:  3.25,
		F64:  -0.1,
		B:    true,
		S:    "héllo \"world\"\n\ttab",
		N:    "Player",
		O:    ObjectRef{Path: "/Game/Maps/Level1"},
		Data: []byte{0, 1, 2, 0xff},
		Big:  bigPayload(300),
	}
	for _, f := range allFormats {
		t.Run(f.String(), func(t *testing.T) {
			data := write(t, f, Options{}, orig.serialize)
			var got scalars
			ensure(read(t, f, data, Options{}, got.serialize))

			if got.I8 != orig.I8 || got.I16 != orig.I16 || got.I32 != orig.I32 || got.I64 != orig.I64 {
				t.Fatalf("ints = %d %d %d %d, wanted %d %d %d %d", got.I8, got.I16, got.I32, got.I64, orig.I8, orig.I16, orig.I32, orig.I64)
			}
			if got.U8 != orig.U8 || got.U16 != orig.U16 || got.U32 != orig.U32 || got.U64 != orig.U64 {
				t.Fatalf("uints = %d %d %d %d, wanted %d %d %d %d", got.U8, got.U16, got.U32, got.U64, orig.U8, orig.U16, orig.U32, orig.U64)
			}
			if got.F32 != orig.F32 || got.F64 != orig.F64 {
				t.Fatalf("floats = %v %v, wanted %v %v", got.F32, got.F64, orig.F32, orig.F64)
			}
			if got.B != orig.B || got.S != orig.S || got.N != orig.N {
				t.Fatalf("got %v %q %q, wanted %v %q %q", got.B, got.S, got.N, orig.B, orig.S, orig.N)
			}
			if got.O != orig.O || !got.Null.IsNull() {
				t.Fatalf("objects = %v %v, wanted %v and null", got.O, got.Null, orig.O)
			}
			if !bytes.Equal(got.Data, orig.Data) || !bytes.Equal(got.Big, orig.Big) {
				t.Fatalf("Data = %x (%d big), wanted %x (%d big)", got.Data, len(got.Big), orig.Data, len(orig.Big))
			}
		})
	}
}

func TestTaggedWriter_NamesInterned(t *testing.T) {
	w := NewTaggedWriter()
	ar := New(w, Options{})
	rec := ar.Open().EnterRecord()
	for _, outer := range []string{"A", "B"} {
		inner := rec.EnterField(outer).EnterRecord()
		x := int32(1)
		inner.EnterField("A").Int32(&x)
		n := Name("B")
		inner.EnterField("Ref").Name(&n)
	}
	ensure(ar.Close())

	names := w.Names()
	if !slices.Equal(names, []string{"A", "Ref", "B"}) {
		t.Fatalf("Names() = %q, wanted [A Ref B]", names)
	}

	r := must(NewTaggedReader(w.Data()))
	if !slices.Equal(r.Names(), names) {
		t.Fatalf("reader Names() = %q, wanted %q", r.Names(), names)
	}
}

func TestTaggedReader_Corruption(t *testing.T) {
	x := int32(7)
	data := write(t, FormatTagged, Options{}, func(root Slot) {
		root.Int32(&x)
	})
	if data[taggedHeaderSize] != byte(ValueInt32) {
		t.Fatalf("tag = %d, wanted %d", data[taggedHeaderSize], ValueInt32)
	}

	t.Run("tag mismatch", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[taggedHeaderSize] = byte(ValueInt8)
		var got int32 = -1
		err := read(t, FormatTagged, bad, Options{}, func(root Slot) {
			root.Int32(&got)
		})
		expectDataError(t, err, ErrTypeMismatch)
		if got != 0 {
			t.Fatalf("got = %d, wanted 0", got)
		}
	})
	t.Run("truncated trailer", func(t *testing.T) {
		_, err := NewTaggedReader(data[:len(data)-1])
		expectDataError(t, err, nil)
	})
	t.Run("bad trailer offset", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[0] = 0xff
		_, err := NewTaggedReader(bad)
		expectDataError(t, err, nil)
	})
	t.Run("missing field", func(t *testing.T) {
		rd := write(t, FormatTagged, Options{}, func(root Slot) {
			root.EnterRecord().EnterField("A").Int32(&x)
		})
		var got int32
		err := read(t, FormatTagged, rd, Options{}, func(root Slot) {
			root.EnterRecord().EnterField("B").Int32(&got)
		})
		expectDataError(t, err, ErrMissingField)
	})
}

func TestBinaryReader_Errors(t *testing.T) {
	t.Run("truncated", func(t *testing.T) {
		var v int64
		err := read(t, FormatBinary, []byte{1, 2, 3, 4}, Options{}, func(root Slot) {
			root.Int64(&v)
		})
		expectDataError(t, err, ErrTruncated)
	})
	t.Run("bad bool is sticky", func(t *testing.T) {
		var b bool
		var after int8 = -1
		err := read(t, FormatBinary, []byte{2, 5}, Options{}, func(root Slot) {
			rec := root.EnterRecord()
			rec.EnterField("B").Bool(&b)
			rec.EnterField("After").Int8(&after)
		})
		expectDataError(t, err, ErrTypeMismatch)
		if after != 0 {
			t.Fatalf("After = %d, wanted 0 after an earlier error", after)
		}
	})
	t.Run("huge string length", func(t *testing.T) {
		var s string
		err := read(t, FormatBinary, []byte{0xff, 0xff, 0xff, 0x7f, 'a'}, Options{}, func(root Slot) {
			root.String(&s)
		})
		expectDataError(t, err, ErrTruncated)
	})
}

func TestTextWriter_Escaping(t *testing.T) {
	data := write(t, FormatText, Options{}, func(root Slot) {
		rec := root.EnterRecord()
		for _, f := range []Field{{"F_Base", StringValue("Base64:oops")}, {"F_Stri", StringValue("String:x")}, {"F_plai", StringValue("plain")}} {
			rec.EnterField(f.Name).String(&f.Value.Str)
		}
		x := int8(1)
		rec.EnterField("Digest").Int8(&x)
		rec.EnterField("Base64").Int8(&x)
		rec.EnterField("_private").Int8(&x)
	})
	text := string(data)
	for _, want := range []string{`"String:Base64:oops"`, `"String:String:x"`, `"plain"`, `"_Digest": 1`, `"_Base64": 1`, `"__private": 1`} {
		if !strings.Contains(text, want) {
			t.Fatalf("text does not contain %s:\n%s", want, text)
		}
	}

	ensure(read(t, FormatText, data, Options{}, func(root Slot) {
		rec := root.EnterRecord()
		names := rec.FieldNames()
		if !slices.Equal(names, []string{"F_Base", "F_Stri", "F_plai", "Digest", "Base64", "_private"}) {
			t.Fatalf("FieldNames = %q", names)
		}
		var s string
		rec.EnterField("F_Base").String(&s)
		if s != "Base64:oops" {
			t.Fatalf("F_Base = %q, wanted Base64:oops", s)
		}
		rec.EnterField("F_Stri").String(&s)
		if s != "String:x" {
			t.Fatalf("F_Stri = %q, wanted String:x", s)
		}
		var x int8
		rec.EnterField("_private").Int8(&x)
		if x != 1 {
			t.Fatalf("_private = %d, wanted 1", x)
		}
	}))
}

func TestTextWriter_RawData(t *testing.T) {
	small := bigPayload(textRawInlineLimit - 1)
	large := bigPayload(textRawInlineLimit*2 + 70)
	data := write(t, FormatText, Options{}, func(root Slot) {
		rec := root.EnterRecord()
		rec.EnterField("Small").Bytes(&small)
		rec.EnterField("Large").Bytes(&large)
	})
	text := string(data)
	if !strings.Contains(text, `"Small": "Base64:`) {
		t.Fatalf("Small is not inline:\n%s", text)
	}
	if !strings.Contains(text, `"Digest": "`) || !strings.Contains(text, `"Base64": [`) {
		t.Fatalf("Large is not a digest record:\n%s", text)
	}
	if n := strings.Count(text, "\n\t\t\t\""); n != 3 {
		t.Fatalf("Large has %d base64 lines, wanted 3:\n%s", n, text)
	}

	ensure(read(t, FormatText, data, Options{}, func(root Slot) {
		rec := root.EnterRecord()
		for _, name := range []string{"Small", "Large"} {
			s := rec.EnterField(name)
			if vt := s.ValueType(); vt != ValueRawData {
				t.Fatalf("%s ValueType = %v, wanted rawdata", name, vt)
			}
			var b []byte
			s.Bytes(&b)
			if name == "Large" && !bytes.Equal(b, large) {
				t.Fatalf("Large = %d bytes, wanted %d", len(b), len(large))
			}
		}
	}))

	t.Run("digest mismatch", func(t *testing.T) {
		doc := `{"Blob": {"Digest": "0000000000000000000000000000000000000000", "Base64": ["AAAA"]}}`
		var b []byte
		err := read(t, FormatText, []byte(doc), Options{}, func(root Slot) {
			root.EnterRecord().EnterField("Blob").Bytes(&b)
		})
		expectDataError(t, err, ErrDigestMismatch)
		if b != nil {
			t.Fatalf("Blob = %x, wanted nil", b)
		}
	})
	t.Run("fixed size block", func(t *testing.T) {
		block := make([]byte, 4)
		err := read(t, FormatText, []byte(`"Base64:AAECAw=="`), Options{}, func(root Slot) {
			root.Raw(block)
		})
		ensure(err)
		if !bytes.Equal(block, []byte{0, 1, 2, 3}) {
			t.Fatalf("block = %x, wanted 00010203", block)
		}
	})
}

func TestTextFloats(t *testing.T) {
	values := []float64{math.NaN(), math.Inf(1), math.Inf(-1), 2, 1e300}
	data := write(t, FormatText, Options{}, func(root Slot) {
		n := len(values)
		arr := root.EnterArray(&n)
		for i := range values {
			arr.EnterElement().Float64(&values[i])
		}
	})
	if !strings.Contains(string(data), "2.0") {
		t.Fatalf("integral float written without a decimal point:\n%s", data)
	}
	ensure(read(t, FormatText, data, Options{}, func(root Slot) {
		var n int
		arr := root.EnterArray(&n)
		got := make([]float64, n)
		for i := range got {
			arr.EnterElement().Float64(&got[i])
		}
		if !math.IsNaN(got[0]) || !math.IsInf(got[1], 1) || !math.IsInf(got[2], -1) || got[3] != 2 || got[4] != 1e300 {
			t.Fatalf("got %v, wanted %v", got, values)
		}
	}))
}

func TestTextWriter_InvalidUTF8(t *testing.T) {
	bad := "a\xffb"
	tests := []struct {
		what string
		fn   func(root Slot)
	}{
		{"string", func(root Slot) { root.String(&bad) }},
		{"name", func(root Slot) {
			n := Name(bad)
			root.Name(&n)
		}},
		{"object path", func(root Slot) { root.Object(&ObjectRef{Path: bad}) }},
		{"key", func(root Slot) {
			x := int8(1)
			root.EnterRecord().EnterField(bad).Int8(&x)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.what, func(t *testing.T) {
			ar := New(NewTextWriter(), Options{})
			tt.fn(ar.Open())
			err := ar.Close()
			if !errors.Is(err, ErrNotRepresentable) {
				t.Fatalf("Close() = %v, wanted ErrNotRepresentable", err)
			}
			if errors.Is(err, ErrCorrupt) {
				t.Fatalf("Close() = %v is a data error, wanted a writer error", err)
			}
			if !strings.Contains(err.Error(), tt.what) {
				t.Fatalf("Close() = %v, wanted it to mention %s", err, tt.what)
			}
		})
	}

	t.Run("copy", func(t *testing.T) {
		tagged := write(t, FormatTagged, Options{}, func(root Slot) {
			root.EnterRecord().EnterField("S").String(&bad)
		})
		src := New(must(NewTaggedReader(tagged)), Options{})
		dst := New(NewTextWriter(), Options{})
		if err := Copy(dst.Open(), src.Open()); !errors.Is(err, ErrNotRepresentable) {
			t.Fatalf("Copy() = %v, wanted ErrNotRepresentable", err)
		}
		ensure(src.Close())
		dst.Close()
	})

	t.Run("valid utf-8", func(t *testing.T) {
		s := "héllo, 世界"
		data := write(t, FormatText, Options{}, func(root Slot) { root.String(&s) })
		var got string
		ensure(read(t, FormatText, data, Options{}, func(root Slot) { root.String(&got) }))
		if got != s {
			t.Fatalf("got %q, wanted %q", got, s)
		}
	})
}

func TestTextReader_HandEdited(t *testing.T) {
	doc := `// saved by hand
	{
		"A": 1.0, /* integral float */
		"B": 1e3,
		"C": [1, 2, 3,],
		"D": 300,
	}`
	ensure(read(t, FormatText, []byte(doc), Options{}, func(root Slot) {
		rec := root.EnterRecord()
		var a, b int32
		rec.EnterField("A").Int32(&a)
		rec.EnterField("B").Int32(&b)
		if a != 1 || b != 1000 {
			t.Fatalf("A, B = %d, %d, wanted 1, 1000", a, b)
		}
		var n int
		arr := rec.EnterField("C").EnterArray(&n)
		if n != 3 {
			t.Fatalf("len(C) = %d, wanted 3", n)
		}
		for i := range n {
			var v uint8
			arr.EnterElement().Uint8(&v)
			if int(v) != i+1 {
				t.Fatalf("C[%d] = %d, wanted %d", i, v, i+1)
			}
		}
	}))

	t.Run("out of range", func(t *testing.T) {
		var d int8
		err := read(t, FormatText, []byte(doc), Options{}, func(root Slot) {
			root.EnterRecord().EnterField("D").Int8(&d)
		})
		expectDataError(t, err, ErrTypeMismatch)
	})
	t.Run("wrong kind", func(t *testing.T) {
		var s string
		err := read(t, FormatText, []byte(`{"A": 5}`), Options{}, func(root Slot) {
			root.EnterRecord().EnterField("A").String(&s)
		})
		expectDataError(t, err, ErrTypeMismatch)
	})
	t.Run("malformed", func(t *testing.T) {
		_, err := NewTextReader([]byte(`{"A": `))
		expectDataError(t, err, nil)
	})
	t.Run("trailing data", func(t *testing.T) {
		_, err := NewTextReader([]byte(`{} {}`))
		expectDataError(t, err, nil)
	})
}

func TestTextReader_ValueTypes(t *testing.T) {
	doc := `{
		"i8": 5, "i16": 1000, "i32": 100000, "i64": 1099511627776,
		"u64": 18446744073709551615, "float": 1.5, "double": 0.1,
		"bool": true, "null": null, "str": "x", "name": "Name:x",
		"obj": "Object:/a", "raw": "Base64:", "arr": [], "rec": {},
		"blob": {"Digest": "", "Base64": []},
		"nan": "NaN", "inf": "-Infinity", "nanstr": "String:NaN"
	}`
	wanted := map[string]ValueType{
		"i8": ValueInt8, "i16": ValueInt16, "i32": ValueInt32, "i64": ValueInt64,
		"u64": ValueUint64, "float": ValueFloat, "double": ValueDouble,
		"bool": ValueBool, "null": ValueObject, "str": ValueString, "name": ValueName,
		"obj": ValueObject, "raw": ValueRawData, "arr": ValueArray, "rec": ValueRecord,
		"blob": ValueRawData, "nan": ValueDouble, "inf": ValueDouble, "nanstr": ValueString,
	}
	ensure(read(t, FormatText, []byte(doc), Options{Trusting: true}, func(root Slot) {
		rec := root.EnterRecord()
		for _, name := range rec.FieldNames() {
			s := rec.EnterField(name)
			if vt := s.ValueType(); vt != wanted[name] {
				t.Fatalf("%s ValueType = %v, wanted %v", name, vt, wanted[name])
			}
			s.skip()
		}
	}))
}

func TestDetectFormat(t *testing.T) {
	x := int32(42)
	for _, f := range allFormats {
		data := write(t, f, Options{}, func(root Slot) {
			root.EnterRecord().EnterField("X").Int32(&x)
		})
		if got := DetectFormat(data); got != f {
			t.Fatalf("DetectFormat(%v data) = %v", f, got)
		}
	}
	if got := DetectFormat([]byte("  // comment\n{}")); got != FormatText {
		t.Fatalf("DetectFormat(commented text) = %v, wanted text", got)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input string
		want  Format
		ok    bool
	}{
		{"binary", FormatBinary, true},
		{"TAGGED", FormatTagged, true},
		{"json", FormatText, true},
		{"xml", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if (err == nil) != tt.ok || got != tt.want {
			t.Fatalf("ParseFormat(%q) = %v, %v, wanted %v (ok=%v)", tt.input, got, err, tt.want, tt.ok)
		}
	}
}
