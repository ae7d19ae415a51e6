package starchive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// SnapshotEncoding selects how Value trees are serialized outside of an
// archive, e.g. for caching a decoded tree or shipping it to a tool that
// does not link this package.
type SnapshotEncoding int

const (
	MsgPack SnapshotEncoding = iota
	CBOR
	JSON

	defaultSnapshotEncoding = MsgPack
)

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding makes equal trees produce equal bytes.
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("starchive: CBOR encoder initialization failed: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("starchive: CBOR decoder initialization failed: " + err.Error())
	}
}

func (enc SnapshotEncoding) String() string {
	switch enc {
	case MsgPack:
		return "msgpack"
	case CBOR:
		return "cbor"
	case JSON:
		return "json"
	default:
		return fmt.Sprintf("SnapshotEncoding(%d)", int(enc))
	}
}

func ParseSnapshotEncoding(s string) (SnapshotEncoding, error) {
	switch s {
	case "", "msgpack":
		return defaultSnapshotEncoding, nil
	case "cbor":
		return CBOR, nil
	case "json":
		return JSON, nil
	default:
		return 0, fmt.Errorf("unknown snapshot encoding %q", s)
	}
}

// EncodeValue appends the encoding of v to buf.
func (enc SnapshotEncoding) EncodeValue(buf []byte, v *Value) []byte {
	switch enc {
	case MsgPack:
		bb := bytesBuilder{buf}
		e := msgpack.GetEncoder()
		e.Reset(&bb)
		e.SetSortMapKeys(true)
		err := e.Encode(v)
		msgpack.PutEncoder(e)
		if err != nil {
			panic(fmt.Errorf("failed to encode value using MsgPack: %w", err))
		}
		return bb.Buf
	case CBOR:
		raw, err := cborEncMode.Marshal(v)
		if err != nil {
			panic(fmt.Errorf("failed to encode value using CBOR: %w", err))
		}
		return appendRaw(buf, raw)
	case JSON:
		raw, err := json.Marshal(v)
		if err != nil {
			panic(fmt.Errorf("failed to encode value to JSON: %w", err))
		}
		return appendRaw(buf, raw)
	default:
		panic("unsupported encoding")
	}
}

func (enc SnapshotEncoding) DecodeValue(buf []byte, v *Value) error {
	switch enc {
	case MsgPack:
		var r bytes.Reader
		r.Reset(buf)
		d := msgpack.GetDecoder()
		d.Reset(&r)
		err := d.Decode(v)
		msgpack.PutDecoder(d)
		if err != nil {
			return dataErrf(buf, 0, err, "failed to decode msgpack value")
		}
	case CBOR:
		if err := cborDecMode.Unmarshal(buf, v); err != nil {
			return dataErrf(buf, 0, err, "failed to decode CBOR value")
		}
	case JSON:
		if err := json.Unmarshal(buf, v); err != nil {
			return dataErrf(buf, 0, err, "failed to decode JSON value")
		}
	default:
		panic("unsupported encoding")
	}
	return validateValue(buf, v)
}

// validateValue rejects decoded trees that WriteValue could not write.
func validateValue(buf []byte, v *Value) error {
	if v.Type == ValueNone || v.Type >= valueTypeCount {
		return dataErrf(buf, 0, ErrTypeMismatch, "invalid value type %d", v.Type)
	}
	for i := range v.Fields {
		if err := validateValue(buf, &v.Fields[i].Value); err != nil {
			return err
		}
	}
	for i := range v.Elems {
		if err := validateValue(buf, &v.Elems[i]); err != nil {
			return err
		}
	}
	return nil
}
