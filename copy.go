package starchive

import "strconv"

// Copy transfers the subtree at src into dst without a schema, driven by
// the type annotations of src. src must belong to a loading archive with an
// annotated formatter. Both archives stay well-formed if src turns out to
// be corrupt; the data error is returned.
func Copy(dst, src Slot) error {
	copySlot(dst, src)
	if err := src.ar.Err(); err != nil {
		return err
	}
	return dst.ar.Err()
}

func copyScalar[T any](dst, src Slot, serialize func(Slot, *T)) {
	var v T
	serialize(src, &v)
	serialize(dst, &v)
}

func copySlot(dst, src Slot) {
	switch src.ValueType() {
	case ValueRecord:
		sr := src.EnterRecord()
		dr := dst.EnterRecord()
		for _, name := range sr.FieldNames() {
			copySlot(dr.EnterField(name), sr.EnterField(name))
		}
	case ValueArray:
		var n int
		sa := src.EnterArray(&n)
		da := dst.EnterArray(&n)
		for range n {
			copySlot(da.EnterElement(), sa.EnterElement())
		}
	case ValueStream:
		ss := src.EnterStream()
		ds := dst.EnterStream()
		for range ss.Len() {
			copySlot(ds.EnterElement(), ss.EnterElement())
		}
	case ValueMap:
		var n int
		sm := src.EnterMap(&n)
		dm := dst.EnterMap(&n)
		for i := range n {
			var key string
			se := sm.EnterElement(&key)
			if src.ar.Err() != nil {
				key = strconv.Itoa(i)
			}
			copySlot(dm.EnterElement(&key), se)
		}
	case ValueInt8:
		copyScalar(dst, src, Slot.Int8)
	case ValueInt16:
		copyScalar(dst, src, Slot.Int16)
	case ValueInt32:
		copyScalar(dst, src, Slot.Int32)
	case ValueInt64:
		copyScalar(dst, src, Slot.Int64)
	case ValueUint8:
		copyScalar(dst, src, Slot.Uint8)
	case ValueUint16:
		copyScalar(dst, src, Slot.Uint16)
	case ValueUint32:
		copyScalar(dst, src, Slot.Uint32)
	case ValueUint64:
		copyScalar(dst, src, Slot.Uint64)
	case ValueFloat:
		copyScalar(dst, src, Slot.Float32)
	case ValueDouble:
		copyScalar(dst, src, Slot.Float64)
	case ValueBool:
		copyScalar(dst, src, Slot.Bool)
	case ValueString:
		copyScalar(dst, src, Slot.String)
	case ValueName:
		copyScalar(dst, src, Slot.Name)
	case ValueObject:
		copyScalar(dst, src, Slot.Object)
	case ValueRawData:
		copyScalar(dst, src, Slot.Bytes)
	default:
		src.skip()
		dst.EnterRecord()
	}
}
