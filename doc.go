/*
Package starchive implements structured archives: a single forward-only API
for reading and writing trees of records, arrays, streams, maps and scalars,
with interchangeable encodings underneath.

Serialization code is written once against Slot, and the same code both
saves and loads:

	func (p *Point) Serialize(s starchive.Slot) {
		rec := s.EnterRecord()
		rec.EnterField("X").Int32(&p.X)
		rec.EnterField("Y").Int32(&p.Y)
	}

We implement:

1. Compact binary, which stores values only. Field names never reach the
output, so reading must repeat the writing sequence exactly.

2. Tagged binary, which tags every value with its type and appends a table of
names and record layouts. Fields can be read in any order, optional fields can
be probed, and readers can describe the data (see AnnotatedFormatter).

3. Text, a JSON document meant for diffs and hand edits.

# Traversal rules

A Slot takes exactly one value. Entering a field, element or map entry makes
a new slot current and implicitly closes everything that was open below the
container it belongs to. Handles are checked against this: using a slot or a
container after it has been left panics with *UsageError. So do duplicate
field names, array element counts that disagree with the declared length, and
moving on from a slot that was never filled. Options.Trusting turns these
checks off.

Malformed input is never a panic. Readers record the first *DataError, keep
returning zero values, and report it from Archive.Err and Archive.Close. A
repeated map key or object key in the data is such an error.

# Binary encoding

**Compact binary.**
Little-endian fixed-width scalars, one byte per bool. Strings, names and byte
buffers are a u32 length followed by the bytes. Arrays, streams and maps are a
u32 count followed by elements; map entries lead with the key string. Object
references are their path string. Optional fields are preceded by a presence
byte.

**Tagged binary.**
1. Header: u64 offset of the trailer.
2. Values, each prefixed with a one-byte ValueType. Fields of a record are
stored back to back in writing order.
3. Trailer: the name table (count, then strings), then one entry per record:
field count, start offset, and for each field a name index (u32) and its
encoded size. Name values point into the same name table.

**Text.**
Records and maps are objects, arrays and streams are arrays. Names, object
references and byte buffers are strings with a "Name:", "Object:" or "Base64:"
prefix; strings that happen to start with a prefix get "String:" in front.
Byte buffers of 90 bytes or more become {"Digest": sha1, "Base64": [lines]}.
NaN and infinite floats are the strings "NaN", "Infinity" and "-Infinity";
real strings with those contents are written with "String:" as well. JSON
cannot carry bytes that are not UTF-8, so writing such a string, name, object
path or key fails with ErrNotRepresentable.
*/
package starchive
