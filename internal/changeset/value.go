// Package changeset implements the binary changeset format: the
// value and entry model, the varint codec, and the streaming reader
// and writer. The wire format is a concatenation of table groups,
// each a table header followed by insert/update/delete records.
package changeset

import (
	"hash/fnv"
	"math"
)

// ValueType tags the six value variants. The numeric values are the
// wire encoding and must not change.
type ValueType byte

const (
	// TypeUndefined marks a column as unchanged inside an update
	// record. It is distinct from TypeNull.
	TypeUndefined ValueType = 0
	TypeInt       ValueType = 1
	TypeDouble    ValueType = 2
	TypeText      ValueType = 3
	TypeBlob      ValueType = 4
	TypeNull      ValueType = 5
)

func (t ValueType) String() string {
	switch t {
	case TypeUndefined:
		return "undefined"
	case TypeInt:
		return "int"
	case TypeDouble:
		return "double"
	case TypeText:
		return "text"
	case TypeBlob:
		return "blob"
	case TypeNull:
		return "null"
	}
	return "invalid"
}

// Value is a single column value: one of undefined, null, int64,
// float64, text or blob. Values are immutable after construction.
// The zero Value is undefined.
type Value struct {
	typ ValueType
	num uint64 // int64 or float64 bit pattern
	str []byte // text or blob payload
}

// Undefined returns the undefined value.
func Undefined() Value { return Value{} }

// Null returns the null value.
func Null() Value { return Value{typ: TypeNull} }

// NewInt returns an integer value.
func NewInt(v int64) Value { return Value{typ: TypeInt, num: uint64(v)} }

// NewDouble returns a double value.
func NewDouble(v float64) Value { return Value{typ: TypeDouble, num: math.Float64bits(v)} }

// NewText returns a text value holding a copy of s.
func NewText(s string) Value { return Value{typ: TypeText, str: []byte(s)} }

// NewBlob returns a blob value holding a copy of b.
func NewBlob(b []byte) Value {
	return Value{typ: TypeBlob, str: append([]byte(nil), b...)}
}

// Type returns the value's type tag.
func (v Value) Type() ValueType { return v.typ }

// IsDefined reports whether the value is not undefined.
func (v Value) IsDefined() bool { return v.typ != TypeUndefined }

// Int returns the integer payload. Valid only for TypeInt.
func (v Value) Int() int64 { return int64(v.num) }

// Double returns the double payload. Valid only for TypeDouble.
func (v Value) Double() float64 { return math.Float64frombits(v.num) }

// Text returns the text payload. Valid only for TypeText.
func (v Value) Text() string { return string(v.str) }

// Bytes returns the raw payload of a text or blob value. The caller
// must not modify the returned slice.
func (v Value) Bytes() []byte { return v.str }

// Equal reports whether two values have the same type and payload.
// Integer and double payloads compare by stored bit pattern, text and
// blob by byte sequence. Two undefined values are equal, as are two
// nulls.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case TypeUndefined, TypeNull:
		return true
	case TypeInt, TypeDouble:
		return v.num == other.num
	case TypeText, TypeBlob:
		return string(v.str) == string(other.str)
	}
	return false
}

// Hash returns a hash consistent with Equal.
func (v Value) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte{byte(v.typ)})
	switch v.typ {
	case TypeInt, TypeDouble:
		var buf [8]byte
		for i := 0; i < 8; i++ {
			buf[i] = byte(v.num >> (8 * i))
		}
		h.Write(buf[:])
	case TypeText, TypeBlob:
		h.Write(v.str)
	}
	return h.Sum64()
}

// AppendKey appends a canonical byte encoding of the value to dst,
// suitable for building composite lookup keys. Distinct values never
// share an encoding because payload bytes are length-prefixed.
func (v Value) AppendKey(dst []byte) []byte {
	dst = append(dst, byte(v.typ))
	switch v.typ {
	case TypeInt, TypeDouble:
		for i := 0; i < 8; i++ {
			dst = append(dst, byte(v.num>>(8*i)))
		}
	case TypeText, TypeBlob:
		n := len(v.str)
		dst = append(dst, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
		dst = append(dst, v.str...)
	}
	return dst
}
