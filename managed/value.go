package managed

import (
	"math"
	"strconv"
)

// Handle identifies a managed object. Handle 0 is the null reference.
type Handle uint64

func (h Handle) String() string {
	if h == 0 {
		return "null"
	}
	return "0x" + strconv.FormatUint(uint64(h), 16)
}

// Kind is a type descriptor character as used in method signatures.
type Kind byte

const (
	Void      Kind = 'V'
	Boolean   Kind = 'Z'
	Byte      Kind = 'B'
	Char      Kind = 'C'
	Short     Kind = 'S'
	Int       Kind = 'I'
	Long      Kind = 'J'
	Float     Kind = 'F'
	Double    Kind = 'D'
	Reference Kind = 'L'
)

// Width returns the storage width in bytes of a primitive kind.
func (k Kind) Width() int {
	switch k {
	case Boolean, Byte:
		return 1
	case Char, Short:
		return 2
	case Int, Float:
		return 4
	case Long, Double:
		return 8
	case Reference:
		return 8
	}
	return 0
}

// IsPrimitive reports whether k is a non-void primitive kind.
func (k Kind) IsPrimitive() bool {
	switch k {
	case Boolean, Byte, Char, Short, Int, Long, Float, Double:
		return true
	}
	return false
}

// Valid reports whether k is a known descriptor character.
func (k Kind) Valid() bool {
	return k == Void || k == Reference || k.IsPrimitive()
}

func (k Kind) String() string {
	switch k {
	case Void:
		return "void"
	case Boolean:
		return "boolean"
	case Byte:
		return "byte"
	case Char:
		return "char"
	case Short:
		return "short"
	case Int:
		return "int"
	case Long:
		return "long"
	case Float:
		return "float"
	case Double:
		return "double"
	case Reference:
		return "reference"
	}
	return "kind(" + strconv.Quote(string(rune(k))) + ")"
}

// Primitive is the set of Go types that back primitive array elements.
type Primitive interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

// KindOf returns the descriptor kind stored by T. uint8 maps to boolean,
// matching the native boolean width.
func KindOf[T Primitive]() Kind {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return Boolean
	case int8:
		return Byte
	case uint16:
		return Char
	case int16:
		return Short
	case int32:
		return Int
	case int64:
		return Long
	case float32:
		return Float
	case float64:
		return Double
	}
	return Void
}

// Value is a tagged managed value: one word of payload plus its kind.
type Value struct {
	bits uint64
	kind Kind
}

func VoidValue() Value         { return Value{kind: Void} }
func BoolValue(v bool) Value   { return Value{kind: Boolean, bits: b2u(v)} }
func ByteValue(v int8) Value   { return Value{kind: Byte, bits: uint64(int64(v))} }
func CharValue(v uint16) Value { return Value{kind: Char, bits: uint64(v)} }
func ShortValue(v int16) Value { return Value{kind: Short, bits: uint64(int64(v))} }
func IntValue(v int32) Value   { return Value{kind: Int, bits: uint64(int64(v))} }
func LongValue(v int64) Value  { return Value{kind: Long, bits: uint64(v)} }
func FloatValue(v float32) Value {
	return Value{kind: Float, bits: uint64(math.Float32bits(v))}
}
func DoubleValue(v float64) Value { return Value{kind: Double, bits: math.Float64bits(v)} }
func RefValue(h Handle) Value     { return Value{kind: Reference, bits: uint64(h)} }

// FromBits rebuilds a value from its raw word.
func FromBits(kind Kind, bits uint64) Value {
	switch kind {
	case Boolean:
		bits &= 1
	case Byte:
		bits = uint64(int64(int8(bits)))
	case Char:
		bits = uint64(uint16(bits))
	case Short:
		bits = uint64(int64(int16(bits)))
	case Int:
		bits = uint64(int64(int32(bits)))
	case Float:
		bits = uint64(uint32(bits))
	case Void:
		bits = 0
	}
	return Value{kind: kind, bits: bits}
}

func (v Value) Kind() Kind        { return v.kind }
func (v Value) Bits() uint64      { return v.bits }
func (v Value) Bool() bool        { return v.bits != 0 }
func (v Value) Int() int32        { return int32(v.bits) }
func (v Value) Long() int64       { return int64(v.bits) }
func (v Value) Float() float32    { return math.Float32frombits(uint32(v.bits)) }
func (v Value) Double() float64   { return math.Float64frombits(v.bits) }
func (v Value) Ref() Handle       { return Handle(v.bits) }
func (v Value) IsReference() bool { return v.kind == Reference }

func (v Value) String() string {
	switch v.kind {
	case Void:
		return "void"
	case Boolean:
		return strconv.FormatBool(v.Bool())
	case Float:
		return strconv.FormatFloat(float64(v.Float()), 'g', -1, 32)
	case Double:
		return strconv.FormatFloat(v.Double(), 'g', -1, 64)
	case Reference:
		return v.Ref().String()
	case Char:
		return strconv.QuoteRune(rune(v.bits))
	}
	return strconv.FormatInt(v.Long(), 10)
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
