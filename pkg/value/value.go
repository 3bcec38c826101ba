package value

import "github.com/nanovm/nanovm/pkg/heap"

// Value is nanovm's uniform tagged value. Primitive variants (nil,
// bool, number, integer) are stored inline; every reference variant is
// carried via ref, a pkg/heap.GCObject so the collector can walk it
// without this package needing to know the concrete type.
type Value struct {
	kind Kind
	num  float64
	i32  int32
	b    bool
	ptr  uintptr
	ref  heap.GCObject
}

// Nil is the singleton nil value.
var Nil = Value{kind: KindNil}

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps an IEEE 754 double. Per spec.md §3's numeric invariant,
// this is the default representation for any numeric literal; KindInt
// is reserved for values explicitly constructed as 32-bit integers
// (FFI boundaries, array/table indices arriving off the wire). Because
// nanovm's integer variant is capped at 32 bits, every Int value is
// trivially representable without loss in a float64's 52-bit mantissa,
// so no runtime promotion between the two ever needs to happen --
// Int and Number are kept deliberately distinct tags rather than ever
// silently converted into one another at construction time.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Int wraps a 32-bit signed integer.
func Int(i int32) Value { return Value{kind: KindInt, i32: i} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNil() bool    { return v.kind == KindNil }
func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsInt() bool    { return v.kind == KindInt }

// Truthy implements the language's truthiness rule: everything except
// nil and false is truthy.
func (v Value) Truthy() bool {
	return !(v.kind == KindNil || (v.kind == KindBool && !v.b))
}

func (v Value) AsBool() bool    { return v.b }
func (v Value) AsNumber() float64 {
	if v.kind == KindInt {
		return float64(v.i32)
	}
	return v.num
}
func (v Value) AsInt() int32 { return v.i32 }

// fromRef wraps a heap reference with its Kind tag.
func fromRef(kind Kind, ref heap.GCObject) Value {
	return Value{kind: kind, ref: ref}
}

// Ref returns the underlying heap object for a reference-kind Value, or
// nil for a primitive Value.
func (v Value) Ref() heap.GCObject { return v.ref }

// Header returns the GC header for a reference-kind Value, or nil.
func (v Value) Header() *heap.Header {
	if v.ref == nil {
		return nil
	}
	return v.ref.GCHeader()
}

// IsReference reports whether v is backed by a heap allocation.
func (v Value) IsReference() bool { return v.ref != nil }

// Equals implements the language's equality rule from spec.md §3:
// reference types compare by identity except strings (by content/hash),
// which symbols and keywords inherit because they are interned (so
// identity and content equality coincide for them too).
func Equals(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.num == b.num
	case KindInt:
		return a.i32 == b.i32
	case KindString:
		return a.AsString().Equal(b.AsString())
	default:
		return a.ref == b.ref
	}
}

// Hash returns a content hash for strings/symbols/keywords and an
// identity-derived hash for every other reference type, matching the
// Equals rule above so Value is safe to use as a Table key.
func Hash(v Value) uint64 {
	switch v.kind {
	case KindNil:
		return 0
	case KindBool:
		if v.b {
			return 1
		}
		return 2
	case KindNumber:
		return hashFloat(v.num)
	case KindInt:
		return hashFloat(float64(v.i32))
	case KindString, KindSymbol, KindKeyword:
		return v.AsString().hash
	default:
		return identityHash(v.ref)
	}
}
