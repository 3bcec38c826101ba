package value

import "github.com/nanovm/nanovm/pkg/heap"

// AbstractVTable is the polymorphic dispatch table for a user-defined
// opaque abstract type, per spec.md §9: "Implement as a tagged-variant
// dispatch plus a vtable struct (mark, gc, tostring, get, put, marshal,
// unmarshal, compare, hash, next, call)."  Every slot is optional; a nil
// slot means the operation is unsupported for that type.
type AbstractVTable struct {
	Name string

	Mark      func(self *Abstract, visit func(heap.GCObject))
	GC        func(self *Abstract) // finalizer; must succeed (spec.md §4.1)
	ToString  func(self *Abstract) string
	Get       func(self *Abstract, key Value) (Value, bool)
	Put       func(self *Abstract, key, val Value) error
	Marshal   func(self *Abstract) ([]byte, error)
	Unmarshal func(data []byte) (interface{}, error)
	Compare   func(a, b *Abstract) int
	Hash      func(self *Abstract) uint64
	Next      func(self *Abstract, key Value) (Value, bool)
	Call      func(self *Abstract, args []Value) (Value, error)
}

// Abstract is a user-defined opaque object with a vtable. Its private
// data is an arbitrary Go value the type's own methods know how to
// interpret (the "abstract(type, size) -> ptr" host API in spec.md §6
// collapses, in Go, to a type-asserted field rather than a raw pointer
// of a caller-chosen byte size).
type Abstract struct {
	heap.Header
	VTable *AbstractVTable
	Data   interface{}
}

func NewAbstract(h *heap.Heap, vt *AbstractVTable, data interface{}) Value {
	a := &Abstract{VTable: vt, Data: data}
	h.Alloc(a, heap.TypeAbstract, 32)
	return fromRef(KindAbstract, a)
}

func (v Value) AsAbstract() *Abstract { return v.ref.(*Abstract) }

func (a *Abstract) Trace(visit func(heap.GCObject)) {
	if a.VTable != nil && a.VTable.Mark != nil {
		a.VTable.Mark(a, visit)
	}
}

func (a *Abstract) Deinit() {
	if a.VTable != nil && a.VTable.GC != nil {
		a.VTable.GC(a)
	}
}
