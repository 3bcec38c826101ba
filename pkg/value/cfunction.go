package value

import "github.com/nanovm/nanovm/pkg/heap"

// CFunctionImpl is the Go implementation backing a c-function value: a
// foreign callable the bytecode interpreter invokes directly without
// going through a FuncDef/Function frame.
type CFunctionImpl func(args []Value) (Value, error)

// CFunction is a foreign callable (spec.md §3's "c-function" variant).
type CFunction struct {
	heap.Header
	Name string
	Impl CFunctionImpl
}

func NewCFunction(h *heap.Heap, name string, impl CFunctionImpl) Value {
	c := &CFunction{Name: name, Impl: impl}
	h.Alloc(c, heap.TypeCFunction, 24)
	return fromRef(KindCFunction, c)
}

func (v Value) AsCFunction() *CFunction { return v.ref.(*CFunction) }

func (c *CFunction) Trace(func(heap.GCObject)) {}
func (c *CFunction) Deinit()                   {}

// NewPointer wraps a raw address, used only in unsafe marshaling
// (spec.md §3). It is not GC-managed -- a pointer Value never owns
// memory the collector is responsible for.
func NewPointer(addr uintptr) Value {
	return Value{kind: KindPointer, ptr: addr}
}

// AsPointer returns the raw address carried by a KindPointer Value.
func (v Value) AsPointer() uintptr { return v.ptr }
