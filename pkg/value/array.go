package value

import "github.com/nanovm/nanovm/pkg/heap"

// Array is a mutable value sequence. A weak array marks no element
// during mark (spec.md §4.1); unreachable elements become Nil at sweep
// rather than removing the slot, matching spec.md's array/table weak
// variants which prune by position, not by compaction.
type Array struct {
	heap.Header
	Items []Value
	Weak  bool
}

func NewArray(h *heap.Heap, capacity int) Value {
	a := &Array{Items: make([]Value, 0, capacity)}
	h.Alloc(a, heap.TypeArray, capacity*16+24)
	return fromRef(KindArray, a)
}

func NewWeakArray(h *heap.Heap, capacity int) Value {
	a := &Array{Items: make([]Value, 0, capacity), Weak: true}
	h.Alloc(a, heap.TypeArray, capacity*16+24)
	return fromRef(KindArray, a)
}

func (v Value) AsArray() *Array { return v.ref.(*Array) }

func (a *Array) Trace(visit func(heap.GCObject)) {
	if a.Weak {
		return
	}
	for _, it := range a.Items {
		if it.ref != nil {
			visit(it.ref)
		}
	}
}

func (a *Array) TraceStrong(visit func(heap.GCObject)) {
	// Weak arrays mark nothing; non-weak arrays have no weak side, so
	// the default Trace above already behaves like TraceStrong. This
	// method exists only so the GC's weakTraceable type-switch treats
	// every Array uniformly regardless of Weak.
	a.Trace(visit)
}

func (a *Array) PruneDead() {
	if !a.Weak {
		return
	}
	for i, it := range a.Items {
		if it.ref != nil && !it.Header().IsMarked() {
			a.Items[i] = Nil
		}
	}
}

func (a *Array) Deinit() {}

func (a *Array) Push(v Value) { a.Items = append(a.Items, v) }
func (a *Array) Len() int     { return len(a.Items) }
