package value

import "github.com/nanovm/nanovm/pkg/heap"

// TupleFlag records the tuple's source flag (spec.md §3: "immutable
// value sequence with an associated source flag") -- whether it was
// constructed as a literal parenthesized tuple or a bracketed one, a
// distinction the surface parser cares about but the runtime merely
// preserves and round-trips through marshal.
type TupleFlag uint8

const (
	TupleParen TupleFlag = iota
	TupleBracket
)

// Tuple is an immutable value sequence.
type Tuple struct {
	heap.Header
	Items []Value
	Flag  TupleFlag
}

func NewTuple(h *heap.Heap, items []Value, flag TupleFlag) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	t := &Tuple{Items: cp, Flag: flag}
	h.Alloc(t, heap.TypeTuple, len(cp)*16+24)
	return fromRef(KindTuple, t)
}

func (v Value) AsTuple() *Tuple { return v.ref.(*Tuple) }

func (t *Tuple) Trace(visit func(heap.GCObject)) {
	for _, it := range t.Items {
		if it.ref != nil {
			visit(it.ref)
		}
	}
}

func (t *Tuple) Deinit() {}
func (t *Tuple) Len() int { return len(t.Items) }
