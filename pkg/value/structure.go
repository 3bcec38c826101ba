package value

import "github.com/nanovm/nanovm/pkg/heap"

// Structure is the immutable counterpart to Table (spec.md's "struct"
// variant; named Structure in Go to avoid colliding with the struct
// keyword). Built once from a flat key/value slice and never mutated
// afterwards -- Get is the only operation besides iteration.
type Structure struct {
	heap.Header
	entries   []tableEntry // reuses tableEntry; used is always true after construction
	Prototype *Structure
}

// NewStructure builds an immutable struct from a flat [k0, v0, k1, v1, ...]
// slice. Later duplicate keys win, matching table literal semantics.
func NewStructure(h *heap.Heap, kvs []Value, proto *Structure) Value {
	n := len(kvs) / 2
	buckets := newTableBuckets(n)
	tmp := &Table{buckets: buckets}
	for i := 0; i+1 < len(kvs); i += 2 {
		tmp.Put(kvs[i], kvs[i+1])
	}
	s := &Structure{entries: tmp.buckets, Prototype: proto}
	h.Alloc(s, heap.TypeStruct, len(kvs)*16+48)
	return fromRef(KindStruct, s)
}

func (v Value) AsStructure() *Structure { return v.ref.(*Structure) }

func (s *Structure) find(key Value) (int, bool) {
	mask := uint64(len(s.entries) - 1)
	h := Hash(key)
	for i := uint64(0); i < uint64(len(s.entries)); i++ {
		slot := int((h + i) & mask)
		e := &s.entries[slot]
		if !e.used {
			return -1, false
		}
		if Equals(e.key, key) {
			return slot, true
		}
	}
	return -1, false
}

// Get looks up key, following the struct prototype chain on miss.
func (s *Structure) Get(key Value) (Value, bool) {
	for cur := s; cur != nil; cur = cur.Prototype {
		if idx, ok := cur.find(key); ok {
			return cur.entries[idx].val, true
		}
	}
	return Nil, false
}

func (s *Structure) Len() int {
	n := 0
	for _, e := range s.entries {
		if e.used {
			n++
		}
	}
	return n
}

func (s *Structure) Next(key Value) (nextKey, nextVal Value, ok bool) {
	start := 0
	if !key.IsNil() {
		if idx, found := s.find(key); found {
			start = idx + 1
		}
	}
	for i := start; i < len(s.entries); i++ {
		if s.entries[i].used {
			return s.entries[i].key, s.entries[i].val, true
		}
	}
	return Nil, Nil, false
}

func (s *Structure) Trace(visit func(heap.GCObject)) {
	for _, e := range s.entries {
		if !e.used {
			continue
		}
		if e.key.ref != nil {
			visit(e.key.ref)
		}
		if e.val.ref != nil {
			visit(e.val.ref)
		}
	}
	if s.Prototype != nil {
		visit(s.Prototype)
	}
}

func (s *Structure) Deinit() {}
