package value

import "github.com/nanovm/nanovm/pkg/heap"

// WeakKind selects which side(s) of a table's entries the collector
// treats as weak references, per spec.md §3's weak-key/weak-value/
// weak-both table variants.
type WeakKind uint8

const (
	NotWeak WeakKind = iota
	WeakKeyOnly
	WeakValueOnly
	WeakBoth
)

type tableEntry struct {
	key, val Value
	used     bool
}

// Table is a mutable mapping with an optional prototype table, open-
// addressed with Equals/Hash from value.go so plain (non-interned)
// string keys compare by content rather than identity.
type Table struct {
	heap.Header
	buckets   []tableEntry
	count     int
	Prototype *Table
	Weak      WeakKind
}

const tableMinBuckets = 8

func newTableBuckets(n int) []tableEntry {
	if n < tableMinBuckets {
		n = tableMinBuckets
	}
	// round up to a power of two for cheap masking
	size := 1
	for size < n {
		size <<= 1
	}
	return make([]tableEntry, size)
}

func NewTable(h *heap.Heap, capacity int) Value {
	t := &Table{buckets: newTableBuckets(capacity)}
	h.Alloc(t, heap.TypeTable, capacity*32+48)
	return fromRef(KindTable, t)
}

func NewWeakTable(h *heap.Heap, capacity int, weak WeakKind) Value {
	t := &Table{buckets: newTableBuckets(capacity), Weak: weak}
	h.Alloc(t, heap.TypeTable, capacity*32+48)
	return fromRef(KindTable, t)
}

func (v Value) AsTable() *Table { return v.ref.(*Table) }

func (t *Table) mask() uint64 { return uint64(len(t.buckets) - 1) }

func (t *Table) find(key Value) (idx int, found bool) {
	h := Hash(key)
	m := t.mask()
	for i := uint64(0); i < uint64(len(t.buckets)); i++ {
		slot := int((h + i) & m)
		e := &t.buckets[slot]
		if !e.used {
			return slot, false
		}
		if Equals(e.key, key) {
			return slot, true
		}
	}
	return -1, false
}

func (t *Table) grow() {
	old := t.buckets
	t.buckets = newTableBuckets(len(old) * 2)
	t.count = 0
	for _, e := range old {
		if e.used {
			t.rawPut(e.key, e.val)
		}
	}
}

func (t *Table) rawPut(key, val Value) {
	idx, _ := t.find(key)
	if idx < 0 {
		t.grow()
		idx, _ = t.find(key)
	}
	if !t.buckets[idx].used {
		t.count++
	}
	t.buckets[idx] = tableEntry{key: key, val: val, used: true}
}

// Get looks up key, following the prototype chain on miss (tail
// recursion, per spec.md §4.1's mark policy note for the same chain).
func (t *Table) Get(key Value) (Value, bool) {
	for cur := t; cur != nil; cur = cur.Prototype {
		if idx, ok := cur.find(key); ok {
			return cur.buckets[idx].val, true
		}
	}
	return Nil, false
}

// GetOwn looks up key in this table only, ignoring the prototype chain.
func (t *Table) GetOwn(key Value) (Value, bool) {
	if idx, ok := t.find(key); ok {
		return t.buckets[idx].val, true
	}
	return Nil, false
}

// Put inserts or overwrites key in this table (never the prototype).
func (t *Table) Put(key, val Value) {
	if t.count+1 > len(t.buckets)*3/4 {
		t.grow()
	}
	t.rawPut(key, val)
}

// Delete removes key from this table if present.
func (t *Table) Delete(key Value) {
	idx, found := t.find(key)
	if !found {
		return
	}
	t.buckets[idx] = tableEntry{}
	t.count--
	// Re-insert the probe-chain tail so lookups don't break across the
	// freed slot (standard open-addressing deletion fixup).
	m := t.mask()
	probe := uint64(idx)
	for i := uint64(1); i < uint64(len(t.buckets)); i++ {
		slot := int((probe + i) & m)
		e := t.buckets[slot]
		if !e.used {
			break
		}
		t.buckets[slot] = tableEntry{}
		t.count--
		t.rawPut(e.key, e.val)
	}
}

func (t *Table) Len() int { return t.count }

// Next supports ordered-ish iteration (bucket order) for marshal and
// for a hypothetical host-exposed `next` vtable slot: pass Nil to start,
// then the previously returned key, until ok is false.
func (t *Table) Next(key Value) (nextKey, nextVal Value, ok bool) {
	start := 0
	if !key.IsNil() {
		if idx, found := t.find(key); found {
			start = idx + 1
		}
	}
	for i := start; i < len(t.buckets); i++ {
		if t.buckets[i].used {
			return t.buckets[i].key, t.buckets[i].val, true
		}
	}
	return Nil, Nil, false
}

func (t *Table) Trace(visit func(heap.GCObject)) {
	t.traceSide(visit, true, true)
	if t.Prototype != nil {
		visit(t.Prototype)
	}
}

func (t *Table) TraceStrong(visit func(heap.GCObject)) {
	markKeys := t.Weak != WeakKeyOnly && t.Weak != WeakBoth
	markVals := t.Weak != WeakValueOnly && t.Weak != WeakBoth
	t.traceSide(visit, markKeys, markVals)
	if t.Prototype != nil {
		visit(t.Prototype)
	}
}

func (t *Table) traceSide(visit func(heap.GCObject), markKeys, markVals bool) {
	for _, e := range t.buckets {
		if !e.used {
			continue
		}
		if markKeys && e.key.ref != nil {
			visit(e.key.ref)
		}
		if markVals && e.val.ref != nil {
			visit(e.val.ref)
		}
	}
}

// PruneDead removes entries whose weak side did not survive mark.
func (t *Table) PruneDead() {
	if t.Weak == NotWeak {
		return
	}
	var dead []Value
	for _, e := range t.buckets {
		if !e.used {
			continue
		}
		keyDead := (t.Weak == WeakKeyOnly || t.Weak == WeakBoth) && e.key.ref != nil && !e.key.Header().IsMarked()
		valDead := (t.Weak == WeakValueOnly || t.Weak == WeakBoth) && e.val.ref != nil && !e.val.Header().IsMarked()
		if keyDead || valDead {
			dead = append(dead, e.key)
		}
	}
	for _, k := range dead {
		t.Delete(k)
	}
}

func (t *Table) Deinit() {}
