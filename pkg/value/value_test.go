package value

import (
	"testing"

	"github.com/nanovm/nanovm/pkg/heap"
)

func TestTruthiness(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{Nil, false},
		{Bool(false), false},
		{Bool(true), true},
		{Number(0), true},
		{Int(0), true},
	}
	for _, c := range cases {
		if got := c.v.Truthy(); got != c.want {
			t.Errorf("Truthy(%v) = %v, want %v", c.v.Kind(), got, c.want)
		}
	}
}

func TestStringEqualityIsByContent(t *testing.T) {
	h := heap.New()
	a := NewString(h, "hello")
	b := NewString(h, "hello")
	if a.Ref() == b.Ref() {
		t.Fatalf("expected two distinct allocations for two NewString calls")
	}
	if !Equals(a, b) {
		t.Fatalf("expected content-equal strings to compare equal")
	}
}

func TestSymbolInterningGivesIdentity(t *testing.T) {
	h := heap.New()
	in := NewInterner()
	a := in.Symbol(h, "foo")
	b := in.Symbol(h, "foo")
	if a.Ref() != b.Ref() {
		t.Fatalf("expected interned symbols with the same text to share an allocation")
	}
}

func TestArrayReferenceEquality(t *testing.T) {
	h := heap.New()
	a := NewArray(h, 0)
	b := NewArray(h, 0)
	if Equals(a, b) {
		t.Fatalf("expected distinct arrays to compare unequal")
	}
	if !Equals(a, a) {
		t.Fatalf("expected an array to equal itself")
	}
}

func TestTablePutGetAndPrototypeFallback(t *testing.T) {
	h := heap.New()
	proto := NewTable(h, 0).AsTable()
	key := NewString(h, "inherited")
	proto.Put(key, Number(1))

	tbl := NewTable(h, 0).AsTable()
	tbl.Prototype = proto

	if v, ok := tbl.Get(key); !ok || v.AsNumber() != 1 {
		t.Fatalf("expected prototype fallback to find inherited key")
	}

	own := NewString(h, "own")
	tbl.Put(own, Number(2))
	if _, ok := proto.Get(own); ok {
		t.Fatalf("prototype should not see child's own keys")
	}
}

func TestTableDeleteThenMissingLookup(t *testing.T) {
	h := heap.New()
	tbl := NewTable(h, 0).AsTable()
	k := NewString(h, "k")
	tbl.Put(k, Number(1))
	tbl.Delete(k)
	if _, ok := tbl.GetOwn(k); ok {
		t.Fatalf("expected key to be gone after delete")
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected empty table after delete, len=%d", tbl.Len())
	}
}

func TestTableGrowthPreservesEntries(t *testing.T) {
	h := heap.New()
	tbl := NewTable(h, 0).AsTable()
	const n = 200
	keys := make([]Value, n)
	for i := 0; i < n; i++ {
		keys[i] = Int(int32(i))
		tbl.Put(keys[i], Number(float64(i*2)))
	}
	for i := 0; i < n; i++ {
		v, ok := tbl.Get(keys[i])
		if !ok || v.AsNumber() != float64(i*2) {
			t.Fatalf("key %d: got %v, %v", i, v, ok)
		}
	}
	if tbl.Len() != n {
		t.Fatalf("expected %d entries, got %d", n, tbl.Len())
	}
}

func TestStructurePrototypeChain(t *testing.T) {
	h := heap.New()
	protoVal := NewStructure(h, []Value{NewString(h, "a"), Number(1)}, nil)
	proto := protoVal.AsStructure()

	childVal := NewStructure(h, []Value{NewString(h, "b"), Number(2)}, proto)
	child := childVal.AsStructure()

	if v, ok := child.Get(NewString(h, "a")); !ok || v.AsNumber() != 1 {
		t.Fatalf("expected struct to inherit from prototype")
	}
	if v, ok := child.Get(NewString(h, "b")); !ok || v.AsNumber() != 2 {
		t.Fatalf("expected struct's own key to resolve")
	}
}

func TestFunctionCaptureAndMark(t *testing.T) {
	h := heap.New()
	def := NewFuncDef(h, &FuncDef{SlotCount: 1})
	env := NewDetachedEnv(h, []Value{Number(42)})
	fn := NewFunction(h, def, []*FuncEnv{env})
	h.Root(fn.Ref())

	h.Collect()

	got := fn.AsFunction().Envs[0].Values()[0]
	if got.AsNumber() != 42 {
		t.Fatalf("expected captured value to survive collection, got %v", got)
	}
}

func TestWeakTablePrunesDeadValues(t *testing.T) {
	h := heap.New()
	wt := NewWeakTable(h, 0, WeakValueOnly).AsTable()
	key := NewString(h, "k")
	h.Root(key.Ref()) // keep key itself alive for the lookup below

	val := NewArray(h, 0) // unrooted: only the weak table points to it
	wt.Put(key, val)

	h.Collect()

	if _, ok := wt.GetOwn(key); ok {
		t.Fatalf("expected weak-value entry to be pruned once its value is unreachable")
	}
}
