package marshal

import (
	"testing"

	"github.com/nanovm/nanovm/pkg/heap"
	"github.com/nanovm/nanovm/pkg/value"
)

func roundTrip(t *testing.T, h *heap.Heap, in *value.Interner, v value.Value, flags ...Flag) value.Value {
	t.Helper()
	buf, err := Marshal(v, flags...)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out, err := Unmarshal(h, in, buf)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return out
}

func TestRoundTripPrimitives(t *testing.T) {
	h := heap.New()
	in := value.NewInterner()

	cases := []value.Value{
		value.Nil,
		value.Bool(true),
		value.Bool(false),
		value.Number(3.5),
		value.Int(0),
		value.Int(199),
		value.Int(200),
		value.Int(-1),
		value.Int(-70000),
		value.Int(1 << 20),
	}
	for _, c := range cases {
		got := roundTrip(t, h, in, c)
		if !value.Equals(got, c) {
			t.Errorf("round trip of %v produced %v", c.AsNumber(), got.AsNumber())
		}
	}
}

func TestRoundTripStringSymbolKeyword(t *testing.T) {
	h := heap.New()
	in := value.NewInterner()

	s := value.NewString(h, "hello world")
	got := roundTrip(t, h, in, s)
	if got.Kind() != value.KindString || got.AsString().String() != "hello world" {
		t.Fatalf("string round trip mismatch: %+v", got)
	}

	sym := in.Symbol(h, "foo")
	got = roundTrip(t, h, in, sym)
	if got.Kind() != value.KindSymbol || got.Ref() != sym.Ref() {
		t.Fatalf("expected decoded symbol to be the same interned object")
	}

	kw := in.Keyword(h, "bar")
	got = roundTrip(t, h, in, kw)
	if got.Kind() != value.KindKeyword || got.AsString().String() != "bar" {
		t.Fatalf("keyword round trip mismatch")
	}
}

func TestRoundTripArrayAndTuple(t *testing.T) {
	h := heap.New()
	in := value.NewInterner()

	arr := value.NewArray(h, 4)
	a := arr.AsArray()
	a.Push(value.Int(1))
	a.Push(value.NewString(h, "x"))
	a.Push(value.Bool(true))

	got := roundTrip(t, h, in, arr)
	if got.Kind() != value.KindArray || got.AsArray().Len() != 3 {
		t.Fatalf("array round trip mismatch: %+v", got)
	}
	if got.AsArray().Items[1].AsString().String() != "x" {
		t.Fatalf("array element mismatch")
	}

	tup := value.NewTuple(h, []value.Value{value.Int(1), value.Int(2)}, value.TupleBracket)
	got = roundTrip(t, h, in, tup)
	if got.Kind() != value.KindTuple || got.AsTuple().Len() != 2 || got.AsTuple().Flag != value.TupleBracket {
		t.Fatalf("tuple round trip mismatch: %+v", got)
	}
}

func TestRoundTripTableWithPrototype(t *testing.T) {
	h := heap.New()
	in := value.NewInterner()

	proto := value.NewTable(h, 2)
	proto.AsTable().Put(value.Int(1), value.NewString(h, "parent"))

	child := value.NewTable(h, 2)
	child.AsTable().Put(value.Int(1), value.NewString(h, "child"))
	child.AsTable().Prototype = proto.AsTable()

	got := roundTrip(t, h, in, child)
	ct := got.AsTable()
	v, ok := ct.GetOwn(value.Int(1))
	if !ok || v.AsString().String() != "child" {
		t.Fatalf("own entry lost across round trip")
	}
	if ct.Prototype == nil {
		t.Fatalf("prototype not reconstructed")
	}
	pv, ok := ct.Prototype.GetOwn(value.Int(1))
	if !ok || pv.AsString().String() != "parent" {
		t.Fatalf("prototype entry lost across round trip")
	}
}

func TestRoundTripSelfReferentialArray(t *testing.T) {
	h := heap.New()
	in := value.NewInterner()

	arr := value.NewArray(h, 1)
	a := arr.AsArray()
	a.Push(arr) // self-reference

	got := roundTrip(t, h, in, arr)
	if got.AsArray().Items[0].Ref() != got.Ref() {
		t.Fatalf("self-referential array did not round trip to itself")
	}
}

func TestNoCyclesFlagSkipsReferenceTable(t *testing.T) {
	h := heap.New()
	in := value.NewInterner()

	s := value.NewString(h, "shared")
	arr := value.NewArray(h, 2)
	a := arr.AsArray()
	a.Push(s)
	a.Push(s)

	// Without FlagNoCycles, the second occurrence of s is a back-ref
	// and decodes to the same object; with it, every occurrence is
	// written in full and decodes to a distinct allocation.
	got := roundTrip(t, h, in, arr, FlagNoCycles)
	items := got.AsArray().Items
	if items[0].Ref() == items[1].Ref() {
		t.Fatalf("expected FlagNoCycles to produce two distinct string allocations")
	}
}

func TestPointerRequiresUnsafeFlag(t *testing.T) {
	p := value.NewPointer(0x1234)
	if _, err := Marshal(p); err != ErrUnsafeRequired {
		t.Fatalf("expected ErrUnsafeRequired without FlagUnsafe, got %v", err)
	}
	buf, err := Marshal(p, FlagUnsafe)
	if err != nil {
		t.Fatalf("Marshal with FlagUnsafe: %v", err)
	}
	h := heap.New()
	in := value.NewInterner()
	got, err := Unmarshal(h, in, buf)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Kind() != value.KindPointer || got.AsPointer() != 0x1234 {
		t.Fatalf("pointer round trip mismatch: %+v", got)
	}
}

func TestTruncatedInputIsRejected(t *testing.T) {
	h := heap.New()
	in := value.NewInterner()
	buf, err := Marshal(value.NewString(h, "hello"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := Unmarshal(h, in, buf[:len(buf)-2]); err == nil {
		t.Fatalf("expected truncated input to be rejected")
	}
}
