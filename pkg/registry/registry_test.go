package registry

import (
	"testing"

	"github.com/nanovm/nanovm/pkg/heap"
	"github.com/nanovm/nanovm/pkg/value"
)

func TestRegisterAndLookup(t *testing.T) {
	h := heap.New()
	r := New()

	fn := value.NewCFunction(h, "math/sqrt", func(args []value.Value) (value.Value, error) {
		return value.Nil, nil
	})
	r.Register("math/sqrt", fn)

	got, ok := r.Lookup("math/sqrt")
	if !ok {
		t.Fatalf("expected math/sqrt to be registered")
	}
	if got.Ref() != fn.Ref() {
		t.Fatalf("Lookup returned a different value than registered")
	}

	if _, ok := r.Lookup("math/cos"); ok {
		t.Fatalf("expected unregistered name to miss")
	}
}

func TestNameOfReverseLookup(t *testing.T) {
	h := heap.New()
	r := New()

	fn := value.NewCFunction(h, "io/print", func(args []value.Value) (value.Value, error) {
		return value.Nil, nil
	})
	r.Register("io/print", fn)

	name, ok := r.NameOf(fn)
	if !ok || name != "io/print" {
		t.Fatalf("expected NameOf to resolve to io/print, got %q, %v", name, ok)
	}

	other := value.NewCFunction(h, "unrelated", func(args []value.Value) (value.Value, error) {
		return value.Nil, nil
	})
	if _, ok := r.NameOf(other); ok {
		t.Fatalf("expected an unregistered value to miss NameOf")
	}
}

func TestNameOfRejectsNonReferenceValues(t *testing.T) {
	r := New()
	if _, ok := r.NameOf(value.Int(42)); ok {
		t.Fatalf("expected a non-reference value to never resolve via NameOf")
	}
}

func TestRegisterPanicsOnNonReferenceValue(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Register to panic on a non-reference value")
		}
	}()
	New().Register("bad", value.Int(1))
}

func TestRegisterOverwritesExistingName(t *testing.T) {
	h := heap.New()
	r := New()

	first := value.NewCFunction(h, "dup", func(args []value.Value) (value.Value, error) {
		return value.Nil, nil
	})
	second := value.NewCFunction(h, "dup", func(args []value.Value) (value.Value, error) {
		return value.Nil, nil
	})

	r.Register("dup", first)
	r.Register("dup", second)

	got, ok := r.Lookup("dup")
	if !ok || got.Ref() != second.Ref() {
		t.Fatalf("expected second registration to win")
	}
}
