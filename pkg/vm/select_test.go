package vm

import (
	"testing"

	"github.com/nanovm/nanovm/pkg/fiber"
	"github.com/nanovm/nanovm/pkg/value"
)

func TestSelectPicksFirstReadyClause(t *testing.T) {
	l, h, _ := newTestLoop(t)
	exec := fiber.NewNativeExecutor()

	empty := NewChannel(l, 1, false)
	ready := NewChannel(l, 1, false)
	writer := newTestFiber(t, h, exec, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		return fiber.SigOK, value.Nil, nil
	})
	ready.Give(writer, value.NewString(h, "picked"))

	reader := newTestFiber(t, h, exec, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		return fiber.SigOK, value.Nil, nil
	})

	result, suspend := Select(h, l, reader, []Clause{
		{Chan: empty},
		{Chan: ready},
	}, 0, false)
	if suspend {
		t.Fatalf("expected a ready clause to resolve without suspending")
	}

	tup := result.AsTuple()
	if tup.Items[1].Ref() != ready.asValue().Ref() {
		t.Fatalf("expected the result to name the ready channel")
	}
	if tup.Items[2].AsString().String() != "picked" {
		t.Fatalf("expected the buffered value, got %q", tup.Items[2].AsString().String())
	}
}

func TestSelectSuspendsAndRegistersOnEveryClause(t *testing.T) {
	l, h, _ := newTestLoop(t)
	exec := fiber.NewNativeExecutor()

	a := NewChannel(l, 1, false)
	b := NewChannel(l, 1, false)
	reader := newTestFiber(t, h, exec, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		return fiber.SigOK, value.Nil, nil
	})

	_, suspend := Select(h, l, reader, []Clause{
		{Chan: a},
		{Chan: b},
	}, 0, false)
	if !suspend {
		t.Fatalf("expected Select to suspend when nothing is ready")
	}
	if len(a.readers) != 1 || len(b.readers) != 1 {
		t.Fatalf("expected a pending choice-read registered on both channels, got %d and %d", len(a.readers), len(b.readers))
	}
}

func TestSelectWriteClauseHandsOffToWaitingReader(t *testing.T) {
	l, h, _ := newTestLoop(t)
	exec := fiber.NewNativeExecutor()

	ch := NewChannel(l, 0, false)
	reader := newTestFiber(t, h, exec, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		return fiber.SigOK, value.Nil, nil
	})
	ch.Take(reader) // registers reader as pending since nothing is buffered

	writer := newTestFiber(t, h, exec, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		return fiber.SigOK, value.Nil, nil
	})
	result, suspend := Select(h, l, writer, []Clause{
		{Chan: ch, Write: true, Value: value.Int(9)},
	}, 0, false)
	if suspend {
		t.Fatalf("expected a write clause with a waiting reader to resolve immediately")
	}
	tup := result.AsTuple()
	if tup.Items[0].AsString().String() != "give" {
		t.Fatalf("expected the :give tag, got %q", tup.Items[0].AsString().String())
	}
}
