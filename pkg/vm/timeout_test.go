package vm

import (
	"testing"
	"time"

	"github.com/nanovm/nanovm/pkg/fiber"
	"github.com/nanovm/nanovm/pkg/value"
)

func TestTimeoutHeapOrdersByDeadline(t *testing.T) {
	h := newTimeoutHeap()
	now := time.Now()

	late := &timeoutEntry{when: now.Add(3 * time.Second)}
	early := &timeoutEntry{when: now.Add(1 * time.Second)}
	mid := &timeoutEntry{when: now.Add(2 * time.Second)}

	h.Push(late)
	h.Push(early)
	h.Push(mid)

	first, ok := h.Peek()
	if !ok || first != early {
		t.Fatalf("expected the earliest deadline to be at the top")
	}

	if got := h.Pop(); got != early {
		t.Fatalf("expected Pop to return the earliest entry first")
	}
	if got := h.Pop(); got != mid {
		t.Fatalf("expected mid next")
	}
	if got := h.Pop(); got != late {
		t.Fatalf("expected late last")
	}
}

func TestTimeoutHeapRemoveByIndex(t *testing.T) {
	h := newTimeoutHeap()
	f := &fiber.Fiber{}

	idx := h.Push(&timeoutEntry{when: time.Now().Add(time.Second), f: f})
	h.Push(&timeoutEntry{when: time.Now().Add(2 * time.Second)})

	h.Remove(idx)
	if h.Len() != 1 {
		t.Fatalf("expected one entry left after Remove, got %d", h.Len())
	}
}

func TestFireTimeoutDropsDeadlineWhenWatchedFiberErrored(t *testing.T) {
	l, h, _ := newTestLoop(t)
	exec := fiber.NewNativeExecutor()

	toCancel := newTestFiber(t, h, exec, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		t.Fatalf("toCancel must not be cancelled: toCheck already finished via ERROR")
		return fiber.SigOK, value.Nil, nil
	})
	toCheck := newTestFiber(t, h, exec, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		return fiber.SigOK, value.Nil, nil
	})
	toCheck.Status = fiber.StatusError

	l.AddDeadline(toCancel, toCheck, time.Hour)
	entry := l.timeout.Pop()
	l.fireTimeout(entry)

	if toCancel.Flags&fiber.FlagScheduled != 0 {
		t.Fatalf("expected fireTimeout to drop the deadline instead of scheduling toCancel")
	}
}

func TestAddTimeoutThenCancelTimeoutRemovesEntry(t *testing.T) {
	l, h, _ := newTestLoop(t)
	exec := fiber.NewNativeExecutor()
	f := newTestFiber(t, h, exec, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		return fiber.SigOK, value.Nil, nil
	})

	l.AddTimeout(f, time.Hour)
	if l.timeout.Len() != 1 {
		t.Fatalf("expected one pending timeout, got %d", l.timeout.Len())
	}
	if f.TimeoutIndex < 0 {
		t.Fatalf("expected AddTimeout to record a TimeoutIndex on the fiber")
	}

	l.CancelTimeout(f)
	if l.timeout.Len() != 0 {
		t.Fatalf("expected CancelTimeout to remove the entry, got %d remaining", l.timeout.Len())
	}
	if f.TimeoutIndex != -1 {
		t.Fatalf("expected TimeoutIndex reset to -1, got %d", f.TimeoutIndex)
	}
}
