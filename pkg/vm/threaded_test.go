package vm

import (
	"context"
	"errors"
	"testing"

	"github.com/nanovm/nanovm/pkg/fiber"
	"github.com/nanovm/nanovm/pkg/value"
)

func TestThreadedCallInvokesCallbackOnLoopThread(t *testing.T) {
	l, _, _ := newTestLoop(t)

	done := make(chan struct{})
	l.ThreadedCall(func(args []value.Value) (value.Value, error) {
		return value.Int(41), nil
	}, nil, func(v value.Value, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if v.AsInt() != 41 {
			t.Errorf("expected 41, got %v", v.AsInt())
		}
		close(done)
	})

	l.Run(runStep)
	select {
	case <-done:
	default:
		t.Fatalf("expected the callback to have run once Run returned")
	}
}

func TestThreadedCallBoundedRunsWhenSlotAvailable(t *testing.T) {
	l, _, _ := newTestLoop(t)

	done := make(chan struct{})
	err := l.ThreadedCallBounded(context.Background(), func(args []value.Value) (value.Value, error) {
		return value.Int(7), nil
	}, nil, func(v value.Value, err error) {
		if v.AsInt() != 7 {
			t.Errorf("expected 7, got %v", v.AsInt())
		}
		close(done)
	})
	if err != nil {
		t.Fatalf("ThreadedCallBounded: %v", err)
	}

	l.Run(runStep)
	select {
	case <-done:
	default:
		t.Fatalf("expected the bounded callback to have run once Run returned")
	}
}

// TestThreadedCallBoundedRejectsWhenPoolSaturated exercises the
// x/sync/semaphore gate directly: with every slot held, a call made
// with an already-cancelled context must be rejected rather than block.
func TestThreadedCallBoundedRejectsWhenPoolSaturated(t *testing.T) {
	l, _, _ := newTestLoop(t)

	if !threadPool.TryAcquire(64) {
		t.Fatalf("expected to acquire the full pool for this test")
	}
	defer threadPool.Release(64)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.ThreadedCallBounded(ctx, func(args []value.Value) (value.Value, error) {
		t.Fatalf("subr must not run when the pool is saturated")
		return value.Nil, nil
	}, nil, func(value.Value, error) {})
	if err == nil {
		t.Fatalf("expected an error when the pool is saturated and ctx is already cancelled")
	}
}

func TestThreadedAwaitSchedulesFiberWithResult(t *testing.T) {
	l, h, _ := newTestLoop(t)
	exec := fiber.NewNativeExecutor()

	var received string
	f := newTestFiber(t, h, exec, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		received = f.LastValue.AsString().String()
		return fiber.SigOK, value.Nil, nil
	})

	l.ThreadedAwait(f, func(args []value.Value) (value.Value, error) {
		return value.NewString(h, "from thread"), nil
	}, nil)
	l.Run(runStep)

	if received != "from thread" {
		t.Fatalf("expected the fiber to resume with the thread's result, got %q", received)
	}
}

func TestThreadedAwaitCancelsFiberOnError(t *testing.T) {
	l, h, _ := newTestLoop(t)
	exec := fiber.NewNativeExecutor()

	var received string
	f := newTestFiber(t, h, exec, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		received = f.LastValue.AsString().String()
		return fiber.SigOK, value.Nil, nil
	})

	l.ThreadedAwait(f, func(args []value.Value) (value.Value, error) {
		return value.Nil, errors.New("boom")
	}, nil)
	l.Run(runStep)

	if received != "boom" {
		t.Fatalf("expected the fiber to resume with the thread error's message, got %q", received)
	}
}
