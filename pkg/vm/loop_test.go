package vm

import (
	"testing"

	"github.com/nanovm/nanovm/pkg/fiber"
	"github.com/nanovm/nanovm/pkg/value"
)

func TestLoopRunsScheduledFiberToCompletion(t *testing.T) {
	l, h, _ := newTestLoop(t)
	exec := fiber.NewNativeExecutor()

	f := newTestFiber(t, h, exec, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		return fiber.SigOK, value.Number(7), nil
	})

	l.Schedule(f, value.Nil)
	l.Run(runStep)

	if f.Status != fiber.StatusDead {
		t.Fatalf("expected StatusDead, got %v", f.Status)
	}
	if f.LastValue.AsNumber() != 7 {
		t.Fatalf("expected LastValue 7, got %v", f.LastValue.AsNumber())
	}
}

func TestScheduleTwiceBeforeRunIsIdempotent(t *testing.T) {
	l, h, _ := newTestLoop(t)
	exec := fiber.NewNativeExecutor()
	calls := 0

	f := newTestFiber(t, h, exec, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		calls++
		return fiber.SigOK, value.Nil, nil
	})

	l.Schedule(f, value.Nil)
	l.Schedule(f, value.Nil) // FlagScheduled already set, this is a no-op
	l.Run(runStep)

	if calls != 1 {
		t.Fatalf("expected exactly one run, got %d", calls)
	}
}

func TestLoopStatsReflectsReadyQueue(t *testing.T) {
	l, h, _ := newTestLoop(t)
	exec := fiber.NewNativeExecutor()

	f := newTestFiber(t, h, exec, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		return fiber.SigOK, value.Nil, nil
	})
	l.Schedule(f, value.Nil)

	stats := l.Stats()
	if stats.ReadyCount != 1 {
		t.Fatalf("expected ReadyCount 1 before Run, got %d", stats.ReadyCount)
	}
	if stats.StatusCounts["new"] != 1 {
		t.Fatalf("expected one new-status fiber in the histogram, got %+v", stats.StatusCounts)
	}

	l.Run(runStep)

	stats = l.Stats()
	if stats.ReadyCount != 0 {
		t.Fatalf("expected ReadyCount 0 once idle, got %d", stats.ReadyCount)
	}
}

func TestCancelDeliversErrorMessageAsResumeValue(t *testing.T) {
	l, h, _ := newTestLoop(t)
	exec := fiber.NewNativeExecutor()

	var received string
	f := newTestFiber(t, h, exec, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		received = f.LastValue.AsString().String()
		return fiber.SigOK, value.Nil, nil
	})

	l.Cancel(f, errTestCancel{})
	l.Run(runStep)

	if received != "cancelled" {
		t.Fatalf("expected cancel message forwarded as resume value, got %q", received)
	}
}

type errTestCancel struct{}

func (errTestCancel) Error() string { return "cancelled" }

func TestUnsupervisedErrorReportsThroughErrorSink(t *testing.T) {
	l, h, _ := newTestLoop(t)
	exec := fiber.NewNativeExecutor()

	f := newTestFiber(t, h, exec, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		return fiber.SigError, value.Nil, errTestCancel{}
	})
	// f.Supervisor is left nil: this is the unsupervised path.

	var reportedErr error
	var reportedFiber *fiber.Fiber
	SetErrorSink(func(rf *fiber.Fiber, out value.Value, err error) {
		reportedFiber = rf
		reportedErr = err
	})
	defer SetErrorSink(nil)

	l.Schedule(f, value.Nil)
	l.Run(runStep)

	if reportedFiber != f {
		t.Fatalf("expected the error sink to be called with the erroring fiber")
	}
	if reportedErr != (errTestCancel{}) {
		t.Fatalf("expected the error sink to receive the fiber's error, got %v", reportedErr)
	}
}
