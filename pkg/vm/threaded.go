package vm

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/nanovm/nanovm/pkg/fiber"
	"github.com/nanovm/nanovm/pkg/value"
)

// threadPool bounds the number of concurrent OS threads spawned by
// ThreadedCall, the way a real embedding would cap worker-thread
// fan-out for threaded_call/threaded_await (spec.md §4.3 "Threaded
// subroutines"). golang.org/x/sync/semaphore is the teacher's own
// bounded-concurrency primitive (recera/vango's dev/build pipeline
// used it to cap parallel rebuilds); nanovm reuses it here to cap
// parallel threaded_call goroutines instead.
var threadPool = semaphore.NewWeighted(64)

// ThreadedSubr is the Go-level stand-in for the subr a script passes
// to threaded_call/threaded_await: the bytecode-level subroutine
// itself is out of scope for this core (spec.md §1), so embedders
// supply native Go functions here.
type ThreadedSubr func(args []value.Value) (value.Value, error)

// ThreadedCall spawns subr(args) on its own OS thread and posts the
// result back to l via the self-pipe so cb runs on l's own thread
// once it completes (spec.md §4.3 "threaded_call(subr, args, cb)").
// The loop's extra-ref count is held for the duration so Run doesn't
// exit while the thread is in flight.
func (l *Loop) ThreadedCall(subr ThreadedSubr, args []value.Value, cb func(value.Value, error)) {
	l.AddRef()
	go func() {
		out, err := subr(args)
		l.wake.post(func(interface{}) {
			defer l.DecRef()
			cb(out, err)
		}, nil)
	}()
}

// ThreadedCallBounded is ThreadedCall gated by threadPool, rejecting
// the call with ctx's error if the pool is saturated and ctx is
// cancelled before a slot frees up.
func (l *Loop) ThreadedCallBounded(ctx context.Context, subr ThreadedSubr, args []value.Value, cb func(value.Value, error)) error {
	if err := threadPool.Acquire(ctx, 1); err != nil {
		return err
	}
	l.AddRef()
	go func() {
		defer threadPool.Release(1)
		out, err := subr(args)
		l.wake.post(func(interface{}) {
			defer l.DecRef()
			cb(out, err)
		}, nil)
	}()
	return nil
}

// ThreadedAwait is threaded_await's coroutine-suspending form: f
// suspends (the caller is responsible for returning fiber.SigEvent
// from its Executor) until subr(args) completes, at which point f is
// rescheduled with the result, or cancelled with err if subr failed
// (spec.md §4.3 "the returning message's tag selects between resuming
// the fiber with nil / an integer / a string / a keyword / a boolean,
// or cancelling it with an error payload" -- simplified here to the
// two cases this core's value model actually needs to distinguish:
// success value vs. error).
func (l *Loop) ThreadedAwait(f *fiber.Fiber, subr ThreadedSubr, args []value.Value) {
	l.ThreadedCall(subr, args, func(v value.Value, err error) {
		if err != nil {
			l.Cancel(f, err)
			return
		}
		l.Schedule(f, v)
	})
}
