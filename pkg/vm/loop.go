// Package vm implements nanovm's single-threaded cooperative event loop:
// the scheduler, the OS readiness poller (epoll/kqueue/IOCP/poll behind a
// common backend interface), the timeout min-heap, self-pipe wakeups for
// cross-VM posting, and CSP-style channels.
package vm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nanovm/nanovm/pkg/fiber"
	"github.com/nanovm/nanovm/pkg/heap"
	"github.com/nanovm/nanovm/pkg/value"
)

// debugLog is set by the embedding application; nil means silent.
var debugLog func(args ...interface{})

// SetDebugLog installs the package-wide debug hook.
func SetDebugLog(fn func(args ...interface{})) {
	debugLog = fn
}

// errorSink is set by the embedding application; nil falls back to
// debugLog, and with both nil an unsupervised error is dropped.
var errorSink func(f *fiber.Fiber, out value.Value, err error)

// SetErrorSink installs the package-wide handler for a SigError/err
// fiber that has no Supervisor (spec.md §4.3 step 2, §7 Propagation:
// "Otherwise: emit a stack trace via the configured error sink").
func SetErrorSink(fn func(f *fiber.Fiber, out value.Value, err error)) {
	errorSink = fn
}

func reportUnsupervisedError(f *fiber.Fiber, out value.Value, err error) {
	if errorSink != nil {
		errorSink(f, out, err)
		return
	}
	if debugLog != nil {
		debugLog("[vm] unsupervised fiber error:", f, out, err)
	}
}

// taskKind distinguishes the two ways a fiber can be handed back to
// the scheduler (spec.md §4.2/4.3 "scheduler decisions").
type taskKind uint8

const (
	taskResume taskKind = iota
	taskCancel
)

// task is one entry on the loop's ready queue: a fiber plus the value
// (or error) to resume it with.
type task struct {
	kind  taskKind
	f     *fiber.Fiber
	value value.Value
	err   error
}

// Loop is one VM's single-threaded scheduler. It owns a heap-allocated
// fiber set only by reference -- fibers are rooted by their owning
// Go-level slices/maps here and by the embedding application, the same
// way the source runtime's scheduler treats the fiber table as a GC
// root (spec.md §4.1 "mark scheduler state").
//
// Grounded on pkg/scheduler.Scheduler's wake-channel / dirty-queue
// shape, generalized from "redraw a component" to "resume a fiber",
// plus gaio's watcher.loop select-over-channels structure for folding
// poller events, timeouts, and posted wakeups into one dispatch loop.
type Loop struct {
	mu      sync.Mutex
	ready   []task
	running atomic.Bool

	poller  Poller
	timeout *timeoutHeap

	wake *selfPipe

	// extraRefs counts in-flight threaded calls and other external
	// holders that must keep the loop alive even with an empty ready
	// queue, timeout heap, and no listeners (spec.md §4.3 step 4).
	extraRefs int64

	listeners map[*Stream]struct{}

	nextSchedID uint64

	heap     *heap.Heap
	interner *value.Interner

	// tags caches the supervisor lifecycle symbols so dispatchSignal
	// doesn't re-intern a fresh allocation on every fiber completion.
	tags struct {
		ok, errTag, yield, user value.Value
	}
}

// New creates an idle loop bound to h (used for self-pipe/timeout
// bookkeeping allocations and supervisor tag symbols); call Run to
// start draining it.
func New(h *heap.Heap, interner *value.Interner) (*Loop, error) {
	p, err := openPoller()
	if err != nil {
		return nil, err
	}
	wp, err := newSelfPipe(p)
	if err != nil {
		p.Close()
		return nil, err
	}
	l := &Loop{
		poller:    p,
		timeout:   newTimeoutHeap(),
		wake:      wp,
		listeners: make(map[*Stream]struct{}),
		heap:      h,
		interner:  interner,
	}
	l.tags.ok = interner.Symbol(h, "ok")
	l.tags.errTag = interner.Symbol(h, "error")
	l.tags.yield = interner.Symbol(h, "yield")
	l.tags.user = interner.Symbol(h, "user")
	h.AddExtraRootFunc(l.markSchedulerState)
	return l, nil
}

// markSchedulerState marks every fiber the scheduler itself holds a
// reference to but that isn't otherwise rooted: ready-queue entries,
// pending timeouts, and stream listeners. Fibers parked on a channel
// are traced only through that channel's Abstract (spec.md §4.1
// collect() "mark scheduler state (pending tasks, pending timeouts,
// active listeners)").
func (l *Loop) markSchedulerState(mark func(heap.GCObject)) {
	l.mu.Lock()
	for _, t := range l.ready {
		mark(t.f)
	}
	l.mu.Unlock()

	for _, e := range l.timeout.entries {
		mark(e.f)
		if e.currFiber != nil {
			mark(e.currFiber)
		}
	}

	for s := range l.listeners {
		s.mu.Lock()
		for _, lst := range s.listeners {
			mark(lst.Fiber)
		}
		s.mu.Unlock()
	}
}

// Close releases the loop's poller and self-pipe resources.
func (l *Loop) Close() error {
	l.wake.close()
	return l.poller.Close()
}

// NextSchedID returns a fresh, monotonically increasing scheduling
// generation number, used to detect stale wakeups (spec.md §4.2
// "sched_id").
func (l *Loop) NextSchedID() uint64 {
	return atomic.AddUint64(&l.nextSchedID, 1)
}

// Schedule enqueues f to be resumed with v on the loop's own thread
// (spec.md §4.3 "schedule(fiber, value)"). Safe to call from the
// loop's own goroutine (appends directly) or from another goroutine
// via post-through-self-pipe semantics handled by callers that cross
// threads (PostEvent).
func (l *Loop) Schedule(f *fiber.Fiber, v value.Value) {
	if f.Flags&fiber.FlagScheduled != 0 {
		return
	}
	f.Flags |= fiber.FlagScheduled
	f.SchedID = l.NextSchedID()
	l.mu.Lock()
	l.ready = append(l.ready, task{kind: taskResume, f: f, value: v})
	l.mu.Unlock()
}

// Cancel schedules f with an ERROR signal carrying err (spec.md §4.3
// "cancel(fiber, err)").
func (l *Loop) Cancel(f *fiber.Fiber, err error) {
	if f.Flags&fiber.FlagScheduled != 0 {
		return
	}
	f.Flags |= fiber.FlagScheduled
	f.SchedID = l.NextSchedID()
	l.mu.Lock()
	l.ready = append(l.ready, task{kind: taskCancel, f: f, err: err})
	l.mu.Unlock()
}

// AddRef/DecRef track external or threaded-call holders keeping the
// loop alive past an empty queue (spec.md §4.3 step 3 "external
// ref-counts").
func (l *Loop) AddRef()  { atomic.AddInt64(&l.extraRefs, 1) }
func (l *Loop) DecRef()  { atomic.AddInt64(&l.extraRefs, -1) }

// Stats is a point-in-time snapshot of scheduler-owned state, for an
// attached inspector (pkg/debugserver). It only covers fibers the
// loop itself is currently holding a reference to -- the ready queue,
// pending timeouts, and stream listeners -- since the loop has no
// global fiber registry; a fiber the host isn't waking through one of
// these paths is invisible to it by design.
type Stats struct {
	ReadyCount    int
	TimeoutCount  int
	ListenerCount int
	StatusCounts  map[string]int
}

func (l *Loop) Stats() Stats {
	s := Stats{StatusCounts: make(map[string]int)}

	l.mu.Lock()
	s.ReadyCount = len(l.ready)
	for _, t := range l.ready {
		s.StatusCounts[t.f.Status.String()]++
	}
	l.mu.Unlock()

	s.TimeoutCount = len(l.timeout.entries)
	for _, e := range l.timeout.entries {
		s.StatusCounts[e.f.Status.String()]++
	}

	for st := range l.listeners {
		st.mu.Lock()
		s.ListenerCount += len(st.listeners)
		for _, lst := range st.listeners {
			s.StatusCounts[lst.Fiber.Status.String()]++
		}
		st.mu.Unlock()
	}

	return s
}

func (l *Loop) drainReady() []task {
	l.mu.Lock()
	batch := l.ready
	l.ready = nil
	l.mu.Unlock()
	return batch
}

func (l *Loop) idle() bool {
	l.mu.Lock()
	empty := len(l.ready) == 0
	l.mu.Unlock()
	return empty && len(l.listeners) == 0 && l.timeout.Len() == 0 && atomic.LoadInt64(&l.extraRefs) == 0
}

// Run drains the loop until it has no ready tasks, no listeners, no
// pending timeouts, and no external ref-counts (spec.md §4.3 "loop").
// step, when non-nil, is called once per resumed fiber to actually
// execute bytecode via Fiber.Continue; tests may supply a simplified
// stand-in.
func (l *Loop) Run(step func(f *fiber.Fiber, in value.Value) (value.Value, fiber.Signal, error)) {
	l.running.Store(true)
	defer l.running.Store(false)
	if step == nil {
		step = func(f *fiber.Fiber, in value.Value) (value.Value, fiber.Signal, error) {
			return f.Continue(in)
		}
	}

	for !l.idle() {
		for _, t := range l.drainReady() {
			l.runTask(t, step)
		}
		if l.idle() {
			break
		}
		l.pollOnce()
	}
}

func (l *Loop) runTask(t task, step func(f *fiber.Fiber, in value.Value) (value.Value, fiber.Signal, error)) {
	t.f.Flags &^= fiber.FlagScheduled
	var in value.Value
	if t.kind == taskCancel {
		in = value.Nil
		// A cancelled fiber still runs Continue; its Executor is
		// responsible for turning the pending error into a raised
		// exception at the next suspension check. nanovm's reference
		// NativeExecutor has no exception mechanism of its own, so
		// cancellation here simply feeds the error's message through
		// as the resume value, matching the "next continue raises"
		// contract at the granularity this core actually implements.
		if t.err != nil {
			in = value.NewString(l.heap, t.err.Error())
		}
	} else {
		in = t.value
	}

	out, sig, err := step(t.f, in)
	l.dispatchSignal(t.f, out, sig, err)
}

func (l *Loop) dispatchSignal(f *fiber.Fiber, out value.Value, sig fiber.Signal, err error) {
	switch {
	case err != nil || sig == fiber.SigError:
		if f.Supervisor != nil {
			f.Supervisor.Notify(l.tags.errTag, out)
		} else {
			reportUnsupervisedError(f, out, err)
		}
	case f.Status == fiber.StatusDead:
		if f.Supervisor != nil {
			f.Supervisor.Notify(l.tags.ok, out)
		}
	case sig == fiber.SigYield:
		if f.Supervisor != nil {
			f.Supervisor.Notify(l.tags.yield, out)
		}
	case sig.IsUser():
		if f.Supervisor != nil {
			f.Supervisor.Notify(l.tags.user, out)
		}
	}
}

// pollOnce waits for the next poller event or timeout, whichever comes
// first, then dispatches (spec.md §4.3 step 3, table in §4.3.1).
func (l *Loop) pollOnce() {
	var timeoutMS int
	hasDeadline, deadline := l.timeout.NextDeadline()
	if hasDeadline {
		now := time.Now()
		if deadline.Before(now) {
			timeoutMS = 0
		} else {
			timeoutMS = int(deadline.Sub(now) / time.Millisecond)
			if timeoutMS < 1 {
				timeoutMS = 1
			}
		}
	} else {
		timeoutMS = -1 // block indefinitely
	}

	events, err := l.poller.Wait(timeoutMS)
	if err != nil && debugLog != nil {
		debugLog("[vm] poller wait error:", err)
	}
	for _, e := range events {
		l.dispatchPollEvent(e)
	}
	l.fireExpiredTimeouts()
	l.drainPosted()
}

func (l *Loop) dispatchPollEvent(e PollEvent) {
	s, ok := streamForFD(l, e.FD)
	if !ok {
		return
	}
	s.deliver(l, e)
}

func (l *Loop) fireExpiredTimeouts() {
	now := time.Now()
	for {
		entry, ok := l.timeout.Peek()
		if !ok || entry.when.After(now) {
			return
		}
		l.timeout.Pop()
		l.fireTimeout(entry)
	}
}

func (l *Loop) fireTimeout(e *timeoutEntry) {
	if e.currFiber != nil {
		if e.currFiber.Finished() {
			// curr_fiber already finished: a deadline entry that outlived
			// its watched sub-computation is a no-op (spec.md §4.3.1). This
			// covers both DEAD and ERROR, not just DEAD -- a sub-computation
			// that raised is just as finished as one that returned.
			return
		}
	} else if e.schedID != e.f.SchedID {
		return // stale: fiber already resumed via another path
	}
	e.f.TimeoutIndex = -1
	if e.isError {
		l.Cancel(e.f, errTimeout)
	} else {
		l.Schedule(e.f, value.Nil)
	}
}

var errTimeout = timeoutError("timeout")

type timeoutError string

func (e timeoutError) Error() string { return string(e) }
