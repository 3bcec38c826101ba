package vm

import (
	"errors"
	"sync"

	"github.com/nanovm/nanovm/pkg/fiber"
	"github.com/nanovm/nanovm/pkg/heap"
	"github.com/nanovm/nanovm/pkg/marshal"
	"github.com/nanovm/nanovm/pkg/value"
)

// ErrClosedChannel is the panic value for give on a closed channel
// (spec.md §4.4 "Push... If closed → panic").
var ErrClosedChannel = errors.New("cannot write to closed channel")

// pendingMode is one of the modes spec.md §3 lists for a channel's
// pending entry: (vm, fiber, sched_id, mode).
type pendingMode uint8

const (
	pendingRead pendingMode = iota
	pendingWrite
	pendingChoiceRead
	pendingChoiceWrite
	pendingClose
)

type pendingEntry struct {
	f       *fiber.Fiber
	schedID uint64
	mode    pendingMode
	value   value.Value // write payload, if mode is a write variant
	// group links every clause of one select() call so that when one
	// fires, the others' stale checks find it via schedID mismatch --
	// no separate cancellation walk is needed.
	group *selectGroup
}

// Channel is spec.md §3's CSP channel: an items queue, reader- and
// writer-pending queues, a capacity, closed flag, threaded flag, and
// (for threaded channels only) a mutex. Grounded on
// pkg/scheduler.Scheduler's globalWake buffered-channel idiom for the
// non-threaded rendezvous case, generalized to the full give/take/
// select protocol spec.md §4.4 describes; the threaded variant's
// marshal-on-cross / unmarshal-on-receive design is grounded on the
// wire-format shape pkg/marshal implements for spec.md §4.5.
type Channel struct {
	loop *Loop

	mu       sync.Mutex // used only when Threaded
	Threaded bool

	capacity int
	items    []value.Value
	readers  []*pendingEntry
	writers  []*pendingEntry
	closed   bool

	// selfValue caches the Abstract wrapping this channel so repeated
	// asValue() calls (e.g. once per select() clause built from it)
	// don't allocate a fresh Abstract each time.
	selfValue value.Value
}

// NewChannel creates a channel with the given buffer capacity (0 =
// unbuffered rendezvous). The channel itself is a plain Go struct, not
// a heap.GCObject: its user-visible identity is the Abstract asValue()
// wraps it in on first use, the same indirection spec.md §9 describes
// for every abstract type.
func NewChannel(l *Loop, capacity int, threaded bool) *Channel {
	return &Channel{loop: l, capacity: capacity, Threaded: threaded}
}

func (c *Channel) lock() {
	if c.Threaded {
		c.mu.Lock()
	}
}
func (c *Channel) unlock() {
	if c.Threaded {
		c.mu.Unlock()
	}
}

// Give implements spec.md §4.4's push: panics ErrClosedChannel if
// closed, otherwise hands v directly to a live pending reader or
// enqueues it (suspending the writer if at capacity).
func (c *Channel) Give(f *fiber.Fiber, v value.Value) (suspend bool) {
	c.lock()
	defer c.unlock()

	if c.closed {
		panic(ErrClosedChannel)
	}

	for len(c.readers) > 0 {
		r := c.readers[0]
		c.readers = c.readers[1:]
		if r.schedID != r.f.SchedID {
			continue // stale
		}
		c.wakeReader(r, v)
		return false
	}

	if len(c.items) < c.capacity {
		c.items = append(c.items, v)
		return false
	}

	// At capacity (including the unbuffered capacity=0 case): the
	// writer suspends until a reader arrives.
	c.writers = append(c.writers, &pendingEntry{f: f, schedID: f.SchedID, mode: pendingWrite, value: v})
	return true
}

// Take implements spec.md §4.4's pop: returns immediately with a
// queued item, a value handed off by a pending writer, or nil if the
// channel is closed and empty; otherwise the reader suspends.
func (c *Channel) Take(f *fiber.Fiber) (v value.Value, suspend bool) {
	c.lock()
	defer c.unlock()

	if len(c.items) > 0 {
		v = c.items[0]
		c.items = c.items[1:]
		c.wakeFirstWriterLocked()
		return v, false
	}

	for len(c.writers) > 0 {
		w := c.writers[0]
		c.writers = c.writers[1:]
		if w.schedID != w.f.SchedID {
			continue
		}
		c.wakeWriter(w)
		return w.value, false
	}

	if c.closed {
		return value.Nil, false
	}

	c.readers = append(c.readers, &pendingEntry{f: f, schedID: f.SchedID, mode: pendingRead})
	return value.Nil, true
}

func (c *Channel) wakeFirstWriterLocked() {
	for len(c.writers) > 0 {
		w := c.writers[0]
		c.writers = c.writers[1:]
		if w.schedID != w.f.SchedID {
			continue
		}
		c.items = append(c.items, w.value)
		c.wakeWriter(w)
		return
	}
}

func (c *Channel) wakeReader(r *pendingEntry, v value.Value) {
	if r.group != nil {
		c.loop.Schedule(r.f, selectResult(c.loop, selectTakeTag, c, v))
		return
	}
	c.loop.Schedule(r.f, v)
}

func (c *Channel) wakeWriter(w *pendingEntry) {
	if w.group != nil {
		c.loop.Schedule(w.f, selectResult(c.loop, selectGiveTag, c, value.Nil))
		return
	}
	c.loop.Schedule(w.f, value.Nil)
}

// Close implements spec.md §4.4's close rule: wakes every blocked
// reader and writer with nil (or a close tuple for choice clauses), in
// arrival order, and marks the channel closed.
func (c *Channel) Close() {
	c.lock()
	defer c.unlock()
	c.closed = true

	readers := c.readers
	c.readers = nil
	for _, r := range readers {
		if r.schedID != r.f.SchedID {
			continue
		}
		if r.group != nil {
			c.loop.Schedule(r.f, selectResult(c.loop, selectCloseTag, c, value.Nil))
			continue
		}
		c.loop.Schedule(r.f, value.Nil)
	}

	writers := c.writers
	c.writers = nil
	for _, w := range writers {
		if w.schedID != w.f.SchedID {
			continue
		}
		if w.group != nil {
			c.loop.Schedule(w.f, selectResult(c.loop, selectCloseTag, c, value.Nil))
			continue
		}
		c.loop.Schedule(w.f, value.Nil)
	}
}

// Count reports the number of buffered items (spec.md §6 "ev/count").
func (c *Channel) Count() int {
	c.lock()
	defer c.unlock()
	return len(c.items)
}

// Capacity reports the channel's buffer capacity, 0 for a rendezvous
// channel (spec.md §6 "ev/capacity").
func (c *Channel) Capacity() int {
	return c.capacity
}

// Full reports whether the buffer holds capacity items or more, which
// is always true for a rendezvous channel; a Give on a full channel
// still completes without suspending when a reader is waiting
// (spec.md §6 "ev/full").
func (c *Channel) Full() bool {
	c.lock()
	defer c.unlock()
	return len(c.items) >= c.capacity
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.lock()
	defer c.unlock()
	return c.closed
}

// trace is called from channelVTable.Mark (the Abstract wrapping this
// channel is what the collector actually walks).
func (c *Channel) trace(visit func(heap.GCObject)) {
	// Threaded channels hold marshaled byte buffers (spec.md §4.4
	// "Threaded channels... hold marshaled byte-buffer copies"), which
	// carry no live Go pointers for the GC to trace beyond the Str
	// already reachable through the normal items slice.
	for _, v := range c.items {
		if v.Ref() != nil {
			visit(v.Ref())
		}
	}
	for _, w := range c.writers {
		if w.value.Ref() != nil {
			visit(w.value.Ref())
		}
		visit(w.f)
	}
	for _, r := range c.readers {
		visit(r.f)
	}
}

// ThreadedGive marshals v with FlagUnsafe before handing it across the
// channel's mutex-guarded queues, then unmarshals on the receiving side
// in ThreadedTake. Raw pointers round-trip by address; Unmarshal
// rejects the unsafe cfunction code, so a cfunction given here is
// marshaled but makes ThreadedTake return an error.
func (c *Channel) ThreadedGive(h *heap.Heap, in *value.Interner, f *fiber.Fiber, v value.Value) (bool, error) {
	buf, err := marshal.Marshal(v, marshal.FlagUnsafe)
	if err != nil {
		return false, err
	}
	return c.Give(f, value.NewStringBytes(h, buf)), nil
}

func (c *Channel) ThreadedTake(h *heap.Heap, in *value.Interner, f *fiber.Fiber) (value.Value, bool, error) {
	wire, suspend, err := func() (value.Value, bool, error) {
		v, s := c.Take(f)
		return v, s, nil
	}()
	if err != nil || suspend || wire.IsNil() {
		return wire, suspend, err
	}
	out, err := marshal.Unmarshal(h, in, wire.AsString().Bytes())
	return out, false, err
}

// fisherYatesU32 shuffles idx in place using a simple xorshift PRNG
// seeded from seed, giving rselect its fairness shuffle (spec.md §4.4
// "rselect is select preceded by Fisher-Yates shuffle... for
// fairness") without importing math/rand (whose global lock would be
// the only shared mutable state in an otherwise single-threaded-per-
// VM scheduler).
func fisherYatesU32(idx []int, seed uint64) {
	if seed == 0 {
		seed = 0x9e3779b97f4a7c15
	}
	next := func() uint64 {
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		return seed
	}
	for i := len(idx) - 1; i > 0; i-- {
		j := int(next() % uint64(i+1))
		idx[i], idx[j] = idx[j], idx[i]
	}
}
