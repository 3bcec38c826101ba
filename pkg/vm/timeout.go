package vm

import (
	"container/heap"
	"time"

	"github.com/nanovm/nanovm/pkg/fiber"
)

// timeoutEntry is spec.md §3's "timeout entry": (when, fiber,
// curr_fiber_or_null, sched_id, is_error). currFiber set means this is
// a deadline (cancel f iff currFiber is unfinished); unset means a
// plain timeout (cancel or resume f iff its SchedID is unchanged).
type timeoutEntry struct {
	when      time.Time
	f         *fiber.Fiber
	currFiber *fiber.Fiber
	schedID   uint64
	isError   bool
	index     int // container/heap bookkeeping
}

// timeoutHeap is a binary min-heap keyed by when, grounded on gaio's
// watcher.go timedHeap / container/heap.Interface idiom (the same
// shape promoted from "read/write deadlines" to "fiber timeouts").
type timeoutHeap struct {
	entries []*timeoutEntry
}

func newTimeoutHeap() *timeoutHeap {
	h := &timeoutHeap{}
	heapInit(h)
	return h
}

func heapInit(h *timeoutHeap)         { heap.Init((*timeoutHeapOps)(h)) }
func (h *timeoutHeap) Len() int       { return len(h.entries) }

// Push inserts e and returns e.index, the value Fiber.TimeoutIndex
// should record to allow O(log n) removal on early resume.
func (h *timeoutHeap) Push(e *timeoutEntry) int {
	heap.Push((*timeoutHeapOps)(h), e)
	return e.index
}

// Remove drops the entry at index idx (spec.md §4.2 "if the fiber
// resumes before sec, the timeout is silently removed on resume").
func (h *timeoutHeap) Remove(idx int) {
	if idx < 0 || idx >= len(h.entries) {
		return
	}
	heap.Remove((*timeoutHeapOps)(h), idx)
}

func (h *timeoutHeap) Peek() (*timeoutEntry, bool) {
	if len(h.entries) == 0 {
		return nil, false
	}
	return h.entries[0], true
}

func (h *timeoutHeap) Pop() *timeoutEntry {
	return heap.Pop((*timeoutHeapOps)(h)).(*timeoutEntry)
}

// NextDeadline reports the earliest pending timeout, if any.
func (h *timeoutHeap) NextDeadline() (bool, time.Time) {
	if len(h.entries) == 0 {
		return false, time.Time{}
	}
	return true, h.entries[0].when
}

// timeoutHeapOps adapts timeoutHeap to container/heap.Interface
// without exposing Less/Swap/Push/Pop as part of timeoutHeap's public
// API (those are heap-internal, not operations callers should use
// directly).
type timeoutHeapOps timeoutHeap

func (h *timeoutHeapOps) Len() int { return len(h.entries) }
func (h *timeoutHeapOps) Less(i, j int) bool {
	return h.entries[i].when.Before(h.entries[j].when)
}
func (h *timeoutHeapOps) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
	if h.entries[i].f != nil {
		h.entries[i].f.TimeoutIndex = i
	}
	if h.entries[j].f != nil {
		h.entries[j].f.TimeoutIndex = j
	}
}
func (h *timeoutHeapOps) Push(x interface{}) {
	e := x.(*timeoutEntry)
	e.index = len(h.entries)
	h.entries = append(h.entries, e)
	if e.f != nil {
		e.f.TimeoutIndex = e.index
	}
}
func (h *timeoutHeapOps) Pop() interface{} {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	h.entries = old[:n-1]
	if e.f != nil {
		e.f.TimeoutIndex = -1
	}
	return e
}

// AddTimeout installs a plain timeout for f, firing after d unless f
// resumes first (spec.md §4.2 "ev/addtimeout(sec)").
func (l *Loop) AddTimeout(f *fiber.Fiber, d time.Duration) {
	e := &timeoutEntry{when: time.Now().Add(d), f: f, schedID: f.SchedID, isError: true}
	l.timeout.Push(e)
}

// AddDeadline installs a deadline entry that cancels toCancel with err
// after d, but only while toCheck remains unfinished (spec.md §4.2
// "ev/deadline(sec, toCancel, toCheck)").
func (l *Loop) AddDeadline(toCancel, toCheck *fiber.Fiber, d time.Duration) {
	e := &timeoutEntry{when: time.Now().Add(d), f: toCancel, currFiber: toCheck, schedID: toCancel.SchedID, isError: true}
	l.timeout.Push(e)
}

// CancelTimeout removes f's pending timeout/deadline entry, if any
// (called when f resumes through some other path first).
func (l *Loop) CancelTimeout(f *fiber.Fiber) {
	if f.TimeoutIndex < 0 {
		return
	}
	l.timeout.Remove(f.TimeoutIndex)
	f.TimeoutIndex = -1
}
