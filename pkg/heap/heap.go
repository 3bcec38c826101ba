package heap

import (
	"log"
	"sync/atomic"
)

// debugLog follows the teacher's hook pattern (pkg/scheduler.SetDebugLog):
// nil by default, callers opt in with SetDebugLog.
var debugLog func(args ...interface{})

// SetDebugLog installs an optional trace hook for allocation/collection
// events.
func SetDebugLog(fn func(args ...interface{})) {
	debugLog = fn
}

// Root is an externally held reference into the heap. Roots are kept in
// a plain slice in push order; Unroot removes the most recently
// pushed matching entry (LIFO), UnrootAll removes every match.
type Root struct {
	obj GCObject
}

// Heap owns the block list, the root set, the scratch arena and the GC
// pressure counter. A Heap is not safe for concurrent use from more than
// one goroutine -- it models the single-threaded-per-VM design in
// spec.md §5.
type Heap struct {
	head GCObject // intrusive list head; nil when empty
	live int

	roots []Root

	pressure  uint64
	interval  uint64 // bytes between GC pressure checks; default 4KiB
	lockDepth int32  // reentrant gclock/gcunlock depth

	scratch *Scratch

	// extraRoots lets an embedder (the vm package)
	// register extra mark roots -- the currently running fiber and
	// scheduler-owned state (pending tasks, timeouts, listeners) per
	// spec.md §4.1 collect().
	extraRoots []func(mark func(GCObject))

	collections uint64
}

const defaultInterval = 4096 // 4 KiB, spec.md §4.1 default

// New creates a Heap with the default pressure interval.
func New() *Heap {
	h := &Heap{interval: defaultInterval}
	h.scratch = newScratch()
	return h
}

// SetInterval sets the GC pressure interval (bytes accumulated before a
// collection may run). Bounded to [0, 2^32-1] per spec.md §4.1.
func (h *Heap) SetInterval(n uint64) {
	if n > 0xFFFFFFFF {
		n = 0xFFFFFFFF
	}
	h.interval = n
}

// Alloc registers obj (already constructed by the caller, header zero
// value included) as a new live allocation of the given size in bytes,
// prepends it to the block list, and accumulates collection pressure.
// When the accumulated pressure crosses Interval and the lock depth is
// zero, Collect runs automatically.
func (h *Heap) Alloc(obj GCObject, typ Type, size int) {
	hdr := obj.GCHeader()
	hdr.Type = typ
	hdr.size = size
	hdr.next = h.head
	h.head = obj
	h.live++

	h.pressure += uint64(size)
	if debugLog != nil {
		debugLog("[heap] alloc", typ, "size", size, "pressure", h.pressure)
	}

	if h.pressure >= h.interval && h.lockDepth == 0 {
		h.Collect()
	}
}

// Root pins obj as reachable regardless of heap traversal. Values may be
// rooted multiple times; each push is a distinct entry.
func (h *Heap) Root(obj GCObject) {
	if obj == nil {
		return
	}
	h.roots = append(h.roots, Root{obj: obj})
}

// Unroot removes one matching root entry, most-recently-pushed first.
func (h *Heap) Unroot(obj GCObject) {
	for i := len(h.roots) - 1; i >= 0; i-- {
		if h.roots[i].obj == obj {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// UnrootAll removes every root entry referencing obj.
func (h *Heap) UnrootAll(obj GCObject) {
	out := h.roots[:0]
	for _, r := range h.roots {
		if r.obj != obj {
			out = append(out, r)
		}
	}
	h.roots = out
}

// AddExtraRootFunc registers a callback invoked during every Collect to
// mark embedder-owned roots (the running fiber, scheduler state). Used
// by pkg/vm so the heap package need not import it back.
func (h *Heap) AddExtraRootFunc(fn func(mark func(GCObject))) {
	h.extraRoots = append(h.extraRoots, fn)
}

// Lock bumps the reentrant GC-disable depth; Collect is a no-op while
// depth > 0. Returns a handle for Unlock.
func (h *Heap) Lock() int32 {
	return atomic.AddInt32(&h.lockDepth, 1)
}

// Unlock reverses one Lock call.
func (h *Heap) Unlock(_ int32) {
	if atomic.AddInt32(&h.lockDepth, -1) < 0 {
		atomic.StoreInt32(&h.lockDepth, 0)
	}
}

// Locked reports whether collection is currently disabled.
func (h *Heap) Locked() bool { return atomic.LoadInt32(&h.lockDepth) > 0 }

// LiveCount returns the number of allocations currently on the block
// list (i.e. survivors of the last sweep plus anything allocated since).
func (h *Heap) LiveCount() int { return h.live }

// Collections returns the number of completed Collect cycles.
func (h *Heap) Collections() uint64 { return h.collections }

// Shutdown runs an unconditional final collection, per spec.md §4.1
// ("It runs unconditionally at shutdown"), ignoring Lock depth.
func (h *Heap) Shutdown() {
	depth := h.lockDepth
	h.lockDepth = 0
	h.Collect()
	h.lockDepth = depth
	if debugLog != nil {
		debugLog("[heap] shutdown: final collect,", h.live, "objects freed or retained")
	}
}

// FatalOOM is invoked when an allocation cannot proceed. The default
// hook logs and exits the process; embedders may override it (spec.md §4.1: "a
// fatal-panic hook (no recovery)").
var FatalOOM = func(reason string) {
	log.Fatalf("nanovm: out of memory: %s", reason)
}
