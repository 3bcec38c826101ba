package heap

// maxMarkDepth bounds the depth of the recursive-looking mark walk
// before it is flattened onto an explicit overflow list and continued
// iteratively, per spec.md §4.1 ("when the depth guard is exhausted,
// push the value onto the root set and continue iteratively").
const maxMarkDepth = 256

// Mark walks obj's transitively reachable set, setting FlagReachable.
// It is exported so pkg/vm's extra-root callbacks (the running fiber,
// scheduler state) can participate in the same mark phase the heap
// drives during Collect.
func (h *Heap) Mark(obj GCObject) {
	if obj == nil {
		return
	}
	var overflow []GCObject
	h.markDepth(obj, 0, &overflow)
	// Drain anything that hit the depth guard iteratively until no new
	// overflow is produced -- this keeps a single Collect() call fully
	// conformant to "every reachable allocation has reachable=1 after
	// mark" without requiring a second Collect cycle.
	for len(overflow) > 0 {
		next := overflow
		overflow = nil
		for _, o := range next {
			h.markDepth(o, 0, &overflow)
		}
	}
}

func (h *Heap) markDepth(obj GCObject, depth int, overflow *[]GCObject) {
	if obj == nil {
		return
	}
	hdr := obj.GCHeader()
	if hdr.marked() {
		return
	}
	// Deferred objects stay unmarked here so the drain in Mark still
	// marks them and walks their children.
	if depth >= maxMarkDepth {
		*overflow = append(*overflow, obj)
		return
	}
	hdr.setMarked(true)

	// Weak-keyed/weak-valued containers mark only their non-weak side;
	// they implement weakTraceable instead of relying on Trace so the
	// default walk never follows the weak references.
	if w, ok := obj.(weakTraceable); ok {
		w.TraceStrong(func(ref GCObject) { h.markDepth(ref, depth+1, overflow) })
		return
	}

	obj.Trace(func(ref GCObject) { h.markDepth(ref, depth+1, overflow) })
}

// weakTraceable is implemented by weak-table variants: TraceStrong marks
// only the sides that are not weak, matching spec.md §4.1's mark policy
// for weak-keyed/weak-valued/weak-both tables and arrays.
type weakTraceable interface {
	TraceStrong(visit func(GCObject))
}

// Sweep performs a single linear pass over the block list. Unreachable,
// non-disabled objects run Deinit and are unlinked; reachable objects
// have FlagReachable cleared for the next cycle. Weak entries pointing
// at objects that did not survive mark are the weak container's own
// responsibility to prune -- weak containers implement weakSweeper and
// are given a chance to do so before the pass removes anything.
func (h *Heap) Sweep() {
	// First pass: let weak containers prune entries whose weak side did
	// not survive mark, while every header's mark bit still reflects
	// true reachability (the second pass below starts clearing bits as
	// it walks, so pruning must finish first).
	for cur := h.head; cur != nil; cur = cur.GCHeader().next {
		if ws, ok := cur.(weakSweeper); ok {
			ws.PruneDead()
		}
	}

	for cur, prev := h.head, GCObject(nil); cur != nil; {
		hdr := cur.GCHeader()
		next := hdr.next

		if hdr.marked() {
			hdr.setMarked(false)
			prev = cur
			cur = next
			continue
		}

		if hdr.Disabled() {
			prev = cur
			cur = next
			continue
		}

		// unreachable: unlink and deinit
		if prev == nil {
			h.head = next
		} else {
			prev.GCHeader().next = next
		}
		h.live--
		cur.Deinit()
		cur = next
	}
}

// weakSweeper lets a weak table/array drop entries whose weak side did
// not survive mark, "during sweep" per spec.md §4.1.
type weakSweeper interface {
	PruneDead()
}

// Collect runs one full GC cycle: mark every root, mark every
// embedder-registered extra root (the running fiber, scheduler state),
// sweep, free all scratch allocations, and reset the pressure counter.
func (h *Heap) Collect() {
	if h.Locked() {
		return
	}
	if debugLog != nil {
		debugLog("[heap] collect starting, live =", h.live, "roots =", len(h.roots))
	}

	for _, r := range h.roots {
		h.Mark(r.obj)
	}
	for _, fn := range h.extraRoots {
		fn(h.Mark)
	}

	h.Sweep()
	h.scratch.freeAll()
	h.pressure = 0
	h.collections++

	if debugLog != nil {
		debugLog("[heap] collect finished, live =", h.live)
	}
}
