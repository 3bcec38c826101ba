package heap

import "testing"

// node is a minimal GCObject used only by this package's tests: a
// header plus zero or more outgoing edges.
type node struct {
	Header
	edges   []*node
	deinits *int
}

func (n *node) Trace(visit func(GCObject)) {
	for _, e := range n.edges {
		visit(e)
	}
}

func (n *node) Deinit() {
	if n.deinits != nil {
		*n.deinits++
	}
}

func newNode(h *Heap, deinits *int, edges ...*node) *node {
	n := &node{deinits: deinits}
	for _, e := range edges {
		n.edges = append(n.edges, e)
	}
	h.Alloc(n, TypeAbstract, 16)
	return n
}

func TestRootedSurvivesCollect(t *testing.T) {
	h := New()
	var deinits int
	n := newNode(h, &deinits)
	h.Root(n)

	h.Collect()

	if deinits != 0 {
		t.Fatalf("rooted node was deinitialized")
	}
	if h.LiveCount() != 1 {
		t.Fatalf("expected 1 live object, got %d", h.LiveCount())
	}
}

func TestUnreachableIsSweptExactlyOnce(t *testing.T) {
	h := New()
	var deinits int
	newNode(h, &deinits) // not rooted

	h.Collect()
	if deinits != 1 {
		t.Fatalf("expected 1 deinit, got %d", deinits)
	}
	if h.LiveCount() != 0 {
		t.Fatalf("expected 0 live objects, got %d", h.LiveCount())
	}

	h.Collect()
	if deinits != 1 {
		t.Fatalf("deinit ran more than once: %d", deinits)
	}
}

func TestTransitiveMarkKeepsChildrenAlive(t *testing.T) {
	h := New()
	var deinits int
	child := newNode(h, &deinits)
	parent := newNode(h, &deinits, child)
	h.Root(parent)

	h.Collect()

	if deinits != 0 {
		t.Fatalf("child of a rooted parent was collected")
	}
	if h.LiveCount() != 2 {
		t.Fatalf("expected 2 live objects, got %d", h.LiveCount())
	}
}

func TestCycleIsCollectedWhenUnrooted(t *testing.T) {
	h := New()
	var deinits int
	a := newNode(h, &deinits)
	b := newNode(h, &deinits, a)
	a.edges = append(a.edges, b) // a <-> b cycle, nothing external roots either

	h.Collect()

	if deinits != 2 {
		t.Fatalf("expected both cycle members collected, got %d deinits", deinits)
	}
}

func TestUnrootRemovesOneEntryLIFO(t *testing.T) {
	h := New()
	var deinits int
	n := newNode(h, &deinits)
	h.Root(n)
	h.Root(n)

	h.Unroot(n) // removes one of the two roots
	h.Collect()
	if deinits != 0 {
		t.Fatalf("node should still be rooted once")
	}

	h.Unroot(n)
	h.Collect()
	if deinits != 1 {
		t.Fatalf("node should have been collected after removing both roots")
	}
}

func TestUnrootAllRemovesEveryEntry(t *testing.T) {
	h := New()
	var deinits int
	n := newNode(h, &deinits)
	h.Root(n)
	h.Root(n)
	h.Root(n)

	h.UnrootAll(n)
	h.Collect()
	if deinits != 1 {
		t.Fatalf("expected node collected after UnrootAll, deinits=%d", deinits)
	}
}

func TestLockPreventsCollection(t *testing.T) {
	h := New()
	var deinits int
	newNode(h, &deinits)

	tok := h.Lock()
	h.Collect()
	if deinits != 0 {
		t.Fatalf("collect ran while locked")
	}
	h.Unlock(tok)
	h.Collect()
	if deinits != 1 {
		t.Fatalf("expected collect to proceed once unlocked")
	}
}

func TestPressureTriggersAutomaticCollect(t *testing.T) {
	h := New()
	h.SetInterval(10)
	var deinits int
	newNode(h, &deinits) // unrooted, size 16 > interval 10, should auto-collect on alloc

	if deinits != 1 {
		t.Fatalf("expected automatic collection once pressure exceeded interval, deinits=%d", deinits)
	}
}

func TestScratchFreedOnCollect(t *testing.T) {
	h := New()
	var freed int
	_, _ = h.ScratchAlloc(64, func() { freed++ })
	_, h2 := h.ScratchAlloc(64, func() { freed++ })

	h.ScratchFree(h2)
	if freed != 1 {
		t.Fatalf("expected 1 explicit free, got %d", freed)
	}

	h.Collect()
	if freed != 2 {
		t.Fatalf("expected remaining scratch block freed on collect, got %d", freed)
	}
	if h.ScratchLive() != 0 {
		t.Fatalf("expected no live scratch blocks after collect")
	}
}

func TestShutdownIgnoresLock(t *testing.T) {
	h := New()
	var deinits int
	newNode(h, &deinits)
	h.Lock()

	h.Shutdown()
	if deinits != 1 {
		t.Fatalf("expected shutdown to collect despite lock, deinits=%d", deinits)
	}
}
