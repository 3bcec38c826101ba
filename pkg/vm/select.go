package vm

import (
	"github.com/nanovm/nanovm/pkg/fiber"
	"github.com/nanovm/nanovm/pkg/heap"
	"github.com/nanovm/nanovm/pkg/value"
)

// Clause is one arm of a select/rselect call: a bare channel (read)
// or a (channel, value) pair (write), per spec.md §4.4.
type Clause struct {
	Chan  *Channel
	Write bool
	Value value.Value
}

// selectGroup links every pending entry a single select() call
// registered, so that when one clause fires the others are left to be
// discovered as stale via schedID mismatch -- spec.md §4.4 "other
// pending entries on other channels become stale and are discarded on
// their side by sched_id comparison."
type selectGroup struct {
	fiber *fiber.Fiber
}

type selectTag uint8

const (
	selectGiveTag selectTag = iota
	selectTakeTag
	selectCloseTag
)

// selectResult builds the [:give c] / [:take c x] / [:close c] tuple
// spec.md §4.4 says select delivers to the fiber that wins.
func selectResult(l *Loop, tag selectTag, c *Channel, v value.Value) value.Value {
	var sym value.Value
	switch tag {
	case selectGiveTag:
		sym = l.interner.Keyword(l.heap, "give")
		return value.NewTuple(l.heap, []value.Value{sym, c.asValue()}, value.TupleBracket)
	case selectTakeTag:
		sym = l.interner.Keyword(l.heap, "take")
		return value.NewTuple(l.heap, []value.Value{sym, c.asValue(), v}, value.TupleBracket)
	default:
		sym = l.interner.Keyword(l.heap, "close")
		return value.NewTuple(l.heap, []value.Value{sym, c.asValue()}, value.TupleBracket)
	}
}

// asValue wraps c as a value.Value so it can sit inside a select
// result tuple. Channel is a heap.GCObject with no dedicated Kind of
// its own in pkg/value (channels are a pkg/vm concept layered on top
// of the value model, the same way pkg/vm.Stream is); Abstract is the
// vtable-dispatched escape hatch spec.md §9 defines for exactly this,
// so a Channel rides inside an Abstract rather than growing value.Kind
// with a VM-layer case.
func (c *Channel) asValue() value.Value {
	if c.selfValue.IsNil() {
		c.selfValue = value.NewAbstract(c.loop.heap, &channelVTable, c)
	}
	return c.selfValue
}

var channelVTable = value.AbstractVTable{
	Name: "channel",
	Mark: func(self *value.Abstract, visit func(heap.GCObject)) {
		self.Data.(*Channel).trace(visit)
	},
}

// Select scans clauses in order for one that can proceed without
// blocking; if none can, it registers a pending CHOICE-READ/WRITE
// entry on every clause and suspends f (spec.md §4.4 "choice/select").
// With shuffle set (rselect) the scan order is shuffled from seed (0
// selects a fixed default seed); with shuffle false (plain select)
// clauses are scanned in order and seed is ignored.
func Select(h *heap.Heap, l *Loop, f *fiber.Fiber, clauses []Clause, seed uint64, shuffle bool) (value.Value, bool) {
	order := make([]int, len(clauses))
	for i := range order {
		order[i] = i
	}
	if shuffle {
		fisherYatesU32(order, seed)
	}

	for _, i := range order {
		cl := clauses[i]
		cl.Chan.lock()
		if cl.Write {
			for !cl.Chan.closed && len(cl.Chan.readers) > 0 {
				r := cl.Chan.readers[0]
				cl.Chan.readers = cl.Chan.readers[1:]
				if r.schedID != r.f.SchedID {
					continue // stale
				}
				cl.Chan.unlock()
				cl.Chan.wakeReader(r, cl.Value)
				return selectResult(l, selectGiveTag, cl.Chan, value.Nil), false
			}
			if !cl.Chan.closed && len(cl.Chan.items) < cl.Chan.capacity {
				cl.Chan.items = append(cl.Chan.items, cl.Value)
				cl.Chan.unlock()
				return selectResult(l, selectGiveTag, cl.Chan, value.Nil), false
			}
		} else {
			if len(cl.Chan.items) > 0 {
				v := cl.Chan.items[0]
				cl.Chan.items = cl.Chan.items[1:]
				cl.Chan.wakeFirstWriterLocked()
				cl.Chan.unlock()
				return selectResult(l, selectTakeTag, cl.Chan, v), false
			}
			for len(cl.Chan.writers) > 0 {
				w := cl.Chan.writers[0]
				cl.Chan.writers = cl.Chan.writers[1:]
				if w.schedID != w.f.SchedID {
					continue // stale
				}
				cl.Chan.unlock()
				cl.Chan.wakeWriter(w)
				return selectResult(l, selectTakeTag, cl.Chan, w.value), false
			}
			if cl.Chan.closed {
				cl.Chan.unlock()
				return selectResult(l, selectCloseTag, cl.Chan, value.Nil), false
			}
		}
		cl.Chan.unlock()
	}

	// Nothing ready: register a CHOICE entry on every clause.
	grp := &selectGroup{fiber: f}
	for _, cl := range clauses {
		cl.Chan.lock()
		entry := &pendingEntry{f: f, schedID: f.SchedID, group: grp, value: cl.Value}
		if cl.Write {
			entry.mode = pendingChoiceWrite
			cl.Chan.writers = append(cl.Chan.writers, entry)
		} else {
			entry.mode = pendingChoiceRead
			cl.Chan.readers = append(cl.Chan.readers, entry)
		}
		cl.Chan.unlock()
	}
	return value.Nil, true
}
