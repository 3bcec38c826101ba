package value

import "github.com/nanovm/nanovm/pkg/heap"

// NewFiberRef wraps an already-allocated fiber object (pkg/fiber.Fiber)
// as a KindFiber Value. Fibers are normally passed around the
// scheduler as a bare *fiber.Fiber; this constructor exists only for
// the handful of call sites -- marshal's fiber decode path chief among
// them -- that need the value-model's uniform representation of one,
// without this package importing pkg/fiber (which itself imports
// value) to get it.
func NewFiberRef(ref heap.GCObject) Value {
	return fromRef(KindFiber, ref)
}
