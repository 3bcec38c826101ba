package vm

import (
	"testing"

	"github.com/nanovm/nanovm/pkg/fiber"
	"github.com/nanovm/nanovm/pkg/heap"
	"github.com/nanovm/nanovm/pkg/value"
)

// newTestFiber builds a zero-argument fiber whose NativeExecutor body
// is body, the same shape pkg/fiber's own tests use.
func newTestFiber(t *testing.T, h *heap.Heap, exec *fiber.NativeExecutor, body fiber.NativeBody) *fiber.Fiber {
	t.Helper()
	def := value.NewFuncDef(h, &value.FuncDef{})
	exec.Register(def, body)
	fn := value.NewFunction(h, def, nil).AsFunction()
	f, err := fiber.New(h, fn, 4, nil, exec)
	if err != nil {
		t.Fatalf("fiber.New: %v", err)
	}
	return f
}

func newTestLoop(t *testing.T) (*Loop, *heap.Heap, *value.Interner) {
	t.Helper()
	h := heap.New()
	in := value.NewInterner()
	l, err := New(h, in)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, h, in
}

func runStep(f *fiber.Fiber, v value.Value) (value.Value, fiber.Signal, error) {
	return f.Continue(v)
}
