package fiber

import (
	"testing"

	"github.com/nanovm/nanovm/pkg/heap"
	"github.com/nanovm/nanovm/pkg/value"
)

func simpleFunc(h *heap.Heap, exec *NativeExecutor, slots int, body NativeBody) *value.Function {
	def := value.NewFuncDef(h, &value.FuncDef{SlotCount: slots, MinArity: slots, MaxArity: slots})
	exec.Register(def, body)
	return value.NewFunction(h, def, nil).AsFunction()
}

func TestNewFiberAndContinueToCompletion(t *testing.T) {
	h := heap.New()
	exec := NewNativeExecutor()

	fn := simpleFunc(h, exec, 1, func(f *Fiber) (Signal, value.Value, error) {
		arg := f.Stack[f.StackStart()]
		return SigOK, value.Number(arg.AsNumber() * 2), nil
	})

	f, err := New(h, fn, 8, []value.Value{value.Number(21)}, exec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f.Status != StatusNew {
		t.Fatalf("expected StatusNew, got %v", f.Status)
	}

	out, sig, err := f.Continue(value.Nil)
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if sig != SigOK {
		t.Fatalf("expected SigOK, got %v", sig)
	}
	if out.AsNumber() != 42 {
		t.Fatalf("expected 42, got %v", out.AsNumber())
	}
	if f.Status != StatusDead {
		t.Fatalf("expected StatusDead after completion, got %v", f.Status)
	}
}

func TestCannotResumeDeadFiber(t *testing.T) {
	h := heap.New()
	exec := NewNativeExecutor()
	fn := simpleFunc(h, exec, 0, func(f *Fiber) (Signal, value.Value, error) {
		return SigOK, value.Nil, nil
	})
	f, _ := New(h, fn, 4, nil, exec)
	f.Continue(value.Nil)

	if _, _, err := f.Continue(value.Nil); err != ErrNotResumable {
		t.Fatalf("expected ErrNotResumable, got %v", err)
	}
}

func TestArityMismatchRejected(t *testing.T) {
	h := heap.New()
	exec := NewNativeExecutor()
	fn := simpleFunc(h, exec, 2, func(f *Fiber) (Signal, value.Value, error) {
		return SigOK, value.Nil, nil
	})
	if _, err := New(h, fn, 4, []value.Value{value.Number(1)}, exec); err != ErrArity {
		t.Fatalf("expected ErrArity for too few args, got %v", err)
	}
}

func TestVariadicPacksExcessIntoTuple(t *testing.T) {
	h := heap.New()
	exec := NewNativeExecutor()

	def := value.NewFuncDef(h, &value.FuncDef{
		SlotCount: 2, MinArity: 1, MaxArity: 1,
		Flags: value.FuncDefVariadic,
	})
	var rest value.Value
	exec.Register(def, func(f *Fiber) (Signal, value.Value, error) {
		rest = f.Stack[f.StackStart()+1]
		return SigOK, value.Nil, nil
	})
	fn := value.NewFunction(h, def, nil).AsFunction()

	f, err := New(h, fn, 8, []value.Value{value.Number(1), value.Number(2), value.Number(3)}, exec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := f.Continue(value.Nil); err != nil {
		t.Fatalf("Continue: %v", err)
	}

	tup := rest.AsTuple()
	if tup.Len() != 2 {
		t.Fatalf("expected 2 overflow args packed into tuple, got %d", tup.Len())
	}
	if tup.Items[0].AsNumber() != 2 || tup.Items[1].AsNumber() != 3 {
		t.Fatalf("unexpected tuple contents: %v", tup.Items)
	}
}

func TestNestedCallAndReturn(t *testing.T) {
	h := heap.New()
	exec := NewNativeExecutor()

	var addDef *value.FuncDef
	addFn := simpleFunc(h, exec, 2, func(f *Fiber) (Signal, value.Value, error) {
		base := f.StackStart()
		a := f.Stack[base].AsNumber()
		b := f.Stack[base+1].AsNumber()
		return SigOK, value.Number(a + b), nil
	})
	addDef = addFn.Def

	callerDef := value.NewFuncDef(h, &value.FuncDef{SlotCount: 0})
	exec.Register(callerDef, func(f *Fiber) (Signal, value.Value, error) {
		f.Push(value.Number(10))
		f.Push(value.Number(32))
		if err := f.OpenFrame(h, addFn, 2); err != nil {
			return SigError, value.Nil, err
		}
		out, sig, err := addStep(exec, f)
		if err != nil || sig != SigOK {
			return sig, out, err
		}
		return SigOK, out, nil
	})
	callerFn := value.NewFunction(h, callerDef, nil).AsFunction()
	_ = addDef

	f, err := New(h, callerFn, 8, nil, exec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, sig, err := f.Continue(value.Nil)
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if sig != SigOK || out.AsNumber() != 42 {
		t.Fatalf("expected 42/SigOK, got %v/%v", out.AsNumber(), sig)
	}
}

// addStep drives one nested frame's NativeBody directly, the way a real
// bytecode interpreter's CALL opcode would invoke the callee and then
// resume the caller -- NativeExecutor.Step only ever looks at the
// fiber's current (innermost) frame, so a NativeBody that itself opens
// a frame must step it manually in this reference executor.
func addStep(exec *NativeExecutor, f *Fiber) (value.Value, Signal, error) {
	sig, out, err := exec.Step(f)
	return out, sig, err
}

func TestWeakStackHostDetachOnPop(t *testing.T) {
	h := heap.New()
	exec := NewNativeExecutor()

	var captured *value.FuncEnv
	fn := simpleFunc(h, exec, 1, func(f *Fiber) (Signal, value.Value, error) {
		env := f.CaptureEnv(h, f.StackStart(), 1)
		if !env.IsOnStack() {
			t.Fatalf("expected freshly captured env to be on-stack")
		}
		captured = env
		return SigOK, value.Number(env.Values()[0].AsNumber()), nil
	})
	f, err := New(h, fn, 4, []value.Value{value.Number(7)}, exec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, _, err := f.Continue(value.Nil)
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if out.AsNumber() != 7 {
		t.Fatalf("expected 7, got %v", out.AsNumber())
	}
	// The frame was popped on return; PopFrame detaches its env.
	if captured.IsOnStack() {
		t.Fatalf("expected env to be detached once its frame was popped")
	}
	if captured.Values()[0].AsNumber() != 7 {
		t.Fatalf("expected detached env to keep 7, got %v", captured.Values()[0].AsNumber())
	}
}
