package fiber

import (
	"errors"

	"github.com/nanovm/nanovm/pkg/heap"
	"github.com/nanovm/nanovm/pkg/value"
)

var (
	ErrNotResumable = errors.New("fiber: cannot resume a fiber in this status")
	ErrStackOverflow = errors.New("fiber: value stack exceeded maxstack")
	ErrArity         = errors.New("fiber: wrong number of arguments")
)

// Frame is one call frame. Rather than literally inlining a header
// struct into the []value.Value stack the way the source C runtime
// does (a layout trick for pointer-free scanning in C), nanovm keeps
// frame headers in a parallel slice indexed alongside the stack: Go's
// GC-visible slice element type is value.Value uniformly, so a mixed
// header/value layout would have to box every header field as a Value
// anyway. The parallel-slice form is behaviorally identical -- same
// fields, same push/pop discipline, same invariants -- and is the
// idiomatic Go shape for "struct of metadata associated with a stack
// depth".
type Frame struct {
	Function *value.Function
	PC       int
	Base     int // index into Stack where this frame's locals begin
	PrevBase int // previous frame's Base, or -1 if this is the bottom frame
	Env      *value.FuncEnv // lazily created once a nested closure captures this frame's window
	Tail     bool
}

// Executor runs a fiber's bytecode. The bytecode format, opcode
// dispatch, and compiler are all explicit non-goals of this core
// (spec.md §1); Executor is the seam spec.md §6 describes as the
// interface the core exposes to that external collaborator.
type Executor interface {
	// Step runs f's current frame until it suspends (returning a
	// Signal other than SigOK, which Continue records as the matching
	// fiber status) or the outermost frame returns. A SigOK returned
	// while frames are still open is treated by Continue as an
	// implicit yield: the fiber becomes pending and stays resumable.
	Step(f *Fiber) (Signal, value.Value, error)
}

// Supervisor receives a fiber's lifecycle notifications: :ok, :error,
// :yield, :user0..4 (spec.md GLOSSARY). Defined here, not in pkg/vm, so
// that pkg/vm's Channel can implement it without an import cycle.
type Supervisor interface {
	Notify(tag value.Value, payload value.Value)
}

// Fiber is a resumable execution context: a value stack, nested call
// frames, and explicit suspend/resume via Continue.
type Fiber struct {
	heap.Header

	Stack    []value.Value
	Top      int // one past the last live slot
	MaxStack int

	Frames []Frame

	Status Status
	Flags  Flag

	Env        *value.Table
	Child      *Fiber
	LastValue  value.Value
	Supervisor Supervisor

	SchedID      uint64
	TimeoutIndex int // index into the vm timeout heap, -1 if none
	Listener     interface{} // opaque to this package; set by pkg/vm

	Executor Executor

	// OnBeforeResume, if set, is invoked by Continue before bytecode
	// runs whenever a Listener is installed, so pkg/vm can dismantle it
	// via a CANCEL event (spec.md §4.2 "Resume invariants").
	OnBeforeResume func(f *Fiber)
}

// New creates a fiber ready to run fn with argc arguments already placed
// in argv (spec.md §4.2 "create").
func New(h *heap.Heap, fn *value.Function, initialCapacity int, argv []value.Value, exec Executor) (*Fiber, error) {
	if initialCapacity < len(argv) {
		initialCapacity = len(argv)
	}
	f := &Fiber{
		Stack:        make([]value.Value, initialCapacity),
		MaxStack:     1 << 20,
		Status:       StatusNew,
		Executor:     exec,
		TimeoutIndex: -1,
	}
	h.Alloc(f, heap.TypeFiber, initialCapacity*16+128)

	if err := f.PushN(argv); err != nil {
		return nil, err
	}
	var err error
	if fn.Def.Variadic() {
		err = f.OpenFrameVariadic(h, fn, len(argv))
	} else {
		err = f.funcframe(fn, len(argv), false)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// StackWindow implements value.StackHost: the live slice backing an
// on-stack FuncEnv capturing [offset, offset+length) of this fiber's
// stack.
func (f *Fiber) StackWindow(offset, length int) []value.Value {
	return f.Stack[offset : offset+length]
}

// Finished implements value.StackHost.
func (f *Fiber) Finished() bool {
	return f.Status == StatusDead || f.Status == StatusError
}

func (f *Fiber) ensureCapacity(n int) error {
	if n > f.MaxStack {
		return ErrStackOverflow
	}
	if n <= len(f.Stack) {
		return nil
	}
	newCap := len(f.Stack) * 2
	if newCap < n {
		newCap = n
	}
	if newCap > f.MaxStack {
		newCap = f.MaxStack
	}
	grown := make([]value.Value, newCap)
	copy(grown, f.Stack[:f.Top])
	f.Stack = grown
	return nil
}

// Push appends one value, growing the stack if needed.
func (f *Fiber) Push(v value.Value) error {
	if err := f.ensureCapacity(f.Top + 1); err != nil {
		return err
	}
	f.Stack[f.Top] = v
	f.Top++
	return nil
}

// PushN appends a slice of values.
func (f *Fiber) PushN(vs []value.Value) error {
	if err := f.ensureCapacity(f.Top + len(vs)); err != nil {
		return err
	}
	copy(f.Stack[f.Top:], vs)
	f.Top += len(vs)
	return nil
}

// CurrentFrame returns a pointer to the active frame, or nil if the
// fiber has no open frames.
func (f *Fiber) CurrentFrame() *Frame {
	if len(f.Frames) == 0 {
		return nil
	}
	return &f.Frames[len(f.Frames)-1]
}

// StackStart returns the base of the current frame's locals.
func (f *Fiber) StackStart() int {
	if fr := f.CurrentFrame(); fr != nil {
		return fr.Base
	}
	return 0
}

// OpenFrame validates arity, packs variadic overflow into a tuple, and
// opens a new frame reusing the argc values already sitting at the top
// of the stack as that frame's first slots (spec.md §4.2 "Frame
// contract"). h is needed only for the variadic tuple allocation, so
// OpenFrame takes it as a parameter rather than storing a Heap pointer
// on every Fiber.
func (f *Fiber) OpenFrame(h *heap.Heap, fn *value.Function, argc int) error {
	if fn.Def.Variadic() {
		return f.OpenFrameVariadic(h, fn, argc)
	}
	return f.funcframe(fn, argc, false)
}

// OpenTailFrame releases the current frame's window first, then opens a
// new one in its place (spec.md §4.2 "open a tail-call frame").
func (f *Fiber) OpenTailFrame(fn *value.Function, argc int) error {
	return f.funcframe(fn, argc, true)
}

func (f *Fiber) funcframe(fn *value.Function, argc int, tail bool) error {
	def := fn.Def
	if argc < def.MinArity {
		return ErrArity
	}
	if !def.Variadic() && argc > def.MaxArity {
		return ErrArity
	}

	argBase := f.Top - argc
	if argBase < 0 {
		return ErrArity
	}

	prevBase := -1
	if tail {
		if cur := f.CurrentFrame(); cur != nil {
			prevBase = cur.PrevBase
			if cur.Env != nil {
				cur.Env.Detach()
			}
			// Slide the already-pushed arguments down onto the
			// outgoing frame's base, discarding its locals.
			copy(f.Stack[cur.Base:cur.Base+argc], f.Stack[argBase:f.Top])
			argBase = cur.Base
			f.Frames = f.Frames[:len(f.Frames)-1]
		}
	} else if cur := f.CurrentFrame(); cur != nil {
		prevBase = cur.Base
	}

	fixed := def.MaxArity
	if def.Variadic() {
		fixed = def.MinArity
		if fixed > def.MaxArity {
			fixed = def.MaxArity
		}
	}

	if def.Variadic() && argc > fixed {
		// Building the variadic tuple needs a heap, which funcframe
		// does not take. New and OpenFrame route variadic functions
		// through OpenFrameVariadic instead, so this path is reached
		// only by OpenTailFrame with excess variadic arguments, which
		// is rejected here.
		return errVariadicNeedsHeap
	}

	newBase := argBase
	newTop := newBase + def.SlotCount
	if err := f.ensureCapacity(newTop); err != nil {
		return err
	}
	for i := argBase + argc; i < newTop; i++ {
		f.Stack[i] = value.Nil
	}
	f.Top = newTop

	f.Frames = append(f.Frames, Frame{
		Function: fn,
		PC:       0,
		Base:     newBase,
		PrevBase: prevBase,
		Tail:     tail,
	})
	return nil
}

var errVariadicNeedsHeap = errors.New("fiber: variadic call with excess arguments requires OpenFrameVariadic")

// OpenFrameVariadic is funcframe's variadic path: argc may exceed the
// function's fixed arity, with the overflow packed into a tuple
// occupying the function's last parameter slot, per spec.md §4.2.
func (f *Fiber) OpenFrameVariadic(h *heap.Heap, fn *value.Function, argc int) error {
	def := fn.Def
	if !def.Variadic() {
		return f.funcframe(fn, argc, false)
	}
	if argc < def.MinArity {
		return ErrArity
	}
	fixed := def.MinArity

	argBase := f.Top - argc
	if argBase < 0 {
		return ErrArity
	}

	var rest value.Value
	if argc > fixed {
		restItems := make([]value.Value, argc-fixed)
		copy(restItems, f.Stack[argBase+fixed:f.Top])
		rest = value.NewTuple(h, restItems, value.TupleBracket)
		f.Top = argBase + fixed
	} else {
		rest = value.NewTuple(h, nil, value.TupleBracket)
	}
	if err := f.Push(rest); err != nil {
		return err
	}

	prevBase := -1
	if cur := f.CurrentFrame(); cur != nil {
		prevBase = cur.Base
	}

	newBase := argBase
	newTop := newBase + def.SlotCount
	if err := f.ensureCapacity(newTop); err != nil {
		return err
	}
	for i := argBase + fixed + 1; i < newTop; i++ {
		f.Stack[i] = value.Nil
	}
	f.Top = newTop

	f.Frames = append(f.Frames, Frame{Function: fn, PC: 0, Base: newBase, PrevBase: prevBase})
	return nil
}

// PopFrame closes the current frame, detaching its on-stack env first
// if any nested closure captured it, and restores Top to the frame's
// base (the caller is responsible for pushing any return value).
func (f *Fiber) PopFrame() {
	cur := f.CurrentFrame()
	if cur == nil {
		return
	}
	if cur.Env != nil {
		cur.Env.Detach()
	}
	f.Top = cur.Base
	f.Frames = f.Frames[:len(f.Frames)-1]
}

// CaptureEnv lazily creates (or reuses) the current frame's on-stack
// FuncEnv, for a nested function literal to capture. The env covers
// length slots starting at the frame's base; offset is not used, and
// once the frame has an env every later call returns that same env
// whatever its arguments.
func (f *Fiber) CaptureEnv(h *heap.Heap, offset, length int) *value.FuncEnv {
	cur := f.CurrentFrame()
	if cur == nil {
		return nil
	}
	if cur.Env == nil {
		cur.Env = value.NewOnStackEnv(h, f, cur.Base, length)
	}
	return cur.Env
}

// Continue resumes the fiber with in as the value flowing into the
// suspension point (or, for a NEW fiber, is ignored -- the initial
// arguments were already supplied to New), per spec.md §4.2.
func (f *Fiber) Continue(in value.Value) (value.Value, Signal, error) {
	if !f.Status.Resumable() {
		return value.Nil, SigError, ErrNotResumable
	}
	if f.Listener != nil && f.OnBeforeResume != nil {
		f.OnBeforeResume(f)
		f.Listener = nil
	}

	f.Status = StatusAlive
	f.LastValue = in

	sig, out, err := f.Executor.Step(f)
	f.LastValue = out

	switch {
	case err != nil:
		f.Status = StatusError
		return out, SigError, err
	case sig == SigOK && len(f.Frames) == 0:
		f.Status = StatusDead
	case sig == SigOK:
		// Frames remain open: the executor yielded control without a
		// terminal signal, e.g. a single scheduling quantum expiring.
		// Treat as an implicit yield so the fiber stays resumable.
		f.Status = StatusPending
	case sig == SigError:
		f.Status = StatusError
	case sig == SigDebug:
		f.Status = StatusDebug
	case sig == SigYield, sig == SigEvent:
		f.Status = StatusPending
	case sig == SigUser0:
		f.Status = StatusUser0
	case sig == SigUser1:
		f.Status = StatusUser1
	case sig == SigUser2:
		f.Status = StatusUser2
	case sig == SigUser3:
		f.Status = StatusUser3
	case sig == SigUser4:
		f.Status = StatusUser4
	}

	return out, sig, nil
}

func (f *Fiber) Trace(visit func(heap.GCObject)) {
	for i := 0; i < f.Top; i++ {
		if f.Stack[i].Ref() != nil {
			visit(f.Stack[i].Ref())
		}
	}
	for _, fr := range f.Frames {
		if fr.Function != nil {
			visit(fr.Function)
		}
		if fr.Env != nil {
			visit(fr.Env)
		}
	}
	if f.Env != nil {
		visit(f.Env)
	}
	if f.Child != nil {
		visit(f.Child)
	}
	if f.LastValue.Ref() != nil {
		visit(f.LastValue.Ref())
	}
}

func (f *Fiber) Deinit() {}
