package value

import "github.com/nanovm/nanovm/pkg/heap"

// FuncDefFlag bits, per spec.md §3.
type FuncDefFlag uint32

const (
	FuncDefVariadic FuncDefFlag = 1 << iota
	FuncDefHasName
	FuncDefHasSource
)

// EnvDescriptor describes one entry in a FuncDef's environment list: the
// index into the defining frame's captured-env array that a nested
// function literal must copy at closure-creation time.
type EnvDescriptor struct {
	ParentSlot int  // slot in the *enclosing* frame that is captured, or -1
	SameEnv    bool // true: inherit the enclosing function's env at this index verbatim
}

// SourceMapEntry pairs one instruction with a line/column.
type SourceMapEntry struct {
	Line, Column int
}

// SymbolMapEntry records a local variable's name and lifetime within the
// bytecode, for debuggers.
type SymbolMapEntry struct {
	BirthPC, DeathPC int
	Slot             int
	Symbol           *Str
}

// FuncDef is immutable metadata describing one bytecode function. The
// bytecode itself is opaque to nanovm (spec.md §1 excludes the
// interpreter's opcodes from this core) -- it is carried as a plain
// []uint32 so it round-trips through marshal bit-exact without this
// package needing to understand it.
type FuncDef struct {
	heap.Header

	Flags       FuncDefFlag
	SlotCount   int
	MinArity    int
	MaxArity    int // ignored when Flags&FuncDefVariadic != 0
	Constants   []Value
	SubDefs     []*FuncDef
	Envs        []EnvDescriptor
	Bytecode    []uint32
	SourceMap   []SourceMapEntry // optional, len==len(Bytecode) or 0
	SymbolMap   []SymbolMapEntry // optional
	ClosureBits []bool           // optional, len==SlotCount; true => slot is captured by a closure
	Name        *Str             // optional
	Source      *Str             // optional
}

// NewFuncDef registers def with the heap. FuncDef is never itself a
// user-visible Value (only Function, which points to one, is); callers
// get back the concrete pointer to build a Function or nest it as a
// SubDef.
func NewFuncDef(h *heap.Heap, def *FuncDef) *FuncDef {
	h.Alloc(def, heap.TypeFuncDef, len(def.Bytecode)*4+len(def.Constants)*16+64)
	return def
}

func (d *FuncDef) Trace(visit func(heap.GCObject)) {
	for _, c := range d.Constants {
		if c.ref != nil {
			visit(c.ref)
		}
	}
	for _, s := range d.SubDefs {
		visit(s)
	}
	if d.Name != nil {
		visit(d.Name)
	}
	if d.Source != nil {
		visit(d.Source)
	}
}

func (d *FuncDef) Deinit() {}

func (d *FuncDef) Variadic() bool { return d.Flags&FuncDefVariadic != 0 }

// StackHost is implemented by pkg/fiber.Fiber. It lets an on-stack
// FuncEnv reference its owning fiber without pkg/value importing
// pkg/fiber, avoiding an import cycle (fiber already must import value
// for the stack's element type).
type StackHost interface {
	heap.GCObject
	StackWindow(offset, length int) []Value
	Finished() bool
}

// FuncEnv is a closure environment: either on-stack (values live inside
// the owning fiber's value stack) or detached (a private copy). Per
// spec.md §3, an on-stack env must be detached before its owning fiber
// is destroyed or serialized.
type FuncEnv struct {
	heap.Header

	host   StackHost // nil once detached
	offset int
	length int

	detachedValues []Value // populated once Detach is called, or at construction for a detached env
}

// NewOnStackEnv and NewDetachedEnv register a FuncEnv with the heap and
// return the concrete pointer -- like FuncDef, FuncEnv is never itself a
// user-visible Value, only carried inside Function.Envs.
func NewOnStackEnv(h *heap.Heap, host StackHost, offset, length int) *FuncEnv {
	e := &FuncEnv{host: host, offset: offset, length: length}
	h.Alloc(e, heap.TypeFuncEnv, 32)
	return e
}

func NewDetachedEnv(h *heap.Heap, values []Value) *FuncEnv {
	cp := make([]Value, len(values))
	copy(cp, values)
	e := &FuncEnv{detachedValues: cp, length: len(cp)}
	h.Alloc(e, heap.TypeFuncEnv, len(cp)*16+32)
	return e
}

func (e *FuncEnv) IsOnStack() bool { return e.host != nil }

// Values returns the environment's current backing slice, from the
// fiber's stack if still on-stack, or from the detached copy.
func (e *FuncEnv) Values() []Value {
	if e.host != nil {
		return e.host.StackWindow(e.offset, e.length)
	}
	return e.detachedValues
}

// Detach copies the current stack window into a private array and
// drops the back-reference, required before the owning fiber is
// destroyed or the environment is marshaled (spec.md §3).
func (e *FuncEnv) Detach() {
	if e.host == nil {
		return
	}
	vals := e.host.StackWindow(e.offset, e.length)
	cp := make([]Value, len(vals))
	copy(cp, vals)
	e.detachedValues = cp
	e.host = nil
}

func (e *FuncEnv) Trace(visit func(heap.GCObject)) {
	if e.host != nil {
		visit(e.host)
		return
	}
	for _, v := range e.detachedValues {
		if v.ref != nil {
			visit(v.ref)
		}
	}
}

func (e *FuncEnv) Deinit() {}

// Function is a bytecode function pointing to a FuncDef plus 0-N
// captured environments.
type Function struct {
	heap.Header
	Def  *FuncDef
	Envs []*FuncEnv
}

func NewFunction(h *heap.Heap, def *FuncDef, envs []*FuncEnv) Value {
	f := &Function{Def: def, Envs: envs}
	h.Alloc(f, heap.TypeFunction, len(envs)*8+32)
	return fromRef(KindFunction, f)
}

func (v Value) AsFunction() *Function { return v.ref.(*Function) }

func (f *Function) Trace(visit func(heap.GCObject)) {
	visit(f.Def)
	for _, e := range f.Envs {
		visit(e)
	}
}

func (f *Function) Deinit() {}
