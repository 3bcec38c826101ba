package marshal

import (
	"errors"
	"math"
	"reflect"

	"github.com/nanovm/nanovm/pkg/fiber"
	"github.com/nanovm/nanovm/pkg/registry"
	"github.com/nanovm/nanovm/pkg/value"
)

// ptrOf returns obj's address as a uintptr, used only for the UNSAFE
// cfunction/threaded-abstract encodings that round-trip by identity
// within a single process (spec.md §4.5 "UNSAFE... round-trip by
// address").
func ptrOf(obj interface{}) uintptr {
	return reflect.ValueOf(obj).Pointer()
}

// ErrUnsafeRequired is returned when a raw pointer, c-function, threaded
// abstract, or pointer-buffer is marshaled without FlagUnsafe (spec.md
// §4.5 "Unmarshal safety... UNSAFE flag is required to round-trip
// anything whose identity is a bare memory address").
var ErrUnsafeRequired = errors.New("marshal: FlagUnsafe required for this value")

// ErrNotMarshalable covers variants with no wire representation at all
// (an abstract with neither a registry name nor a Marshal vtable slot).
var ErrNotMarshalable = errors.New("marshal: value has no wire representation")

// ErrAliveFiber rejects a fiber mid-Continue -- its Go call stack inside
// Executor.Step is not itself observable, so only a suspended fiber's
// state can be captured (spec.md §4.5 "a fiber may only be marshaled
// while suspended, never while alive").
var ErrAliveFiber = errors.New("marshal: cannot marshal a fiber that is currently running")

// Marshal encodes v as described by spec.md §4.5. Flags combine with
// bitwise OR; passing none behaves as if neither FlagNoCycles nor
// FlagUnsafe were set.
func Marshal(v value.Value, flags ...Flag) ([]byte, error) {
	return MarshalWithRegistry(v, nil, flags...)
}

// MarshalWithRegistry is Marshal plus a registry consulted for the
// registry-ref shortcut (spec.md §4.5): any reference value reg knows a
// name for is written as its name instead of its full encoding.
func MarshalWithRegistry(v value.Value, reg *registry.Registry, flags ...Flag) ([]byte, error) {
	var f Flag
	for _, fl := range flags {
		f |= fl
	}
	e := &encoder{
		flags:      f,
		reg:        reg,
		seen:       make(map[interface{}]uint64),
		funcdefIdx: make(map[*value.FuncDef]uint64),
		funcenvIdx: make(map[*value.FuncEnv]uint64),
	}
	if err := e.encode(v); err != nil {
		return nil, err
	}
	return e.w.buf, nil
}

type encoder struct {
	w          writer
	flags      Flag
	reg        *registry.Registry
	seen       map[interface{}]uint64 // ref identity -> reference-table index
	nextRef    uint64
	funcdefIdx map[*value.FuncDef]uint64
	funcenvIdx map[*value.FuncEnv]uint64
}

// refCheck writes a codeReference back-pointer and returns true if ref
// was already memoized; FlagNoCycles skips the table entirely (spec.md
// §4.5 "Cycle handling... NO_CYCLES disables the reference table").
func (e *encoder) refCheck(ref interface{}) bool {
	if e.flags.has(FlagNoCycles) {
		return false
	}
	if idx, ok := e.seen[ref]; ok {
		e.w.byte(codeReference)
		e.w.varint(idx)
		return true
	}
	return false
}

func (e *encoder) memoize(ref interface{}) {
	if e.flags.has(FlagNoCycles) {
		return
	}
	e.seen[ref] = e.nextRef
	e.nextRef++
}

func (e *encoder) encode(v value.Value) error {
	if e.reg != nil && v.IsReference() {
		if name, ok := e.reg.NameOf(v); ok {
			e.w.byte(codeRegistryRef)
			e.w.lenBytes([]byte(name))
			return nil
		}
	}

	switch v.Kind() {
	case value.KindNil:
		e.w.byte(codeNil)
	case value.KindBool:
		if v.AsBool() {
			e.w.byte(codeTrue)
		} else {
			e.w.byte(codeFalse)
		}
	case value.KindNumber:
		e.w.byte(codeReal)
		e.w.u64(math.Float64bits(v.AsNumber()))
	case value.KindInt:
		e.encodeInt(v.AsInt())
	case value.KindString:
		return e.encodeStr(codeString, v.AsString())
	case value.KindSymbol:
		return e.encodeStr(codeSymbol, v.AsString())
	case value.KindKeyword:
		return e.encodeStr(codeKeyword, v.AsString())
	case value.KindBuffer:
		return e.encodeBuffer(v.AsBuffer())
	case value.KindArray:
		return e.encodeArray(v.AsArray())
	case value.KindTuple:
		return e.encodeTuple(v.AsTuple())
	case value.KindTable:
		return e.encodeTable(v.AsTable())
	case value.KindStruct:
		return e.encodeStruct(v.AsStructure())
	case value.KindFunction:
		return e.encodeFunction(v.AsFunction())
	case value.KindFiber:
		return e.encodeFiber(v.Ref().(*fiber.Fiber))
	case value.KindAbstract:
		return e.encodeAbstract(v.AsAbstract())
	case value.KindCFunction:
		return e.encodeCFunction(v.AsCFunction())
	case value.KindPointer:
		if !e.flags.has(FlagUnsafe) {
			return ErrUnsafeRequired
		}
		e.w.byte(codeUnsafePointer)
		e.w.u64(uint64(v.AsPointer()))
	default:
		return ErrNotMarshalable
	}
	return nil
}

// encodeInt picks the shortest of three integer encodings: a single
// short-int byte for [0,199], a compact little-endian form for anything
// whose magnitude fits in 1-3 bytes (codeBigIntBase+n, with bit 2 of n
// reserved as the sign), or the full 4-byte long-integer form.
func (e *encoder) encodeInt(i32 int32) {
	if i32 >= 0 && i32 <= codeShortIntMax {
		e.w.byte(byte(i32))
		return
	}
	neg := i32 < 0
	mag := uint32(i32)
	if neg {
		mag = uint32(-int64(i32))
	}
	nb := 1
	for nb < 4 && mag>>(uint(nb)*8) != 0 {
		nb++
	}
	if nb >= 4 {
		e.w.byte(codeLongInt)
		e.w.u32(uint32(i32))
		return
	}
	code := codeBigIntBase + byte(nb)
	if neg {
		code += 4
	}
	e.w.byte(code)
	for i := 0; i < nb; i++ {
		e.w.byte(byte(mag >> (uint(i) * 8)))
	}
}

func (e *encoder) encodeStr(code byte, s *value.Str) error {
	if e.refCheck(s) {
		return nil
	}
	e.w.byte(code)
	e.w.lenBytes(s.Bytes())
	e.memoize(s)
	return nil
}

func (e *encoder) encodeBuffer(b *value.Buffer) error {
	if e.refCheck(b) {
		return nil
	}
	e.w.byte(codeBuffer)
	e.w.lenBytes(b.Bytes)
	e.memoize(b)
	return nil
}

// encodeArray memoizes before writing elements, per spec.md §4.5: arrays
// and tables register their reference-table slot before recursing into
// children so a self-referential array round-trips.
func (e *encoder) encodeArray(a *value.Array) error {
	if e.refCheck(a) {
		return nil
	}
	e.memoize(a)
	code := byte(codeArray)
	if a.Weak {
		code = codeWeakArray
	}
	e.w.byte(code)
	e.w.varint(uint64(a.Len()))
	for _, it := range a.Items {
		if err := e.encode(it); err != nil {
			return err
		}
	}
	return nil
}

// encodeTuple memoizes after writing items: tuples are built once, from
// already-constructed values, so a cycle through a tuple is impossible
// by construction (spec.md §4.5) and the reference slot only matters for
// a *later* value pointing back at this one.
func (e *encoder) encodeTuple(t *value.Tuple) error {
	if e.refCheck(t) {
		return nil
	}
	e.w.byte(codeTuple)
	e.w.byte(byte(t.Flag))
	e.w.varint(uint64(t.Len()))
	for _, it := range t.Items {
		if err := e.encode(it); err != nil {
			return err
		}
	}
	e.memoize(t)
	return nil
}

func (e *encoder) encodeTable(t *value.Table) error {
	if e.refCheck(t) {
		return nil
	}
	e.memoize(t)

	hasProto := t.Prototype != nil
	var code byte
	switch t.Weak {
	case value.NotWeak:
		if hasProto {
			code = codeTableWithProto
		} else {
			code = codeTable
		}
	default:
		code = weakTableCode(hasProto, t.Weak == value.WeakKeyOnly, t.Weak == value.WeakValueOnly, t.Weak == value.WeakBoth)
	}
	e.w.byte(code)
	e.w.varint(uint64(t.Len()))
	for k, v, ok := t.Next(value.Nil); ok; k, v, ok = t.Next(k) {
		if err := e.encode(k); err != nil {
			return err
		}
		if err := e.encode(v); err != nil {
			return err
		}
	}
	if hasProto {
		if err := e.encodeTable(t.Prototype); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) encodeStruct(s *value.Structure) error {
	if e.refCheck(s) {
		return nil
	}
	hasProto := s.Prototype != nil
	code := byte(codeStruct)
	if hasProto {
		code = codeStructWithProto
	}
	e.w.byte(code)
	e.w.varint(uint64(s.Len()))
	for k, v, ok := s.Next(value.Nil); ok; k, v, ok = s.Next(k) {
		if err := e.encode(k); err != nil {
			return err
		}
		if err := e.encode(v); err != nil {
			return err
		}
	}
	e.memoize(s)
	if hasProto {
		if err := e.encodeStruct(s.Prototype); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) encodeFunction(fn *value.Function) error {
	if e.refCheck(fn) {
		return nil
	}
	e.memoize(fn)
	e.w.byte(codeFunction)
	if err := e.encodeFuncDef(fn.Def); err != nil {
		return err
	}
	e.w.varint(uint64(len(fn.Envs)))
	for _, env := range fn.Envs {
		if err := e.encodeFuncEnv(env); err != nil {
			return err
		}
	}
	return nil
}

// encodeFuncDef writes def in full the first time it is seen in this
// stream and a compact back-reference (codeFuncDefBackRef) on every
// later occurrence -- funcdefs are shared across every Function closing
// over the same literal, so deduping keeps nested closures cheap. This
// uses its own seen-list, separate from the general value reference
// table, matching spec.md §4.5's "funcenv/funcdef interning is tracked
// independently of the value reference table".
func (e *encoder) encodeFuncDef(def *value.FuncDef) error {
	if idx, ok := e.funcdefIdx[def]; ok {
		e.w.byte(codeFuncDefBackRef)
		e.w.varint(idx)
		return nil
	}
	idx := uint64(len(e.funcdefIdx))
	e.funcdefIdx[def] = idx

	e.w.varint(uint64(def.Flags))
	e.w.varint(uint64(def.SlotCount))
	e.w.varint(uint64(def.MinArity))
	e.w.varint(uint64(def.MaxArity))

	e.w.varint(uint64(len(def.Constants)))
	for _, c := range def.Constants {
		if err := e.encode(c); err != nil {
			return err
		}
	}

	e.w.varint(uint64(len(def.SubDefs)))
	for _, sub := range def.SubDefs {
		if err := e.encodeFuncDef(sub); err != nil {
			return err
		}
	}

	e.w.varint(uint64(len(def.Envs)))
	for _, ed := range def.Envs {
		e.w.varint(uint64(int32(ed.ParentSlot)))
		if ed.SameEnv {
			e.w.byte(1)
		} else {
			e.w.byte(0)
		}
	}

	e.w.varint(uint64(len(def.Bytecode)))
	for _, op := range def.Bytecode {
		e.w.u32(op)
	}

	if def.Name != nil {
		e.w.byte(1)
		e.w.lenBytes(def.Name.Bytes())
	} else {
		e.w.byte(0)
	}
	if def.Source != nil {
		e.w.byte(1)
		e.w.lenBytes(def.Source.Bytes())
	} else {
		e.w.byte(0)
	}
	return nil
}

func (e *encoder) encodeFuncEnv(env *value.FuncEnv) error {
	if env.IsOnStack() {
		return errors.New("marshal: func env must be detached before marshaling")
	}
	if idx, ok := e.funcenvIdx[env]; ok {
		e.w.byte(codeFuncEnvBackRef)
		e.w.varint(idx)
		return nil
	}
	idx := uint64(len(e.funcenvIdx))
	e.funcenvIdx[env] = idx

	vals := env.Values()
	e.w.varint(uint64(len(vals)))
	for _, v := range vals {
		if err := e.encode(v); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) encodeAbstract(a *value.Abstract) error {
	if e.refCheck(a) {
		return nil
	}
	if a.VTable == nil {
		return ErrNotMarshalable
	}
	if a.VTable.Marshal != nil {
		payload, err := a.VTable.Marshal(a)
		if err != nil {
			return err
		}
		e.memoize(a)
		e.w.byte(codeAbstract)
		e.w.lenBytes([]byte(a.VTable.Name))
		e.w.lenBytes(payload)
		return nil
	}
	if !e.flags.has(FlagUnsafe) {
		return ErrUnsafeRequired
	}
	e.memoize(a)
	e.w.byte(codeThreadedAbstract)
	e.w.lenBytes([]byte(a.VTable.Name))
	e.w.u64(uint64(ptrOf(a)))
	return nil
}

func (e *encoder) encodeCFunction(c *value.CFunction) error {
	if !e.flags.has(FlagUnsafe) {
		return ErrUnsafeRequired
	}
	if e.refCheck(c) {
		return nil
	}
	e.memoize(c)
	e.w.byte(codeUnsafeCFunction)
	e.w.lenBytes([]byte(c.Name))
	e.w.u64(uint64(ptrOf(c)))
	return nil
}

// encodeFiber writes f's suspended state: header counters, then every
// frame from innermost to outermost (spec.md §4.5 "per-frame top-to-
// bottom walk"), each carrying its function, optional captured env, and
// the live stack slots belonging to that frame.
func (e *encoder) encodeFiber(f *fiber.Fiber) error {
	if f.Status == fiber.StatusAlive {
		return ErrAliveFiber
	}
	if e.refCheck(f) {
		return nil
	}
	e.memoize(f)

	e.w.byte(codeFiber)
	e.w.byte(byte(f.Status))
	e.w.varint(uint64(f.Top))
	e.w.varint(uint64(len(f.Frames)))

	for i := len(f.Frames) - 1; i >= 0; i-- {
		fr := f.Frames[i]
		end := f.Top
		if i+1 < len(f.Frames) {
			end = f.Frames[i+1].Base
		}
		e.w.varint(uint64(fr.PC))
		e.w.varint(uint64(fr.Base))
		e.w.varint(uint64(end))
		if fr.Tail {
			e.w.byte(1)
		} else {
			e.w.byte(0)
		}
		if err := e.encodeFunction(fr.Function); err != nil {
			return err
		}
		if fr.Env != nil {
			e.w.byte(1)
			if err := e.encodeFuncEnv(fr.Env); err != nil {
				return err
			}
		} else {
			e.w.byte(0)
		}
		for slot := fr.Base; slot < end; slot++ {
			if err := e.encode(f.Stack[slot]); err != nil {
				return err
			}
		}
	}

	if f.Env != nil {
		e.w.byte(1)
		if err := e.encodeTable(f.Env); err != nil {
			return err
		}
	} else {
		e.w.byte(0)
	}
	if f.Child != nil {
		e.w.byte(1)
		if err := e.encodeFiber(f.Child); err != nil {
			return err
		}
	} else {
		e.w.byte(0)
	}
	if err := e.encode(f.LastValue); err != nil {
		return err
	}
	return nil
}
