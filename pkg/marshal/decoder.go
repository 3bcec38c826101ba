package marshal

import (
	"errors"
	"fmt"
	"math"

	"github.com/nanovm/nanovm/pkg/fiber"
	"github.com/nanovm/nanovm/pkg/heap"
	"github.com/nanovm/nanovm/pkg/registry"
	"github.com/nanovm/nanovm/pkg/value"
)

// ErrBadCode is returned for a lead byte outside the table spec.md §4.5
// defines, and for structurally invalid funcdef or fiber bodies.
// Unmarshal takes no flags: an unsafe-pointer code decodes without
// FlagUnsafe, and unsafe cfunction, threaded-abstract and
// pointer-buffer codes are always rejected with their own errors.
var ErrBadCode = errors.New("marshal: unrecognized wire code")

// ErrUnknownRegistryName is returned when a registry-ref's symbol has no
// forward entry in the registry consulted during unmarshal.
var ErrUnknownRegistryName = errors.New("marshal: unresolved registry-ref name")

// ErrBadReference is returned when a codeReference/back-ref index points
// past what has been decoded so far.
var ErrBadReference = errors.New("marshal: reference index out of range")

// Unmarshal decodes data into a Value allocated on h, interning any
// symbol/keyword through in.
func Unmarshal(h *heap.Heap, in *value.Interner, data []byte) (value.Value, error) {
	return UnmarshalWithRegistry(h, in, nil, data)
}

// UnmarshalWithRegistry is Unmarshal plus a registry consulted to
// resolve registry-ref symbols back to their live value.
func UnmarshalWithRegistry(h *heap.Heap, in *value.Interner, reg *registry.Registry, data []byte) (value.Value, error) {
	d := &decoder{
		r:        reader{buf: data},
		h:        h,
		in:       in,
		reg:      reg,
		refs:     nil,
		funcdefs: nil,
		funcenvs: nil,
	}
	v, err := d.decode()
	if err != nil {
		return value.Nil, err
	}
	if !d.r.atEnd() {
		return value.Nil, errors.New("marshal: trailing bytes after value")
	}
	return v, nil
}

type decoder struct {
	r   reader
	h   *heap.Heap
	in  *value.Interner
	reg *registry.Registry

	refs     []value.Value // reference-table slots, by index
	funcdefs []*value.FuncDef
	funcenvs []*value.FuncEnv
}

func (d *decoder) addRef(v value.Value) { d.refs = append(d.refs, v) }

func (d *decoder) resolveRef() (value.Value, error) {
	idx, err := d.r.varint()
	if err != nil {
		return value.Nil, err
	}
	if idx >= uint64(len(d.refs)) {
		return value.Nil, ErrBadReference
	}
	return d.refs[idx], nil
}

func (d *decoder) decode() (value.Value, error) {
	if err := d.r.enterDepth(); err != nil {
		return value.Nil, err
	}
	defer d.r.leaveDepth()

	code, err := d.r.byte()
	if err != nil {
		return value.Nil, err
	}

	switch {
	case code <= codeShortIntMax:
		return value.Int(int32(code)), nil
	case code >= codeBigIntBase:
		return d.decodeBigInt(code)
	}

	switch code {
	case codeReal:
		bits, err := d.r.u64()
		if err != nil {
			return value.Nil, err
		}
		return value.Number(math.Float64frombits(bits)), nil
	case codeNil:
		return value.Nil, nil
	case codeFalse:
		return value.Bool(false), nil
	case codeTrue:
		return value.Bool(true), nil
	case codeFiber:
		return d.decodeFiber()
	case codeLongInt:
		u, err := d.r.u32()
		if err != nil {
			return value.Nil, err
		}
		return value.Int(int32(u)), nil
	case codeString:
		return d.decodeStr(false, false)
	case codeSymbol:
		return d.decodeStr(true, false)
	case codeKeyword:
		return d.decodeStr(false, true)
	case codeArray:
		return d.decodeArray(false)
	case codeWeakArray:
		return d.decodeArray(true)
	case codeTuple:
		return d.decodeTuple()
	case codeTable:
		return d.decodeTable(false, value.NotWeak)
	case codeTableWithProto:
		return d.decodeTable(true, value.NotWeak)
	case codeStruct:
		return d.decodeStruct(false)
	case codeStructWithProto:
		return d.decodeStruct(true)
	case codeBuffer:
		return d.decodeBuffer()
	case codeFunction:
		return d.decodeFunction()
	case codeRegistryRef:
		return d.decodeRegistryRef()
	case codeAbstract:
		return d.decodeAbstract()
	case codeReference:
		return d.resolveRef()
	case codeUnsafeCFunction:
		return d.decodeUnsafeCFunction()
	case codeUnsafePointer:
		u, err := d.r.u64()
		if err != nil {
			return value.Nil, err
		}
		return value.NewPointer(uintptr(u)), nil
	case codeThreadedAbstract:
		return d.decodeThreadedAbstract()
	case codePointerBuffer:
		return d.decodePointerBuffer()
	}

	if code >= codeWeakTableBase && code < codeWeakTableBase+6 {
		hasProto, _, weakV, weakB := decodeWeakTableCode(code)
		kind := value.WeakKeyOnly
		switch {
		case weakV:
			kind = value.WeakValueOnly
		case weakB:
			kind = value.WeakBoth
		}
		return d.decodeTable(hasProto, kind)
	}

	return value.Nil, fmt.Errorf("%w: %d", ErrBadCode, code)
}

func (d *decoder) decodeBigInt(code byte) (value.Value, error) {
	raw := code - codeBigIntBase
	neg := raw >= 4
	nb := int(raw)
	if neg {
		nb -= 4
	}
	if nb < 1 || nb > 3 {
		return value.Nil, fmt.Errorf("%w: bad compact-int width %d", ErrBadCode, nb)
	}
	b, err := d.r.take(nb)
	if err != nil {
		return value.Nil, err
	}
	var mag uint32
	for i := nb - 1; i >= 0; i-- {
		mag = mag<<8 | uint32(b[i])
	}
	n := int32(mag)
	if neg {
		n = -n
	}
	return value.Int(n), nil
}

func (d *decoder) decodeStr(symbol, keyword bool) (value.Value, error) {
	b, err := d.r.lenBytes()
	if err != nil {
		return value.Nil, err
	}
	var v value.Value
	switch {
	case symbol:
		v = d.in.Symbol(d.h, string(b))
	case keyword:
		v = d.in.Keyword(d.h, string(b))
	default:
		v = value.NewStringBytes(d.h, b)
	}
	d.addRef(v)
	return v, nil
}

func (d *decoder) decodeBuffer() (value.Value, error) {
	b, err := d.r.lenBytes()
	if err != nil {
		return value.Nil, err
	}
	v := value.NewBuffer(d.h, len(b))
	v.AsBuffer().Push(b)
	d.addRef(v)
	return v, nil
}

func (d *decoder) decodeArray(weak bool) (value.Value, error) {
	n, err := d.r.varint()
	if err != nil {
		return value.Nil, err
	}
	var v value.Value
	if weak {
		v = value.NewWeakArray(d.h, int(n))
	} else {
		v = value.NewArray(d.h, int(n))
	}
	// Memoized before children, mirroring the encoder, so a
	// self-referential array resolves on decode too.
	d.addRef(v)
	a := v.AsArray()
	for i := uint64(0); i < n; i++ {
		item, err := d.decode()
		if err != nil {
			return value.Nil, err
		}
		a.Push(item)
	}
	return v, nil
}

func (d *decoder) decodeTuple() (value.Value, error) {
	flag, err := d.r.byte()
	if err != nil {
		return value.Nil, err
	}
	n, err := d.r.varint()
	if err != nil {
		return value.Nil, err
	}
	items := make([]value.Value, n)
	for i := range items {
		items[i], err = d.decode()
		if err != nil {
			return value.Nil, err
		}
	}
	v := value.NewTuple(d.h, items, value.TupleFlag(flag))
	d.addRef(v)
	return v, nil
}

func (d *decoder) decodeTable(hasProto bool, weak value.WeakKind) (value.Value, error) {
	n, err := d.r.varint()
	if err != nil {
		return value.Nil, err
	}
	v := value.NewWeakTable(d.h, int(n), weak)
	d.addRef(v)
	t := v.AsTable()
	for i := uint64(0); i < n; i++ {
		k, err := d.decode()
		if err != nil {
			return value.Nil, err
		}
		val, err := d.decode()
		if err != nil {
			return value.Nil, err
		}
		t.Put(k, val)
	}
	if hasProto {
		proto, err := d.decode()
		if err != nil {
			return value.Nil, err
		}
		if proto.IsReference() && proto.Kind() == value.KindTable {
			t.Prototype = proto.AsTable()
		}
	}
	return v, nil
}

func (d *decoder) decodeStruct(hasProto bool) (value.Value, error) {
	n, err := d.r.varint()
	if err != nil {
		return value.Nil, err
	}
	kvs := make([]value.Value, 0, n*2)
	for i := uint64(0); i < n; i++ {
		k, err := d.decode()
		if err != nil {
			return value.Nil, err
		}
		val, err := d.decode()
		if err != nil {
			return value.Nil, err
		}
		kvs = append(kvs, k, val)
	}
	v := value.NewStructure(d.h, kvs, nil)
	d.addRef(v)
	if hasProto {
		proto, err := d.decode()
		if err != nil {
			return value.Nil, err
		}
		if proto.IsReference() && proto.Kind() == value.KindStruct {
			v.AsStructure().Prototype = proto.AsStructure()
		}
	}
	return v, nil
}

func (d *decoder) decodeFunction() (value.Value, error) {
	// Reserve the reference slot before the children, matching the
	// encoder, which memoizes a function before its def and envs.
	slot := len(d.refs)
	d.addRef(value.Nil)
	def, err := d.decodeFuncDef()
	if err != nil {
		return value.Nil, err
	}
	n, err := d.r.varint()
	if err != nil {
		return value.Nil, err
	}
	envs := make([]*value.FuncEnv, n)
	for i := range envs {
		envs[i], err = d.decodeFuncEnv()
		if err != nil {
			return value.Nil, err
		}
	}
	v := value.NewFunction(d.h, def, envs)
	d.refs[slot] = v
	return v, nil
}

// decodeFuncDef reads either a freshly-written FuncDef body or a
// codeFuncDefBackRef into one, mirroring encodeFuncDef's dedupe.
func (d *decoder) decodeFuncDef() (*value.FuncDef, error) {
	mark := d.r.pos
	code, err := d.r.byte()
	if err != nil {
		return nil, err
	}
	if code == codeFuncDefBackRef {
		idx, err := d.r.varint()
		if err != nil {
			return nil, err
		}
		if idx >= uint64(len(d.funcdefs)) {
			return nil, ErrBadReference
		}
		return d.funcdefs[idx], nil
	}
	d.r.pos = mark // not a back-ref: rewind, this byte starts the Flags varint

	flagsU, err := d.r.varint()
	if err != nil {
		return nil, err
	}
	slotCount, err := d.r.varint()
	if err != nil {
		return nil, err
	}
	minArity, err := d.r.varint()
	if err != nil {
		return nil, err
	}
	maxArity, err := d.r.varint()
	if err != nil {
		return nil, err
	}

	def := &value.FuncDef{
		Flags:     value.FuncDefFlag(flagsU),
		SlotCount: int(slotCount),
		MinArity:  int(minArity),
		MaxArity:  int(maxArity),
	}
	// Register the def (incomplete) before recursing into subdefs so a
	// subdef that refers back to its own enclosing def resolves.
	d.funcdefs = append(d.funcdefs, def)

	nConst, err := d.r.varint()
	if err != nil {
		return nil, err
	}
	def.Constants = make([]value.Value, nConst)
	for i := range def.Constants {
		def.Constants[i], err = d.decode()
		if err != nil {
			return nil, err
		}
	}

	nSub, err := d.r.varint()
	if err != nil {
		return nil, err
	}
	def.SubDefs = make([]*value.FuncDef, nSub)
	for i := range def.SubDefs {
		def.SubDefs[i], err = d.decodeFuncDef()
		if err != nil {
			return nil, err
		}
	}

	nEnv, err := d.r.varint()
	if err != nil {
		return nil, err
	}
	def.Envs = make([]value.EnvDescriptor, nEnv)
	for i := range def.Envs {
		slot, err := d.r.varint()
		if err != nil {
			return nil, err
		}
		same, err := d.r.byte()
		if err != nil {
			return nil, err
		}
		def.Envs[i] = value.EnvDescriptor{ParentSlot: int(int32(slot)), SameEnv: same != 0}
	}

	nCode, err := d.r.varint()
	if err != nil {
		return nil, err
	}
	def.Bytecode = make([]uint32, nCode)
	for i := range def.Bytecode {
		def.Bytecode[i], err = d.r.u32()
		if err != nil {
			return nil, err
		}
	}

	hasName, err := d.r.byte()
	if err != nil {
		return nil, err
	}
	if hasName != 0 {
		nameBytes, err := d.r.lenBytes()
		if err != nil {
			return nil, err
		}
		def.Name = d.in.Symbol(d.h, string(nameBytes)).AsString()
	}
	hasSource, err := d.r.byte()
	if err != nil {
		return nil, err
	}
	if hasSource != 0 {
		srcBytes, err := d.r.lenBytes()
		if err != nil {
			return nil, err
		}
		def.Source = value.NewString(d.h, string(srcBytes)).AsString()
	}

	if err := verifyFuncDef(def); err != nil {
		return nil, err
	}
	return value.NewFuncDef(d.h, def), nil
}

// verifyFuncDef is the post-read bytecode verifier spec.md §4.5 calls
// for: structurally-bogus arity/slot counts are rejected before the
// def is ever handed to a Function/Fiber, rather than discovered later
// as an out-of-bounds frame.
func verifyFuncDef(def *value.FuncDef) error {
	if def.MinArity < 0 || def.MaxArity < def.MinArity && def.Flags&value.FuncDefVariadic == 0 {
		return fmt.Errorf("%w: inconsistent arity", ErrBadCode)
	}
	if def.SlotCount < 0 || def.SlotCount < def.MaxArity {
		return fmt.Errorf("%w: slot count too small for arity", ErrBadCode)
	}
	if def.SourceMap != nil && len(def.SourceMap) != len(def.Bytecode) {
		return fmt.Errorf("%w: source map length mismatch", ErrBadCode)
	}
	if def.ClosureBits != nil && len(def.ClosureBits) != def.SlotCount {
		return fmt.Errorf("%w: closure bits length mismatch", ErrBadCode)
	}
	for _, ed := range def.Envs {
		if ed.ParentSlot < -1 {
			return fmt.Errorf("%w: bad env descriptor", ErrBadCode)
		}
	}
	return nil
}

func (d *decoder) decodeFuncEnv() (*value.FuncEnv, error) {
	mark := d.r.pos
	code, err := d.r.byte()
	if err != nil {
		return nil, err
	}
	if code == codeFuncEnvBackRef {
		idx, err := d.r.varint()
		if err != nil {
			return nil, err
		}
		if idx >= uint64(len(d.funcenvs)) {
			return nil, ErrBadReference
		}
		return d.funcenvs[idx], nil
	}
	d.r.pos = mark

	n, err := d.r.varint()
	if err != nil {
		return nil, err
	}
	vals := make([]value.Value, n)
	for i := range vals {
		vals[i], err = d.decode()
		if err != nil {
			return nil, err
		}
	}
	env := value.NewDetachedEnv(d.h, vals)
	d.funcenvs = append(d.funcenvs, env)
	return env, nil
}

func (d *decoder) decodeRegistryRef() (value.Value, error) {
	nameBytes, err := d.r.lenBytes()
	if err != nil {
		return value.Nil, err
	}
	if d.reg == nil {
		return value.Nil, ErrUnknownRegistryName
	}
	v, ok := d.reg.Lookup(string(nameBytes))
	if !ok {
		return value.Nil, fmt.Errorf("%w: %q", ErrUnknownRegistryName, nameBytes)
	}
	return v, nil
}

func (d *decoder) decodeAbstract() (value.Value, error) {
	nameBytes, err := d.r.lenBytes()
	if err != nil {
		return value.Nil, err
	}
	payload, err := d.r.lenBytes()
	if err != nil {
		return value.Nil, err
	}
	if d.reg == nil {
		return value.Nil, ErrUnknownRegistryName
	}
	proto, ok := d.reg.Lookup(string(nameBytes))
	if !ok || proto.Kind() != value.KindAbstract {
		return value.Nil, fmt.Errorf("%w: abstract type %q", ErrUnknownRegistryName, nameBytes)
	}
	vt := proto.AsAbstract().VTable
	if vt == nil || vt.Unmarshal == nil {
		return value.Nil, fmt.Errorf("marshal: abstract type %q has no Unmarshal slot", nameBytes)
	}
	data, err := vt.Unmarshal(payload)
	if err != nil {
		return value.Nil, err
	}
	v := value.NewAbstract(d.h, vt, data)
	d.addRef(v)
	return v, nil
}

func (d *decoder) decodeUnsafeCFunction() (value.Value, error) {
	if _, err := d.r.lenBytes(); err != nil { // name, informational only on this path
		return value.Nil, err
	}
	if _, err := d.r.u64(); err != nil { // address; not dereferenced, see spec.md's UNSAFE note
		return value.Nil, err
	}
	return value.Nil, errors.New("marshal: unsafe cfunction cannot be resurrected across process boundaries")
}

func (d *decoder) decodeThreadedAbstract() (value.Value, error) {
	if _, err := d.r.lenBytes(); err != nil {
		return value.Nil, err
	}
	if _, err := d.r.u64(); err != nil {
		return value.Nil, err
	}
	return value.Nil, errors.New("marshal: threaded abstract cannot be resurrected across process boundaries")
}

func (d *decoder) decodePointerBuffer() (value.Value, error) {
	if _, err := d.r.u64(); err != nil {
		return value.Nil, err
	}
	if _, err := d.r.varint(); err != nil {
		return value.Nil, err
	}
	return value.Nil, errors.New("marshal: pointer buffer cannot be resurrected across process boundaries")
}

// decodeFiber rebuilds a suspended Fiber's stack and frame chain, then
// runs a frame-chain consistency check (every frame's Base must fall
// inside [0, Top] and be non-decreasing) before handing it back --
// spec.md §4.5's "strict... frame-chain consistency checks".
func (d *decoder) decodeFiber() (value.Value, error) {
	status, err := d.r.byte()
	if err != nil {
		return value.Nil, err
	}
	top, err := d.r.varint()
	if err != nil {
		return value.Nil, err
	}
	nFrames, err := d.r.varint()
	if err != nil {
		return value.Nil, err
	}

	f := &fiber.Fiber{
		Stack:        make([]value.Value, top),
		Top:          int(top),
		MaxStack:     1 << 20,
		Status:       fiber.Status(status),
		TimeoutIndex: -1,
	}
	d.h.Alloc(f, heap.TypeFiber, int(top)*16+128)
	fVal := value.NewFiberRef(f)
	// Memoized before frames/stack are decoded, matching the encoder's
	// array/table convention, so a fiber's own Child (or a future
	// extension letting a fiber capture itself) resolves correctly.
	d.addRef(fVal)

	frames := make([]fiber.Frame, nFrames)
	// Frames were written innermost-first; read them back in that order
	// then reverse, since Fiber.Frames is stored outermost-first.
	for i := range frames {
		pc, err := d.r.varint()
		if err != nil {
			return value.Nil, err
		}
		base, err := d.r.varint()
		if err != nil {
			return value.Nil, err
		}
		end, err := d.r.varint()
		if err != nil {
			return value.Nil, err
		}
		if base > end || end > top {
			return value.Nil, fmt.Errorf("%w: fiber frame bounds", ErrBadCode)
		}
		tailByte, err := d.r.byte()
		if err != nil {
			return value.Nil, err
		}
		fnVal, err := d.decode()
		if err != nil {
			return value.Nil, err
		}
		if fnVal.Kind() != value.KindFunction {
			return value.Nil, fmt.Errorf("%w: fiber frame function", ErrBadCode)
		}
		hasEnv, err := d.r.byte()
		if err != nil {
			return value.Nil, err
		}
		var env *value.FuncEnv
		if hasEnv != 0 {
			env, err = d.decodeFuncEnv()
			if err != nil {
				return value.Nil, err
			}
		}
		for slot := base; slot < end; slot++ {
			f.Stack[slot], err = d.decode()
			if err != nil {
				return value.Nil, err
			}
		}
		frames[i] = fiber.Frame{
			Function: fnVal.AsFunction(),
			PC:       int(pc),
			Base:     int(base),
			Env:      env,
			Tail:     tailByte != 0,
		}
	}
	// Reverse into outermost-first order and fix up PrevBase.
	for l, r := 0, len(frames)-1; l < r; l, r = l+1, r-1 {
		frames[l], frames[r] = frames[r], frames[l]
	}
	prevBase := -1
	for i := range frames {
		if frames[i].Base < prevBase {
			return value.Nil, fmt.Errorf("%w: fiber frame chain", ErrBadCode)
		}
		frames[i].PrevBase = prevBase
		prevBase = frames[i].Base
	}
	f.Frames = frames

	hasEnvTable, err := d.r.byte()
	if err != nil {
		return value.Nil, err
	}
	if hasEnvTable != 0 {
		envVal, err := d.decode()
		if err != nil {
			return value.Nil, err
		}
		if envVal.Kind() == value.KindTable {
			f.Env = envVal.AsTable()
		}
	}
	hasChild, err := d.r.byte()
	if err != nil {
		return value.Nil, err
	}
	if hasChild != 0 {
		childVal, err := d.decode()
		if err != nil {
			return value.Nil, err
		}
		if childVal.Kind() != value.KindFiber {
			return value.Nil, fmt.Errorf("%w: fiber child", ErrBadCode)
		}
		f.Child = childVal.Ref().(*fiber.Fiber)
	}
	last, err := d.decode()
	if err != nil {
		return value.Nil, err
	}
	f.LastValue = last

	return fVal, nil
}
