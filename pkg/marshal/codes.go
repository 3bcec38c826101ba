// Package marshal implements nanovm's binary wire format: the lead-
// byte codec spec.md §4.5 defines for serializing values (and, within
// spec.md's constraints, fibers) to a byte stream and back.
package marshal

// Flag gates optional/unsafe behaviors of Marshal/Unmarshal.
type Flag uint8

const (
	// FlagNoCycles disables the reference table for inputs known to
	// be tree-shaped, saving bytes (spec.md §4.5 "Cycle handling").
	FlagNoCycles Flag = 1 << iota
	// FlagUnsafe permits Marshal to write raw pointers, cfunctions and
	// threaded-abstracts by address. It gates Marshal only: Unmarshal
	// takes no flags, decodes a raw pointer without it, and rejects
	// cfunction, threaded-abstract and pointer-buffer codes always.
	FlagUnsafe
)

func (f Flag) has(bit Flag) bool { return f&bit != 0 }

// Lead bytes, spec.md §4.5's mandatory fixed numeric codes. Values in
// [0,199] are short positive integers encoded directly as a single
// byte (up to codeShortIntMax). There is no 14-bit signed integer
// form: other integers use the compact codeBigIntBase form or
// codeLongInt (see encodeInt).
const (
	codeShortIntMax = 199 // 0..199 inclusive: literal short positive integer

	codeReal               = 200
	codeNil                = 201
	codeFalse              = 202
	codeTrue               = 203
	codeFiber              = 204
	codeLongInt            = 205
	codeString             = 206
	codeSymbol             = 207
	codeKeyword            = 208
	codeArray              = 209
	codeTuple              = 210
	codeTable              = 211
	codeTableWithProto     = 212
	codeStruct             = 213
	codeBuffer             = 214
	codeFunction           = 215
	codeRegistryRef        = 216
	codeAbstract           = 217
	codeReference          = 218
	codeFuncEnvBackRef     = 219
	codeFuncDefBackRef     = 220
	codeUnsafeCFunction    = 221
	codeUnsafePointer      = 222
	codeStructWithProto    = 223
	codeThreadedAbstract   = 224
	codePointerBuffer      = 225
	codeWeakTableBase      = 226 // 226-231: weak-table variants (see weakTableCode)
	codeWeakArray          = 232

	codeBigIntBase = 0xF0 // 0xF0+n: compact big-integer, n little-endian bytes
)

// weakTableCode maps (hasPrototype, weakKind) to one of the six
// weak-table wire codes 226-231, the "±proto × weakK/weakV/weakKV"
// layout spec.md §4.5 describes tersely as a 2x3 matrix.
func weakTableCode(hasProto bool, weakKeyOnly, weakValueOnly, weakBoth bool) byte {
	var idx byte
	switch {
	case weakKeyOnly:
		idx = 0
	case weakValueOnly:
		idx = 1
	case weakBoth:
		idx = 2
	}
	if hasProto {
		idx += 3
	}
	return codeWeakTableBase + idx
}

func decodeWeakTableCode(code byte) (hasProto bool, weakKeyOnly, weakValueOnly, weakBoth bool) {
	idx := code - codeWeakTableBase
	hasProto = idx >= 3
	if hasProto {
		idx -= 3
	}
	switch idx {
	case 0:
		weakKeyOnly = true
	case 1:
		weakValueOnly = true
	case 2:
		weakBoth = true
	}
	return
}
