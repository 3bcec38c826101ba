// Package value implements nanovm's tagged value representation:
// spec.md §3's uniform sum type over nil/boolean/number/integer/string/
// symbol/keyword/buffer/array/tuple/table/struct/function/fiber/
// abstract/c-function/pointer.
//
// Reference types are backed by pkg/heap.GCObject; nanovm's own tracing
// collector (not Go's) decides when they are freed, following the
// design note in spec.md §9 ("package all VM state into a single struct
// carried as an explicit context parameter").
package value

// Kind discriminates a Value's variant.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindInt
	KindString
	KindSymbol
	KindKeyword
	KindBuffer
	KindArray
	KindTuple
	KindTable
	KindStruct
	KindFunction
	KindFiber
	KindAbstract
	KindCFunction
	KindPointer
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindInt:
		return "integer"
	case KindString:
		return "string"
	case KindSymbol:
		return "symbol"
	case KindKeyword:
		return "keyword"
	case KindBuffer:
		return "buffer"
	case KindArray:
		return "array"
	case KindTuple:
		return "tuple"
	case KindTable:
		return "table"
	case KindStruct:
		return "struct"
	case KindFunction:
		return "function"
	case KindFiber:
		return "fiber"
	case KindAbstract:
		return "abstract"
	case KindCFunction:
		return "cfunction"
	case KindPointer:
		return "pointer"
	default:
		return "unknown"
	}
}
