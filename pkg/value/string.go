package value

import (
	"hash/maphash"
	"reflect"
	"sync"
	"unsafe"

	"github.com/nanovm/nanovm/pkg/heap"
)

var hashSeed = maphash.MakeSeed()

func hashBytes(b []byte) uint64 {
	return maphash.Bytes(hashSeed, b)
}

func hashFloat(f float64) uint64 {
	return maphash.Bytes(hashSeed, (*[8]byte)(unsafe.Pointer(&f))[:])
}

func identityHash(obj heap.GCObject) uint64 {
	if obj == nil {
		return 0
	}
	return uint64(reflect.ValueOf(obj).Pointer())
}

// Str is the heap representation shared by string, symbol and keyword
// variants: an immutable, hashed byte sequence. The Kind on the owning
// Value (not on Str itself) distinguishes which of the three it is.
type Str struct {
	heap.Header
	bytes []byte
	hash  uint64
}

func (s *Str) Trace(func(heap.GCObject)) {}
func (s *Str) Deinit()                   {}

func (s *Str) Bytes() []byte { return s.bytes }
func (s *Str) String() string { return string(s.bytes) }
func (s *Str) Len() int       { return len(s.bytes) }

func (s *Str) Equal(o *Str) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil {
		return false
	}
	return s.hash == o.hash && string(s.bytes) == string(o.bytes)
}

// AsString returns the Str backing a string/symbol/keyword Value. It
// panics if v is not one of those kinds -- callers check Kind() first,
// the same contract every other As* accessor in this package follows.
func (v Value) AsString() *Str {
	return v.ref.(*Str)
}

// NewString allocates a fresh, non-interned mutable-origin string
// value. Strings are immutable once constructed; "mutable-origin" here
// only means it was built from a caller-owned byte slice rather than
// looked up in an interner.
func NewString(h *heap.Heap, s string) Value {
	b := []byte(s)
	str := &Str{bytes: b, hash: hashBytes(b)}
	h.Alloc(str, heap.TypeString, len(b)+24)
	return fromRef(KindString, str)
}

func NewStringBytes(h *heap.Heap, b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	str := &Str{bytes: cp, hash: hashBytes(cp)}
	h.Alloc(str, heap.TypeString, len(cp)+24)
	return fromRef(KindString, str)
}

// Interner deduplicates symbols and keywords by content, matching
// spec.md §3 ("symbol / keyword (interned immutable byte strings
// distinguished by tag)"). One Interner is owned per Heap/VM instance,
// never shared across VMs, consistent with spec.md §5's "no shared
// state" rule.
type Interner struct {
	mu       sync.Mutex
	symbols  map[string]*Str
	keywords map[string]*Str
}

func NewInterner() *Interner {
	return &Interner{symbols: make(map[string]*Str), keywords: make(map[string]*Str)}
}

func (in *Interner) intern(h *heap.Heap, table map[string]*Str, typ heap.Type, s string) *Str {
	in.mu.Lock()
	defer in.mu.Unlock()
	if existing, ok := table[s]; ok {
		return existing
	}
	b := []byte(s)
	str := &Str{bytes: b, hash: hashBytes(b)}
	h.Alloc(str, typ, len(b)+24)
	table[s] = str
	return str
}

// Symbol interns s as a symbol and returns the Value.
func (in *Interner) Symbol(h *heap.Heap, s string) Value {
	return fromRef(KindSymbol, in.intern(h, in.symbols, heap.TypeSymbol, s))
}

// Keyword interns s as a keyword and returns the Value.
func (in *Interner) Keyword(h *heap.Heap, s string) Value {
	return fromRef(KindKeyword, in.intern(h, in.keywords, heap.TypeKeyword, s))
}
