package value

import "github.com/nanovm/nanovm/pkg/heap"

// Buffer is a mutable byte array.
type Buffer struct {
	heap.Header
	Bytes []byte
}

func (b *Buffer) Trace(func(heap.GCObject)) {}
func (b *Buffer) Deinit()                   {}

func NewBuffer(h *heap.Heap, capacity int) Value {
	buf := &Buffer{Bytes: make([]byte, 0, capacity)}
	h.Alloc(buf, heap.TypeBuffer, capacity+24)
	return fromRef(KindBuffer, buf)
}

func (v Value) AsBuffer() *Buffer { return v.ref.(*Buffer) }

// Push appends bytes to the buffer, growing it as needed.
func (b *Buffer) Push(data []byte) {
	b.Bytes = append(b.Bytes, data...)
}
