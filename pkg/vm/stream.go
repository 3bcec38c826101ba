package vm

import (
	"sync"

	"github.com/nanovm/nanovm/pkg/fiber"
	"github.com/nanovm/nanovm/pkg/heap"
)

// StreamFlag mirrors spec.md §3's Stream flag bitfield.
type StreamFlag uint16

const (
	StreamReadable StreamFlag = 1 << iota
	StreamWritable
	StreamAcceptable
	StreamUDPServer
	StreamSocket
	StreamIOCPRegistered
	StreamClosed
)

// ListenerEvent is one of spec.md §4.3's listener state-machine
// events: INIT, DEINIT, CLOSE, MARK, READ, WRITE, ERR, HUP, COMPLETE
// (IOCP-only), USER, CANCEL.
type ListenerEvent uint8

const (
	EvInit ListenerEvent = iota
	EvDeinit
	EvClose
	EvMark
	EvRead
	EvWrite
	EvErr
	EvHup
	EvComplete
	EvUser
	EvCancel
)

// ListenerResult is a handler's verdict: DONE un-listens (freeing the
// listener's payload), NOT_DONE leaves it registered.
type ListenerResult bool

const (
	NotDone ListenerResult = false
	Done    ListenerResult = true
)

// Listener is one fiber waiting on a Stream. Handle is called for
// every event the stream's fd produces while this listener is
// installed; a fiber may only have one listener at a time (spec.md
// §4.3 "Listener state machine events").
type Listener struct {
	Fiber   *fiber.Fiber
	SchedID uint64
	Mask    StreamFlag // which of Readable/Writable this listener cares about
	Handle  func(ev ListenerEvent, s *Stream) ListenerResult
}

// Stream is spec.md §3's "handle, flag bits, intrusive list of
// listeners, method vtable". The method vtable is the Go interface
// StreamVTable (close/read/write; there is no chunk method) rather than
// separate function-pointer fields: same dispatch, idiomatic shape.
type Stream struct {
	heap.Header

	FD     int
	Flags  StreamFlag
	VTable StreamVTable

	mu        sync.Mutex
	listeners []*Listener

	loop *Loop
}

// StreamVTable is the stream's close/read/write vtable; it has no
// chunk method. Stream.Close calls its Close.
type StreamVTable interface {
	Close() error
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
}

// NewStream registers fd with l's poller and returns a Stream with
// the given vtable, allocated on h like any other GC object. The
// stream is not rooted; the loop holds it in its listeners set until
// Close.
func NewStream(h *heap.Heap, l *Loop, fd int, flags StreamFlag, vt StreamVTable) (*Stream, error) {
	s := &Stream{FD: fd, Flags: flags, VTable: vt, loop: l}
	h.Alloc(s, heap.TypeStream, 96)
	if err := l.poller.Add(fd, flags&StreamReadable != 0, flags&StreamWritable != 0); err != nil {
		return nil, err
	}
	l.listeners[s] = struct{}{}
	streamRegistry.register(l, s)
	return s, nil
}

// Listen installs lst as s's sole waiting listener, firing EvInit
// synchronously and updating the poller's interest mask to match
// lst.Mask (spec.md §4.3 "a fiber may only wait on one listener at a
// time").
func (s *Stream) Listen(lst *Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners[:0], lst)
	s.loop.poller.Modify(s.FD, lst.Mask&StreamReadable != 0, lst.Mask&StreamWritable != 0)
	lst.Handle(EvInit, s)
}

// Cancel fires EvCancel on each of s's listeners and clears them.
// Loop.Cancel does not call it, so cancelling a fiber fires no
// EvCancel: the fiber's listener stays installed and deliver skips it
// as stale.
func (s *Stream) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		l.Handle(EvCancel, s)
	}
	s.listeners = s.listeners[:0]
}

// Close marks s closed, fires CLOSE on any listener, deregisters it
// from the poller, and calls the vtable's Close.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.Flags |= StreamClosed
	for _, l := range s.listeners {
		l.Handle(EvClose, s)
	}
	s.listeners = s.listeners[:0]
	s.mu.Unlock()

	delete(s.loop.listeners, s)
	streamRegistry.unregister(s.loop, s.FD)
	s.loop.poller.Remove(s.FD)
	return s.VTable.Close()
}

func (s *Stream) deliver(l *Loop, e PollEvent) {
	s.mu.Lock()
	lst := s.listeners
	s.mu.Unlock()

	for _, cur := range lst {
		if cur.SchedID != cur.Fiber.SchedID {
			continue // stale: fiber already resumed via another path
		}
		var res ListenerResult
		switch {
		case e.Err:
			res = cur.Handle(EvErr, s)
		case e.Hup:
			res = cur.Handle(EvHup, s)
		default:
			if e.Readable {
				res = cur.Handle(EvRead, s)
			}
			if e.Writable {
				res = cur.Handle(EvWrite, s) || res
			}
		}
		if res == Done {
			s.mu.Lock()
			for i := range s.listeners {
				if s.listeners[i] == cur {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Stream) Trace(visit func(heap.GCObject)) {}
func (s *Stream) Deinit()                         {}

// streamFDRegistry maps (loop, fd) to its Stream, so the poller's raw
// fd-keyed events can be routed back to the owning Stream without
// storing a Go pointer inside syscall-level event structs.
type streamFDRegistry struct {
	mu    sync.Mutex
	byFD  map[*Loop]map[int]*Stream
}

var streamRegistry = &streamFDRegistry{byFD: make(map[*Loop]map[int]*Stream)}

func (r *streamFDRegistry) register(l *Loop, s *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byFD[l]
	if !ok {
		m = make(map[int]*Stream)
		r.byFD[l] = m
	}
	m[s.FD] = s
}

func (r *streamFDRegistry) unregister(l *Loop, fd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byFD[l]; ok {
		delete(m, fd)
	}
}

func streamForFD(l *Loop, fd int) (*Stream, bool) {
	streamRegistry.mu.Lock()
	defer streamRegistry.mu.Unlock()
	m, ok := streamRegistry.byFD[l]
	if !ok {
		return nil, false
	}
	s, ok := m[fd]
	return s, ok
}
