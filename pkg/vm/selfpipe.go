package vm

import "sync"

// postedEvent is one (msg, callback) pair queued for delivery on the
// owning loop's own thread (spec.md §4.3 "post_event(vm, callback,
// msg)... This is the sole mechanism for inter-VM scheduling").
type postedEvent struct {
	callback func(msg interface{})
	msg      interface{}
}

// selfPipe is the cross-thread wakeup mechanism every backend wraps
// the same way: a mutex-guarded queue plus a Poller.Wake() call to
// interrupt a blocked Wait. spec.md §4.3 prefers a native user-event
// facility (EVFILT_USER, IOCP custom completions) where available and
// falls back to a literal self-pipe otherwise; this implementation
// keeps the queue itself backend-independent and asks the Poller for
// whichever wake primitive it has (an eventfd write, a pipe write, or
// PostQueuedCompletionStatus), matching the "prefer native, else
// fallback" rule without duplicating the queue per backend.
type selfPipe struct {
	poller Poller

	mu     sync.Mutex
	events []postedEvent
	closed bool
}

func newSelfPipe(p Poller) (*selfPipe, error) {
	return &selfPipe{poller: p}, nil
}

func (s *selfPipe) post(cb func(msg interface{}), msg interface{}) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.events = append(s.events, postedEvent{callback: cb, msg: msg})
	s.mu.Unlock()
	s.poller.Wake()
}

func (s *selfPipe) drain() []postedEvent {
	s.mu.Lock()
	batch := s.events
	s.events = nil
	s.mu.Unlock()
	return batch
}

func (s *selfPipe) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// PostEvent implements spec.md §4.3's post_event: it is safe to call
// from any goroutine (including another VM's loop thread) and
// guarantees cb(msg) runs on l's own thread during its next Run
// iteration.
func (l *Loop) PostEvent(cb func(msg interface{}), msg interface{}) {
	l.AddRef()
	l.wake.post(func(m interface{}) {
		defer l.DecRef()
		cb(m)
	}, msg)
}

// drainPosted is folded into pollOnce so posted callbacks run promptly
// after whichever Wait call they interrupted returns.
func (l *Loop) drainPosted() {
	for _, e := range l.wake.drain() {
		e.callback(e.msg)
	}
}
