//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly && !windows

package vm

import (
	"sync"

	"golang.org/x/sys/unix"
)

// pollPoller is the generic POSIX poll(2) fallback spec.md §4.3 names
// alongside epoll/kqueue/IOCP for platforms with none of the other
// three. It rebuilds its pollfd set from scratch each Wait call, the
// simplest correct implementation of the same common Poller interface
// -- throughput is not this backend's point, portability is.
type pollPoller struct {
	mu      sync.Mutex
	fds     map[int]*unix.PollFd
	wfd     [2]int
}

func openPoller() (Poller, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, err
	}
	return &pollPoller{fds: make(map[int]*unix.PollFd), wfd: fds}, nil
}

func (p *pollPoller) Add(fd int, readable, writable bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fds[fd] = &unix.PollFd{Fd: int32(fd), Events: events(readable, writable)}
	return nil
}

func (p *pollPoller) Modify(fd int, readable, writable bool) error {
	return p.Add(fd, readable, writable)
}

func (p *pollPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fd)
	return nil
}

func events(readable, writable bool) int16 {
	var e int16
	if readable {
		e |= unix.POLLIN
	}
	if writable {
		e |= unix.POLLOUT
	}
	return e
}

func (p *pollPoller) Wait(timeoutMS int) ([]PollEvent, error) {
	p.mu.Lock()
	set := make([]unix.PollFd, 0, len(p.fds)+1)
	set = append(set, unix.PollFd{Fd: int32(p.wfd[0]), Events: unix.POLLIN})
	for _, f := range p.fds {
		set = append(set, *f)
	}
	p.mu.Unlock()

	n, err := unix.Poll(set, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]PollEvent, 0, n)
	for _, f := range set {
		if f.Revents == 0 {
			continue
		}
		if int(f.Fd) == p.wfd[0] {
			var discard [512]byte
			unix.Read(p.wfd[0], discard[:])
			continue
		}
		out = append(out, PollEvent{
			FD:       int(f.Fd),
			Readable: f.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
			Writable: f.Revents&unix.POLLOUT != 0,
			Err:      f.Revents&unix.POLLERR != 0,
			Hup:      f.Revents&unix.POLLHUP != 0,
		})
	}
	return out, nil
}

func (p *pollPoller) Wake() error {
	_, err := unix.Write(p.wfd[1], []byte{1})
	return err
}

func (p *pollPoller) Close() error {
	unix.Close(p.wfd[0])
	unix.Close(p.wfd[1])
	return nil
}
