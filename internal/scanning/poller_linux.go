//go:build linux

package scanning

import (
	"net/netip"
	"os"
	"slices"
	"time"

	"golang.org/x/sys/unix"
)

const maxEpollEvents = 256

// epollPoller drives non-blocking connects with epoll. Every socket it creates
// is closed exactly once, either when its event is reaped or on Expire/Close.
type epollPoller struct {
	epfd    int
	events  []unix.EpollEvent
	pending map[int]uint16
	stats   PollerStats
	closed  bool
}

// NewPoller creates the platform reactor.
func NewPoller(capacity int) (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	size := min(max(capacity, 1), maxEpollEvents)
	return &epollPoller{
		epfd:    epfd,
		events:  make([]unix.EpollEvent, size),
		pending: make(map[int]uint16, capacity),
	}, nil
}

func sockaddr(host netip.Addr, port uint16) (int, unix.Sockaddr) {
	if host.Is4() || host.Is4In6() {
		return unix.AF_INET, &unix.SockaddrInet4{Port: int(port), Addr: host.Unmap().As4()}
	}
	return unix.AF_INET6, &unix.SockaddrInet6{Port: int(port), Addr: host.As16()}
}

func (p *epollPoller) Connect(host netip.Addr, port uint16) error {
	if p.closed {
		return os.ErrClosed
	}

	domain, sa := sockaddr(host, port)
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return &ConnectError{Port: port, Err: os.NewSyscallError("socket", err)}
	}
	p.stats.Opened++

	// EINPROGRESS is the normal answer; an interrupted connect keeps going
	// in the background as well.
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS && err != unix.EINTR {
		p.closeFD(fd)
		return &ConnectError{Port: port, Err: os.NewSyscallError("connect", err)}
	}

	ev := unix.EpollEvent{Events: unix.EPOLLOUT, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		p.closeFD(fd)
		return &ConnectError{Port: port, Err: os.NewSyscallError("epoll_ctl", err)}
	}
	p.pending[fd] = port
	return nil
}

func (p *epollPoller) Wait(timeout time.Duration) ([]Event, error) {
	if p.closed {
		return nil, os.ErrClosed
	}
	if len(p.pending) == 0 {
		return nil, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		msec := int(time.Until(deadline) / time.Millisecond)
		if msec < 0 {
			msec = 0
		}

		n, err := unix.EpollWait(p.epfd, p.events, msec)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, os.NewSyscallError("epoll_wait", err)
		}

		out := make([]Event, 0, n)
		for _, ev := range p.events[:n] {
			fd := int(ev.Fd)
			port, ok := p.pending[fd]
			if !ok {
				continue
			}
			out = append(out, p.settle(fd, port))
		}
		return out, nil
	}
}

// settle classifies a ready socket and releases it. A connected socket has a
// peer address; a failed one reports ENOTCONN.
func (p *epollPoller) settle(fd int, port uint16) Event {
	event := Event{Port: port}
	if _, err := unix.Getpeername(fd); err == nil {
		event.Open = true
	} else {
		event.Err = socketError(fd, err)
	}
	p.release(fd)
	return event
}

// socketError prefers the pending SO_ERROR, which names the real cause
// such as ECONNREFUSED, over the generic getpeername failure.
func socketError(fd int, fallback error) error {
	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && soErr != 0 {
		return os.NewSyscallError("connect", unix.Errno(soErr))
	}
	return os.NewSyscallError("getpeername", fallback)
}

func (p *epollPoller) release(fd int) {
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(p.pending, fd)
	p.closeFD(fd)
}

func (p *epollPoller) closeFD(fd int) {
	_ = unix.Close(fd)
	p.stats.Closed++
}

func (p *epollPoller) Pending() int {
	return len(p.pending)
}

func (p *epollPoller) Expire() []uint16 {
	ports := make([]uint16, 0, len(p.pending))
	for fd, port := range p.pending {
		ports = append(ports, port)
		p.release(fd)
	}
	slices.Sort(ports)
	return ports
}

func (p *epollPoller) Stats() PollerStats {
	return p.stats
}

func (p *epollPoller) Close() error {
	if p.closed {
		return nil
	}
	p.Expire()
	p.closed = true
	if err := unix.Close(p.epfd); err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}
