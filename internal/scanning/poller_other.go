//go:build !linux

package scanning

import (
	"context"
	"net"
	"net/netip"
	"os"
	"slices"
	"time"
)

type dialOutcome struct {
	id   uint64
	conn net.Conn
	err  error
}

type dialAttempt struct {
	port   uint16
	cancel context.CancelFunc
}

// dialPoller is the portable fallback for platforms without epoll. Each
// pending connect is a cancellable dial goroutine whose outcome is reaped by
// Wait, so a sweep runs up to MaxInFlight goroutines at once.
type dialPoller struct {
	dialer   net.Dialer
	outcomes chan dialOutcome
	pending  map[uint64]dialAttempt
	nextID   uint64
	stats    PollerStats
	closed   bool
}

// NewPoller creates the platform reactor.
func NewPoller(capacity int) (Poller, error) {
	return &dialPoller{
		outcomes: make(chan dialOutcome, max(capacity, 1)),
		pending:  make(map[uint64]dialAttempt, capacity),
	}, nil
}

func (p *dialPoller) Connect(host netip.Addr, port uint16) error {
	if p.closed {
		return os.ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := p.nextID
	p.nextID++
	p.pending[id] = dialAttempt{port: port, cancel: cancel}
	p.stats.Opened++

	addr := netip.AddrPortFrom(host.Unmap(), port).String()
	go func() {
		conn, err := p.dialer.DialContext(ctx, "tcp", addr)
		p.outcomes <- dialOutcome{id: id, conn: conn, err: err}
	}()
	return nil
}

func (p *dialPoller) Wait(timeout time.Duration) ([]Event, error) {
	if p.closed {
		return nil, os.ErrClosed
	}
	if len(p.pending) == 0 {
		return nil, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var events []Event
	select {
	case o := <-p.outcomes:
		events = append(events, p.settle(o))
	case <-timer.C:
		return nil, nil
	}

	for {
		select {
		case o := <-p.outcomes:
			events = append(events, p.settle(o))
		default:
			return events, nil
		}
	}
}

func (p *dialPoller) settle(o dialOutcome) Event {
	attempt := p.pending[o.id]
	delete(p.pending, o.id)
	attempt.cancel()

	event := Event{Port: attempt.port, Err: o.err}
	if o.conn != nil {
		event.Open = true
		_ = o.conn.Close()
	}
	p.stats.Closed++
	return event
}

func (p *dialPoller) Pending() int {
	return len(p.pending)
}

func (p *dialPoller) Expire() []uint16 {
	ports := make([]uint16, 0, len(p.pending))
	for _, attempt := range p.pending {
		attempt.cancel()
	}
	// Cancelled dials still report; reap them so no connection leaks.
	for len(p.pending) > 0 {
		o := <-p.outcomes
		ports = append(ports, p.settle(o).Port)
	}
	slices.Sort(ports)
	return ports
}

func (p *dialPoller) Stats() PollerStats {
	return p.stats
}

func (p *dialPoller) Close() error {
	if p.closed {
		return nil
	}
	p.Expire()
	p.closed = true
	return nil
}
