package scanning

import (
	stderrors "errors"
	"fmt"
	"net/netip"
	"syscall"
	"time"
)

// Event reports a pending connect that settled.
type Event struct {
	Port uint16
	// Open is set when the peer accepted the connection.
	Open bool
	// Err explains why a settled connect is not open.
	Err error
}

// PollerStats counts sockets over the life of a poller. Opened equals Closed
// once the poller has been closed.
type PollerStats struct {
	Opened int
	Closed int
}

// Poller is a readiness reactor that owns the sockets of one host sweep.
// A Poller is not safe for concurrent use.
type Poller interface {
	// Connect starts a non-blocking connect. A nil error means the attempt is
	// pending. An error means the port settled immediately or no socket could
	// be created; either way nothing stays registered.
	Connect(host netip.Addr, port uint16) error
	// Wait blocks up to timeout and returns the connects that settled. Their
	// sockets are already closed. No events and a nil error mean timeout.
	Wait(timeout time.Duration) ([]Event, error)
	// Pending returns the number of registered sockets.
	Pending() int
	// Expire closes every pending socket and returns their ports.
	Expire() []uint16
	// Stats returns socket counters.
	Stats() PollerStats
	// Close releases all sockets and the reactor itself. It is idempotent.
	Close() error
}

// PollerFactory creates a poller able to hold up to capacity pending sockets.
type PollerFactory func(capacity int) (Poller, error)

// ConnectError is returned by Poller.Connect when a connect fails immediately.
type ConnectError struct {
	Port uint16
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to port %d: %v", e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// isResourceExhausted reports errors that mean no socket can be created at all,
// as opposed to a single port being closed.
func isResourceExhausted(err error) bool {
	return stderrors.Is(err, syscall.EMFILE) || stderrors.Is(err, syscall.ENFILE) ||
		stderrors.Is(err, syscall.ENOBUFS)
}
