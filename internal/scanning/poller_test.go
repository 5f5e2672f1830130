package scanning

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/targets"
)

var (
	loopback = netip.MustParseAddr("127.0.0.1")
	// TEST-NET-1 is reserved; connects to it stay pending or fail fast.
	unroutable = netip.MustParseAddr("192.0.2.1")
)

// listenLoopback opens a listener on an ephemeral loopback port. The kernel
// completes handshakes from its backlog, so nothing needs to Accept.
func listenLoopback(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

// closedLoopbackPort returns a loopback port that was just released.
func closedLoopbackPort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())
	return port
}

// waitAll collects events until nothing is pending or the deadline passes.
func waitAll(t *testing.T, p Poller) []Event {
	t.Helper()
	var events []Event
	deadline := time.Now().Add(5 * time.Second)
	for p.Pending() > 0 && time.Now().Before(deadline) {
		evs, err := p.Wait(200 * time.Millisecond)
		require.NoError(t, err)
		events = append(events, evs...)
	}
	return events
}

func TestPoller_Loopback(t *testing.T) {
	open := listenLoopback(t)
	closed := closedLoopbackPort(t)

	p, err := NewPoller(8)
	require.NoError(t, err)

	require.NoError(t, p.Connect(loopback, open))

	// Loopback refusals may surface either at connect time or as an event.
	refusedNow := p.Connect(loopback, closed) != nil

	events := waitAll(t, p)
	states := make(map[uint16]bool)
	for _, ev := range events {
		states[ev.Port] = ev.Open
		if !ev.Open {
			assert.Error(t, ev.Err)
		}
	}

	assert.True(t, states[open], "listening port should be open")
	if !refusedNow {
		isOpen, seen := states[closed]
		assert.True(t, seen, "closed port should settle")
		assert.False(t, isOpen, "closed port should not be open")
	}

	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "Close should be idempotent")
	st := p.Stats()
	assert.Equal(t, st.Opened, st.Closed)
	assert.Equal(t, 2, st.Opened)
}

func TestPoller_WaitWithNothingPending(t *testing.T) {
	p, err := NewPoller(1)
	require.NoError(t, err)
	defer p.Close()

	start := time.Now()
	events, err := p.Wait(time.Second)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPoller_ExpireReleasesSockets(t *testing.T) {
	p, err := NewPoller(4)
	require.NoError(t, err)

	pending := 0
	for _, port := range []uint16{81, 82, 83} {
		if p.Connect(unroutable, port) == nil {
			pending++
		}
	}
	assert.Equal(t, pending, p.Pending())

	expired := p.Expire()
	assert.Len(t, expired, pending)
	assert.Zero(t, p.Pending())

	require.NoError(t, p.Close())
	st := p.Stats()
	assert.Equal(t, st.Opened, st.Closed)
}

func TestHostScanner_Loopback(t *testing.T) {
	openA := listenLoopback(t)
	openB := listenLoopback(t)
	closed := closedLoopbackPort(t)

	ports, err := targets.NewPortRange(openA, openB, closed)
	require.NoError(t, err)

	budget := NewSocketBudget(16, nil)
	scanner := NewHostScanner(Options{IdleTimeout: 500 * time.Millisecond, MaxInFlight: 2},
		WithSocketBudget(budget),
		WithLogger(logging.NewDiscard()))

	result, err := scanner.Scan(context.Background(), loopback, ports)
	require.NoError(t, err)

	assert.ElementsMatch(t, []uint16{openA, openB}, result.OpenPorts())
	for _, p := range result.Ports {
		assert.Equal(t, ServiceUnknown, p.Service)
	}
	assert.Equal(t, 3, result.Attempted)
	assert.True(t, budget.TryAcquire(16), "all sockets should be returned to the budget")
}

func TestPoller_WaitTimesOutWithPendingSocket(t *testing.T) {
	p, err := NewPoller(1)
	require.NoError(t, err)
	defer p.Close()

	if err := p.Connect(unroutable, 81); err != nil {
		t.Skipf("connect to %s fails immediately here: %v", unroutable, err)
	}

	const timeout = 200 * time.Millisecond
	start := time.Now()
	events, err := p.Wait(timeout)
	elapsed := time.Since(start)
	require.NoError(t, err)
	if len(events) > 0 {
		t.Skipf("network answered for %s: %+v", unroutable, events)
	}

	assert.GreaterOrEqual(t, elapsed, timeout/2, "wait should block for the timeout")
	assert.Less(t, elapsed, timeout+300*time.Millisecond, "wait should not overrun the timeout")
	assert.Equal(t, 1, p.Pending(), "a timed out wait leaves the socket pending")

	assert.Equal(t, []uint16{81}, p.Expire())
}

func TestHostScanner_SilentHostWithinIdleBound(t *testing.T) {
	p, err := NewPoller(1)
	require.NoError(t, err)
	connectErr := p.Connect(unroutable, 81)
	require.NoError(t, p.Close())
	if connectErr != nil {
		t.Skipf("connect to %s fails immediately here: %v", unroutable, connectErr)
	}

	ports, err := targets.ParsePortRange("1-50")
	require.NoError(t, err)

	const idle = 200 * time.Millisecond
	budget := NewSocketBudget(64, nil)
	scanner := NewHostScanner(Options{IdleTimeout: idle, MaxInFlight: 64},
		WithSocketBudget(budget),
		WithLogger(logging.NewDiscard()))

	start := time.Now()
	result, err := scanner.Scan(context.Background(), unroutable, ports)
	elapsed := time.Since(start)
	require.NoError(t, err)
	if result.Expired == 0 {
		t.Skipf("network answered every connect to %s", unroutable)
	}

	assert.Empty(t, result.Ports)
	assert.Equal(t, 50, result.Attempted)
	assert.Equal(t, 50, result.Closed+result.Expired)
	assert.Less(t, elapsed, idle+500*time.Millisecond, "one window of silent sockets ends after one idle interval")
	assert.True(t, budget.TryAcquire(64), "all sockets should be returned to the budget")
}
