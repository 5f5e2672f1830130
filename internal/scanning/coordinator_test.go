package scanning

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/metrics"
	"github.com/anstrom/portsweep/internal/targets"
)

// stubScanner answers per host from a fixed table.
type stubScanner struct {
	open   map[netip.Addr][]PortResult
	fail   map[netip.Addr]error
	panics map[netip.Addr]bool
	delay  time.Duration

	mu    sync.Mutex
	calls map[netip.Addr]int
	peak  int32
	now   int32
}

func (s *stubScanner) Scan(ctx context.Context, host netip.Addr, _ targets.PortRange) (*HostResult, error) {
	n := atomic.AddInt32(&s.now, 1)
	defer atomic.AddInt32(&s.now, -1)
	for {
		peak := atomic.LoadInt32(&s.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&s.peak, peak, n) {
			break
		}
	}

	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[netip.Addr]int)
	}
	s.calls[host]++
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.panics[host] {
		panic("unexpected socket state")
	}
	if err := s.fail[host]; err != nil {
		return nil, err
	}

	result := newHostResult(host)
	result.Ports = append(result.Ports, s.open[host]...)
	return result, nil
}

func hostsOf(t *testing.T, spec string) []netip.Addr {
	t.Helper()
	hosts, err := targets.ExpandTargets(spec)
	require.NoError(t, err)
	return hosts
}

func TestCoordinator_MergesPerHostResults(t *testing.T) {
	hosts := hostsOf(t, "10.0.0.0/30")
	scanner := &stubScanner{open: map[netip.Addr][]PortResult{
		netip.MustParseAddr("10.0.0.1"): {{80, "nginx"}},
	}}

	c := NewCoordinator(scanner, CoordinatorConfig{Workers: 2, ScanID: "scan-1"}, logging.NewDiscard(), nil)
	report, err := c.Run(context.Background(), hosts, mustPorts(t, "80"))
	require.NoError(t, err)

	assert.Equal(t, "scan-1", report.ScanID)
	require.Len(t, report.Hosts, 2)
	assert.Equal(t, []PortResult{{80, "nginx"}}, report.Hosts[netip.MustParseAddr("10.0.0.1")].Ports)
	assert.Empty(t, report.Hosts[netip.MustParseAddr("10.0.0.2")].Ports)
	assert.NotNil(t, report.Hosts[netip.MustParseAddr("10.0.0.2")].Ports)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 1, report.OpenPortCount())
	assert.False(t, report.EndTime.Before(report.StartTime))
}

func TestCoordinator_IsolatesHostFailures(t *testing.T) {
	hosts := hostsOf(t, "10.0.0.0/29") // .1 - .6
	bad := netip.MustParseAddr("10.0.0.3")
	crashing := netip.MustParseAddr("10.0.0.5")

	scanner := &stubScanner{
		open: map[netip.Addr][]PortResult{
			netip.MustParseAddr("10.0.0.6"): {{22, "sshd"}},
		},
		fail:   map[netip.Addr]error{bad: fmt.Errorf("epoll_wait: bad file descriptor")},
		panics: map[netip.Addr]bool{crashing: true},
	}
	m := metrics.NewPrometheusMetrics()

	c := NewCoordinator(scanner, CoordinatorConfig{Workers: 3}, logging.NewDiscard(), m)
	report, err := c.Run(context.Background(), hosts, mustPorts(t, "22"))
	require.NoError(t, err)

	assert.Len(t, report.Hosts, 4)
	assert.NotContains(t, report.Hosts, bad)
	assert.NotContains(t, report.Hosts, crashing)
	assert.Equal(t, []PortResult{{22, "sshd"}}, report.Hosts[netip.MustParseAddr("10.0.0.6")].Ports)

	require.Len(t, report.Failures, 2)
	assert.True(t, errors.IsCode(report.Failures[bad], errors.CodeScanFailed))
	assert.Contains(t, report.Failures[crashing].Error(), "panicked")
	assert.Equal(t, []netip.Addr{bad, crashing}, report.SortedFailures())

	for host := range report.Hosts {
		assert.Contains(t, hosts, host, "report must only contain resolved hosts")
	}

	assert.NotEmpty(t, c.ScanID(), "a scan id is generated when none is configured")

	expected := `
# HELP portsweep_scan_hosts_total Total number of hosts scanned by outcome
# TYPE portsweep_scan_hosts_total counter
portsweep_scan_hosts_total{status="completed"} 4
portsweep_scan_hosts_total{status="failed"} 2
`
	require.NoError(t, testutil.GatherAndCompare(m.GetRegistry(), strings.NewReader(expected),
		"portsweep_scan_hosts_total"))
}

func TestCoordinator_RetriesFailedHosts(t *testing.T) {
	host := netip.MustParseAddr("10.0.0.1")
	scanner := &stubScanner{fail: map[netip.Addr]error{host: fmt.Errorf("transient")}}

	c := NewCoordinator(scanner, CoordinatorConfig{Workers: 1, HostRetries: 2, RetryDelay: time.Millisecond},
		logging.NewDiscard(), nil)
	report, err := c.Run(context.Background(), []netip.Addr{host}, mustPorts(t, "80"))
	require.NoError(t, err)

	assert.Contains(t, report.Failures, host)
	assert.Equal(t, 3, scanner.calls[host])
}

func TestCoordinator_BoundsParallelism(t *testing.T) {
	hosts := hostsOf(t, "10.0.0.0/28")
	scanner := &stubScanner{delay: 10 * time.Millisecond}

	c := NewCoordinator(scanner, CoordinatorConfig{Workers: 3}, logging.NewDiscard(), nil)
	report, err := c.Run(context.Background(), hosts, mustPorts(t, "80"))
	require.NoError(t, err)

	assert.Len(t, report.Hosts, len(hosts))
	assert.LessOrEqual(t, atomic.LoadInt32(&scanner.peak), int32(3))
	for _, h := range hosts {
		assert.Equal(t, 1, scanner.calls[h], "host %s scanned once", h)
	}
}

func TestCoordinator_Cancellation(t *testing.T) {
	hosts := hostsOf(t, "10.0.0.0/28")
	scanner := &stubScanner{delay: 10 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	c := NewCoordinator(scanner, CoordinatorConfig{Workers: 2}, logging.NewDiscard(), nil)
	start := time.Now()
	report, err := c.Run(ctx, hosts, mustPorts(t, "80"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	require.NotNil(t, report)
	assert.Empty(t, report.Hosts)
	assert.Empty(t, report.Failures, "cancelled hosts are not failures")
}

func TestCoordinator_NoHosts(t *testing.T) {
	c := NewCoordinator(&stubScanner{}, CoordinatorConfig{}, logging.NewDiscard(), nil)
	report, err := c.Run(context.Background(), nil, mustPorts(t, "80"))
	require.NoError(t, err)
	assert.Empty(t, report.Hosts)
}

func TestCoordinator_RealScanner(t *testing.T) {
	open := listenLoopback(t)
	closed := closedLoopbackPort(t)
	ports, err := targets.NewPortRange(open, closed)
	require.NoError(t, err)

	scanner := NewHostScanner(Options{IdleTimeout: 300 * time.Millisecond, MaxInFlight: 16},
		WithSocketBudget(NewSocketBudget(32, nil)),
		WithLogger(logging.NewDiscard()))
	c := NewCoordinator(scanner, CoordinatorConfig{Workers: 2}, logging.NewDiscard(), nil)

	report, err := c.Run(context.Background(), []netip.Addr{loopback}, ports)
	require.NoError(t, err)
	require.Contains(t, report.Hosts, loopback)
	assert.Equal(t, []uint16{open}, report.Hosts[loopback].OpenPorts())
}
