package scanning

import (
	"encoding/json"
	"net/netip"
	"slices"
	"time"

	"github.com/anstrom/portsweep/internal/targets"
)

// ServiceUnknown labels an open port whose owner could not be identified.
const ServiceUnknown = "Unknown"

const (
	// DefaultIdleTimeout is how long a wait may see no events before the
	// remaining sockets of the current window are given up on.
	DefaultIdleTimeout = time.Second
	// DefaultMaxInFlight caps pending connects per host.
	DefaultMaxInFlight = 1024
	// descriptorReserve is kept free from the socket budget for logs, the
	// report file, pollers and the service lookup subprocess.
	descriptorReserve = 64
)

// PortResult is an open port and the best-effort name of the process behind it.
// It encodes to JSON as a [port, "service"] pair.
type PortResult struct {
	Port    uint16
	Service string
}

// MarshalJSON implements json.Marshaler.
func (r PortResult) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{r.Port, r.Service})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *PortResult) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &r.Port); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &r.Service)
}

// HostResult is the outcome of sweeping one host.
type HostResult struct {
	Host netip.Addr
	// Open ports in the order their completion was observed. Never nil.
	Ports []PortResult
	// Attempted counts ports a connect was attempted for.
	Attempted int
	// Closed counts refused, reset or otherwise failed connects.
	Closed int
	// Expired counts sockets that saw no event within the idle timeout.
	Expired  int
	Duration time.Duration
}

func newHostResult(host netip.Addr) *HostResult {
	return &HostResult{Host: host, Ports: []PortResult{}}
}

// OpenPorts returns the open port numbers in ascending order.
func (h *HostResult) OpenPorts() []uint16 {
	ports := make([]uint16, 0, len(h.Ports))
	for _, p := range h.Ports {
		ports = append(ports, p.Port)
	}
	slices.Sort(ports)
	return ports
}

// Report aggregates every host of a run. It is only written by the coordinator.
type Report struct {
	ScanID    string
	StartTime time.Time
	EndTime   time.Time
	Ports     targets.PortRange
	Hosts     map[netip.Addr]*HostResult
	// Failures holds hosts whose scan did not complete. They are absent from Hosts.
	Failures map[netip.Addr]error
}

// NewReport creates an empty report.
func NewReport(scanID string, ports targets.PortRange) *Report {
	return &Report{
		ScanID:    scanID,
		StartTime: time.Now(),
		Ports:     ports,
		Hosts:     make(map[netip.Addr]*HostResult),
		Failures:  make(map[netip.Addr]error),
	}
}

// Duration returns the wall-clock length of the run.
func (r *Report) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// SortedHosts returns the hosts that completed, in address order.
func (r *Report) SortedHosts() []netip.Addr {
	hosts := make([]netip.Addr, 0, len(r.Hosts))
	for h := range r.Hosts {
		hosts = append(hosts, h)
	}
	slices.SortFunc(hosts, func(a, b netip.Addr) int { return a.Compare(b) })
	return hosts
}

// SortedFailures returns the failed hosts in address order.
func (r *Report) SortedFailures() []netip.Addr {
	hosts := make([]netip.Addr, 0, len(r.Failures))
	for h := range r.Failures {
		hosts = append(hosts, h)
	}
	slices.SortFunc(hosts, func(a, b netip.Addr) int { return a.Compare(b) })
	return hosts
}

// OpenPortCount returns the number of open ports across all hosts.
func (r *Report) OpenPortCount() int {
	total := 0
	for _, h := range r.Hosts {
		total += len(h.Ports)
	}
	return total
}

// Options tunes a host sweep.
type Options struct {
	// IdleTimeout bounds each readiness wait.
	IdleTimeout time.Duration
	// MaxInFlight caps pending connects for one host.
	MaxInFlight int
}

// DefaultOptions returns the default sweep options.
func DefaultOptions() Options {
	return Options{
		IdleTimeout: DefaultIdleTimeout,
		MaxInFlight: DefaultMaxInFlight,
	}
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = DefaultMaxInFlight
	}
	return o
}
