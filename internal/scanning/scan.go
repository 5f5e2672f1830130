package scanning

import (
	"context"
	"net/netip"
	"time"

	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/metrics"
	"github.com/anstrom/portsweep/internal/targets"
)

// HostScanner sweeps the ports of one host at a time with non-blocking
// connects multiplexed on a single Poller. It is safe for concurrent use; each
// Scan call owns its own poller, sockets and result.
type HostScanner struct {
	opts       Options
	newPoller  PollerFactory
	budget     *SocketBudget
	identifier ServiceIdentifier
	logger     *logging.Logger
	metrics    *metrics.PrometheusMetrics
}

// ScannerOption customizes a HostScanner.
type ScannerOption func(*HostScanner)

// WithPollerFactory replaces the platform reactor.
func WithPollerFactory(f PollerFactory) ScannerOption {
	return func(s *HostScanner) { s.newPoller = f }
}

// WithSocketBudget shares a socket budget between scanners.
func WithSocketBudget(b *SocketBudget) ScannerOption {
	return func(s *HostScanner) { s.budget = b }
}

// WithIdentifier sets the service lookup used for open ports.
func WithIdentifier(id ServiceIdentifier) ScannerOption {
	return func(s *HostScanner) { s.identifier = id }
}

// WithLogger sets the scanner logger.
func WithLogger(l *logging.Logger) ScannerOption {
	return func(s *HostScanner) { s.logger = l }
}

// WithMetrics records port and lookup metrics.
func WithMetrics(m *metrics.PrometheusMetrics) ScannerOption {
	return func(s *HostScanner) { s.metrics = m }
}

// NewHostScanner creates a scanner. Without options it uses the platform
// poller, no socket budget and no service lookup.
func NewHostScanner(opts Options, options ...ScannerOption) *HostScanner {
	s := &HostScanner{
		opts:       opts.withDefaults(),
		newPoller:  NewPoller,
		identifier: NoopIdentifier{},
		logger:     logging.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.WithComponent("scanner")
	return s
}

// Scan connects to every port of host once and returns the open ones in the order
// their connects completed.
//
// At most MaxInFlight connects are pending at a time. When a wait sees no
// event for IdleTimeout, the pending window is expired as unreachable and the
// sweep moves on to the ports not yet attempted. Every socket is closed before
// Scan returns. A cancelled ctx stops the sweep within one idle interval and
// returns ctx.Err().
func (s *HostScanner) Scan(ctx context.Context, host netip.Addr, ports targets.PortRange) (*HostResult, error) {
	start := time.Now()
	target := host.String()
	logger := s.logger.WithTarget(target)
	result := newHostResult(host)

	window := min(s.opts.MaxInFlight, max(ports.Len(), 1))
	poller, err := s.newPoller(window)
	if err != nil {
		return nil, errors.ErrHostScanFailed(target, err)
	}

	held := 0
	defer func() {
		if err := poller.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close poller")
		}
		s.release(held)
		if st := poller.Stats(); st.Opened != st.Closed {
			logger.Error("Socket accounting mismatch", "opened", st.Opened, "closed", st.Closed)
		}
	}()

	logger.Debug("Starting host sweep", "ports", ports.Len(), "window", window)

	next := 0
	for next < ports.Len() || poller.Pending() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Top up the in-flight window.
		for next < ports.Len() && poller.Pending() < window {
			ok, err := s.reserve(ctx, poller.Pending() == 0)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			held++

			port := ports.At(next)
			err = poller.Connect(host, port)
			if err == nil {
				next++
				result.Attempted++
				continue
			}

			held--
			s.release(1)
			if isResourceExhausted(err) {
				if poller.Pending() == 0 {
					return nil, errors.ErrHostScanFailed(target, err)
				}
				// Retry this port once pending sockets settle.
				break
			}
			next++
			result.Attempted++
			result.Closed++
		}

		if poller.Pending() == 0 {
			continue
		}

		events, err := poller.Wait(s.opts.IdleTimeout)
		if err != nil {
			return nil, errors.ErrHostScanFailed(target, err)
		}

		if len(events) == 0 {
			expired := poller.Expire()
			held -= len(expired)
			s.release(len(expired))
			result.Expired += len(expired)
			logger.Debug("Idle timeout, expiring pending window",
				"expired", len(expired),
				"remaining", ports.Len()-next)
			continue
		}

		held -= len(events)
		s.release(len(events))
		for _, ev := range events {
			if !ev.Open {
				result.Closed++
				continue
			}
			service := serviceLabel(ctx, s.identifier, host, ev.Port, logger, s.metrics)
			result.Ports = append(result.Ports, PortResult{Port: ev.Port, Service: service})
			logger.Info("Port open", "port", ev.Port, "service", service)
		}
	}

	result.Duration = time.Since(start)
	s.metrics.AddPorts(metrics.PortOpen, len(result.Ports))
	s.metrics.AddPorts(metrics.PortClosed, result.Closed)
	s.metrics.AddPorts(metrics.PortExpired, result.Expired)

	logger.Debug("Host sweep finished",
		"open", len(result.Ports),
		"closed", result.Closed,
		"expired", result.Expired,
		"duration", result.Duration)
	return result, nil
}

// reserve takes one socket from the budget. With nothing in flight it waits;
// otherwise it only succeeds if a socket is free right now.
func (s *HostScanner) reserve(ctx context.Context, block bool) (bool, error) {
	if s.budget == nil {
		return true, nil
	}
	if block {
		if err := s.budget.Acquire(ctx, 1); err != nil {
			return false, err
		}
		return true, nil
	}
	return s.budget.TryAcquire(1), nil
}

func (s *HostScanner) release(n int) {
	if s.budget != nil {
		s.budget.Release(n)
	}
}
