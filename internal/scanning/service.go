package scanning

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/metrics"
)

//go:generate mockgen -source=service.go -destination=mocks/mock_service.go -package=mocks

// ServiceIdentifier names the process behind an open port. Answers are
// advisory and may be stale.
type ServiceIdentifier interface {
	Identify(ctx context.Context, host netip.Addr, port uint16) (string, error)
}

const defaultLookupTimeout = 2 * time.Second

// commandRunner runs an external command and returns its standard output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// LsofIdentifier asks lsof which local process listens on a TCP port.
type LsofIdentifier struct {
	path    string
	timeout time.Duration
	run     commandRunner
}

// NewLsofIdentifier creates an identifier that runs lsof with the given
// per-lookup timeout. A non-positive timeout selects two seconds.
func NewLsofIdentifier(timeout time.Duration) *LsofIdentifier {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return &LsofIdentifier{path: "lsof", timeout: timeout, run: runCommand}
}

// Identify returns the COMMAND column of the first socket lsof reports.
func (l *LsofIdentifier) Identify(ctx context.Context, _ netip.Addr, port uint16) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	out, err := l.run(ctx, l.path, "-nP", "-iTCP:"+strconv.Itoa(int(port)), "-sTCP:LISTEN")
	if err != nil {
		return "", fmt.Errorf("lsof for port %d: %w", port, err)
	}
	return parseLsofCommand(out)
}

// parseLsofCommand extracts the first field of the first row after the header.
func parseLsofCommand(out []byte) (string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	header := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if header {
			header = false
			continue
		}
		if fields := strings.Fields(line); len(fields) > 0 {
			return fields[0], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no process reported")
}

// NoopIdentifier never looks anything up.
type NoopIdentifier struct{}

// Identify implements ServiceIdentifier.
func (NoopIdentifier) Identify(context.Context, netip.Addr, uint16) (string, error) {
	return ServiceUnknown, nil
}

// serviceLabel runs a lookup and degrades every failure to ServiceUnknown.
func serviceLabel(ctx context.Context, id ServiceIdentifier, host netip.Addr, port uint16,
	logger *logging.Logger, m *metrics.PrometheusMetrics) string {
	if id == nil {
		return ServiceUnknown
	}

	name, err := id.Identify(ctx, host, port)
	name = strings.TrimSpace(name)
	if err != nil || name == "" || name == ServiceUnknown {
		if err != nil {
			logger.DebugScan("Service lookup failed", host.String(), "port", port, "error", err)
		}
		m.IncrementServiceLookups(metrics.LookupUnknown)
		return ServiceUnknown
	}

	m.IncrementServiceLookups(metrics.LookupIdentified)
	return name
}
