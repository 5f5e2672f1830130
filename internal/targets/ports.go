package targets

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/anstrom/portsweep/internal/errors"
)

const (
	// MinPort and MaxPort bound every TCP port a PortRange may hold.
	MinPort = 1
	MaxPort = 65535
)

// PortRange is an immutable, ascending set of unique TCP ports. The zero value
// is an empty range. Build one with ParsePortRange, AllPorts or NewPortRange.
type PortRange struct {
	ports []uint16
}

// AllPorts returns every port in [1, 65535].
func AllPorts() PortRange {
	ports := make([]uint16, 0, MaxPort)
	for p := MinPort; p <= MaxPort; p++ {
		ports = append(ports, uint16(p))
	}
	return PortRange{ports: ports}
}

// NewPortRange builds a range from explicit ports. Duplicates are collapsed.
func NewPortRange(ports ...uint16) (PortRange, error) {
	out := make([]uint16, 0, len(ports))
	for _, p := range ports {
		if p < MinPort {
			return PortRange{}, fmt.Errorf("port %d outside %d..%d", p, MinPort, MaxPort)
		}
		out = append(out, p)
	}
	slices.Sort(out)
	return PortRange{ports: slices.Compact(out)}, nil
}

// ParsePortRange parses a port specification. An empty string selects all
// ports. Accepted forms are "22", "20-80" and comma lists of both such as
// "22,80,8000-8100". Any other input yields a *errors.ConfigError.
func ParsePortRange(spec string) (PortRange, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return AllPorts(), nil
	}

	seen := make([]bool, MaxPort+1)
	count := 0
	for _, token := range strings.Split(spec, ",") {
		start, end, err := parseToken(strings.TrimSpace(token))
		if err != nil {
			return PortRange{}, errors.ErrInvalidPortRange(spec, err)
		}
		for p := start; p <= end; p++ {
			if !seen[p] {
				seen[p] = true
				count++
			}
		}
	}

	ports := make([]uint16, 0, count)
	for p := MinPort; p <= MaxPort; p++ {
		if seen[p] {
			ports = append(ports, uint16(p))
		}
	}
	return PortRange{ports: ports}, nil
}

func parseToken(token string) (int, int, error) {
	if token == "" {
		return 0, 0, fmt.Errorf("empty token")
	}

	lo, hi, isRange := strings.Cut(token, "-")
	start, err := parsePort(lo)
	if err != nil {
		return 0, 0, err
	}
	if !isRange {
		return start, start, nil
	}

	end, err := parsePort(hi)
	if err != nil {
		return 0, 0, err
	}
	if start > end {
		return 0, 0, fmt.Errorf("range start %d greater than end %d", start, end)
	}
	return start, end, nil
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing port number")
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("port %q is not a number", s)
	}
	if v < MinPort || v > MaxPort {
		return 0, fmt.Errorf("port %d outside %d..%d", v, MinPort, MaxPort)
	}
	return v, nil
}

// Len returns the number of ports in the range.
func (r PortRange) Len() int {
	return len(r.ports)
}

// At returns the i-th port in ascending order.
func (r PortRange) At(i int) uint16 {
	return r.ports[i]
}

// Contains reports whether port is part of the range.
func (r PortRange) Contains(port uint16) bool {
	_, found := slices.BinarySearch(r.ports, port)
	return found
}

// Slice returns a copy of the ports, so callers cannot mutate the range.
func (r PortRange) Slice() []uint16 {
	return slices.Clone(r.ports)
}

// String renders the range compactly, collapsing consecutive runs.
func (r PortRange) String() string {
	if len(r.ports) == 0 {
		return ""
	}

	var b strings.Builder
	runStart := r.ports[0]
	prev := runStart
	flush := func() {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if runStart == prev {
			b.WriteString(strconv.Itoa(int(runStart)))
			return
		}
		fmt.Fprintf(&b, "%d-%d", runStart, prev)
	}
	for _, p := range r.ports[1:] {
		if p == prev+1 {
			prev = p
			continue
		}
		flush()
		runStart, prev = p, p
	}
	flush()
	return b.String()
}
