// Package targets resolves what a scan run covers: the ordered host list
// derived from an interface or an explicit CIDR range, and the port set.
package targets

import (
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strings"

	"github.com/anstrom/portsweep/internal/errors"
)

const (
	// MaxHostBits caps a resolved range at 2^16 addresses.
	MaxHostBits = 16

	// interfacePrefixBits is the size of the range seeded from an interface address.
	interfacePrefixBits = 24
)

// Spec selects the hosts of a run. An explicit CIDR wins over Interface.
type Spec struct {
	Interface string
	CIDR      string
}

// InterfaceLookup returns the addresses assigned to the named interface.
type InterfaceLookup func(name string) ([]netip.Prefix, error)

// Resolver turns a Spec into an ordered, deduplicated host list.
type Resolver struct {
	lookup InterfaceLookup
}

// NewResolver creates a resolver backed by the host's network interfaces.
func NewResolver() *Resolver {
	return &Resolver{lookup: systemInterfaceAddrs}
}

// NewResolverWithLookup creates a resolver with a custom interface lookup.
func NewResolverWithLookup(lookup InterfaceLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve returns the hosts selected by spec. Every failure is a *errors.ConfigError.
func (r *Resolver) Resolve(spec Spec) ([]netip.Addr, error) {
	if cidr := strings.TrimSpace(spec.CIDR); cidr != "" {
		return ExpandTargets(cidr)
	}

	name := strings.TrimSpace(spec.Interface)
	if name == "" {
		return nil, errors.ErrConfigMissing("ip-range or interface")
	}

	prefix, err := r.InterfaceNetwork(name)
	if err != nil {
		return nil, err
	}
	return expandPrefix(prefix), nil
}

// InterfaceNetwork returns the /24 around the first IPv4 address of the named interface.
func (r *Resolver) InterfaceNetwork(name string) (netip.Prefix, error) {
	prefixes, err := r.lookup(name)
	if err != nil {
		return netip.Prefix{}, errors.ErrInvalidInterface(name, err)
	}

	for _, p := range prefixes {
		addr := p.Addr().Unmap()
		if addr.Is4() {
			return netip.PrefixFrom(addr, interfacePrefixBits).Masked(), nil
		}
	}
	return netip.Prefix{}, errors.ErrInvalidInterface(name, fmt.Errorf("no IPv4 address assigned"))
}

// ExpandTargets parses a comma separated list of CIDR ranges or bare
// addresses and returns the hosts in order of first appearance.
func ExpandTargets(spec string) ([]netip.Addr, error) {
	var hosts []netip.Addr
	seen := make(map[netip.Addr]struct{})

	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		prefix, err := ParseTarget(token)
		if err != nil {
			return nil, errors.ErrInvalidTarget(spec, err)
		}

		for _, addr := range expandPrefix(prefix) {
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			hosts = append(hosts, addr)
		}
		if len(hosts) > 1<<MaxHostBits {
			return nil, errors.ErrInvalidTarget(spec,
				fmt.Errorf("more than %d addresses selected", 1<<MaxHostBits))
		}
	}

	return hosts, nil
}

// ParseTarget parses "a.b.c.d/n" or a bare address into a masked prefix. Host
// bits set in the address are ignored.
func ParseTarget(s string) (netip.Prefix, error) {
	if s == "" {
		return netip.Prefix{}, fmt.Errorf("empty target")
	}

	var prefix netip.Prefix
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		prefix = p
	} else {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		prefix = netip.PrefixFrom(addr, addr.BitLen())
	}

	addr := prefix.Addr()
	if addr.Is4In6() {
		bits := prefix.Bits() - 96
		if bits < 0 {
			return netip.Prefix{}, fmt.Errorf("prefix /%d too short for an IPv4-mapped address", prefix.Bits())
		}
		prefix = netip.PrefixFrom(addr.Unmap(), bits)
	}
	if hostBits := prefix.Addr().BitLen() - prefix.Bits(); hostBits > MaxHostBits {
		return netip.Prefix{}, fmt.Errorf("network too large: /%d exceeds %d addresses",
			prefix.Bits(), 1<<MaxHostBits)
	}

	return prefix.Masked(), nil
}

// expandPrefix lists the scannable addresses of a masked prefix. IPv4
// networks shorter than /31 drop the network and broadcast addresses; IPv6
// networks shorter than /127 drop the subnet-router anycast address.
func expandPrefix(prefix netip.Prefix) []netip.Addr {
	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	total := 1 << hostBits

	skipFirst, skipLast := false, false
	if prefix.Addr().Is4() {
		skipFirst = prefix.Bits() < 31
		skipLast = skipFirst
	} else {
		skipFirst = prefix.Bits() < 127
	}

	hosts := make([]netip.Addr, 0, total)
	addr := prefix.Addr()
	for i := 0; i < total; i++ {
		if (i == 0 && skipFirst) || (i == total-1 && skipLast) {
			addr = addr.Next()
			continue
		}
		hosts = append(hosts, addr)
		addr = addr.Next()
	}
	return hosts
}

// Interface describes a local interface and the first IPv4 address it carries.
type Interface struct {
	Name    string
	Addr    netip.Addr
	Network netip.Prefix
	Up      bool
}

// ListInterfaces returns the local interfaces that carry an IPv4 address, sorted by name.
func ListInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var out []Interface
	for _, iface := range ifaces {
		prefixes, err := interfacePrefixes(iface)
		if err != nil {
			continue
		}
		for _, p := range prefixes {
			if addr := p.Addr().Unmap(); addr.Is4() {
				out = append(out, Interface{
					Name:    iface.Name,
					Addr:    addr,
					Network: netip.PrefixFrom(addr, interfacePrefixBits).Masked(),
					Up:      iface.Flags&net.FlagUp != 0,
				})
				break
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func systemInterfaceAddrs(name string) ([]netip.Prefix, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	return interfacePrefixes(*iface)
}

func interfacePrefixes(iface net.Interface) ([]netip.Prefix, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, err
	}

	prefixes := make([]netip.Prefix, 0, len(addrs))
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		ones, _ := ipnet.Mask.Size()
		if addr.Is4In6() && ones > 32 {
			ones -= 96
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), ones))
	}
	return prefixes, nil
}
