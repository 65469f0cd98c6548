package core

import (
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/gopacket/gopacket/layers"
	"github.com/winlab/sdnproxy/perf"
	"github.com/winlab/sdnproxy/state"
	"go4.org/netipx"
)

type Direction uint8

const (
	Internal Direction = iota
	Inbound
	Outbound
	Transit
)

func (d Direction) String() string {
	switch d {
	case Internal:
		return "internal"
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	case Transit:
		return "transit"
	}
	return fmt.Sprintf("Direction(%d)", d)
}

// Domain is the set of local addresses.
type Domain struct {
	set *netipx.IPSet
}

func NewDomain(prefixes ...netip.Prefix) (*Domain, error) {
	var b netipx.IPSetBuilder
	for _, p := range prefixes {
		if p.IsValid() {
			b.AddPrefix(p.Masked())
		}
	}
	set, err := b.IPSet()
	if err != nil {
		return nil, fmt.Errorf("building local domain: %w", err)
	}
	return &Domain{set: set}, nil
}

func (d *Domain) Contains(ip netip.Addr) bool {
	return d.set.Contains(ip.Unmap())
}

// Local reports whether both addresses are inside the domain.
func (d *Domain) Local(a, b netip.Addr) bool {
	return d.Contains(a) && d.Contains(b)
}

func (d *Domain) Classify(src, dst netip.Addr) Direction {
	srcLocal, dstLocal := d.Contains(src), d.Contains(dst)
	switch {
	case srcLocal && dstLocal:
		return Internal
	case srcLocal:
		return Outbound
	case dstLocal:
		return Inbound
	}
	return Transit
}

// DirectionResolver installs inter-domain paths for routed IP traffic.
type DirectionResolver struct {
	domain    *Domain
	routes    *RouteTable
	bindings  *AddressBindings
	nearest   *NearestSelector
	installer *PathInstaller
	intraMac  state.MAC
	log       *slog.Logger
}

func hostPrefix(ip netip.Addr) netip.Prefix {
	return netip.PrefixFrom(ip, ip.BitLen())
}

func flowMatch(src, dst netip.Addr) state.Match {
	m := state.Match{
		EthType: uint16(layers.EthernetTypeIPv4),
		IPSrc:   hostPrefix(src),
		IPDst:   hostPrefix(dst),
	}
	if src.Is6() {
		m.EthType = uint16(layers.EthernetTypeIPv6)
	}
	return m
}

// Process classifies pkt and, unless it is internal, installs the path it
// needs. An event that reaches the installer is blocked.
func (r *DirectionResolver) Process(ev *state.PacketEvent, pkt *Packet) Direction {
	src, dst := pkt.SrcIP, pkt.DstIP
	dir := r.domain.Classify(src, dst)
	log := r.log.With("direction", dir, "src", src, "dst", dst)

	var (
		dstLoc state.Location
		base   state.Treatment
	)
	switch dir {
	case Internal:
		return dir
	case Outbound, Transit:
		route, ok := r.routes.Lookup(dst)
		if !ok {
			log.Warn("no route for destination")
			perf.Decision(dir.String(), "no_route")
			return dir
		}
		log.Debug("routing", "prefix", route.Prefix, "interface", route.Interface.Name, "nextHopMac", route.MAC)
		dstLoc = route.Interface.Location
		base = state.Treatment{EthSrc: route.Interface.MAC, EthDst: route.MAC}
	case Inbound:
		host, ok := r.nearest.Select(ev.Ingress, r.bindings.Lookup(dst))
		if !ok {
			log.Warn("no binding for local host")
			perf.Decision(dir.String(), "no_binding")
			return dir
		}
		if _, ok := r.routes.Lookup(src); !ok {
			log.Warn("no route back to source")
			perf.Decision(dir.String(), "no_route")
			return dir
		}
		dstLoc = host.Location
		base = state.Treatment{EthSrc: r.intraMac, EthDst: host.MAC}
	}

	r.installer.InstallIfAbsent(src, dst, ev.Ingress, dstLoc, flowMatch(src, dst), base, state.PathPriority)
	ev.Block()
	return dir
}
