package core

import (
	"log/slog"
	"net/netip"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/gopacket/gopacket/layers"
	"github.com/winlab/sdnproxy/perf"
	"github.com/winlab/sdnproxy/state"
	"go.uber.org/multierr"
)

// GatewaySessions keeps one incoming (many ingress -> gateway) and one
// outgoing (gateway -> many egress) intent per gateway for BGP traffic.
type GatewaySessions struct {
	gateways   map[netip.Addr]state.Location
	peers      []netip.Addr
	interfaces state.InterfaceService
	intents    state.IntentService
	log        *slog.Logger

	mu       sync.Mutex
	incoming map[netip.Addr]*state.Intent
	outgoing map[netip.Addr]*state.Intent
}

func NewGatewaySessions(cfg *state.Config, interfaces state.InterfaceService, intents state.IntentService, log *slog.Logger) *GatewaySessions {
	g := &GatewaySessions{
		gateways:   make(map[netip.Addr]state.Location),
		peers:      cfg.Peers,
		interfaces: interfaces,
		intents:    intents,
		log:        log,
		incoming:   make(map[netip.Addr]*state.Intent),
		outgoing:   make(map[netip.Addr]*state.Intent),
	}
	for _, gw := range cfg.Gateways {
		g.gateways[gw.Ip.Unmap()] = gw.Location()
	}
	return g
}

func gatewayMatch(ip netip.Addr, asDst bool) state.Match {
	m := state.Match{EthType: uint16(layers.EthernetTypeIPv4)}
	if ip.Is6() {
		m.EthType = uint16(layers.EthernetTypeIPv6)
	}
	if asDst {
		m.IPDst = hostPrefix(ip)
	} else {
		m.IPSrc = hostPrefix(ip)
	}
	return m
}

// Handle processes a BGP control frame. Returns false if no gateway endpoint
// of the frame talks to a configured peer.
func (g *GatewaySessions) Handle(ev *state.PacketEvent, pkt *Packet) bool {
	if gwLoc, ok := g.gateways[pkt.DstIP]; ok {
		if g.isPeer(pkt.SrcIP) {
			g.growIncoming(ev, pkt, gwLoc)
			return true
		}
		g.log.Debug("ignoring control traffic from non-peer", "src", pkt.SrcIP, "gateway", pkt.DstIP)
	}
	if gwLoc, ok := g.gateways[pkt.SrcIP]; ok {
		if g.isPeer(pkt.DstIP) {
			g.ensureOutgoing(pkt.SrcIP, pkt.DstIP, gwLoc)
			return true
		}
		g.log.Debug("ignoring control traffic to non-peer", "dst", pkt.DstIP, "gateway", pkt.SrcIP)
	}
	return false
}

func (g *GatewaySessions) isPeer(ip netip.Addr) bool {
	return len(g.peers) == 0 || slices.Contains(g.peers, ip)
}

// growIncoming adds the ingress location to the gateway's incoming intent.
// The ingress must belong to an interface serving the frame's source.
func (g *GatewaySessions) growIncoming(ev *state.PacketEvent, pkt *Packet, gwLoc state.Location) {
	gw := pkt.DstIP
	serving := slices.ContainsFunc(g.interfaces.MatchingInterfaces(pkt.SrcIP), func(i state.Interface) bool {
		return i.Location == ev.Ingress
	})
	if !serving {
		g.log.Warn("control traffic arrived on an interface not serving its source, dropping",
			"src", pkt.SrcIP, "gateway", gw, "ingress", ev.Ingress)
		perf.Decision("bgp", "bad_ingress")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	cur, ok := g.incoming[gw]
	if ok && slices.Contains(cur.Ingress, ev.Ingress) {
		return
	}
	next := state.Intent{
		Key:      uuid.NewString(),
		Kind:     state.MultiPointToSinglePoint,
		Match:    gatewayMatch(gw, true),
		Egress:   []state.Location{gwLoc},
		Priority: state.GatewayPriority,
	}
	if ok {
		next.Key = cur.Key
		next.Ingress = slices.Clone(cur.Ingress)
	}
	next.Ingress = append(next.Ingress, ev.Ingress)
	slices.SortFunc(next.Ingress, state.CompareLocation)
	if err := g.intents.Submit(next); err != nil {
		g.log.Warn("failed to submit incoming gateway intent", "gateway", gw, "error", err)
		return
	}
	g.incoming[gw] = &next
	g.log.Info("incoming gateway session updated", "gateway", gw, "ingress", next.Ingress, "egress", gwLoc)
	perf.Decision("bgp", "incoming")
}

// ensureOutgoing creates the gateway's outgoing intent toward every interface
// serving remote. It is created once and never grown.
func (g *GatewaySessions) ensureOutgoing(gw, remote netip.Addr, gwLoc state.Location) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.outgoing[gw]; ok {
		return
	}
	var egress []state.Location
	for _, intf := range g.interfaces.MatchingInterfaces(remote) {
		if intf.Location.IsValid() && !slices.Contains(egress, intf.Location) {
			egress = append(egress, intf.Location)
		}
	}
	if len(egress) == 0 {
		g.log.Warn("no interface serves the remote side of the gateway", "gateway", gw, "remote", remote)
		return
	}
	slices.SortFunc(egress, state.CompareLocation)
	intent := state.Intent{
		Key:      uuid.NewString(),
		Kind:     state.SinglePointToMultiPoint,
		Match:    gatewayMatch(gw, false),
		Ingress:  []state.Location{gwLoc},
		Egress:   egress,
		Priority: state.GatewayPriority,
	}
	if err := g.intents.Submit(intent); err != nil {
		g.log.Warn("failed to submit outgoing gateway intent", "gateway", gw, "error", err)
		return
	}
	g.outgoing[gw] = &intent
	g.log.Info("outgoing gateway session created", "gateway", gw, "ingress", gwLoc, "egress", egress)
	perf.Decision("bgp", "outgoing")
}

// Prime creates the outgoing session of every gateway toward the interfaces
// sharing its subnet.
func (g *GatewaySessions) Prime() {
	for gw, loc := range g.gateways {
		g.ensureOutgoing(gw, gw, loc)
	}
}

// Sessions returns the current incoming and outgoing intents.
func (g *GatewaySessions) Sessions() (incoming, outgoing []state.Intent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, i := range g.incoming {
		incoming = append(incoming, *i)
	}
	for _, i := range g.outgoing {
		outgoing = append(outgoing, *i)
	}
	byMatch := func(a, b state.Intent) int {
		return hostPrefixCompare(a.Match, b.Match)
	}
	slices.SortFunc(incoming, byMatch)
	slices.SortFunc(outgoing, byMatch)
	return incoming, outgoing
}

func hostPrefixCompare(a, b state.Match) int {
	if c := a.IPDst.Addr().Compare(b.IPDst.Addr()); c != 0 {
		return c
	}
	return a.IPSrc.Addr().Compare(b.IPSrc.Addr())
}

// WithdrawAll withdraws every intent and forgets the sessions.
func (g *GatewaySessions) WithdrawAll() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var errs error
	for gw, i := range g.incoming {
		errs = multierr.Append(errs, g.intents.Withdraw(i.Key))
		delete(g.incoming, gw)
	}
	for gw, i := range g.outgoing {
		errs = multierr.Append(errs, g.intents.Withdraw(i.Key))
		delete(g.outgoing, gw)
	}
	return errs
}

// Devices returns the devices of every configured gateway.
func (g *GatewaySessions) Devices() []state.DeviceId {
	var devs []state.DeviceId
	for _, loc := range g.gateways {
		if !slices.Contains(devs, loc.Device) {
			devs = append(devs, loc.Device)
		}
	}
	slices.Sort(devs)
	return devs
}
