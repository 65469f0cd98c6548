package core

import (
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/gopacket/gopacket/layers"
	"github.com/winlab/sdnproxy/state"
	"go.uber.org/multierr"
)

type packetRequest struct {
	Match    state.Match
	Priority state.PacketPriority
}

var (
	ethArp  = uint16(layers.EthernetTypeARP)
	ethIPv4 = uint16(layers.EthernetTypeIPv4)
	ethIPv6 = uint16(layers.EthernetTypeIPv6)
	icmpv6  = uint8(layers.IPProtocolICMPv6)
	tcp     = uint8(layers.IPProtocolTCP)
	nsType  = uint8(layers.ICMPv6TypeNeighborSolicitation)
	naType  = uint8(layers.ICMPv6TypeNeighborAdvertisement)
)

// IngressGuard requests the frames the engine needs from the fabric, filters
// control traffic on the block device, and seeds the static bindings.
type IngressGuard struct {
	log      *slog.Logger
	requests []packetRequest
}

func (g *IngressGuard) Init(s *state.State) error {
	g.log = s.Log.WithGroup("ingress")

	g.request(s, state.Match{EthType: ethArp}, state.RequestPriorityHigh1)
	g.request(s, state.Match{EthType: ethIPv6, IPProto: icmpv6, ICMPv6Type: nsType}, state.RequestPriorityHigh1)
	g.request(s, state.Match{EthType: ethIPv6, IPProto: icmpv6, ICMPv6Type: naType}, state.RequestPriorityHigh1)
	if s.IntraPrefix4.IsValid() {
		g.request(s, state.Match{EthType: ethIPv4, IPDst: s.IntraPrefix4.Masked()}, state.RequestPriorityHigh)
	}
	if s.IntraPrefix6.IsValid() {
		g.request(s, state.Match{EthType: ethIPv6, IPDst: s.IntraPrefix6.Masked()}, state.RequestPriorityHigh)
	}

	if err := g.blockIngress(s); err != nil {
		return err
	}

	bindings := Get[*Engine](s).Bindings()
	for _, entry := range s.PreAddArpEntries {
		bindings.MergeInsert(entry.Ip, entry.Mac, entry.Location())
		g.log.Debug("added static binding", "ip", entry.Ip, "mac", entry.Mac, "at", entry.Location())
	}
	g.log.Info("ingress guard ready", "requests", len(g.requests), "staticBindings", len(s.PreAddArpEntries))
	return nil
}

func (g *IngressGuard) request(s *state.State, m state.Match, prio state.PacketPriority) {
	s.Packets.RequestPackets(m, prio, s.TargetDevices)
	g.requests = append(g.requests, packetRequest{m, prio})
}

// blockIngress drops address resolution and TCP on the block device, except
// for the allowed pairs which are punted to the controller.
func (g *IngressGuard) blockIngress(s *state.State) error {
	dev := s.BlockDeviceId
	if dev == "" {
		g.log.Warn("block device not configured, skipping ingress filtering")
		return nil
	}
	drop := state.Treatment{Drop: true}
	punt := state.Treatment{Output: state.PortController}

	rules := []state.FlowRule{
		{Device: dev, Match: state.Match{EthType: ethArp}, Treatment: drop, Priority: state.BlockPriority},
		{Device: dev, Match: state.Match{EthType: ethIPv6, IPProto: icmpv6}, Treatment: drop, Priority: state.BlockPriority},
		{Device: dev, Match: state.Match{EthType: ethIPv4, IPProto: tcp}, Treatment: drop, Priority: state.BlockPriority},
		{Device: dev, Match: state.Match{EthType: ethIPv6, IPProto: tcp}, Treatment: drop, Priority: state.BlockPriority},
	}
	for _, p := range s.AllowedArpPairs {
		for _, m := range arpPairMatches(p.SrcIp, p.DstIp) {
			rules = append(rules, state.FlowRule{Device: dev, Match: m, Treatment: punt, Priority: state.PuntPriority})
		}
	}
	for _, p := range s.AllowedNdpPairs {
		for _, m := range ndpPairMatches(p.SrcIp, p.DstIp) {
			rules = append(rules, state.FlowRule{Device: dev, Match: m, Treatment: punt, Priority: state.PuntPriority})
		}
	}

	var errs error
	for _, r := range rules {
		if err := s.Flows.Install(r); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", r, err))
		}
	}
	if errs != nil {
		return fmt.Errorf("failed to filter ingress on %s: %w", dev, errs)
	}
	g.log.Info("filtering ingress", "device", dev, "rules", len(rules))
	return nil
}

func arpPairMatches(a, b netip.Addr) []state.Match {
	return []state.Match{
		{EthType: ethArp, ArpSpa: a, ArpTpa: b},
		{EthType: ethArp, ArpSpa: b, ArpTpa: a},
	}
}

func ndpPairMatches(a, b netip.Addr) []state.Match {
	var out []state.Match
	for _, dir := range [][2]netip.Addr{{a, b}, {b, a}} {
		for _, t := range []uint8{nsType, naType} {
			out = append(out, state.Match{
				EthType:    ethIPv6,
				IPProto:    icmpv6,
				ICMPv6Type: t,
				IPSrc:      hostPrefix(dir[0]),
				NDTarget:   dir[1],
			})
		}
	}
	return out
}

func (g *IngressGuard) Cleanup(s *state.State) error {
	for _, r := range g.requests {
		s.Packets.CancelPackets(r.Match, r.Priority, s.TargetDevices)
	}
	g.requests = nil
	if s.BlockDeviceId != "" {
		return s.Flows.Purge(s.BlockDeviceId)
	}
	return nil
}
