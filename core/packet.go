package core

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/winlab/sdnproxy/state"
)

const BgpPort = 179

type Kind uint8

const (
	KindUnknown Kind = iota
	KindArpRequest
	KindArpReply
	KindNdpSolicitation
	KindNdpAdvertisement
	KindIpv4Data
	KindIpv6Data
	KindBgpControl
)

func (k Kind) String() string {
	switch k {
	case KindArpRequest:
		return "ArpRequest"
	case KindArpReply:
		return "ArpReply"
	case KindNdpSolicitation:
		return "NdpSolicitation"
	case KindNdpAdvertisement:
		return "NdpAdvertisement"
	case KindIpv4Data:
		return "Ipv4Data"
	case KindIpv6Data:
		return "Ipv6Data"
	case KindBgpControl:
		return "BgpControl"
	}
	return "Unknown"
}

// Packet is the decoded view of a frame the engine dispatches on.
//
// For ARP, SrcIP/DstIP are the sender and target protocol addresses and
// TargetIP equals DstIP. For NDP, SrcIP/DstIP come from the IPv6 header and
// TargetIP is the ND target address.
type Packet struct {
	Kind     Kind
	SrcMAC   state.MAC
	DstMAC   state.MAC
	SrcIP    netip.Addr
	DstIP    netip.Addr
	TargetIP netip.Addr
	// ARP target hardware address
	TargetMAC state.MAC
	IPProto   layers.IPProtocol
	SrcPort   uint16
	DstPort   uint16
	Raw       []byte
}

func (p *Packet) IsIPv6() bool {
	return p.SrcIP.Is6()
}

func (p *Packet) String() string {
	switch p.Kind {
	case KindArpRequest, KindArpReply, KindNdpSolicitation, KindNdpAdvertisement:
		return fmt.Sprintf("%s %s(%s) -> %s target=%s", p.Kind, p.SrcIP, p.SrcMAC, p.DstIP, p.TargetIP)
	case KindBgpControl:
		return fmt.Sprintf("%s %s:%d -> %s:%d", p.Kind, p.SrcIP, p.SrcPort, p.DstIP, p.DstPort)
	}
	return fmt.Sprintf("%s %s -> %s", p.Kind, p.SrcIP, p.DstIP)
}

func addrFrom(ip net.IP) netip.Addr {
	a, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return a.Unmap()
}

// ParsePacket decodes an Ethernet frame. Frames that are well formed but of no
// interest decode to KindUnknown without error.
func ParsePacket(frame []byte) (*Packet, error) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("ethernet: %w", err)
	}
	p := &Packet{Raw: frame}
	p.SrcMAC, _ = state.MACFromBytes(eth.SrcMAC)
	p.DstMAC, _ = state.MACFromBytes(eth.DstMAC)

	switch eth.EthernetType {
	case layers.EthernetTypeARP:
		return p, p.decodeArp(eth.Payload)
	case layers.EthernetTypeIPv4:
		return p, p.decodeIPv4(eth.Payload)
	case layers.EthernetTypeIPv6:
		return p, p.decodeIPv6(eth.Payload)
	}
	return p, nil
}

func (p *Packet) decodeArp(data []byte) error {
	var arp layers.ARP
	if err := arp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("arp: %w", err)
	}
	if arp.AddrType != layers.LinkTypeEthernet || arp.Protocol != layers.EthernetTypeIPv4 ||
		arp.HwAddressSize != 6 || arp.ProtAddressSize != 4 {
		return nil
	}
	p.SrcIP = addrFrom(arp.SourceProtAddress)
	p.DstIP = addrFrom(arp.DstProtAddress)
	p.TargetIP = p.DstIP
	p.TargetMAC, _ = state.MACFromBytes(arp.DstHwAddress)
	// the ARP sender hardware address is authoritative over the Ethernet source
	if mac, ok := state.MACFromBytes(arp.SourceHwAddress); ok {
		p.SrcMAC = mac
	}
	switch arp.Operation {
	case layers.ARPRequest:
		p.Kind = KindArpRequest
	case layers.ARPReply:
		p.Kind = KindArpReply
	}
	return nil
}

func (p *Packet) decodeIPv4(data []byte) error {
	var ip4 layers.IPv4
	if err := ip4.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("ipv4: %w", err)
	}
	p.SrcIP = addrFrom(ip4.SrcIP)
	p.DstIP = addrFrom(ip4.DstIP)
	p.IPProto = ip4.Protocol
	p.Kind = KindIpv4Data
	return p.decodeTransport(ip4.Payload)
}

func (p *Packet) decodeIPv6(data []byte) error {
	var ip6 layers.IPv6
	if err := ip6.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("ipv6: %w", err)
	}
	p.SrcIP = addrFrom(ip6.SrcIP)
	p.DstIP = addrFrom(ip6.DstIP)
	p.IPProto = ip6.NextHeader
	p.Kind = KindIpv6Data
	if ip6.NextHeader != layers.IPProtocolICMPv6 {
		return p.decodeTransport(ip6.Payload)
	}

	var icmp layers.ICMPv6
	if err := icmp.DecodeFromBytes(ip6.Payload, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("icmpv6: %w", err)
	}
	switch icmp.TypeCode.Type() {
	case layers.ICMPv6TypeNeighborSolicitation:
		var ns layers.ICMPv6NeighborSolicitation
		if err := ns.DecodeFromBytes(icmp.Payload, gopacket.NilDecodeFeedback); err != nil {
			return fmt.Errorf("neighbor solicitation: %w", err)
		}
		p.TargetIP = addrFrom(ns.TargetAddress)
		p.Kind = KindNdpSolicitation
	case layers.ICMPv6TypeNeighborAdvertisement:
		var na layers.ICMPv6NeighborAdvertisement
		if err := na.DecodeFromBytes(icmp.Payload, gopacket.NilDecodeFeedback); err != nil {
			return fmt.Errorf("neighbor advertisement: %w", err)
		}
		p.TargetIP = addrFrom(na.TargetAddress)
		p.Kind = KindNdpAdvertisement
	}
	return nil
}

func (p *Packet) decodeTransport(data []byte) error {
	switch p.IPProto {
	case layers.IPProtocolTCP:
		var tcp layers.TCP
		if err := tcp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			// a fragment or a short segment is still routable data
			return nil
		}
		p.SrcPort = uint16(tcp.SrcPort)
		p.DstPort = uint16(tcp.DstPort)
		if p.SrcPort == BgpPort || p.DstPort == BgpPort {
			p.Kind = KindBgpControl
		}
	case layers.IPProtocolUDP:
		var udp layers.UDP
		if err := udp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err == nil {
			p.SrcPort = uint16(udp.SrcPort)
			p.DstPort = uint16(udp.DstPort)
		}
	}
	return nil
}

var serializeOpts = gopacket.SerializeOptions{
	FixLengths:       true,
	ComputeChecksums: true,
}

// BuildArpReply answers req on behalf of its target, which owns mac.
func BuildArpReply(req *Packet, mac state.MAC) ([]byte, error) {
	if !req.TargetIP.Is4() || !req.SrcIP.Is4() {
		return nil, fmt.Errorf("arp reply needs IPv4 addresses, got %s and %s", req.TargetIP, req.SrcIP)
	}
	eth := layers.Ethernet{
		SrcMAC:       mac.HardwareAddr(),
		DstMAC:       req.SrcMAC.HardwareAddr(),
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   mac.HardwareAddr(),
		SourceProtAddress: req.TargetIP.AsSlice(),
		DstHwAddress:      req.SrcMAC.HardwareAddr(),
		DstProtAddress:    req.SrcIP.AsSlice(),
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, &eth, &arp); err != nil {
		return nil, fmt.Errorf("serializing arp reply: %w", err)
	}
	return buf.Bytes(), nil
}

var allNodes = netip.MustParseAddr("ff02::1")

// BuildNeighborAdvertisement answers the solicitation req on behalf of its
// target, which owns mac. Solicitations from the unspecified address (DAD)
// are answered to all-nodes without the solicited flag.
func BuildNeighborAdvertisement(req *Packet, mac state.MAC) ([]byte, error) {
	if !req.TargetIP.Is6() {
		return nil, fmt.Errorf("neighbor advertisement needs an IPv6 target, got %s", req.TargetIP)
	}
	dstIP, dstMAC := req.SrcIP, req.SrcMAC
	flags := uint8(0x60) // solicited | override
	if !dstIP.IsValid() || dstIP.IsUnspecified() {
		dstIP = allNodes
		dstMAC = state.MAC{0x33, 0x33, 0, 0, 0, 1}
		flags = 0x20
	}
	eth := layers.Ethernet{
		SrcMAC:       mac.HardwareAddr(),
		DstMAC:       dstMAC.HardwareAddr(),
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   255,
		SrcIP:      req.TargetIP.AsSlice(),
		DstIP:      dstIP.AsSlice(),
	}
	icmp := layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborAdvertisement, 0),
	}
	if err := icmp.SetNetworkLayerForChecksum(&ip6); err != nil {
		return nil, err
	}
	na := layers.ICMPv6NeighborAdvertisement{
		Flags:         flags,
		TargetAddress: req.TargetIP.AsSlice(),
		Options: layers.ICMPv6Options{{
			Type: layers.ICMPv6OptTargetAddress,
			Data: mac.HardwareAddr(),
		}},
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, &eth, &ip6, &icmp, &na); err != nil {
		return nil, fmt.Errorf("serializing neighbor advertisement: %w", err)
	}
	return buf.Bytes(), nil
}
