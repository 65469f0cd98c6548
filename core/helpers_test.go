package core

import (
	"log/slog"
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
	"github.com/winlab/sdnproxy/fabric"
	"github.com/winlab/sdnproxy/state"
)

var (
	dev1 = state.DeviceId("of:0000000000000001")
	dev2 = state.DeviceId("of:0000000000000002")
	dev3 = state.DeviceId("of:0000000000000003")

	routerMac = state.MustParseMAC("00:00:23:00:00:06")
	hostMac   = state.MustParseMAC("02:00:00:00:00:10")
	host2Mac  = state.MustParseMAC("02:00:00:00:00:11")
	wanMac    = state.MustParseMAC("00:00:23:00:00:07")
	nextHop   = state.MustParseMAC("02:00:00:00:c0:01")
)

func loc(d state.DeviceId, p state.PortNumber) state.Location {
	return state.Location{Device: d, Port: p}
}

func addr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

func prefix(s string) netip.Prefix {
	return netip.MustParsePrefix(s)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newFabric builds a line of three devices:
//
//	dev1/1 --- dev2/1, dev2/2 --- dev3/1
func newFabric() *fabric.Fabric {
	f := fabric.New()
	f.AddDevice(dev1, 1, 2, 3, 4, 5)
	f.AddDevice(dev2, 1, 2, 3)
	f.AddDevice(dev3, 1, 2, 3)
	f.AddLink(loc(dev1, 1), loc(dev2, 1))
	f.AddLink(loc(dev2, 2), loc(dev3, 1))
	return f
}

func testConfig() state.Config {
	cfg := state.DefaultConfig()
	cfg.IntraMac = routerMac
	cfg.BlockDeviceId = dev3
	cfg.TargetDevices = []state.DeviceId{dev1, dev2}
	return cfg
}

func serialize(t testing.TB, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, ls...)
	require.NoError(t, err)
	return buf.Bytes()
}

func arpFrame(t testing.TB, op uint16, src, dst state.MAC, spa, tpa netip.Addr) []byte {
	tha := dst
	if dst == state.BroadcastMAC {
		tha = state.MAC{}
	}
	eth := &layers.Ethernet{SrcMAC: src.HardwareAddr(), DstMAC: dst.HardwareAddr(), EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   src.HardwareAddr(),
		SourceProtAddress: spa.AsSlice(),
		DstHwAddress:      tha.HardwareAddr(),
		DstProtAddress:    tpa.AsSlice(),
	}
	return serialize(t, eth, arp)
}

func arpRequest(t testing.TB, src state.MAC, spa, tpa netip.Addr) []byte {
	return arpFrame(t, layers.ARPRequest, src, state.BroadcastMAC, spa, tpa)
}

func arpReply(t testing.TB, src, dst state.MAC, spa, tpa netip.Addr) []byte {
	return arpFrame(t, layers.ARPReply, src, dst, spa, tpa)
}

func solicitedNode(target netip.Addr) (netip.Addr, state.MAC) {
	b := target.As16()
	ip := netip.AddrFrom16([16]byte{0xff, 0x02, 10: 0, 11: 1, 12: 0xff, 13: b[13], 14: b[14], 15: b[15]})
	return ip, state.MAC{0x33, 0x33, 0xff, b[13], b[14], b[15]}
}

func neighborSolicitation(t testing.TB, src state.MAC, srcIP, target netip.Addr) []byte {
	dstIP, dstMac := solicitedNode(target)
	eth := &layers.Ethernet{SrcMAC: src.HardwareAddr(), DstMAC: dstMac.HardwareAddr(), EthernetType: layers.EthernetTypeIPv6}
	ip6 := &layers.IPv6{Version: 6, NextHeader: layers.IPProtocolICMPv6, HopLimit: 255, SrcIP: srcIP.AsSlice(), DstIP: dstIP.AsSlice()}
	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborSolicitation, 0)}
	require.NoError(t, icmp.SetNetworkLayerForChecksum(ip6))
	ns := &layers.ICMPv6NeighborSolicitation{
		TargetAddress: target.AsSlice(),
		Options: layers.ICMPv6Options{{
			Type: layers.ICMPv6OptSourceAddress,
			Data: src.HardwareAddr(),
		}},
	}
	return serialize(t, eth, ip6, icmp, ns)
}

func neighborAdvertisement(t testing.TB, src, dst state.MAC, srcIP, dstIP netip.Addr) []byte {
	eth := &layers.Ethernet{SrcMAC: src.HardwareAddr(), DstMAC: dst.HardwareAddr(), EthernetType: layers.EthernetTypeIPv6}
	ip6 := &layers.IPv6{Version: 6, NextHeader: layers.IPProtocolICMPv6, HopLimit: 255, SrcIP: srcIP.AsSlice(), DstIP: dstIP.AsSlice()}
	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborAdvertisement, 0)}
	require.NoError(t, icmp.SetNetworkLayerForChecksum(ip6))
	na := &layers.ICMPv6NeighborAdvertisement{
		Flags:         0x60,
		TargetAddress: srcIP.AsSlice(),
		Options: layers.ICMPv6Options{{
			Type: layers.ICMPv6OptTargetAddress,
			Data: src.HardwareAddr(),
		}},
	}
	return serialize(t, eth, ip6, icmp, na)
}

// tcpFrame builds an IPv4 or IPv6 TCP segment.
func tcpFrame(t testing.TB, src, dst state.MAC, srcIP, dstIP netip.Addr, sport, dport uint16) []byte {
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), SYN: true, Window: 1024}
	return ipFrame(t, src, dst, srcIP, dstIP, layers.IPProtocolTCP, tcp)
}

func udpFrame(t testing.TB, src, dst state.MAC, srcIP, dstIP netip.Addr, sport, dport uint16) []byte {
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	return ipFrame(t, src, dst, srcIP, dstIP, layers.IPProtocolUDP, udp)
}

type checksumLayer interface {
	gopacket.SerializableLayer
	SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
}

func ipFrame(t testing.TB, src, dst state.MAC, srcIP, dstIP netip.Addr, proto layers.IPProtocol, l4 checksumLayer) []byte {
	eth := &layers.Ethernet{SrcMAC: src.HardwareAddr(), DstMAC: dst.HardwareAddr()}
	var l3 gopacket.NetworkLayer
	var l3s gopacket.SerializableLayer
	if srcIP.Is4() {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip4 := &layers.IPv4{Version: 4, TTL: 64, Protocol: proto, SrcIP: srcIP.AsSlice(), DstIP: dstIP.AsSlice()}
		l3, l3s = ip4, ip4
	} else {
		eth.EthernetType = layers.EthernetTypeIPv6
		ip6 := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: proto, SrcIP: srcIP.AsSlice(), DstIP: dstIP.AsSlice()}
		l3, l3s = ip6, ip6
	}
	require.NoError(t, l4.SetNetworkLayerForChecksum(l3))
	return serialize(t, eth, l3s, l4, gopacket.Payload([]byte("payload")))
}
