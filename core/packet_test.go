package core

import (
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArp(t *testing.T) {
	req, err := ParsePacket(arpRequest(t, hostMac, addr("172.16.23.10"), addr("172.16.23.1")))
	require.NoError(t, err)
	assert.Equal(t, KindArpRequest, req.Kind)
	assert.Equal(t, hostMac, req.SrcMAC)
	assert.Equal(t, addr("172.16.23.10"), req.SrcIP)
	assert.Equal(t, addr("172.16.23.1"), req.TargetIP)
	assert.Equal(t, req.TargetIP, req.DstIP)

	rep, err := ParsePacket(arpReply(t, routerMac, hostMac, addr("172.16.23.1"), addr("172.16.23.10")))
	require.NoError(t, err)
	assert.Equal(t, KindArpReply, rep.Kind)
	assert.Equal(t, hostMac, rep.DstMAC)
	assert.Equal(t, hostMac, rep.TargetMAC)
}

func TestParseNdp(t *testing.T) {
	ns, err := ParsePacket(neighborSolicitation(t, hostMac, addr("2a0b:4e07:c4:23::10"), addr("2a0b:4e07:c4:23::1")))
	require.NoError(t, err)
	assert.Equal(t, KindNdpSolicitation, ns.Kind)
	assert.Equal(t, addr("2a0b:4e07:c4:23::10"), ns.SrcIP)
	assert.Equal(t, addr("2a0b:4e07:c4:23::1"), ns.TargetIP)
	assert.True(t, ns.DstIP.IsMulticast())

	na, err := ParsePacket(neighborAdvertisement(t, host2Mac, hostMac, addr("2a0b:4e07:c4:23::11"), addr("2a0b:4e07:c4:23::10")))
	require.NoError(t, err)
	assert.Equal(t, KindNdpAdvertisement, na.Kind)
	assert.Equal(t, addr("2a0b:4e07:c4:23::11"), na.TargetIP)
}

func TestParseData(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		kind  Kind
	}{
		{"ipv4 tcp", tcpFrame(t, hostMac, routerMac, addr("172.16.23.10"), addr("10.0.0.5"), 40000, 443), KindIpv4Data},
		{"ipv4 udp", udpFrame(t, hostMac, routerMac, addr("172.16.23.10"), addr("10.0.0.5"), 5353, 53), KindIpv4Data},
		{"ipv6 tcp", tcpFrame(t, hostMac, routerMac, addr("2a0b:4e07:c4:23::10"), addr("fd00::5"), 40000, 443), KindIpv6Data},
		{"bgp to speaker", tcpFrame(t, hostMac, routerMac, addr("192.168.63.2"), addr("192.168.63.1"), 40000, BgpPort), KindBgpControl},
		{"bgp from speaker", tcpFrame(t, hostMac, routerMac, addr("fd63::1"), addr("fd63::2"), BgpPort, 40000), KindBgpControl},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePacket(tt.frame)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, p.Kind)
		})
	}
}

func TestParseIgnoresOtherFrames(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: hostMac.HardwareAddr(), DstMAC: routerMac.HardwareAddr(), EthernetType: layers.EthernetTypeLinkLayerDiscovery}
	p, err := ParsePacket(serialize(t, eth, gopacket.Payload([]byte{1, 2, 3})))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, p.Kind)
}

func TestParseMalformed(t *testing.T) {
	_, err := ParsePacket([]byte{1, 2, 3})
	assert.Error(t, err)

	frame := arpRequest(t, hostMac, addr("172.16.23.10"), addr("172.16.23.1"))
	_, err = ParsePacket(frame[:20])
	assert.Error(t, err)
}

func TestBuildArpReply(t *testing.T) {
	req, err := ParsePacket(arpRequest(t, hostMac, addr("172.16.23.10"), addr("172.16.23.1")))
	require.NoError(t, err)

	frame, err := BuildArpReply(req, routerMac)
	require.NoError(t, err)
	rep, err := ParsePacket(frame)
	require.NoError(t, err)
	assert.Equal(t, KindArpReply, rep.Kind)
	assert.Equal(t, routerMac, rep.SrcMAC)
	assert.Equal(t, addr("172.16.23.1"), rep.SrcIP)
	assert.Equal(t, hostMac, rep.DstMAC)
	assert.Equal(t, addr("172.16.23.10"), rep.DstIP)
}

func TestBuildNeighborAdvertisement(t *testing.T) {
	req, err := ParsePacket(neighborSolicitation(t, hostMac, addr("2a0b:4e07:c4:23::10"), addr("2a0b:4e07:c4:23::1")))
	require.NoError(t, err)

	frame, err := BuildNeighborAdvertisement(req, routerMac)
	require.NoError(t, err)

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	ip6 := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	assert.EqualValues(t, 255, ip6.HopLimit)
	assert.Equal(t, addr("2a0b:4e07:c4:23::10").AsSlice(), []byte(ip6.DstIP.To16()))
	na := pkt.Layer(layers.LayerTypeICMPv6NeighborAdvertisement).(*layers.ICMPv6NeighborAdvertisement)
	assert.True(t, na.Solicited())
	assert.True(t, na.Override())
	assert.Equal(t, addr("2a0b:4e07:c4:23::1").AsSlice(), []byte(na.TargetAddress.To16()))
	require.Len(t, na.Options, 1)
	assert.Equal(t, layers.ICMPv6OptTargetAddress, na.Options[0].Type)
	assert.Equal(t, []byte(routerMac.HardwareAddr()), na.Options[0].Data)
}

func TestBuildNeighborAdvertisementForDad(t *testing.T) {
	req, err := ParsePacket(neighborSolicitation(t, hostMac, addr("::"), addr("2a0b:4e07:c4:23::1")))
	require.NoError(t, err)

	frame, err := BuildNeighborAdvertisement(req, routerMac)
	require.NoError(t, err)
	p, err := ParsePacket(frame)
	require.NoError(t, err)
	assert.Equal(t, addr("ff02::1"), p.DstIP)
}

func TestBuildRejectsWrongFamily(t *testing.T) {
	_, err := BuildArpReply(&Packet{SrcIP: addr("fd00::1"), TargetIP: addr("fd00::2")}, routerMac)
	assert.Error(t, err)
	_, err = BuildNeighborAdvertisement(&Packet{SrcIP: addr("10.0.0.1"), TargetIP: addr("10.0.0.2")}, routerMac)
	assert.Error(t, err)
}
