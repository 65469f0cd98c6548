package state

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceIdValidator_Valid(t *testing.T) {
	assert.NoError(t, DeviceIdValidator("of:0000000000000001"))
	assert.NoError(t, DeviceIdValidator("of:0000d2f4d1307942"))
	assert.NoError(t, DeviceIdValidator("rest:10.0.0.1:8080"))
}

func TestDeviceIdValidator_Invalid(t *testing.T) {
	assert.Error(t, DeviceIdValidator(""))
	assert.Error(t, DeviceIdValidator("0000000000000001"))
	assert.Error(t, DeviceIdValidator("of:"))
	assert.Error(t, DeviceIdValidator("of:00 01"))
}

func TestConfigValidator_Default(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, ConfigValidator(&cfg))
}

func TestConfigValidator_PrefixFamily(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IntraPrefix4 = netip.MustParsePrefix("fd00::/64")
	assert.Error(t, ConfigValidator(&cfg))

	cfg = DefaultConfig()
	cfg.IntraPrefix6 = netip.MustParsePrefix("10.0.0.0/8")
	assert.Error(t, ConfigValidator(&cfg))

	cfg = DefaultConfig()
	cfg.IntraPrefix6 = netip.Prefix{}
	assert.Error(t, ConfigValidator(&cfg))
}

func TestConfigValidator_IntraMac(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IntraMac = MAC{}
	assert.Error(t, ConfigValidator(&cfg))

	cfg.IntraMac = BroadcastMAC
	assert.Error(t, ConfigValidator(&cfg))
}

func TestConfigValidator_PairFamily(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedArpPairs = append(cfg.AllowedArpPairs, IpPair{
		SrcIp: netip.MustParseAddr("fd70::1"),
		DstIp: netip.MustParseAddr("192.168.70.23"),
	})
	assert.Error(t, ConfigValidator(&cfg))

	cfg = DefaultConfig()
	cfg.AllowedNdpPairs = append(cfg.AllowedNdpPairs, IpPair{
		SrcIp: netip.MustParseAddr("192.168.70.1"),
		DstIp: netip.MustParseAddr("fd70::23"),
	})
	assert.Error(t, ConfigValidator(&cfg))
}

func TestConfigValidator_DuplicateGateway(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gateways = append(cfg.Gateways, cfg.Gateways[0])
	assert.Error(t, ConfigValidator(&cfg))
}

func TestConfigValidator_ArpEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreAddArpEntries = append(cfg.PreAddArpEntries, ArpEntry{
		Ip:       netip.MustParseAddr("10.0.0.1"),
		Mac:      MustParseMAC("00:00:00:00:00:01"),
		DeviceId: "bad id",
		Port:     1,
	})
	assert.Error(t, ConfigValidator(&cfg))
}

func TestConfigValidator_NegativeTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PathRecordTTL = -1
	assert.Error(t, ConfigValidator(&cfg))
}
