package state

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
intraPrefix4: 10.23.0.0/16
intraPrefix6: fd23::/64
intraMac: "02:00:00:00:00:23"
blockDeviceId: of:00000000000000aa
targetDevices:
  - of:0000000000000001
allowedArpPairs:
  - srcIp: 192.168.70.253
    dstIp: 192.168.70.23
preAddArpEntries:
  - ip: 192.168.63.1
    mac: "00:00:23:00:00:04"
    deviceId: of:0000000000000001
    port: 4
gateways:
  - ip: 192.168.63.1
    deviceId: of:0000000000000001
    port: 4
peers:
  - 192.168.63.2
  - fd63::2
learningTimeout: 30s
pathRecordTtl: 5m
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)
	require.NoError(t, ConfigValidator(cfg))

	assert.Equal(t, netip.MustParsePrefix("10.23.0.0/16"), cfg.IntraPrefix4)
	assert.Equal(t, netip.MustParsePrefix("fd23::/64"), cfg.IntraPrefix6)
	assert.Equal(t, MustParseMAC("02:00:00:00:00:23"), cfg.IntraMac)
	assert.Equal(t, DeviceId("of:00000000000000aa"), cfg.BlockDeviceId)
	assert.Equal(t, []DeviceId{"of:0000000000000001"}, cfg.TargetDevices)
	assert.Equal(t, []IpPair{{
		SrcIp: netip.MustParseAddr("192.168.70.253"),
		DstIp: netip.MustParseAddr("192.168.70.23"),
	}}, cfg.AllowedArpPairs)
	assert.Equal(t, Location{Device: "of:0000000000000001", Port: 4}, cfg.PreAddArpEntries[0].Location())
	assert.Equal(t, 30*time.Second, cfg.LearningTimeout)
	assert.Equal(t, 5*time.Minute, cfg.PathRecordTTL)
	assert.True(t, cfg.IsPeer(netip.MustParseAddr("fd63::2")))
	assert.False(t, cfg.IsPeer(netip.MustParseAddr("fd63::3")))

	gw, ok := cfg.GetGateway(netip.MustParseAddr("192.168.63.1"))
	assert.True(t, ok)
	assert.Equal(t, Location{Device: "of:0000000000000001", Port: 4}, gw.Location())

	// omitted keys keep their defaults
	assert.Equal(t, DefaultConfig().AllowedNdpPairs, cfg.AllowedNdpPairs)
	assert.Equal(t, DefaultConfig().AppId, cfg.AppId)
}

func TestParseConfig_BadMac(t *testing.T) {
	_, err := ParseConfig([]byte("intraMac: not-a-mac\n"))
	assert.Error(t, err)
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0600))

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "winlab.sdnproxy", cfg.AppId)

	require.NoError(t, os.WriteFile(path, []byte("intraPrefix4: fd00::/8\n"), 0600))
	_, err = ReadConfig(path)
	assert.Error(t, err)

	_, err = ReadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestIntraPrefix(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, cfg.IntraPrefix4, cfg.IntraPrefix(netip.MustParseAddr("1.2.3.4")))
	assert.Equal(t, cfg.IntraPrefix6, cfg.IntraPrefix(netip.MustParseAddr("2001:db8::1")))
}
