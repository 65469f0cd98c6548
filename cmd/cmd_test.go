package cmd

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/winlab/sdnproxy/state"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const testConfig = `
intraPrefix4: 10.23.0.0/16
intraMac: "02:00:00:00:00:23"
peers:
  - 192.168.63.2
`

func TestVerify(t *testing.T) {
	out, err := run(t, "verify", "-c", writeFile(t, "config.yaml", testConfig))
	require.NoError(t, err)
	assert.Contains(t, out, "Config is valid\n")
	assert.Contains(t, out, "10.23.0.0/16")
	assert.Contains(t, out, "192.168.63.2")

	_, err = run(t, "verify", "-c", writeFile(t, "config.yaml", `intraMac: "ff:ff:ff:ff:ff:ff"`))
	assert.Error(t, err)
	_, err = run(t, "verify", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

const testTopology = `
devices:
  - id: of:0000000000000001
    ports:
      - 1
      - 2
      - 3
  - id: of:0000000000000002
    ports:
      - 1
  - id: of:0000d2f4d1307942
    ports:
      - 1
links:
  - src:
      deviceId: of:0000000000000001
      port: 1
    dst:
      deviceId: of:0000000000000002
      port: 1
`

func arpRequest(t *testing.T, mac string, spa, tpa string) []byte {
	hw, err := net.ParseMAC(mac)
	require.NoError(t, err)
	eth := &layers.Ethernet{SrcMAC: hw, DstMAC: state.BroadcastMAC.HardwareAddr(), EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   hw,
		SourceProtAddress: net.ParseIP(spa).To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    net.ParseIP(tpa).To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp))
	return buf.Bytes()
}

func writeCapture(t *testing.T, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()
	w := pcapgo.NewWriter(file)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for _, frame := range frames {
		ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(frame), Length: len(frame)}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	return path
}

func TestReplay(t *testing.T) {
	capture := writeCapture(t,
		arpRequest(t, "02:00:00:00:00:10", "172.16.23.10", "172.16.23.99"),
		arpRequest(t, "02:00:00:00:00:11", "172.16.23.11", "172.16.23.98"),
	)
	out, err := run(t, "replay",
		"-c", writeFile(t, "config.yaml", "appId: replay.test\n"),
		"-t", writeFile(t, "topology.yaml", testTopology),
		"-p", capture,
		"--device", "of:0000000000000001", "--port", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Replayed 2 frames")
	assert.Contains(t, out, "FLOOD of:0000000000000001/3")
	assert.Contains(t, out, "172.16.23.10 is-at 02:00:00:00:00:10")
	assert.Contains(t, out, "Decisions:\n")

	_, err = run(t, "replay",
		"-c", writeFile(t, "config.yaml", "appId: replay.test\n"),
		"-t", writeFile(t, "topology.yaml", testTopology),
		"-p", writeFile(t, "capture.pcap", "not a capture"),
		"--device", "of:0000000000000001", "--port", "3")
	assert.Error(t, err)
}
