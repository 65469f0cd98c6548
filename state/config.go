package state

import (
	"fmt"
	"net/netip"
	"os"
	"slices"
	"time"

	"github.com/goccy/go-yaml"
)

type IpPair struct {
	SrcIp netip.Addr `yaml:"srcIp"`
	DstIp netip.Addr `yaml:"dstIp"`
}

type ArpEntry struct {
	Ip       netip.Addr `yaml:"ip"`
	Mac      MAC        `yaml:"mac"`
	DeviceId DeviceId   `yaml:"deviceId"`
	Port     PortNumber `yaml:"port"`
}

func (e ArpEntry) Location() Location {
	return Location{Device: e.DeviceId, Port: e.Port}
}

type GatewayCfg struct {
	Ip       netip.Addr `yaml:"ip"`
	DeviceId DeviceId   `yaml:"deviceId"`
	Port     PortNumber `yaml:"port"`
}

func (g GatewayCfg) Location() Location {
	return Location{Device: g.DeviceId, Port: g.Port}
}

// Config is the controller configuration.
type Config struct {
	AppId            string        `yaml:"appId,omitempty"`
	IntraPrefix4     netip.Prefix  `yaml:"intraPrefix4"`
	IntraPrefix6     netip.Prefix  `yaml:"intraPrefix6"`
	IntraMac         MAC           `yaml:"intraMac"` // the domain router's MAC
	BlockDeviceId    DeviceId      `yaml:"blockDeviceId,omitempty"`
	TargetDevices    []DeviceId    `yaml:"targetDevices,omitempty"` // scope of packet requests, empty means all devices
	AllowedArpPairs  []IpPair      `yaml:"allowedArpPairs,omitempty"`
	AllowedNdpPairs  []IpPair      `yaml:"allowedNdpPairs,omitempty"`
	PreAddArpEntries []ArpEntry    `yaml:"preAddArpEntries,omitempty"`
	Gateways         []GatewayCfg  `yaml:"gateways,omitempty"`
	Peers            []netip.Addr  `yaml:"peers,omitempty"`
	LogPath          string        `yaml:"logPath,omitempty"`         // if not empty, logs are also written to this file
	LearningTimeout  time.Duration `yaml:"learningTimeout,omitempty"` // lifetime of bridge learning rules
	BridgeAging      time.Duration `yaml:"bridgeAging,omitempty"`     // zero keeps bridge entries forever
	PathRecordTTL    time.Duration `yaml:"pathRecordTtl,omitempty"`   // zero keeps path records until teardown
	PrimeGateways    bool          `yaml:"primeGateways,omitempty"`
}

// DefaultConfig returns the configuration of the reference deployment.
func DefaultConfig() Config {
	dev1 := DeviceId("of:0000000000000001")
	return Config{
		AppId:         "winlab.sdnproxy",
		IntraPrefix4:  netip.MustParsePrefix("172.16.23.0/24"),
		IntraPrefix6:  netip.MustParsePrefix("2a0b:4e07:c4:23::/64"),
		IntraMac:      MustParseMAC("00:00:23:00:00:06"),
		BlockDeviceId: "of:0000d2f4d1307942",
		TargetDevices: []DeviceId{dev1, "of:0000000000000002", "of:0000d2f4d1307942"},
		AllowedArpPairs: []IpPair{
			{netip.MustParseAddr("192.168.70.253"), netip.MustParseAddr("192.168.70.23")},
			{netip.MustParseAddr("192.168.70.22"), netip.MustParseAddr("192.168.70.23")},
			{netip.MustParseAddr("192.168.70.24"), netip.MustParseAddr("192.168.70.23")},
		},
		AllowedNdpPairs: []IpPair{
			{netip.MustParseAddr("fd70::fe"), netip.MustParseAddr("fd70::23")},
			{netip.MustParseAddr("fd70::22"), netip.MustParseAddr("fd70::23")},
			{netip.MustParseAddr("fd70::24"), netip.MustParseAddr("fd70::23")},
		},
		PreAddArpEntries: []ArpEntry{
			{netip.MustParseAddr("192.168.63.1"), MustParseMAC("00:00:23:00:00:04"), dev1, 4},
			{netip.MustParseAddr("192.168.70.23"), MustParseMAC("00:00:23:00:00:05"), dev1, 5},
			{netip.MustParseAddr("fd63::1"), MustParseMAC("00:00:23:00:00:04"), dev1, 4},
			{netip.MustParseAddr("fd70::23"), MustParseMAC("00:00:23:00:00:05"), dev1, 5},
		},
		Gateways: []GatewayCfg{
			{netip.MustParseAddr("192.168.63.1"), dev1, 4},
			{netip.MustParseAddr("192.168.70.23"), dev1, 5},
			{netip.MustParseAddr("fd63::1"), dev1, 4},
			{netip.MustParseAddr("fd70::23"), dev1, 5},
		},
		Peers: []netip.Addr{
			netip.MustParseAddr("192.168.70.253"),
			netip.MustParseAddr("fd70::fe"),
			netip.MustParseAddr("192.168.70.22"),
			netip.MustParseAddr("fd70::22"),
			netip.MustParseAddr("192.168.70.24"),
			netip.MustParseAddr("fd70::24"),
			netip.MustParseAddr("192.168.63.2"),
			netip.MustParseAddr("fd63::2"),
		},
		LearningTimeout: LearningTimeout,
	}
}

// ParseConfig decodes data over DefaultConfig, so omitted keys keep their defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ReadConfig loads and validates the config at path.
func ReadConfig(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := ConfigValidator(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// IntraPrefix returns the local prefix for the family of ip.
func (c *Config) IntraPrefix(ip netip.Addr) netip.Prefix {
	if ip.Is4() {
		return c.IntraPrefix4
	}
	return c.IntraPrefix6
}

func (c *Config) GetGateway(ip netip.Addr) (GatewayCfg, bool) {
	idx := slices.IndexFunc(c.Gateways, func(g GatewayCfg) bool {
		return g.Ip == ip
	})
	if idx == -1 {
		return GatewayCfg{}, false
	}
	return c.Gateways[idx], true
}

func (c *Config) IsPeer(ip netip.Addr) bool {
	return slices.Contains(c.Peers, ip)
}
