package state

import (
	"fmt"
	"net/netip"
	"regexp"
)

// onos-style "of:<16 hex>" ids, or any other scheme-prefixed id
var deviceIdRegex = regexp.MustCompile(`^[a-z][a-z0-9]*:[0-9A-Za-z:._-]+$`)

func DeviceIdValidator(id DeviceId) error {
	if !deviceIdRegex.MatchString(string(id)) {
		return fmt.Errorf("device id %q is not of the form scheme:id", id)
	}
	return nil
}

func addrValidator(ip netip.Addr, v6 bool) error {
	if !ip.IsValid() {
		return fmt.Errorf("address is not set")
	}
	if ip.Is4In6() {
		return fmt.Errorf("address %s is an IPv4-mapped IPv6 address", ip)
	}
	if ip.Is6() != v6 {
		if v6 {
			return fmt.Errorf("address %s is not an IPv6 address", ip)
		}
		return fmt.Errorf("address %s is not an IPv4 address", ip)
	}
	return nil
}

func pairValidator(pairs []IpPair, v6 bool) error {
	for _, pair := range pairs {
		if err := addrValidator(pair.SrcIp, v6); err != nil {
			return fmt.Errorf("pair %s -> %s: %w", pair.SrcIp, pair.DstIp, err)
		}
		if err := addrValidator(pair.DstIp, v6); err != nil {
			return fmt.Errorf("pair %s -> %s: %w", pair.SrcIp, pair.DstIp, err)
		}
	}
	return nil
}

func ConfigValidator(cfg *Config) error {
	if !cfg.IntraPrefix4.IsValid() || !cfg.IntraPrefix4.Addr().Is4() {
		return fmt.Errorf("intraPrefix4 %s must be an IPv4 prefix", cfg.IntraPrefix4)
	}
	if !cfg.IntraPrefix6.IsValid() || !cfg.IntraPrefix6.Addr().Is6() || cfg.IntraPrefix6.Addr().Is4In6() {
		return fmt.Errorf("intraPrefix6 %s must be an IPv6 prefix", cfg.IntraPrefix6)
	}
	if !cfg.IntraMac.IsUnicast() {
		return fmt.Errorf("intraMac %s must be a unicast address", cfg.IntraMac)
	}
	if cfg.BlockDeviceId != "" {
		if err := DeviceIdValidator(cfg.BlockDeviceId); err != nil {
			return fmt.Errorf("blockDeviceId: %w", err)
		}
	}
	for _, dev := range cfg.TargetDevices {
		if err := DeviceIdValidator(dev); err != nil {
			return fmt.Errorf("targetDevices: %w", err)
		}
	}
	if err := pairValidator(cfg.AllowedArpPairs, false); err != nil {
		return fmt.Errorf("allowedArpPairs: %w", err)
	}
	if err := pairValidator(cfg.AllowedNdpPairs, true); err != nil {
		return fmt.Errorf("allowedNdpPairs: %w", err)
	}
	for _, e := range cfg.PreAddArpEntries {
		if !e.Ip.IsValid() || e.Ip.Is4In6() {
			return fmt.Errorf("preAddArpEntries: invalid ip %s", e.Ip)
		}
		if !e.Mac.IsUnicast() {
			return fmt.Errorf("preAddArpEntries: %s has non-unicast mac %s", e.Ip, e.Mac)
		}
		if err := DeviceIdValidator(e.DeviceId); err != nil {
			return fmt.Errorf("preAddArpEntries: %s: %w", e.Ip, err)
		}
	}
	seen := make(map[netip.Addr]struct{})
	for _, g := range cfg.Gateways {
		if !g.Ip.IsValid() || g.Ip.Is4In6() {
			return fmt.Errorf("gateways: invalid ip %s", g.Ip)
		}
		if _, ok := seen[g.Ip]; ok {
			return fmt.Errorf("gateways: duplicate gateway %s", g.Ip)
		}
		seen[g.Ip] = struct{}{}
		if err := DeviceIdValidator(g.DeviceId); err != nil {
			return fmt.Errorf("gateways: %s: %w", g.Ip, err)
		}
	}
	for _, p := range cfg.Peers {
		if !p.IsValid() || p.Is4In6() {
			return fmt.Errorf("peers: invalid ip %s", p)
		}
	}
	if cfg.LearningTimeout < 0 || cfg.BridgeAging < 0 || cfg.PathRecordTTL < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}
