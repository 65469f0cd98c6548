package state

import (
	"cmp"
	"fmt"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
)

// DeviceId identifies a network device, e.g. "of:0000000000000001".
type DeviceId string

type PortNumber uint32

const (
	PortFlood      PortNumber = 0xfffffffb
	PortController PortNumber = 0xfffffffd
)

func (p PortNumber) String() string {
	switch p {
	case PortFlood:
		return "FLOOD"
	case PortController:
		return "CONTROLLER"
	}
	return strconv.FormatUint(uint64(p), 10)
}

// Location is a (device, port) pair where a frame was observed or must be sent.
type Location struct {
	Device DeviceId   `yaml:"deviceId"`
	Port   PortNumber `yaml:"port"`
}

func (l Location) IsValid() bool {
	return l.Device != ""
}

func (l Location) String() string {
	return fmt.Sprintf("%s/%s", l.Device, l.Port)
}

// CompareLocation orders by device id, then port.
func CompareLocation(a, b Location) int {
	return cmp.Or(
		strings.Compare(string(a.Device), string(b.Device)),
		cmp.Compare(a.Port, b.Port),
	)
}

type MAC [6]byte

var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, err
	}
	if len(hw) != 6 {
		return MAC{}, fmt.Errorf("%q is not an EUI-48 address", s)
	}
	return MAC(hw), nil
}

func MustParseMAC(s string) MAC {
	m, err := ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MACFromBytes returns false unless b holds exactly six bytes.
func MACFromBytes(b []byte) (MAC, bool) {
	if len(b) != 6 {
		return MAC{}, false
	}
	return MAC(b), true
}

func (m MAC) IsZero() bool {
	return m == MAC{}
}

// IsUnicast reports whether m is a non-zero individual address.
func (m MAC) IsUnicast() bool {
	return !m.IsZero() && m[0]&0x01 == 0
}

func (m MAC) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(m[:])
}

func (m MAC) String() string {
	return m.HardwareAddr().String()
}

// Binding is one (MAC, Location) entry learned for an IP address.
type Binding struct {
	MAC      MAC
	Location Location
}

func (b Binding) String() string {
	return fmt.Sprintf("%s@%s", b.MAC, b.Location)
}

func CompareBinding(a, b Binding) int {
	return cmp.Or(
		CompareLocation(a.Location, b.Location),
		slices.Compare(a.MAC[:], b.MAC[:]),
	)
}

// BindingSet is the value stored per IP address. It must be treated as
// immutable once published to a store; use With to derive a new set.
type BindingSet map[MAC]Location

func (s BindingSet) With(mac MAC, loc Location) BindingSet {
	n := make(BindingSet, len(s)+1)
	maps.Copy(n, s)
	n[mac] = loc
	return n
}

// Bindings returns the entries ordered by CompareBinding.
func (s BindingSet) Bindings() []Binding {
	out := make([]Binding, 0, len(s))
	for mac, loc := range s {
		out = append(out, Binding{MAC: mac, Location: loc})
	}
	slices.SortFunc(out, CompareBinding)
	return out
}
