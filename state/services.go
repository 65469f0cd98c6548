package state

import (
	"fmt"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"
)

// PacketEvent is an inbound frame punted to the controller by a device.
type PacketEvent struct {
	Ingress Location
	Frame   []byte
	handled atomic.Bool
}

func NewPacketEvent(ingress Location, frame []byte) *PacketEvent {
	return &PacketEvent{Ingress: ingress, Frame: frame}
}

// Block marks the event handled so later processors skip it.
func (e *PacketEvent) Block() {
	e.handled.Store(true)
}

func (e *PacketEvent) IsHandled() bool {
	return e.handled.Load()
}

type PacketHandler func(ev *PacketEvent)

type PacketPriority int

type PacketService interface {
	// AddHandler registers h for every inbound event. The returned func unregisters it.
	AddHandler(h PacketHandler) (remove func())
	// Emit sends a controller-built frame out of a location.
	Emit(frame []byte, out Location) error
	// Send forwards an observed frame out of a location.
	Send(frame []byte, out Location) error
	// Flood sends frame out of every port of exclude.Device except exclude.Port.
	Flood(frame []byte, exclude Location) error
	RequestPackets(m Match, prio PacketPriority, devices []DeviceId)
	CancelPackets(m Match, prio PacketPriority, devices []DeviceId)
}

// Match is a flow selector. Zero-valued fields are wildcards.
type Match struct {
	InPort     PortNumber
	EthType    uint16
	EthSrc     MAC
	EthDst     MAC
	IPProto    uint8
	IPSrc      netip.Prefix
	IPDst      netip.Prefix
	ArpSpa     netip.Addr
	ArpTpa     netip.Addr
	ICMPv6Type uint8
	NDTarget   netip.Addr
}

func (m Match) String() string {
	var parts []string
	add := func(k string, v any) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	if m.InPort != 0 {
		add("inPort", m.InPort)
	}
	if m.EthType != 0 {
		add("ethType", fmt.Sprintf("0x%04x", m.EthType))
	}
	if !m.EthSrc.IsZero() {
		add("ethSrc", m.EthSrc)
	}
	if !m.EthDst.IsZero() {
		add("ethDst", m.EthDst)
	}
	if m.IPProto != 0 {
		add("ipProto", m.IPProto)
	}
	if m.IPSrc.IsValid() {
		add("ipSrc", m.IPSrc)
	}
	if m.IPDst.IsValid() {
		add("ipDst", m.IPDst)
	}
	if m.ArpSpa.IsValid() {
		add("arpSpa", m.ArpSpa)
	}
	if m.ArpTpa.IsValid() {
		add("arpTpa", m.ArpTpa)
	}
	if m.ICMPv6Type != 0 {
		add("icmpv6Type", m.ICMPv6Type)
	}
	if m.NDTarget.IsValid() {
		add("ndTarget", m.NDTarget)
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, ",")
}

type Treatment struct {
	EthSrc MAC
	EthDst MAC
	Output PortNumber
	Drop   bool
}

func (t Treatment) WithOutput(port PortNumber) Treatment {
	t.Output = port
	return t
}

func (t Treatment) String() string {
	if t.Drop {
		return "drop"
	}
	var parts []string
	if !t.EthSrc.IsZero() {
		parts = append(parts, "ethSrc="+t.EthSrc.String())
	}
	if !t.EthDst.IsZero() {
		parts = append(parts, "ethDst="+t.EthDst.String())
	}
	parts = append(parts, "output="+t.Output.String())
	return strings.Join(parts, ",")
}

type FlowRule struct {
	Device    DeviceId
	Match     Match
	Treatment Treatment
	Priority  int
	// Timeout of zero installs a permanent rule.
	Timeout time.Duration
}

func (r FlowRule) String() string {
	s := fmt.Sprintf("%s [%s] -> [%s] prio=%d", r.Device, r.Match, r.Treatment, r.Priority)
	if r.Timeout > 0 {
		s += " timeout=" + r.Timeout.String()
	}
	return s
}

type FlowRuleService interface {
	Install(rule FlowRule) error
	Remove(rule FlowRule) error
	// Purge removes every rule this application installed on device.
	Purge(device DeviceId) error
}

type IntentKind uint8

const (
	MultiPointToSinglePoint IntentKind = iota
	SinglePointToMultiPoint
	PointToPoint
)

func (k IntentKind) String() string {
	switch k {
	case MultiPointToSinglePoint:
		return "MP2SP"
	case SinglePointToMultiPoint:
		return "SP2MP"
	case PointToPoint:
		return "P2P"
	}
	return fmt.Sprintf("IntentKind(%d)", k)
}

// Intent is a declarative connectivity request. Submitting an intent with an
// existing Key replaces it.
type Intent struct {
	Key      string
	Kind     IntentKind
	Match    Match
	Ingress  []Location
	Egress   []Location
	Priority int
}

func (i Intent) String() string {
	return fmt.Sprintf("%s %s [%s] %v -> %v prio=%d", i.Kind, i.Key, i.Match, i.Ingress, i.Egress, i.Priority)
}

type IntentService interface {
	Submit(intent Intent) error
	Withdraw(key string) error
}

type Link struct {
	Src Location `yaml:"src"`
	Dst Location `yaml:"dst"`
}

type Path struct {
	Links []Link
}

func (p Path) Hops() int {
	return len(p.Links)
}

type TopologyService interface {
	// Paths returns the known paths between two devices, best first.
	Paths(src, dst DeviceId) ([]Path, error)
}

// Interface is a configured router interface.
type Interface struct {
	Name     string         `yaml:"name"`
	Location Location       `yaml:"location"`
	MAC      MAC            `yaml:"mac"`
	IPs      []netip.Prefix `yaml:"ips"`
}

func (i Interface) Serves(ip netip.Addr) bool {
	for _, p := range i.IPs {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

type InterfaceService interface {
	MatchingInterface(ip netip.Addr) (Interface, bool)
	MatchingInterfaces(ip netip.Addr) []Interface
}

type RouteEventType uint8

const (
	RouteAdded RouteEventType = iota
	RouteUpdated
	RouteRemoved
)

func (t RouteEventType) String() string {
	switch t {
	case RouteAdded:
		return "ADDED"
	case RouteUpdated:
		return "UPDATED"
	case RouteRemoved:
		return "REMOVED"
	}
	return fmt.Sprintf("RouteEventType(%d)", t)
}

type RouteEvent struct {
	Type    RouteEventType
	Prefix  netip.Prefix
	NextHop netip.Addr
}

type RouteListener func(ev RouteEvent)

type RouteSource interface {
	AddListener(l RouteListener) (remove func())
}

// SharedStore is a map shared across controller instances. Compute must apply
// fn atomically with respect to other writers of the same key.
type SharedStore[K comparable, V any] interface {
	Get(key K) (V, bool)
	Compute(key K, fn func(old V, ok bool) V) V
	Range(fn func(key K, value V) bool)
}

// Services are the collaborators the controller is wired to.
type Services struct {
	Packets    PacketService
	Flows      FlowRuleService
	Intents    IntentService
	Topology   TopologyService
	Interfaces InterfaceService
	Routes     RouteSource
	Bindings   SharedStore[netip.Addr, BindingSet]
}
