// Package fabric is an in-memory network that implements every collaborator
// the controller needs and records what the controller asks of it.
package fabric

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"sync"

	"github.com/winlab/sdnproxy/state"
	"github.com/winlab/sdnproxy/store"
)

var ErrUnknownDevice = errors.New("unknown device")

type handlerEntry struct {
	id int
	fn state.PacketHandler
}

type Fabric struct {
	mu         sync.Mutex
	ports      map[state.DeviceId][]state.PortNumber
	links      []state.Link
	interfaces []state.Interface

	handlers []handlerEntry
	nextId   int

	flows      map[state.DeviceId][]state.FlowRule
	intents    map[string]state.Intent
	failOn     map[state.DeviceId]error
	bindings   *store.Map[netip.Addr, state.BindingSet]
	events     Events
	routeFuncs map[int]state.RouteListener
}

func New() *Fabric {
	return &Fabric{
		ports:      make(map[state.DeviceId][]state.PortNumber),
		flows:      make(map[state.DeviceId][]state.FlowRule),
		intents:    make(map[string]state.Intent),
		failOn:     make(map[state.DeviceId]error),
		bindings:   store.New[netip.Addr, state.BindingSet](),
		routeFuncs: make(map[int]state.RouteListener),
	}
}

// Services wires the fabric as every collaborator.
func (f *Fabric) Services() state.Services {
	return state.Services{
		Packets:    f,
		Flows:      f,
		Intents:    f,
		Topology:   f,
		Interfaces: f,
		Routes:     f,
		Bindings:   f.bindings,
	}
}

func (f *Fabric) record(msg string, args ...any) {
	f.events = append(f.events, MakeEvent(msg, args...))
}

// AddDevice adds a device with the given ports.
func (f *Fabric) AddDevice(dev state.DeviceId, ports ...state.PortNumber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ports[dev]; !ok {
		f.ports[dev] = make([]state.PortNumber, 0, len(ports))
	}
	for _, p := range ports {
		if !slices.Contains(f.ports[dev], p) {
			f.ports[dev] = append(f.ports[dev], p)
		}
	}
	slices.Sort(f.ports[dev])
}

// AddLink connects a and b in both directions.
func (f *Fabric) AddLink(a, b state.Location) {
	f.AddDevice(a.Device, a.Port)
	f.AddDevice(b.Device, b.Port)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, state.Link{Src: a, Dst: b}, state.Link{Src: b, Dst: a})
}

func (f *Fabric) AddInterface(intf state.Interface) {
	f.AddDevice(intf.Location.Device, intf.Location.Port)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interfaces = append(f.interfaces, intf)
}

// FailInstallOn makes every Install on dev fail with err.
func (f *Fabric) FailInstallOn(dev state.DeviceId, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failOn, dev)
		return
	}
	f.failOn[dev] = err
}

// Actions returns and clears the recorded events.
func (f *Fabric) Actions() Events {
	f.mu.Lock()
	defer f.mu.Unlock()
	x := f.events
	f.events = make(Events, 0)
	return x
}

// Inject delivers frame as if punted by the device at loc, and returns the
// event after every handler has seen it.
func (f *Fabric) Inject(loc state.Location, frame []byte) *state.PacketEvent {
	f.mu.Lock()
	handlers := slices.Clone(f.handlers)
	f.mu.Unlock()

	ev := state.NewPacketEvent(loc, frame)
	for _, h := range handlers {
		h.fn(ev)
	}
	return ev
}

func (f *Fabric) AddHandler(h state.PacketHandler) (remove func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextId
	f.nextId++
	f.handlers = append(f.handlers, handlerEntry{id, h})
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handlers = slices.DeleteFunc(f.handlers, func(e handlerEntry) bool {
			return e.id == id
		})
	}
}

// Handlers returns the number of registered packet handlers.
func (f *Fabric) Handlers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *Fabric) checkPort(loc state.Location) error {
	if _, ok := f.ports[loc.Device]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, loc.Device)
	}
	return nil
}

func (f *Fabric) Emit(frame []byte, out state.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkPort(out); err != nil {
		return err
	}
	f.record("EMIT", out, Frame(frame))
	return nil
}

func (f *Fabric) Send(frame []byte, out state.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkPort(out); err != nil {
		return err
	}
	f.record("SEND", out, Frame(frame))
	return nil
}

// Flood records the ports of exclude.Device the frame leaves on.
func (f *Fabric) Flood(frame []byte, exclude state.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkPort(exclude); err != nil {
		return err
	}
	out := make([]state.PortNumber, 0)
	for _, p := range f.ports[exclude.Device] {
		if p != exclude.Port {
			out = append(out, p)
		}
	}
	f.record("FLOOD", exclude, out, Frame(frame))
	return nil
}

func (f *Fabric) RequestPackets(m state.Match, prio state.PacketPriority, devices []state.DeviceId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("REQUEST", m, prio)
}

func (f *Fabric) CancelPackets(m state.Match, prio state.PacketPriority, devices []state.DeviceId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CANCEL", m, prio)
}

func (f *Fabric) Install(rule state.FlowRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn[rule.Device]; ok {
		return err
	}
	f.flows[rule.Device] = append(f.flows[rule.Device], rule)
	f.record("INSTALL", rule.Device, rule)
	return nil
}

func (f *Fabric) Remove(rule state.FlowRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flows[rule.Device] = slices.DeleteFunc(f.flows[rule.Device], func(r state.FlowRule) bool {
		return r == rule
	})
	f.record("REMOVE", rule.Device, rule)
	return nil
}

func (f *Fabric) Purge(dev state.DeviceId) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.flows, dev)
	f.record("PURGE", dev)
	return nil
}

// Flows returns the rules currently installed on dev.
func (f *Fabric) Flows(dev state.DeviceId) []state.FlowRule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.flows[dev])
}

func (f *Fabric) Submit(intent state.Intent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[intent.Key] = intent
	f.record("SUBMIT", intent.Kind, intent.Match, intent.Ingress, intent.Egress)
	return nil
}

func (f *Fabric) Withdraw(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[key]
	if !ok {
		return fmt.Errorf("unknown intent %s", key)
	}
	delete(f.intents, key)
	f.record("WITHDRAW", intent.Kind, intent.Match)
	return nil
}

// Intents returns the submitted intents that are not withdrawn.
func (f *Fabric) Intents() []state.Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]state.Intent, 0, len(f.intents))
	for _, i := range f.intents {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b state.Intent) int {
		if a.Kind != b.Kind {
			return int(a.Kind) - int(b.Kind)
		}
		return strings.Compare(a.Match.String(), b.Match.String())
	})
	return out
}

func (f *Fabric) MatchingInterface(ip netip.Addr) (state.Interface, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, intf := range f.interfaces {
		if intf.Serves(ip) {
			return intf, true
		}
	}
	return state.Interface{}, false
}

func (f *Fabric) MatchingInterfaces(ip netip.Addr) []state.Interface {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []state.Interface
	for _, intf := range f.interfaces {
		if intf.Serves(ip) {
			out = append(out, intf)
		}
	}
	return out
}

func (f *Fabric) AddListener(l state.RouteListener) (remove func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextId
	f.nextId++
	f.routeFuncs[id] = l
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.routeFuncs, id)
	}
}

// Listeners returns the number of registered route listeners.
func (f *Fabric) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.routeFuncs)
}

// Announce delivers a route event to every listener.
func (f *Fabric) Announce(ev state.RouteEvent) {
	f.mu.Lock()
	ls := make([]state.RouteListener, 0, len(f.routeFuncs))
	for _, l := range f.routeFuncs {
		ls = append(ls, l)
	}
	f.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}
