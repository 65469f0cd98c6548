package core

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/winlab/sdnproxy/perf"
	"github.com/winlab/sdnproxy/state"
	"go.uber.org/multierr"
)

// Engine decides what to do with every punted frame.
type Engine struct {
	cfg      *state.Config
	svc      state.Services
	log      *slog.Logger
	domain   *Domain
	bindings *AddressBindings
	bridge   *BridgeTable
	nearest  *NearestSelector
	routes   *RouteTable
	paths    *PathInstaller
	resolver *DirectionResolver
	gateways *GatewaySessions

	removeHandler func()
}

func (e *Engine) Init(s *state.State) error {
	if s.Packets == nil || s.Flows == nil || s.Topology == nil || s.Interfaces == nil || s.Bindings == nil {
		return errors.New("engine: missing collaborator")
	}
	e.cfg = &s.Config
	e.svc = s.Services
	e.log = s.Log.WithGroup("engine")

	domain, err := NewDomain(s.IntraPrefix4, s.IntraPrefix6)
	if err != nil {
		return err
	}
	e.domain = domain
	e.bindings = NewAddressBindings(s.Bindings)
	e.bridge = NewBridgeTable(s.BridgeAging)
	e.nearest = NewNearestSelector(s.Topology, s.Log.WithGroup("nearest"))
	e.routes = NewRouteTable(s.Interfaces, e.bindings, e.nearest, s.Log.WithGroup("routes"))
	e.paths = NewPathInstaller(s.Flows, s.Topology, s.PathRecordTTL, s.Log.WithGroup("path"))
	e.resolver = &DirectionResolver{
		domain:    domain,
		routes:    e.routes,
		bindings:  e.bindings,
		nearest:   e.nearest,
		installer: e.paths,
		intraMac:  s.IntraMac,
		log:       s.Log.WithGroup("direction"),
	}
	if s.Intents != nil {
		e.gateways = NewGatewaySessions(&s.Config, s.Interfaces, s.Intents, s.Log.WithGroup("gateway"))
		if s.PrimeGateways {
			e.gateways.Prime()
		}
	}

	e.removeHandler = s.Packets.AddHandler(e.Handle)
	s.RepeatTask(e.gc, state.GcDelay)
	return nil
}

func (e *Engine) gc(s *state.State) error {
	e.bridge.Gc()
	e.paths.Gc()
	if state.DBG_log_tables {
		s.Log.Debug("tables\n" + Inspect(s))
	}
	return nil
}

// Handle processes one inbound event. It never fails; unusable events are
// logged and dropped.
func (e *Engine) Handle(ev *state.PacketEvent) {
	if ev == nil || ev.IsHandled() {
		return
	}
	if !ev.Ingress.IsValid() {
		e.log.Warn("dropping event without ingress location")
		return
	}
	pkt, err := ParsePacket(ev.Frame)
	if err != nil {
		e.log.Debug("dropping malformed frame", "ingress", ev.Ingress, "error", err)
		perf.Decision("frame", "malformed")
		return
	}
	if pkt.Kind == KindUnknown {
		return
	}
	start := time.Now()
	defer func() {
		perf.HandleLatency.Add(float64(time.Since(start).Microseconds()))
	}()
	if state.DBG_log_packets {
		e.log.Debug("packet", "ingress", ev.Ingress, "packet", pkt)
	}

	switch pkt.Kind {
	case KindArpRequest, KindNdpSolicitation:
		e.learn(ev, pkt, true)
		e.resolve(ev, pkt)
	case KindArpReply, KindNdpAdvertisement:
		e.learn(ev, pkt, true)
		e.forwardReply(ev, pkt)
	case KindBgpControl:
		e.learn(ev, pkt, e.trustedSource(pkt.SrcIP))
		if e.gateways != nil && e.gateways.Handle(ev, pkt) {
			ev.Block()
		}
	case KindIpv4Data, KindIpv6Data:
		e.learn(ev, pkt, e.trustedSource(pkt.SrcIP))
		e.resolver.Process(ev, pkt)
	}
}

// trustedSource reports whether a data frame's source address may be bound
// to its source MAC. Routed frames carry the router's MAC, not the sender's.
func (e *Engine) trustedSource(ip netip.Addr) bool {
	if e.domain.Contains(ip) || e.cfg.IsPeer(ip) {
		return true
	}
	_, ok := e.cfg.GetGateway(ip)
	return ok
}

// learn records the sender in the bridge table and, if bind is set, in the
// address bindings.
func (e *Engine) learn(ev *state.PacketEvent, pkt *Packet, bind bool) {
	if !pkt.SrcMAC.IsUnicast() {
		return
	}
	if e.bridge.Learn(ev.Ingress.Device, pkt.SrcMAC, ev.Ingress.Port) {
		e.log.Debug("learned bridge entry", "device", ev.Ingress.Device, "mac", pkt.SrcMAC, "port", ev.Ingress.Port)
	}
	if !bind || !pkt.SrcIP.IsValid() || pkt.SrcIP.IsUnspecified() || pkt.SrcIP.IsMulticast() {
		return
	}
	if e.bindings.Learn(pkt.SrcIP, pkt.SrcMAC, ev.Ingress) {
		e.log.Info("learned binding", "ip", pkt.SrcIP, "mac", pkt.SrcMAC, "at", ev.Ingress)
	}
}

func (e *Engine) Bindings() *AddressBindings { return e.bindings }
func (e *Engine) Bridge() *BridgeTable { return e.bridge }
func (e *Engine) Nearest() *NearestSelector { return e.nearest }
func (e *Engine) Routes() *RouteTable { return e.routes }
func (e *Engine) Paths() *PathInstaller { return e.paths }
func (e *Engine) Domain() *Domain { return e.domain }
func (e *Engine) Resolver() *DirectionResolver { return e.resolver }
func (e *Engine) Gateways() *GatewaySessions { return e.gateways }

// ForgetPath tears down the path installed for (src, dst).
func (e *Engine) ForgetPath(src, dst netip.Addr) error {
	return e.paths.Forget(src, dst)
}

func (e *Engine) Cleanup(s *state.State) error {
	if e.removeHandler != nil {
		e.removeHandler()
		e.removeHandler = nil
	}
	if e.bridge == nil {
		return nil
	}
	var errs error
	var devices []state.DeviceId
	if e.gateways != nil {
		errs = multierr.Append(errs, e.gateways.WithdrawAll())
		devices = append(devices, e.gateways.Devices()...)
	}
	devices = append(devices, e.bridge.Devices()...)
	devices = append(devices, e.paths.Devices()...)
	purged := make(map[state.DeviceId]bool)
	for _, dev := range devices {
		if purged[dev] {
			continue
		}
		purged[dev] = true
		if err := s.Flows.Purge(dev); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("purging %s: %w", dev, err))
		}
	}
	e.paths.Clear()
	return errs
}
