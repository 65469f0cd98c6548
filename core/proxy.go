package core

import (
	"slices"

	"github.com/winlab/sdnproxy/perf"
	"github.com/winlab/sdnproxy/state"
)

func decisionKind(pkt *Packet) string {
	switch pkt.Kind {
	case KindArpRequest, KindArpReply:
		return "arp"
	case KindNdpSolicitation, KindNdpAdvertisement:
		return "ndp"
	}
	return pkt.Kind.String()
}

// resolve answers a solicitation for pkt.TargetIP.
func (e *Engine) resolve(ev *state.PacketEvent, pkt *Packet) {
	log := e.log.With("kind", pkt.Kind, "src", pkt.SrcIP, "target", pkt.TargetIP, "ingress", ev.Ingress)
	cands := e.bindings.Lookup(pkt.TargetIP)
	if len(cands) == 0 {
		log.Debug("no binding for target, flooding")
		e.flood(ev, pkt)
		return
	}
	// a host checking its own address for conflicts is never answered for
	if slices.ContainsFunc(cands, func(b state.Binding) bool { return b.MAC == pkt.SrcMAC }) {
		log.Debug("solicitor owns the target, flooding", "mac", pkt.SrcMAC)
		e.flood(ev, pkt)
		return
	}
	sel, _ := e.nearest.Select(ev.Ingress, cands)

	if e.domain.Local(pkt.SrcIP, pkt.TargetIP) && sel.MAC != e.cfg.IntraMac {
		log.Debug("bridging solicitation", "mac", sel.MAC)
		e.bridgeForward(ev, pkt, sel.MAC)
		return
	}

	var (
		reply []byte
		err   error
	)
	if pkt.Kind == KindArpRequest {
		reply, err = BuildArpReply(pkt, sel.MAC)
	} else {
		reply, err = BuildNeighborAdvertisement(pkt, sel.MAC)
	}
	if err != nil {
		log.Warn("failed to build proxy reply", "error", err)
		return
	}
	if err := e.svc.Packets.Emit(reply, ev.Ingress); err != nil {
		log.Warn("failed to emit proxy reply", "error", err)
		return
	}
	log.Info("proxy reply", "mac", sel.MAC)
	perf.Decision(decisionKind(pkt), "proxy_reply")
}

// forwardReply bridges a reply or advertisement toward its destination MAC.
// A reply from an anycast replica other than the one nearest to the
// destination is dropped.
func (e *Engine) forwardReply(ev *state.PacketEvent, pkt *Packet) {
	log := e.log.With("kind", pkt.Kind, "src", pkt.SrcIP, "dst", pkt.DstIP, "ingress", ev.Ingress)
	if e.suppressed(pkt) {
		log.Info("dropping reply from non-nearest anycast replica", "mac", pkt.SrcMAC)
		perf.Decision(decisionKind(pkt), "anycast_drop")
		ev.Block()
		return
	}
	if !e.domain.Local(pkt.SrcIP, pkt.DstIP) {
		e.flood(ev, pkt)
		return
	}
	e.bridgeForward(ev, pkt, pkt.DstMAC)
}

func (e *Engine) suppressed(pkt *Packet) bool {
	replicas := e.bindings.Lookup(pkt.SrcIP)
	if len(replicas) < 2 {
		return false
	}
	owners := e.bindings.Lookup(pkt.DstIP)
	if len(owners) == 0 {
		return false
	}
	owner := owners[0]
	for _, o := range owners {
		if o.MAC == pkt.DstMAC {
			owner = o
			break
		}
	}
	nearest, _ := e.nearest.Select(owner.Location, replicas)
	return nearest.MAC != pkt.SrcMAC
}

// bridgeForward sends the frame to the port dst was learned on and installs
// learning rules in both directions. A bridge miss floods.
func (e *Engine) bridgeForward(ev *state.PacketEvent, pkt *Packet, dst state.MAC) {
	dev := ev.Ingress.Device
	port, ok := e.bridge.Lookup(dev, dst)
	if !ok {
		e.log.Debug("bridge miss, flooding", "device", dev, "mac", dst)
		e.flood(ev, pkt)
		return
	}
	out := state.Location{Device: dev, Port: port}
	if err := e.svc.Packets.Send(pkt.Raw, out); err != nil {
		e.log.Warn("failed to forward frame", "out", out, "error", err)
		return
	}
	ev.Block()
	perf.Decision(decisionKind(pkt), "bridge")

	timeout := e.cfg.LearningTimeout
	rules := []state.FlowRule{
		{
			Device:    dev,
			Match:     state.Match{EthSrc: pkt.SrcMAC, EthDst: dst},
			Treatment: state.Treatment{Output: port},
			Priority:  state.LearningPriority,
			Timeout:   timeout,
		},
		{
			Device:    dev,
			Match:     state.Match{EthSrc: dst, EthDst: pkt.SrcMAC},
			Treatment: state.Treatment{Output: ev.Ingress.Port},
			Priority:  state.LearningPriority,
			Timeout:   timeout,
		},
	}
	for _, r := range rules {
		if err := e.svc.Flows.Install(r); err != nil {
			e.log.Warn("failed to install learning rule", "rule", r, "error", err)
		}
	}
	e.log.Info("installed learning rules", "device", dev, "src", pkt.SrcMAC, "dst", dst, "out", port, "in", ev.Ingress.Port)
}

func (e *Engine) flood(ev *state.PacketEvent, pkt *Packet) {
	if err := e.svc.Packets.Flood(pkt.Raw, ev.Ingress); err != nil {
		e.log.Warn("failed to flood frame", "ingress", ev.Ingress, "error", err)
		return
	}
	ev.Block()
	perf.Decision(decisionKind(pkt), "flood")
}
