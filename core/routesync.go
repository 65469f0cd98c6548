package core

import (
	"log/slog"
	"net/netip"

	"github.com/gopacket/gopacket/layers"
	"github.com/winlab/sdnproxy/state"
)

// RouteSync applies route updates to the engine's route table on the main loop.
type RouteSync struct {
	log      *slog.Logger
	remove   func()
	requests map[netip.Prefix]packetRequest
}

func (r *RouteSync) Init(s *state.State) error {
	r.log = s.Log.WithGroup("routesync")
	r.requests = make(map[netip.Prefix]packetRequest)
	if s.Routes == nil {
		r.log.Warn("no route source, routes will not be learned")
		return nil
	}
	r.remove = s.Routes.AddListener(func(ev state.RouteEvent) {
		s.Dispatch(func(s *state.State) error {
			r.apply(s, ev)
			return nil
		})
	})
	return nil
}

func (r *RouteSync) apply(s *state.State, ev state.RouteEvent) {
	routes := Get[*Engine](s).Routes()
	prefix := ev.Prefix.Masked()
	switch ev.Type {
	case state.RouteAdded, state.RouteUpdated:
		if _, ok := routes.Upsert(prefix, ev.NextHop); !ok {
			return
		}
		if _, ok := r.requests[prefix]; ok {
			return
		}
		m := state.Match{EthType: uint16(layers.EthernetTypeIPv4), IPDst: prefix}
		if prefix.Addr().Is6() {
			m.EthType = uint16(layers.EthernetTypeIPv6)
		}
		req := packetRequest{m, state.RequestPriorityHigh3}
		s.Packets.RequestPackets(req.Match, req.Priority, s.TargetDevices)
		r.requests[prefix] = req
	case state.RouteRemoved:
		if routes.Remove(prefix) {
			r.log.Info("withdrew route", "prefix", prefix, "nextHop", ev.NextHop)
		}
		if req, ok := r.requests[prefix]; ok {
			s.Packets.CancelPackets(req.Match, req.Priority, s.TargetDevices)
			delete(r.requests, prefix)
		}
	}
}

func (r *RouteSync) Cleanup(s *state.State) error {
	if r.remove != nil {
		r.remove()
		r.remove = nil
	}
	for prefix, req := range r.requests {
		s.Packets.CancelPackets(req.Match, req.Priority, s.TargetDevices)
		delete(r.requests, prefix)
	}
	return nil
}
