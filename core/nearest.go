package core

import (
	"log/slog"
	"math"
	"slices"

	"github.com/winlab/sdnproxy/state"
)

// Unreachable is the distance between devices with no path.
const Unreachable = math.MaxInt

// NearestSelector picks the binding closest to a requester by topology hop count.
type NearestSelector struct {
	topo state.TopologyService
	log  *slog.Logger
}

func NewNearestSelector(topo state.TopologyService, log *slog.Logger) *NearestSelector {
	return &NearestSelector{topo: topo, log: log}
}

// Distance is 0 on the same device, otherwise the fewest links over all known
// paths, or Unreachable.
func (n *NearestSelector) Distance(a, b state.Location) int {
	if a.Device == b.Device {
		return 0
	}
	paths, err := n.topo.Paths(a.Device, b.Device)
	if err != nil {
		n.log.Warn("topology query failed", "src", a.Device, "dst", b.Device, "error", err)
		return Unreachable
	}
	best := Unreachable
	for _, p := range paths {
		if h := p.Hops(); h > 0 && h < best {
			best = h
		}
	}
	return best
}

// Select returns the candidate with the smallest distance to requester. Ties go
// to the lowest Location, then the lowest MAC.
func (n *NearestSelector) Select(requester state.Location, candidates []state.Binding) (state.Binding, bool) {
	switch len(candidates) {
	case 0:
		return state.Binding{}, false
	case 1:
		return candidates[0], true
	}
	ordered := slices.SortedFunc(slices.Values(candidates), state.CompareBinding)

	dist := make(map[state.DeviceId]int)
	best, bestDist := ordered[0], Unreachable
	for i, c := range ordered {
		d, ok := dist[c.Location.Device]
		if !ok {
			d = n.Distance(requester, c.Location)
			dist[c.Location.Device] = d
		}
		if i == 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	n.log.Debug("selected nearest binding", "requester", requester, "mac", best.MAC, "at", best.Location, "distance", bestDist)
	return best, true
}
