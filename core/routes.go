package core

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/gaissmai/bart"
	"github.com/winlab/sdnproxy/state"
)

type RouteEntry struct {
	Prefix    netip.Prefix
	NextHop   netip.Addr
	Interface state.Interface
	MAC       state.MAC // next hop MAC
}

func (e RouteEntry) String() string {
	return fmt.Sprintf("%s via %s on %s (%s) mac %s", e.Prefix, e.NextHop, e.Interface.Name, e.Interface.Location, e.MAC)
}

// RouteTable resolves route updates into (interface, next hop MAC) pairs and
// answers longest prefix match queries. Prefixes are stored masked, so there
// is at most one entry per prefix.
type RouteTable struct {
	mu         sync.RWMutex
	table      bart.Table[RouteEntry]
	interfaces state.InterfaceService
	bindings   *AddressBindings
	nearest    *NearestSelector
	log        *slog.Logger
}

func NewRouteTable(interfaces state.InterfaceService, bindings *AddressBindings, nearest *NearestSelector, log *slog.Logger) *RouteTable {
	return &RouteTable{
		interfaces: interfaces,
		bindings:   bindings,
		nearest:    nearest,
		log:        log,
	}
}

// Upsert stores prefix via nextHop. It is skipped, not retried, if the
// interface or the MAC of nextHop is unknown.
func (r *RouteTable) Upsert(prefix netip.Prefix, nextHop netip.Addr) (RouteEntry, bool) {
	intf, ok := r.interfaces.MatchingInterface(nextHop)
	if !ok {
		r.log.Warn("no interface for next hop, skipping route", "prefix", prefix, "nextHop", nextHop)
		return RouteEntry{}, false
	}
	cands := r.bindings.Lookup(nextHop)
	if len(cands) == 0 {
		r.log.Warn("no MAC yet for next hop, skipping route", "prefix", prefix, "nextHop", nextHop)
		return RouteEntry{}, false
	}
	// anycast next hops resolve to the replica nearest the egress interface
	sel, _ := r.nearest.Select(intf.Location, cands)

	entry := RouteEntry{
		Prefix:    prefix.Masked(),
		NextHop:   nextHop,
		Interface: intf,
		MAC:       sel.MAC,
	}
	r.mu.Lock()
	r.table.Insert(entry.Prefix, entry)
	r.mu.Unlock()
	r.log.Info("installed route", "prefix", entry.Prefix, "nextHop", nextHop, "interface", intf.Name, "mac", sel.MAC)
	return entry, true
}

// Remove deletes the entry for prefix. Returns false if there was none.
func (r *RouteTable) Remove(prefix netip.Prefix) bool {
	prefix = prefix.Masked()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.table.Get(prefix); !ok {
		return false
	}
	r.table.Delete(prefix)
	return true
}

// Lookup returns the entry with the longest prefix containing ip.
func (r *RouteTable) Lookup(ip netip.Addr) (RouteEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.table.Lookup(ip.Unmap())
	if ok {
		r.log.Debug("lpm hit", "ip", ip, "prefix", entry.Prefix)
	} else {
		r.log.Debug("lpm miss", "ip", ip)
	}
	return entry, ok
}

func (r *RouteTable) Entries() []RouteEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RouteEntry
	for _, e := range r.table.All() {
		out = append(out, e)
	}
	return out
}
