package core

import (
	"net/netip"
	"slices"

	"github.com/winlab/sdnproxy/state"
)

// AddressBindings is the IP -> {MAC -> Location} cache backed by the shared
// store. Every write is a single atomic Compute, and sets only grow.
type AddressBindings struct {
	store state.SharedStore[netip.Addr, state.BindingSet]
}

func NewAddressBindings(store state.SharedStore[netip.Addr, state.BindingSet]) *AddressBindings {
	return &AddressBindings{store: store}
}

// Lookup returns the bindings of ip ordered by Location, then MAC.
func (b *AddressBindings) Lookup(ip netip.Addr) []state.Binding {
	set, ok := b.store.Get(ip.Unmap())
	if !ok {
		return nil
	}
	return set.Bindings()
}

// Has reports whether mac is bound to ip.
func (b *AddressBindings) Has(ip netip.Addr, mac state.MAC) bool {
	set, ok := b.store.Get(ip.Unmap())
	if !ok {
		return false
	}
	_, ok = set[mac]
	return ok
}

// MergeInsert binds mac to ip at loc, replacing the location of an existing
// binding for the same MAC. Returns true if the set changed.
func (b *AddressBindings) MergeInsert(ip netip.Addr, mac state.MAC, loc state.Location) bool {
	changed := false
	b.store.Compute(ip.Unmap(), func(old state.BindingSet, ok bool) state.BindingSet {
		if cur, found := old[mac]; found && cur == loc {
			return old
		}
		changed = true
		return old.With(mac, loc)
	})
	return changed
}

// Learn binds mac to ip at loc only if mac is not yet bound to ip.
// Returns true if a binding was added.
func (b *AddressBindings) Learn(ip netip.Addr, mac state.MAC, loc state.Location) bool {
	if b.Has(ip, mac) {
		return false
	}
	added := false
	b.store.Compute(ip.Unmap(), func(old state.BindingSet, ok bool) state.BindingSet {
		if _, found := old[mac]; found {
			return old
		}
		added = true
		return old.With(mac, loc)
	})
	return added
}

// All returns every bound address in order.
func (b *AddressBindings) All() []state.Pair[netip.Addr, []state.Binding] {
	var out []state.Pair[netip.Addr, []state.Binding]
	b.store.Range(func(ip netip.Addr, set state.BindingSet) bool {
		out = append(out, state.Pair[netip.Addr, []state.Binding]{V1: ip, V2: set.Bindings()})
		return true
	})
	slices.SortFunc(out, func(a, b state.Pair[netip.Addr, []state.Binding]) int {
		return a.V1.Compare(b.V1)
	})
	return out
}
