package core

import (
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/winlab/sdnproxy/state"
)

type bridgeKey struct {
	Device state.DeviceId
	MAC    state.MAC
}

type BridgeEntry struct {
	Device state.DeviceId
	MAC    state.MAC
	Port   state.PortNumber
}

// BridgeTable is the per-device MAC -> port cache. The first port learned for
// a (device, MAC) wins until the entry ages out.
type BridgeTable struct {
	entries *ttlcache.Cache[bridgeKey, state.PortNumber]
}

// NewBridgeTable creates a table whose entries expire after aging, or never if
// aging is zero.
func NewBridgeTable(aging time.Duration) *BridgeTable {
	opts := []ttlcache.Option[bridgeKey, state.PortNumber]{
		ttlcache.WithDisableTouchOnHit[bridgeKey, state.PortNumber](),
	}
	if aging > 0 {
		opts = append(opts, ttlcache.WithTTL[bridgeKey, state.PortNumber](aging))
	}
	return &BridgeTable{entries: ttlcache.New[bridgeKey, state.PortNumber](opts...)}
}

// Learn records port for (device, mac) unless an entry exists. Returns true if
// the entry was created.
func (b *BridgeTable) Learn(device state.DeviceId, mac state.MAC, port state.PortNumber) bool {
	_, found := b.entries.GetOrSet(bridgeKey{device, mac}, port)
	return !found
}

func (b *BridgeTable) Lookup(device state.DeviceId, mac state.MAC) (state.PortNumber, bool) {
	item := b.entries.Get(bridgeKey{device, mac})
	if item == nil {
		return 0, false
	}
	return item.Value(), true
}

// Devices returns every device with at least one entry.
func (b *BridgeTable) Devices() []state.DeviceId {
	var devs []state.DeviceId
	for _, k := range b.entries.Keys() {
		if !slices.Contains(devs, k.Device) {
			devs = append(devs, k.Device)
		}
	}
	slices.Sort(devs)
	return devs
}

func (b *BridgeTable) Entries() []BridgeEntry {
	var out []BridgeEntry
	for k, item := range b.entries.Items() {
		if item.IsExpired() {
			continue
		}
		out = append(out, BridgeEntry{Device: k.Device, MAC: k.MAC, Port: item.Value()})
	}
	slices.SortFunc(out, func(a, b BridgeEntry) int {
		return state.CompareBinding(
			state.Binding{MAC: a.MAC, Location: state.Location{Device: a.Device}},
			state.Binding{MAC: b.MAC, Location: state.Location{Device: b.Device}},
		)
	})
	return out
}

func (b *BridgeTable) Gc() {
	b.entries.DeleteExpired()
}
