package core

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/winlab/sdnproxy/perf"
	"github.com/winlab/sdnproxy/state"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

var ErrNoPath = errors.New("no path")

type pathKey struct {
	Src netip.Addr
	Dst netip.Addr
}

func (k pathKey) String() string {
	return k.Src.String() + "->" + k.Dst.String()
}

// PathRecord is the set of rules installed for one (src, dst) pair.
type PathRecord struct {
	Src   netip.Addr
	Dst   netip.Addr
	Rules []state.FlowRule
}

// PathInstaller installs hop-by-hop rules for a (src, dst) pair at most once.
type PathInstaller struct {
	flows   state.FlowRuleService
	topo    state.TopologyService
	records *ttlcache.Cache[pathKey, PathRecord]
	group   singleflight.Group
	log     *slog.Logger

	mu      sync.Mutex
	devices map[state.DeviceId]struct{}
}

// NewPathInstaller creates an installer whose records expire after ttl, or
// never if ttl is zero.
func NewPathInstaller(flows state.FlowRuleService, topo state.TopologyService, ttl time.Duration, log *slog.Logger) *PathInstaller {
	opts := []ttlcache.Option[pathKey, PathRecord]{
		ttlcache.WithDisableTouchOnHit[pathKey, PathRecord](),
	}
	if ttl > 0 {
		opts = append(opts, ttlcache.WithTTL[pathKey, PathRecord](ttl))
	}
	return &PathInstaller{
		flows:   flows,
		topo:    topo,
		records: ttlcache.New[pathKey, PathRecord](opts...),
		log:     log,
		devices: make(map[state.DeviceId]struct{}),
	}
}

func (p *PathInstaller) IsInstalled(src, dst netip.Addr) bool {
	return p.records.Get(pathKey{src, dst}) != nil
}

// InstallIfAbsent installs the path from srcLoc to dstLoc for traffic from src
// to dst unless it is already recorded. Concurrent calls for the same pair
// share one installation. Returns true if this call installed the path.
//
// A failed hop is logged and the path is still recorded. No path leaves the
// pair unrecorded.
func (p *PathInstaller) InstallIfAbsent(src, dst netip.Addr, srcLoc, dstLoc state.Location,
	match state.Match, base state.Treatment, priority int) bool {
	key := pathKey{src, dst}
	if p.records.Get(key) != nil {
		return false
	}
	if !srcLoc.IsValid() || !dstLoc.IsValid() {
		p.log.Warn("cannot install path with null endpoints", "src", srcLoc, "dst", dstLoc)
		return false
	}

	// callers that join an in-flight installation did not install anything
	ran := false
	res, _, _ := p.group.Do(key.String(), func() (any, error) {
		ran = true
		if p.records.Get(key) != nil {
			return false, nil
		}
		rules, err := p.plan(srcLoc, dstLoc, match, base, priority)
		if err != nil {
			p.log.Warn("no available path", "src", srcLoc.Device, "dst", dstLoc.Device, "error", err)
			perf.Decision("path", "no_path")
			return false, nil
		}

		var errs error
		for _, rule := range rules {
			if err := p.flows.Install(rule); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", rule.Device, err))
			}
			p.touch(rule.Device)
		}
		if errs != nil {
			p.log.Warn("path partially installed", "flow", key, "failed", len(multierr.Errors(errs)), "of", len(rules), "error", errs)
		}
		p.records.Set(key, PathRecord{Src: src, Dst: dst, Rules: rules}, ttlcache.DefaultTTL)
		p.log.Info("installed path", "flow", key, "from", srcLoc, "to", dstLoc, "hops", len(rules))
		perf.Decision("path", "installed")
		return true, nil
	})
	return ran && res.(bool)
}

// plan builds one rule per device on the first path between the endpoints.
func (p *PathInstaller) plan(srcLoc, dstLoc state.Location, match state.Match, base state.Treatment, priority int) ([]state.FlowRule, error) {
	rule := func(dev state.DeviceId, out state.PortNumber) state.FlowRule {
		return state.FlowRule{
			Device:    dev,
			Match:     match,
			Treatment: base.WithOutput(out),
			Priority:  priority,
		}
	}
	if srcLoc.Device == dstLoc.Device {
		return []state.FlowRule{rule(dstLoc.Device, dstLoc.Port)}, nil
	}

	paths, err := p.topo.Paths(srcLoc.Device, dstLoc.Device)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 || len(paths[0].Links) == 0 {
		return nil, ErrNoPath
	}
	links := paths[0].Links
	rules := make([]state.FlowRule, 0, len(links)+1)
	rules = append(rules, rule(srcLoc.Device, links[0].Src.Port))
	for _, link := range links[1:] {
		rules = append(rules, rule(link.Src.Device, link.Src.Port))
	}
	rules = append(rules, rule(dstLoc.Device, dstLoc.Port))
	return rules, nil
}

func (p *PathInstaller) touch(dev state.DeviceId) {
	p.mu.Lock()
	p.devices[dev] = struct{}{}
	p.mu.Unlock()
}

// Devices returns every device a path rule was sent to.
func (p *PathInstaller) Devices() []state.DeviceId {
	p.mu.Lock()
	defer p.mu.Unlock()
	devs := make([]state.DeviceId, 0, len(p.devices))
	for d := range p.devices {
		devs = append(devs, d)
	}
	slices.Sort(devs)
	return devs
}

// Forget removes the record for (src, dst) and its rules, so the next packet
// installs the path again.
func (p *PathInstaller) Forget(src, dst netip.Addr) error {
	item := p.records.Get(pathKey{src, dst})
	if item == nil {
		return nil
	}
	p.records.Delete(pathKey{src, dst})
	var errs error
	for _, rule := range item.Value().Rules {
		errs = multierr.Append(errs, p.flows.Remove(rule))
	}
	return errs
}

func (p *PathInstaller) Records() []PathRecord {
	var out []PathRecord
	for _, item := range p.records.Items() {
		if !item.IsExpired() {
			out = append(out, item.Value())
		}
	}
	slices.SortFunc(out, func(a, b PathRecord) int {
		if c := a.Src.Compare(b.Src); c != 0 {
			return c
		}
		return a.Dst.Compare(b.Dst)
	})
	return out
}

func (p *PathInstaller) Gc() {
	p.records.DeleteExpired()
}

func (p *PathInstaller) Clear() {
	p.records.DeleteAll()
}
