package fabric

import (
	"fmt"
	"net/netip"
	"os"
	"slices"

	"github.com/goccy/go-yaml"
	"github.com/winlab/sdnproxy/state"
)

// Paths returns the shortest path from src to dst. Among paths of equal length
// the one through the lowest links is chosen.
func (f *Fabric) Paths(src, dst state.DeviceId) ([]state.Path, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ports[src]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, src)
	}
	if _, ok := f.ports[dst]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, dst)
	}
	if src == dst {
		return nil, nil
	}

	links := slices.Clone(f.links)
	slices.SortFunc(links, func(a, b state.Link) int {
		if c := state.CompareLocation(a.Src, b.Src); c != 0 {
			return c
		}
		return state.CompareLocation(a.Dst, b.Dst)
	})

	via := map[state.DeviceId]state.Link{}
	seen := map[state.DeviceId]bool{src: true}
	queue := []state.DeviceId{src}
	for len(queue) > 0 && !seen[dst] {
		cur := queue[0]
		queue = queue[1:]
		for _, l := range links {
			if l.Src.Device != cur || seen[l.Dst.Device] {
				continue
			}
			seen[l.Dst.Device] = true
			via[l.Dst.Device] = l
			queue = append(queue, l.Dst.Device)
		}
	}
	if !seen[dst] {
		return nil, nil
	}

	var path []state.Link
	for cur := dst; cur != src; {
		l := via[cur]
		path = append(path, l)
		cur = l.Src.Device
	}
	slices.Reverse(path)
	return []state.Path{{Links: path}}, nil
}

// Topology describes a fabric in YAML.
type Topology struct {
	Devices []struct {
		Id    state.DeviceId     `yaml:"id"`
		Ports []state.PortNumber `yaml:"ports"`
	} `yaml:"devices"`
	Links      []state.Link      `yaml:"links"`
	Interfaces []state.Interface `yaml:"interfaces"`
	Routes     []struct {
		Prefix  netip.Prefix `yaml:"prefix"`
		NextHop netip.Addr   `yaml:"nextHop"`
	} `yaml:"routes"`
}

func ParseTopology(data []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	for _, d := range t.Devices {
		if err := state.DeviceIdValidator(d.Id); err != nil {
			return nil, err
		}
	}
	for _, l := range t.Links {
		if !l.Src.IsValid() || !l.Dst.IsValid() {
			return nil, fmt.Errorf("link %s - %s has an empty endpoint", l.Src, l.Dst)
		}
	}
	for _, i := range t.Interfaces {
		if !i.Location.IsValid() {
			return nil, fmt.Errorf("interface %s has no location", i.Name)
		}
	}
	return &t, nil
}

func ReadTopology(path string) (*Topology, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := ParseTopology(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return t, nil
}

// Build creates a fabric with the devices, links and interfaces of t.
func (t *Topology) Build() *Fabric {
	f := New()
	for _, d := range t.Devices {
		f.AddDevice(d.Id, d.Ports...)
	}
	for _, l := range t.Links {
		f.AddLink(l.Src, l.Dst)
	}
	for _, i := range t.Interfaces {
		f.AddInterface(i)
	}
	return f
}

// AnnounceRoutes delivers every route of t as added.
func (t *Topology) AnnounceRoutes(f *Fabric) {
	for _, r := range t.Routes {
		f.Announce(state.RouteEvent{Type: state.RouteAdded, Prefix: r.Prefix, NextHop: r.NextHop})
	}
}
