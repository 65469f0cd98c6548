package core

import (
	"fmt"
	"slices"
	"strings"

	"github.com/winlab/sdnproxy/state"
)

func writeSection(sb *strings.Builder, title string, rows []string) {
	sb.WriteString(title + ":\n")
	if len(rows) == 0 {
		rows = append(rows, "   (none)")
	}
	sb.WriteString(strings.Join(rows, "\n") + "\n\n")
}

// Inspect renders the engine's caches and sessions as text.
func Inspect(s *state.State) string {
	e := Get[*Engine](s)
	sb := strings.Builder{}

	rows := make([]string, 0)
	for _, b := range e.bindings.All() {
		for _, bind := range b.V2 {
			rows = append(rows, fmt.Sprintf(" - %s is-at %s", b.V1, bind))
		}
	}
	writeSection(&sb, "Bindings", rows)

	rows = make([]string, 0)
	for _, be := range e.bridge.Entries() {
		rows = append(rows, fmt.Sprintf(" - %s %s port %s", be.Device, be.MAC, be.Port))
	}
	writeSection(&sb, "Bridge Table", rows)

	rows = make([]string, 0)
	for _, r := range e.routes.Entries() {
		rows = append(rows, " - "+r.String())
	}
	slices.Sort(rows)
	writeSection(&sb, "Route Table", rows)

	rows = make([]string, 0)
	for _, p := range e.paths.Records() {
		rows = append(rows, fmt.Sprintf(" - %s -> %s (%d rules)", p.Src, p.Dst, len(p.Rules)))
		for _, r := range p.Rules {
			rows = append(rows, "    - "+r.String())
		}
	}
	writeSection(&sb, "Installed Paths", rows)

	if e.gateways != nil {
		incoming, outgoing := e.gateways.Sessions()
		rows = make([]string, 0)
		for _, i := range incoming {
			rows = append(rows, " - in  "+i.String())
		}
		for _, i := range outgoing {
			rows = append(rows, " - out "+i.String())
		}
		writeSection(&sb, "Gateway Sessions", rows)
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}
