package fabric

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/winlab/sdnproxy/state"
)

// Frame is a raw frame as recorded in an event.
type Frame []byte

func (f Frame) String() string {
	return fmt.Sprintf("frame(%d)", len(f))
}

// Event is one side effect the fabric observed.
type Event struct {
	Message string
	Args    []any
}

func MakeEvent(msg string, args ...any) Event {
	return Event{
		Message: msg,
		Args:    args,
	}
}

func (e Event) String() string {
	cur := e.Message
	for _, arg := range e.Args {
		cur += " " + fmt.Sprint(arg)
	}
	return cur
}

type Events []Event

func (e Events) String() string {
	out := make([]string, 0, len(e))
	for _, ev := range e {
		out = append(out, ev.String())
	}
	slices.Sort(out)
	return strings.Join(out, "\n")
}

// Filter returns the events with the given message.
func (e Events) Filter(msg string) Events {
	out := make(Events, 0)
	for _, ev := range e {
		if ev.Message == msg {
			out = append(out, ev)
		}
	}
	return out
}

var equateOpts = cmp.Options{
	cmpopts.EquateComparable(netip.Addr{}, netip.Prefix{}),
	cmpopts.EquateEmpty(),
}

// Contains reports whether an event with msg starts with args.
func (e Events) Contains(msg string, args ...any) bool {
	for _, event := range e {
		if event.Message != msg || len(event.Args) < len(args) {
			continue
		}
		match := true
		for i, arg := range args {
			if !cmp.Equal(event.Args[i], arg, equateOpts) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func (e Events) AssertContains(t testing.TB, msg string, args ...any) {
	t.Helper()
	if e.Contains(msg, args...) {
		return
	}
	t.Fatal("Expected event not found: ", msg, " with args: ", args, " in\n", e)
}

func (e Events) AssertNotContains(t testing.TB, msg string, args ...any) {
	t.Helper()
	if e.Contains(msg, args...) {
		t.Fatal("Unexpected event found: ", msg, " with args: ", args, " in\n", e)
	}
}

// Rules returns the rules of every INSTALL event.
func (e Events) Rules() []state.FlowRule {
	var out []state.FlowRule
	for _, ev := range e.Filter("INSTALL") {
		out = append(out, ev.Args[1].(state.FlowRule))
	}
	return out
}
