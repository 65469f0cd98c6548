package state

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

type NyModule interface {
	Init(s *State) error
	Cleanup(s *State) error
}

// State access must be done only on a single Goroutine
type State struct {
	*Env
	Modules map[string]NyModule
	// Order is the order modules were initialized in.
	Order []string
}

// Env can be read from any Goroutine
type Env struct {
	DispatchChannel chan func(s *State) error
	Config
	Services
	Context  context.Context
	Cancel   context.CancelCauseFunc
	Log      *slog.Logger
	Stopping atomic.Bool
	// Tasks tracks the main loop and every repeated task.
	Tasks sync.WaitGroup
}
