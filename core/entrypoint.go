package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"reflect"
	"runtime"
	"time"

	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
	"github.com/winlab/sdnproxy/perf"
	"github.com/winlab/sdnproxy/state"
	"go.uber.org/multierr"
)

// NewLogger builds the console logger, teeing into logPath when it is set.
// The returned closer releases the log file.
func NewLogger(w io.Writer, level slog.Level, prefix, logPath string) (*slog.Logger, io.Closer, error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(w, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: prefix,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	var closer io.Closer = io.NopCloser(nil)
	if logPath != "" {
		err := os.MkdirAll(path.Dir(logPath), 0700)
		if err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
		closer = f
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// Start initializes every module against svc and runs the main loop in the
// background. The returned state must be released with Stop.
func Start(cfg state.Config, svc state.Services, logger *slog.Logger) (*state.State, error) {
	if err := state.ConfigValidator(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	dispatch := make(chan func(env *state.State) error, state.DispatchQueueSize)

	s := &state.State{
		Modules: make(map[string]state.NyModule),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: dispatch,
			Config:          cfg,
			Services:        svc,
			Log:             logger,
		},
	}

	s.Log.Info("init modules")
	if err := initModules(s); err != nil {
		return nil, errors.Join(err, Stop(s))
	}
	s.Log.Info("init modules complete", "app", cfg.AppId)

	s.Tasks.Go(func() {
		MainLoop(s, dispatch)
	})
	return s, nil
}

func initModules(s *state.State) error {
	var modules []state.NyModule
	modules = append(modules, &Engine{})
	modules = append(modules, &IngressGuard{})
	modules = append(modules, &RouteSync{})

	for _, module := range modules {
		name := reflect.TypeOf(module).String()
		s.Modules[name] = module
		s.Order = append(s.Order, name)
		if err := module.Init(s); err != nil {
			return fmt.Errorf("init %s: %w", name, err)
		}
	}
	return nil
}

func runDispatch(s *state.State, fun func(*state.State) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during dispatch: %v", r)
		}
	}()
	return fun(s)
}

// MainLoop runs dispatched functions one at a time until the context is done.
func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) {
	s.Log.Debug("started main loop")
	for {
		select {
		case fun := <-dispatch:
			if fun == nil {
				continue
			}
			start := time.Now()
			err := runDispatch(s, fun)
			if err != nil {
				s.Log.Error("error occurred during dispatch: ", "error", err)
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
			if elapsed > state.DispatchWarnThreshold {
				s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", len(dispatch))
			}
		case <-s.Context.Done():
			s.Log.Info("stopped main loop", "reason", context.Cause(s.Context).Error())
			return
		}
	}
}

// Stop cancels the main loop, waits for background tasks and cleans up modules
// in reverse order of initialization. It is safe to call more than once.
func Stop(s *state.State) error {
	if s.Stopping.Swap(true) {
		return nil
	}
	s.Cancel(context.Canceled)
	s.Tasks.Wait()

	s.Log.Info("cleaning up modules")
	var errs error
	for i := len(s.Order) - 1; i >= 0; i-- {
		name := s.Order[i]
		if err := s.Modules[name].Cleanup(s); err != nil {
			s.Log.Error("error occurred during Stop: ", "module", name, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	s.Log.Info("stopped")
	return errs
}
