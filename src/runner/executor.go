package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/sofmeright/dockrun/src/build"
	"github.com/sofmeright/dockrun/src/pipeline"
	"github.com/sofmeright/dockrun/src/template"
)

// PhaseResult is the outcome of one phase.
type PhaseResult struct {
	Phase    pipeline.Phase
	State    PhaseState
	Log      []build.Result // in execution order, up to and including the failure
	Plugin   string         // failing plugin, if any
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Failed reports whether the phase ended in PhaseFailed.
func (r *PhaseResult) Failed() bool { return r.State == PhaseFailed }

func (r *PhaseResult) transition(to PhaseState) {
	next, err := TransitionPhase(r.State, to)
	if err != nil {
		panic(fmt.Sprintf("runner: %s phase: %v", r.Phase, err))
	}
	r.State = next
}

// Executor runs the plugins of one phase in order against a build context.
type Executor struct {
	registry *build.Registry
	logger   *slog.Logger
	observer Observer
}

// NewExecutor returns an executor that resolves plugins in reg.
func NewExecutor(reg *build.Registry, logger *slog.Logger, obs Observer) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Executor{registry: reg, logger: logger, observer: obs}
}

// Execute runs plugins in order and stops at the first failure. Template
// tokens of every plugin are resolved before the first plugin runs, so an
// unresolved token fails the phase without side effects.
func (e *Executor) Execute(ctx context.Context, phase pipeline.Phase, plugins []pipeline.PluginSpec,
	bc *build.Context, params template.Params) *PhaseResult {

	res := &PhaseResult{Phase: phase, Started: time.Now()}
	res.transition(PhaseRunning)
	e.observer.PhaseStarted(phase, len(plugins))
	log := e.logger.With("phase", phase.String())
	log.Debug("phase started", "plugins", len(plugins))

	defer func() {
		res.Duration = time.Since(res.Started)
		e.observer.PhaseFinished(res)
		if res.Failed() {
			log.Error("phase failed", "plugin", res.Plugin, "error", res.Err, "duration", res.Duration)
		} else {
			log.Debug("phase completed", "duration", res.Duration)
		}
	}()

	resolved := make([]*pipeline.Map, len(plugins))
	for i, spec := range plugins {
		args, err := template.Resolve(spec.Name, spec.Args, params)
		if err != nil {
			var terr *template.Error
			if errors.As(err, &terr) {
				terr.Phase = phase
			}
			e.fail(res, build.Result{Phase: phase, Index: i, Plugin: spec.Name, Started: time.Now()}, err)
			return res
		}
		resolved[i] = args
	}

	for i, spec := range plugins {
		entry := build.Result{Phase: phase, Index: i, Plugin: spec.Name, Started: time.Now()}

		capability, err := e.registry.Resolve(spec.Name)
		if err != nil {
			e.fail(res, entry, err)
			return res
		}
		if err := ctx.Err(); err != nil {
			e.fail(res, entry, &build.CancellationError{Phase: phase, Plugin: spec.Name, Cause: context.Cause(ctx)})
			return res
		}

		e.observer.PluginStarted(phase, i, spec.Name)
		log.Debug("plugin started", "plugin", spec.Name, "index", i)

		contrib, err := invoke(ctx, capability, bc, resolved[i])
		entry.Duration = time.Since(entry.Started)
		if err != nil {
			if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				err = &build.CancellationError{Phase: phase, Plugin: spec.Name, Cause: err}
			} else {
				err = &build.PluginExecutionError{Phase: phase, Plugin: spec.Name, Err: err}
			}
			e.fail(res, entry, err)
			return res
		}

		bc.Merge(spec.Name, contrib)
		entry.Status = build.StatusSuccess
		entry.Contribution = contrib
		res.Log = append(res.Log, entry)
		e.observer.PluginFinished(entry)
		log.Info("plugin completed", "plugin", spec.Name, "duration", entry.Duration)
	}

	res.transition(PhaseCompleted)
	return res
}

func (e *Executor) fail(res *PhaseResult, entry build.Result, err error) {
	entry.Status = build.StatusFailed
	entry.Error = err
	entry.Kind = build.KindOf(err)
	if entry.Duration == 0 && !entry.Started.IsZero() {
		entry.Duration = time.Since(entry.Started)
	}
	res.Log = append(res.Log, entry)
	res.Plugin = entry.Plugin
	res.Err = err
	res.transition(PhaseFailed)
	e.observer.PluginFinished(entry)
}

// invoke calls the capability, turning a panic into an error.
func invoke(ctx context.Context, c build.Capability, bc *build.Context, args *pipeline.Map) (contrib *build.Contribution, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return c.Run(ctx, bc, args)
}
