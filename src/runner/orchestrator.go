// Package runner executes a validated pipeline: the main phases in order
// with fail-fast semantics, then the exit phase on every path.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sofmeright/dockrun/src/build"
	"github.com/sofmeright/dockrun/src/pipeline"
	"github.com/sofmeright/dockrun/src/template"
)

// BuildIDParam, when present in the run params, names the build.
const BuildIDParam = "BUILD_ID"

// Observer receives progress callbacks. Calls for one run are sequential.
type Observer interface {
	PhaseStarted(phase pipeline.Phase, plugins int)
	PluginStarted(phase pipeline.Phase, index int, plugin string)
	PluginFinished(res build.Result)
	PhaseFinished(res *PhaseResult)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) PhaseStarted(pipeline.Phase, int)         {}
func (NopObserver) PluginStarted(pipeline.Phase, int, string) {}
func (NopObserver) PluginFinished(build.Result)               {}
func (NopObserver) PhaseFinished(*PhaseResult)                {}

// RunError describes a failed run: the first failing main phase and plugin,
// and separately any failure of the exit phase.
type RunError struct {
	Phase  pipeline.Phase
	Plugin string
	Err    error // nil when only the exit phase failed

	ExitPlugin string
	ExitErr    error
}

func (e *RunError) Error() string {
	var parts []string
	if e.Err != nil {
		parts = append(parts, fmt.Sprintf("%s: %v", e.Phase, e.Err))
	}
	if e.ExitErr != nil {
		parts = append(parts, fmt.Sprintf("%s: %v", pipeline.PhaseExit, e.ExitErr))
	}
	return "run failed: " + strings.Join(parts, "; ")
}

func (e *RunError) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.ExitErr != nil {
		errs = append(errs, e.ExitErr)
	}
	return errs
}

// Kind classifies the primary failure, falling back to the exit failure.
func (e *RunError) Kind() build.ErrorKind {
	if e.Err != nil {
		return build.KindOf(e.Err)
	}
	return build.KindOf(e.ExitErr)
}

// Result is the outcome of a run.
type Result struct {
	BuildID   string
	Succeeded bool // prebuild, prepublish and postbuild all completed
	State     RunState
	States    []RunState // every state the run entered, in order
	Phases    []*PhaseResult
	Log       []build.Result
	Context   *build.Context
	Err       *RunError
	Started   time.Time
	Duration  time.Duration
}

// Phase returns the result of p, or nil if p never ran.
func (r *Result) Phase(p pipeline.Phase) *PhaseResult {
	for _, pr := range r.Phases {
		if pr.Phase == p {
			return pr
		}
	}
	return nil
}

// Plugins lists plugin names from the execution log in order.
func (r *Result) Plugins() []string {
	var names []string
	for _, e := range r.Log {
		names = append(names, e.Plugin)
	}
	return names
}

func (r *Result) enter(s RunState) {
	next, err := TransitionRun(r.State, s)
	if err != nil {
		panic(fmt.Sprintf("runner: %v", err))
	}
	r.State = next
	r.States = append(r.States, next)
}

func (r *Result) record(pr *PhaseResult) {
	r.Phases = append(r.Phases, pr)
	r.Log = append(r.Log, pr.Log...)
}

// Orchestrator runs pipelines against a frozen registry. It is safe to use
// from multiple goroutines.
type Orchestrator struct {
	registry *build.Registry
	logger   *slog.Logger
	observer Observer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithObserver sets the progress observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// New returns an orchestrator over reg and freezes reg.
func New(reg *build.Registry, opts ...Option) *Orchestrator {
	reg.Freeze()
	o := &Orchestrator{
		registry: reg,
		logger:   slog.New(slog.DiscardHandler),
		observer: NopObserver{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var runSeq atomic.Uint64

// Run executes cfg. The exit phase runs exactly once on every path, with a
// context that is not cancelled along with ctx. The returned error is a
// *RunError whenever a main phase or the exit phase failed.
func (o *Orchestrator) Run(ctx context.Context, cfg *pipeline.Config, params template.Params) (res *Result, err error) {
	buildID, ok := params.Get(BuildIDParam)
	if !ok || buildID == "" {
		buildID = fmt.Sprintf("run-%d-%d", time.Now().Unix(), runSeq.Add(1))
	}
	bc := build.NewContext(buildID)
	res = &Result{BuildID: buildID, Context: bc, Started: bc.StartedAt}
	res.States = []RunState{RunCreated}
	log := o.logger.With("build_id", buildID)
	exec := NewExecutor(o.registry, log, o.observer)

	var primary *PhaseResult

	defer func() {
		rec := recover()
		if rec != nil && primary == nil {
			primary = &PhaseResult{Phase: phaseFor(res.State), State: PhaseFailed, Err: fmt.Errorf("panic: %v", rec)}
		}

		res.enter(RunExit)
		exitRes := exec.Execute(context.WithoutCancel(ctx), pipeline.PhaseExit, cfg.Plugins(pipeline.PhaseExit), bc, params)
		res.record(exitRes)

		res.Succeeded = primary == nil
		if primary != nil || exitRes.Failed() {
			res.Err = &RunError{}
			if primary != nil {
				res.Err.Phase, res.Err.Plugin, res.Err.Err = primary.Phase, primary.Plugin, primary.Err
			}
			if exitRes.Failed() {
				res.Err.ExitPlugin, res.Err.ExitErr = exitRes.Plugin, exitRes.Err
			}
			err = res.Err
		}
		if res.Succeeded {
			res.enter(RunSucceeded)
		} else {
			res.enter(RunFailed)
		}
		res.Duration = time.Since(res.Started)
		log.Info("run finished", "state", res.State.String(), "plugins", len(res.Log), "duration", res.Duration)

		if rec != nil {
			panic(rec)
		}
	}()

	log.Info("run started")
	for _, phase := range pipeline.MainPhases {
		res.enter(runStateFor(phase))
		var pr *PhaseResult
		if cerr := ctx.Err(); cerr != nil {
			pr = cancelledPhase(phase, context.Cause(ctx))
			o.observer.PhaseFinished(pr)
		} else {
			pr = exec.Execute(ctx, phase, cfg.Plugins(phase), bc, params)
		}
		res.record(pr)
		if pr.Failed() {
			primary = pr
			return res, nil
		}
		// A cancel that lands while the phase's last plugin runs is only
		// visible here. The phase itself completed, so the cancellation is
		// charged to it without rewriting its result.
		if cerr := ctx.Err(); cerr != nil {
			primary = &PhaseResult{
				Phase: phase,
				State: PhaseFailed,
				Err:   &build.CancellationError{Phase: phase, Cause: context.Cause(ctx)},
			}
			return res, nil
		}
	}
	return res, nil
}

func cancelledPhase(phase pipeline.Phase, cause error) *PhaseResult {
	pr := &PhaseResult{Phase: phase, Started: time.Now()}
	pr.transition(PhaseRunning)
	pr.Err = &build.CancellationError{Phase: phase, Cause: cause}
	pr.transition(PhaseFailed)
	return pr
}

func runStateFor(p pipeline.Phase) RunState {
	switch p {
	case pipeline.PhasePrebuild:
		return RunPrebuild
	case pipeline.PhasePrepublish:
		return RunPrepublish
	case pipeline.PhasePostbuild:
		return RunPostbuild
	default:
		return RunExit
	}
}

func phaseFor(s RunState) pipeline.Phase {
	switch s {
	case RunPrepublish:
		return pipeline.PhasePrepublish
	case RunPostbuild:
		return pipeline.PhasePostbuild
	default:
		return pipeline.PhasePrebuild
	}
}

// IsCancelled reports whether err stems from run cancellation.
func IsCancelled(err error) bool {
	var cerr *build.CancellationError
	return errors.As(err, &cerr)
}
