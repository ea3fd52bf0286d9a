package runner

import "fmt"

// PhaseState tracks one phase execution.
type PhaseState int

const (
	PhaseNotStarted PhaseState = iota
	PhaseRunning
	PhaseCompleted
	PhaseFailed
)

func (s PhaseState) String() string {
	switch s {
	case PhaseNotStarted:
		return "not-started"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase-state(%d)", int(s))
	}
}

// CanTransition reports whether s may move to next.
func (s PhaseState) CanTransition(next PhaseState) bool {
	switch s {
	case PhaseNotStarted:
		return next == PhaseRunning
	case PhaseRunning:
		return next == PhaseCompleted || next == PhaseFailed
	default:
		return false
	}
}

// RunState tracks a whole run.
type RunState int

const (
	RunCreated RunState = iota
	RunPrebuild
	RunPrepublish
	RunPostbuild
	RunExit
	RunSucceeded
	RunFailed
)

var runStateNames = [...]string{"created", "prebuild", "prepublish", "postbuild", "exit", "succeeded", "failed"}

func (s RunState) String() string {
	if s < 0 || int(s) >= len(runStateNames) {
		return fmt.Sprintf("run-state(%d)", int(s))
	}
	return runStateNames[s]
}

// CanTransition reports whether s may move to next. The main phases may
// be cut short by a failure, but every path goes through RunExit.
func (s RunState) CanTransition(next RunState) bool {
	switch s {
	case RunCreated:
		return next == RunPrebuild || next == RunExit
	case RunPrebuild:
		return next == RunPrepublish || next == RunExit
	case RunPrepublish:
		return next == RunPostbuild || next == RunExit
	case RunPostbuild:
		return next == RunExit
	case RunExit:
		return next == RunSucceeded || next == RunFailed
	default:
		return false
	}
}

// IllegalTransitionError is returned when a state machine is asked to make
// a move it does not allow.
type IllegalTransitionError struct {
	From, To fmt.Stringer
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal state transition %s -> %s", e.From, e.To)
}

// TransitionPhase returns to if the move from from is legal, otherwise
// from and an *IllegalTransitionError.
func TransitionPhase(from, to PhaseState) (PhaseState, error) {
	if !from.CanTransition(to) {
		return from, &IllegalTransitionError{From: from, To: to}
	}
	return to, nil
}

// TransitionRun is TransitionPhase for RunState.
func TransitionRun(from, to RunState) (RunState, error) {
	if !from.CanTransition(to) {
		return from, &IllegalTransitionError{From: from, To: to}
	}
	return to, nil
}
