package pipeline

import (
	"fmt"
	"strings"
)

// Phase is one stage of the pipeline. Phases run in declaration order.
type Phase int

const (
	PhasePrebuild Phase = iota
	PhasePrepublish
	PhasePostbuild
	PhaseExit
)

// Phases lists every phase in execution order.
var Phases = []Phase{PhasePrebuild, PhasePrepublish, PhasePostbuild, PhaseExit}

// MainPhases are the fail-fast phases that precede exit.
var MainPhases = []Phase{PhasePrebuild, PhasePrepublish, PhasePostbuild}

var phaseNames = [...]string{"prebuild", "prepublish", "postbuild", "exit"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Key returns the document key for the phase, e.g. "prebuild_plugins".
func (p Phase) Key() string {
	return p.String() + "_plugins"
}

// Valid reports whether p is one of the four known phases.
func (p Phase) Valid() bool {
	return p >= PhasePrebuild && p <= PhaseExit
}

// ParsePhase accepts a phase name ("postbuild") or its document key
// ("postbuild_plugins").
func ParsePhase(s string) (Phase, error) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "_plugins")
	for i, n := range phaseNames {
		if n == name {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q (supported: %s)", s, strings.Join(phaseNames[:], ", "))
}

// phaseForKey maps a document key to its phase.
func phaseForKey(key string) (Phase, bool) {
	for _, p := range Phases {
		if p.Key() == key {
			return p, true
		}
	}
	return 0, false
}
