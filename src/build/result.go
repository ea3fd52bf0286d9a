package build

import (
	"time"

	"github.com/sofmeright/dockrun/src/pipeline"
)

// Status is the outcome of one plugin invocation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Result captures the outcome of a single plugin invocation.
type Result struct {
	Phase        pipeline.Phase
	Index        int // position within the phase
	Plugin       string
	Status       Status
	Contribution *Contribution
	Kind         ErrorKind
	Error        error
	Started      time.Time
	Duration     time.Duration
}

// Succeeded reports whether the plugin completed without error.
func (r Result) Succeeded() bool { return r.Status == StatusSuccess }
