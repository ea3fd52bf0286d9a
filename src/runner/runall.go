package runner

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sofmeright/dockrun/src/pipeline"
	"github.com/sofmeright/dockrun/src/template"
)

// Job is one independent run for RunAll.
type Job struct {
	Name     string
	Config   *pipeline.Config
	Params   template.Params
	Observer Observer // overrides the orchestrator's observer when set
}

// JobResult pairs a job with its outcome.
type JobResult struct {
	Job    string
	Result *Result
	Err    error
}

// RunAll runs jobs concurrently, at most limit at a time (limit < 1 means
// unbounded). A failing job does not stop the others. Results are in job
// order.
func (o *Orchestrator) RunAll(ctx context.Context, jobs []Job, limit int) []JobResult {
	results := make([]JobResult, len(jobs))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, job := range jobs {
		g.Go(func() error {
			orch := o
			if job.Observer != nil {
				cp := *o
				cp.observer = job.Observer
				orch = &cp
			}
			res, err := orch.Run(ctx, job.Config, job.Params)
			results[i] = JobResult{Job: job.Name, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
