package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sofmeright/dockrun/src/build"
	"github.com/sofmeright/dockrun/src/pipeline"
	"github.com/sofmeright/dockrun/src/runner"
)

const errorWidth = 72

// Reporter renders one run as a section per phase with a row per plugin.
// It implements runner.Observer. Use one Reporter per run.
type Reporter struct {
	w     io.Writer
	name  string
	color bool
	sec   *Section
}

var _ runner.Observer = (*Reporter)(nil)

// NewReporter creates a reporter for the run called name.
func NewReporter(w io.Writer, name string, color bool) *Reporter {
	return &Reporter{w: w, name: name, color: color}
}

func (r *Reporter) title(phase pipeline.Phase) string {
	if r.name == "" {
		return phase.String()
	}
	return r.name + " · " + phase.String()
}

func (r *Reporter) sectionID(phase pipeline.Phase) string {
	id := strings.Map(func(c rune) rune {
		if c == ' ' || c == '/' || c == '.' {
			return '_'
		}
		return c
	}, r.name)
	if id == "" {
		return "dockrun_" + phase.String()
	}
	return "dockrun_" + id + "_" + phase.String()
}

// PhaseStarted opens the phase section.
func (r *Reporter) PhaseStarted(phase pipeline.Phase, plugins int) {
	SectionStartCollapsed(r.w, r.sectionID(phase), r.title(phase))
	r.sec = NewSection(r.w, r.title(phase), 0, r.color)
	if plugins == 0 {
		r.sec.Row("%s", Dimmed("no plugins", r.color))
	}
}

// PluginStarted is a no-op; rows are written when a plugin finishes.
func (r *Reporter) PluginStarted(pipeline.Phase, int, string) {}

// PluginFinished writes the plugin's status row.
func (r *Reporter) PluginFinished(res build.Result) {
	if r.sec == nil {
		r.PhaseStarted(res.Phase, -1)
	}
	detail := formatElapsed(res.Duration)
	if res.Error != nil {
		detail = res.Kind.String() + ": " + truncate(res.Error.Error(), errorWidth)
	}
	RowStatus(r.sec, fmt.Sprintf("%-28s", res.Plugin), detail, string(res.Status), r.color)
}

// PhaseFinished closes the phase section.
func (r *Reporter) PhaseFinished(res *runner.PhaseResult) {
	if r.sec == nil {
		// cancelled before it started
		r.PhaseStarted(res.Phase, -1)
	}
	if res.Failed() && res.Plugin == "" && res.Err != nil {
		r.sec.Row("%s %s", StatusIcon("failed", r.color), truncate(res.Err.Error(), errorWidth))
	}
	r.sec.Close()
	r.sec = nil
	SectionEnd(r.w, r.sectionID(res.Phase))
}

// RunSummary writes one line per run and a total, returning true when
// every run succeeded including its exit phase.
func RunSummary(w io.Writer, results []runner.JobResult, elapsed time.Duration, color bool) bool {
	sec := NewSection(w, "Summary", elapsed, color)
	ok := true
	for _, jr := range results {
		status, detail := summarize(jr)
		if status != "success" {
			ok = false
		}
		SummaryRow(w, truncate(jr.Job, 23), status, detail, color)
	}
	sec.Separator()
	total := "success"
	if !ok {
		total = "failed"
	}
	SummaryTotal(w, elapsed, total, color)
	sec.Close()
	return ok
}

func summarize(jr runner.JobResult) (status, detail string) {
	res := jr.Result
	if res == nil {
		if jr.Err != nil {
			return "failed", truncate(jr.Err.Error(), errorWidth)
		}
		return "skipped", ""
	}
	detail = fmt.Sprintf("%d plugin(s) in %s", len(res.Log), formatElapsed(res.Duration))
	switch {
	case !res.Succeeded:
		where := res.Err.Phase.String()
		if res.Err.Plugin != "" {
			where += "/" + res.Err.Plugin
		}
		return "failed", fmt.Sprintf("%s: %s", where, res.Err.Kind())
	case res.Err != nil:
		// the build succeeded but cleanup did not
		return "degraded", fmt.Sprintf("exit/%s: %s", res.Err.ExitPlugin, res.Err.Kind())
	}
	return "success", detail
}
