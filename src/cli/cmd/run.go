package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sofmeright/dockrun/src/output"
	"github.com/sofmeright/dockrun/src/pipeline"
	"github.com/sofmeright/dockrun/src/runner"
	"github.com/sofmeright/dockrun/src/version"
)

const defaultReportDir = ".dockrun/reports"

var (
	runConcurrency int
	runStubUnknown bool
	runWorkDir     string
	runReportDir   string
	runBadgeDir    string
)

var runCmd = &cobra.Command{
	Use:   "run <pipeline>...",
	Short: "Run pipelines",
	Long: `Run one or more pipelines. Each pipeline runs its prebuild, prepublish
and postbuild phases in order, stopping at the first failing plugin, and
then always runs its exit phase.

Several pipelines run concurrently, bounded by --concurrency. In CI a JUnit
report is written to .dockrun/reports.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVarP(&runConcurrency, "concurrency", "j", 0, "max pipelines running at once (default: from config)")
	runCmd.Flags().BoolVar(&runStubUnknown, "stub-unknown", false, "register plugins dockrun does not implement as logging stubs (dry run)")
	runCmd.Flags().StringVar(&runWorkDir, "work-dir", ".", "directory plugins run in and write to")
	runCmd.Flags().StringVar(&runReportDir, "report-dir", "", "write a JUnit report here (default in CI: "+defaultReportDir+")")
	runCmd.Flags().StringVar(&runBadgeDir, "badge-dir", "", "write an SVG status badge per pipeline here")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()
	color := output.UseColor()
	start := time.Now()

	rootDir, err := workingDir()
	if err != nil {
		return err
	}
	src, err := loadParamSources(rootDir)
	if err != nil {
		return err
	}

	limit := cfg.Concurrency
	if cmd.Flags().Changed("concurrency") {
		limit = runConcurrency
	}

	// Prepare everything up front; a pipeline that fails to load is
	// reported in the summary without stopping the others.
	results := make([]runner.JobResult, len(args))
	var ready []*prepared
	var readyIdx []int
	for i, path := range args {
		p, err := prepare(path, src, start)
		if err != nil {
			results[i] = runner.JobResult{Job: jobName(path), Err: err}
			output.Errorf(stderr, color, "%v", err)
			continue
		}
		output.Warnings(stderr, p.warnings, color)
		ready = append(ready, p)
		readyIdx = append(readyIdx, i)
	}

	configs := make([]*pipeline.Config, len(ready))
	for i, p := range ready {
		configs[i] = p.config
	}
	reg, stubbed, err := newRegistry(configs, runStubUnknown, w, stderr, runWorkDir)
	if err != nil {
		return err
	}
	if len(stubbed) > 0 {
		output.Warnings(stderr, []string{fmt.Sprintf("stubbed plugins: %v", stubbed)}, color)
	}

	kv := []output.KV{
		{Key: "dockrun", Value: version.Version},
		{Key: "pipelines", Value: strconv.Itoa(len(args))},
		{Key: "instance", Value: instanceLabel()},
		{Key: "parallel", Value: strconv.Itoa(limit)},
	}
	output.ContextBlock(w, append(kv, output.CIContext()...))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// With several pipelines each one renders into its own buffer so the
	// sections do not interleave.
	buffers := make([]*bytes.Buffer, len(ready))
	jobs := make([]runner.Job, len(ready))
	for i, p := range ready {
		var out io.Writer = w
		if len(ready) > 1 {
			buffers[i] = &bytes.Buffer{}
			out = buffers[i]
		}
		jobs[i] = runner.Job{
			Name:     p.name,
			Config:   p.config,
			Params:   p.params,
			Observer: output.NewReporter(out, p.name, color),
		}
	}

	orch := runner.New(reg, runner.WithLogger(logger))
	for i, jr := range orch.RunAll(ctx, jobs, limit) {
		results[readyIdx[i]] = jr
		if buffers[i] != nil {
			if _, err := buffers[i].WriteTo(w); err != nil {
				return err
			}
		}
	}

	elapsed := time.Since(start)
	ok := output.RunSummary(w, results, elapsed, color)

	reportDir := runReportDir
	if reportDir == "" && output.IsCI() {
		reportDir = defaultReportDir
	}
	if reportDir != "" {
		if err := output.WriteRunJUnit(reportDir, results, elapsed); err != nil {
			fmt.Fprintf(stderr, "warning: failed to write junit report: %v\n", err)
		}
	}

	if runBadgeDir != "" {
		if err := output.WriteRunBadges(runBadgeDir, results); err != nil {
			fmt.Fprintf(stderr, "warning: failed to write badges: %v\n", err)
		}
	}

	if ctx.Err() != nil {
		return fmt.Errorf("interrupted: %w", context.Cause(ctx))
	}
	if !ok {
		return fmt.Errorf("%d of %d run(s) failed", countFailed(results), len(results))
	}
	return nil
}

func instanceLabel() string {
	switch {
	case instance != "":
		return instance
	case cfg.Instance != "":
		return cfg.Instance
	case len(cfg.Instances) == 1:
		return cfg.InstanceNames()[0]
	case useRequest():
		return "(ambiguous)"
	default:
		return "(none)"
	}
}

func countFailed(results []runner.JobResult) int {
	n := 0
	for _, jr := range results {
		if jr.Err != nil {
			n++
		}
	}
	return n
}
