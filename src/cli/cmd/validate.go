package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sofmeright/dockrun/src/build"
	"github.com/sofmeright/dockrun/src/output"
	"github.com/sofmeright/dockrun/src/pipeline"
	"github.com/sofmeright/dockrun/src/template"
)

var validateCmd = &cobra.Command{
	Use:   "validate <pipeline>...",
	Short: "Check pipeline documents",
	Long: `Check pipeline documents against the schema.

Every violation is reported, not just the first. When parameters are
available (settings, --params-file, --param or a build request), template
tokens are checked as well. Plugins that are not builtins are reported
as warnings.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	color := output.UseColor()

	rootDir, err := workingDir()
	if err != nil {
		return err
	}
	src, err := loadParamSources(rootDir)
	if err != nil {
		return err
	}
	reg, _, err := newRegistry(nil, false, cmd.OutOrStdout(), cmd.ErrOrStderr(), ".")
	if err != nil {
		return err
	}
	preflight := src.explicit() || useRequest()
	now := time.Now()

	failed := 0
	for _, path := range args {
		start := time.Now()
		p, err := prepare(path, src, now)
		if err != nil {
			failed++
			sec := output.NewSection(w, path, time.Since(start), color)
			for _, line := range errorLines(err) {
				sec.Row("%s %s", output.StatusIcon("failed", color), line)
			}
			sec.Close()
			continue
		}

		var problems []string
		if preflight {
			for _, terr := range template.MissingTokens(p.config, p.params) {
				problems = append(problems, terr.Error())
			}
		}
		warnings := p.warnings
		for _, name := range p.config.Names() {
			if !reg.Has(name) {
				warnings = append(warnings, fmt.Sprintf("plugin %q is not a builtin; run with --stub-unknown for a dry run", name))
			}
		}

		sec := output.NewSection(w, path, time.Since(start), color)
		for _, phase := range pipeline.Phases {
			sec.Row("%-12s %d plugin(s)", phase, len(p.config.Plugins(phase)))
		}
		if len(warnings) > 0 || len(problems) > 0 {
			sec.Separator()
		}
		for _, msg := range warnings {
			sec.Row("%s %s", output.StatusIcon("warning", color), msg)
		}
		for _, msg := range problems {
			sec.Row("%s %s", output.StatusIcon("failed", color), msg)
		}
		sec.Close()
		if len(problems) > 0 {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d pipeline(s) invalid", failed, len(args))
	}
	fmt.Fprintf(w, "\n    %d pipeline(s) valid\n", len(args))
	return nil
}

// errorLines splits a validation failure into one line per violation.
func errorLines(err error) []string {
	var verrs pipeline.ValidationErrors
	if errors.As(err, &verrs) {
		lines := make([]string, len(verrs))
		for i, v := range verrs {
			lines[i] = v.Error()
		}
		return lines
	}
	return []string{fmt.Sprintf("%s: %v", build.KindOf(err), err)}
}
