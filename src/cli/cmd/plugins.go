package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sofmeright/dockrun/src/pipeline"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins [pipeline]",
	Short: "List available plugins",
	Long: `List the builtin plugins. Given a pipeline, also list the plugins it
references and whether each one is available.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlugins,
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
}

func runPlugins(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	reg, _, err := newRegistry(nil, false, w, cmd.ErrOrStderr(), ".")
	if err != nil {
		return err
	}

	if len(args) == 0 {
		for _, name := range reg.Names() {
			fmt.Fprintln(w, name)
		}
		return nil
	}

	pc, _, err := pipeline.Load(args[0])
	if err != nil {
		return err
	}
	missing := 0
	for _, phase := range pipeline.Phases {
		for _, spec := range pc.Plugins(phase) {
			status := "builtin"
			if !reg.Has(spec.Name) {
				status = "missing"
				missing++
			}
			fmt.Fprintf(w, "%-12s %-32s %s\n", phase, spec.Name, status)
		}
	}
	if missing > 0 {
		fmt.Fprintf(w, "\n%d plugin(s) missing; run with --stub-unknown for a dry run\n", missing)
	}
	return nil
}
