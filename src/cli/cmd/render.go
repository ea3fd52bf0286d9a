package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sofmeright/dockrun/src/output"
	"github.com/sofmeright/dockrun/src/pipeline"
	"github.com/sofmeright/dockrun/src/template"
)

var (
	renderFormat     string
	renderUnresolved bool
)

var renderCmd = &cobra.Command{
	Use:   "render <pipeline>",
	Short: "Print the pipeline as it would run",
	Long: `Apply the build request (when an instance is configured) and resolve
every template token, then print the resulting document.

Fails when a token has no value unless --unresolved is set, in which case
the document is printed after the build request only.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&renderFormat, "output", "o", "yaml", "output format: yaml or json")
	renderCmd.Flags().BoolVar(&renderUnresolved, "unresolved", false, "skip template resolution")

	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	rootDir, err := workingDir()
	if err != nil {
		return err
	}
	src, err := loadParamSources(rootDir)
	if err != nil {
		return err
	}
	p, err := prepare(args[0], src, time.Now())
	if err != nil {
		return err
	}
	output.Warnings(cmd.ErrOrStderr(), p.warnings, output.UseColor())

	doc := p.config
	if !renderUnresolved {
		if doc, err = template.ResolveConfig(p.config, p.params); err != nil {
			return err
		}
	}

	data, err := pipeline.Encode(doc, pipeline.Format(renderFormat))
	if err != nil {
		return err
	}
	if p.rendered != nil {
		logger.Debug("build request applied",
			"build_id", p.rendered.BuildID,
			"image_tag", p.rendered.ImageTag,
			"output_image", p.rendered.OutputImage)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
	return err
}
