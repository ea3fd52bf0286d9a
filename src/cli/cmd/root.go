package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sofmeright/dockrun/src/config"
	"github.com/sofmeright/dockrun/src/output"
)

var (
	cfgFile    string
	instance   string
	verbose    bool
	logLevel   string
	paramPairs []string
	paramsFile string

	cfg    *config.Config
	logger = slog.New(slog.DiscardHandler)
)

var rootCmd = &cobra.Command{
	Use:   "dockrun",
	Short: "Plugin pipeline build orchestrator",
	Long: `dockrun runs container build pipelines described as four phases of plugins:
prebuild, prepublish, postbuild and exit. The exit phase always runs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it.
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		warnings, err := config.Validate(cfg)
		output.Warnings(cmd.ErrOrStderr(), warnings, output.UseColor())
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		level := cfg.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		if verbose && logLevel == "" {
			level = "debug"
		}
		logger = config.InitLogging(level, cmd.ErrOrStderr())
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: .dockrun.yml)")
	pf.StringVar(&instance, "instance", "", "settings instance to build for (default: from config)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default: from config)")
	pf.StringArrayVarP(&paramPairs, "param", "p", nil, "template parameter KEY=VALUE (repeatable)")
	pf.StringVar(&paramsFile, "params-file", "", "TOML file of template parameters")
}

// Execute runs the root command.
func Execute() error {
	return execute(os.Args[1:], os.Stdout, os.Stderr)
}

func execute(args []string, stdout, stderr io.Writer) error {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(stderr, err)
		return err
	}
	return nil
}
