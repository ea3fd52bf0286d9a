// Package plugins provides the capabilities dockrun ships with.
package plugins

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sofmeright/dockrun/src/build"
	"github.com/sofmeright/dockrun/src/pipeline"
)

// Options configures the built-in capabilities.
type Options struct {
	Verbose bool
	Stdout  io.Writer
	Stderr  io.Writer
	Logger  *slog.Logger
	// WorkDir is where relative paths written by plugins land.
	WorkDir string
}

func (o Options) withDefaults() Options {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.WorkDir == "" {
		o.WorkDir = "."
	}
	return o
}

// Builtin names.
const (
	Exec              = "exec"
	AddLabels         = "add_labels"
	InspectDockerfile = "inspect_dockerfile"
	StoreMetadata     = "store_metadata"
	Noop              = "noop"
)

// Register adds every built-in capability to r.
func Register(r *build.Registry, opts Options) error {
	opts = opts.withDefaults()
	builtins := []struct {
		name string
		cap  build.Capability
	}{
		{Exec, &execPlugin{verbose: opts.Verbose, stdout: opts.Stdout, stderr: opts.Stderr, dir: opts.WorkDir}},
		{AddLabels, build.CapabilityFunc(addLabels)},
		{InspectDockerfile, &inspectDockerfile{dir: opts.WorkDir}},
		{StoreMetadata, &storeMetadata{dir: opts.WorkDir}},
		{Noop, build.CapabilityFunc(noop)},
	}
	for _, b := range builtins {
		if err := r.Register(b.name, b.cap); err != nil {
			return fmt.Errorf("registering builtin plugins: %w", err)
		}
	}
	return nil
}

// RegisterStubs registers a logging stub for every name in names that r
// does not know yet, and returns the names it stubbed. Used for dry runs
// against documents that reference plugins dockrun does not implement.
func RegisterStubs(r *build.Registry, names []string, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var stubbed []string
	for _, name := range names {
		if r.Has(name) {
			continue
		}
		if err := r.Register(name, stub{name: name, logger: logger}); err != nil {
			return stubbed, err
		}
		stubbed = append(stubbed, name)
	}
	return stubbed, nil
}

func noop(context.Context, *build.Context, *pipeline.Map) (*build.Contribution, error) {
	return nil, nil
}

type stub struct {
	name   string
	logger *slog.Logger
}

func (s stub) Run(ctx context.Context, bc *build.Context, args *pipeline.Map) (*build.Contribution, error) {
	s.logger.InfoContext(ctx, "stub plugin", "plugin", s.name, "build_id", bc.BuildID, "args", args.Keys())
	return nil, nil
}
