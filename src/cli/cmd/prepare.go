package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sofmeright/dockrun/src/build"
	"github.com/sofmeright/dockrun/src/build/plugins"
	"github.com/sofmeright/dockrun/src/gitver"
	"github.com/sofmeright/dockrun/src/pipeline"
	"github.com/sofmeright/dockrun/src/request"
	"github.com/sofmeright/dockrun/src/template"
)

// prepared is a loaded pipeline ready to render or run.
type prepared struct {
	name     string
	path     string
	config   *pipeline.Config
	rendered *request.Rendered // nil when no build request applies
	params   template.Params
	warnings []string
}

// paramSources holds the parameter layers shared by every pipeline of one
// invocation, lowest precedence first.
type paramSources struct {
	git      *gitver.Info
	settings template.Params
	file     template.Params
	flags    template.Params
}

func loadParamSources(rootDir string) (*paramSources, error) {
	var src paramSources
	var err error

	src.git, err = gitver.Detect(rootDir)
	if err != nil {
		return nil, fmt.Errorf("detecting git checkout: %w", err)
	}
	if src.settings, err = cfg.TemplateParams(); err != nil {
		return nil, err
	}
	if paramsFile != "" {
		if src.file, err = template.LoadParamsFile(paramsFile); err != nil {
			return nil, err
		}
	}
	if src.flags, err = template.ParseAssignments(paramPairs); err != nil {
		return nil, err
	}
	return &src, nil
}

// explicit reports whether the user supplied any parameters, as opposed to
// ones derived from git or a build request.
func (s *paramSources) explicit() bool {
	return s.settings.Len()+s.file.Len()+s.flags.Len() > 0
}

// useRequest reports whether pipelines are rendered through a build
// request before they run.
func useRequest() bool {
	return instance != "" || len(cfg.Instances) > 0
}

func jobName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// prepare loads path, applies the build request when one is configured
// and layers the parameters: git < request < settings < params file < flags.
func prepare(path string, src *paramSources, now time.Time) (*prepared, error) {
	pc, warnings, err := pipeline.Load(path)
	if err != nil {
		return nil, err
	}
	p := &prepared{name: jobName(path), path: path, config: pc, warnings: warnings}

	gitParams, err := template.NewParams(src.git.Params())
	if err != nil {
		return nil, fmt.Errorf("git params: %w", err)
	}
	params := gitParams

	if useRequest() {
		req, err := cfg.Request(instance)
		if err != nil {
			return nil, err
		}
		req.FillFromGit(src.git)
		rd, err := req.Render(pc, now)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		reqParams, err := rd.Params()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		p.rendered = rd
		p.config = rd.Config
		p.warnings = append(p.warnings, rd.Warnings...)
		params = params.Merge(reqParams)
	}

	p.params = params.Merge(src.settings, src.file, src.flags)
	return p, nil
}

// newRegistry builds the frozen-to-be registry with the builtin plugins.
// With stubUnknown, every plugin name in configs that is not a builtin is
// registered as a logging stub.
func newRegistry(configs []*pipeline.Config, stubUnknown bool, stdout, stderr io.Writer, workDir string) (*build.Registry, []string, error) {
	reg := build.NewRegistry()
	err := plugins.Register(reg, plugins.Options{
		Verbose: verbose,
		Stdout:  stdout,
		Stderr:  stderr,
		Logger:  logger,
		WorkDir: workDir,
	})
	if err != nil {
		return nil, nil, err
	}
	if !stubUnknown {
		return reg, nil, nil
	}
	var names []string
	for _, c := range configs {
		names = append(names, c.Names()...)
	}
	stubbed, err := plugins.RegisterStubs(reg, names, logger)
	if err != nil {
		return nil, nil, err
	}
	return reg, stubbed, nil
}

func workingDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return dir, nil
}
