// Package config loads the dockrun settings file: logging, run
// concurrency, named build instances and default template parameters.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sofmeright/dockrun/src/request"
	"github.com/sofmeright/dockrun/src/template"
)

const defaultConfigFile = ".dockrun.yml"

// DefaultConcurrency bounds how many pipelines `run` executes at once.
const DefaultConcurrency = 4

// Config is the top-level dockrun configuration.
type Config struct {
	LogLevel    string `yaml:"log_level"`
	Concurrency int    `yaml:"concurrency"`

	// Instance names the entry of Instances used when none is selected on
	// the command line.
	Instance  string                     `yaml:"instance"`
	Instances map[string]request.Request `yaml:"instances"`

	// Params are default template parameters, overridden by params files
	// and --param flags.
	Params map[string]any `yaml:"params"`
}

// Load reads configuration from a YAML file.
// If path is empty, it tries the default file.
// Returns sensible defaults if the file doesn't exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return defaults(), nil
		}
		return nil, err
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		LogLevel:    "info",
		Concurrency: DefaultConcurrency,
		Instances:   map[string]request.Request{},
	}
}

// InstanceNames returns the configured instance names, sorted.
func (c *Config) InstanceNames() []string {
	names := make([]string, 0, len(c.Instances))
	for name := range c.Instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Request returns a copy of the named instance. An empty name selects the
// default instance, or the only one when exactly one is configured. With
// no instances at all an empty request is returned.
func (c *Config) Request(name string) (request.Request, error) {
	if name == "" {
		name = c.Instance
	}
	if name == "" {
		switch len(c.Instances) {
		case 0:
			return request.Request{}, nil
		case 1:
			name = c.InstanceNames()[0]
		default:
			return request.Request{}, fmt.Errorf("several instances configured (%v); select one with --instance", c.InstanceNames())
		}
	}
	r, ok := c.Instances[name]
	if !ok {
		return request.Request{}, fmt.Errorf("unknown instance %q", name)
	}
	r.YumRepoURLs = append([]string(nil), r.YumRepoURLs...)
	return r, nil
}

// TemplateParams converts the params section into template parameters.
func (c *Config) TemplateParams() (template.Params, error) {
	p, err := template.ParamsFromAny(c.Params)
	if err != nil {
		return template.Params{}, fmt.Errorf("params: %w", err)
	}
	return p, nil
}
