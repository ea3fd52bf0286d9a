// Package pipeline models the four-phase plugin document: the argument
// value tree, the validated configuration, and edits applied to it before
// a run.
package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PluginSpec names a plugin and the arguments it is invoked with.
type PluginSpec struct {
	Name string
	Args *Map
}

// Clone returns a deep copy.
func (p PluginSpec) Clone() PluginSpec {
	return PluginSpec{Name: p.Name, Args: p.Args.Clone()}
}

// Config holds the ordered plugin list of every phase. All four phases are
// always present; a phase without plugins is an empty slice.
type Config struct {
	phases [len(phaseNames)][]PluginSpec
}

// NewConfig returns a config with every phase empty.
func NewConfig() *Config {
	c := &Config{}
	for _, p := range Phases {
		c.phases[p] = []PluginSpec{}
	}
	return c
}

// Plugins returns the plugins of a phase in execution order. The slice is
// shared; use the edit methods to change it.
func (c *Config) Plugins(p Phase) []PluginSpec {
	if !p.Valid() {
		return nil
	}
	return c.phases[p]
}

// Append adds a plugin at the end of a phase.
func (c *Config) Append(p Phase, spec PluginSpec) {
	if spec.Args == nil {
		spec.Args = NewMap()
	}
	c.phases[p] = append(c.phases[p], spec)
}

// Len returns the number of plugins across all phases.
func (c *Config) Len() int {
	n := 0
	for _, p := range Phases {
		n += len(c.phases[p])
	}
	return n
}

// Names returns the distinct plugin names in document order.
func (c *Config) Names() []string {
	seen := map[string]bool{}
	var names []string
	for _, p := range Phases {
		for _, spec := range c.phases[p] {
			if !seen[spec.Name] {
				seen[spec.Name] = true
				names = append(names, spec.Name)
			}
		}
	}
	return names
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := NewConfig()
	for _, p := range Phases {
		for _, spec := range c.phases[p] {
			out.phases[p] = append(out.phases[p], spec.Clone())
		}
	}
	return out
}

// Value converts the config back into its document form.
func (c *Config) Value() Value {
	doc := NewMap()
	for _, p := range Phases {
		items := make([]Value, 0, len(c.phases[p]))
		for _, spec := range c.phases[p] {
			entry := NewMap()
			entry.Set("name", String(spec.Name))
			if spec.Args.Len() > 0 {
				entry.Set("args", MapValue(spec.Args))
			}
			items = append(items, MapValue(entry))
		}
		doc.Set(p.Key(), Value{kind: KindSeq, seq: items})
	}
	return MapValue(doc)
}

// Format selects the encoding used by Encode.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Encode writes the config document in the given format.
func Encode(c *Config, format Format) ([]byte, error) {
	doc := c.Value()
	switch format {
	case FormatJSON:
		raw, err := doc.MarshalJSON()
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return nil, err
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc.toNode()); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (supported: json, yaml)", format)
	}
}

// Parse decodes and validates a pipeline document.
func Parse(data []byte) (*Config, []string, error) {
	raw, err := Decode(data)
	if err != nil {
		return nil, nil, err
	}
	return Validate(raw)
}

// Load reads and validates a pipeline document from disk.
func Load(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading pipeline: %w", err)
	}
	cfg, warnings, err := Parse(data)
	if err != nil {
		return nil, warnings, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, warnings, nil
}
