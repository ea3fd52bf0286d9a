package pipeline

import (
	"errors"
	"fmt"
)

// ErrPluginNotConfigured is returned when an edit targets a plugin that is
// not listed in the phase.
var ErrPluginNotConfigured = errors.New("plugin not configured")

func (c *Config) index(p Phase, name string) int {
	for i, spec := range c.Plugins(p) {
		if spec.Name == name {
			return i
		}
	}
	return -1
}

// HasPlugin reports whether name is listed in phase p.
func (c *Config) HasPlugin(p Phase, name string) bool {
	return c.index(p, name) >= 0
}

// PluginArgs returns a copy of the arguments of the first plugin called
// name in phase p.
func (c *Config) PluginArgs(p Phase, name string) (*Map, error) {
	i := c.index(p, name)
	if i < 0 {
		return nil, fmt.Errorf("%s/%s: %w", p, name, ErrPluginNotConfigured)
	}
	return c.phases[p][i].Args.Clone(), nil
}

// RemovePlugin drops every entry called name from phase p and reports
// whether anything was removed.
func (c *Config) RemovePlugin(p Phase, name string) bool {
	if !p.Valid() {
		return false
	}
	kept := c.phases[p][:0:0]
	for _, spec := range c.phases[p] {
		if spec.Name != name {
			kept = append(kept, spec)
		}
	}
	removed := len(kept) != len(c.phases[p])
	c.phases[p] = kept
	return removed
}

// SetArg sets one argument of the first plugin called name in phase p.
// The plugin's argument map is replaced, never modified in place.
func (c *Config) SetArg(p Phase, name, key string, v Value) error {
	i := c.index(p, name)
	if i < 0 {
		return fmt.Errorf("%s/%s: %w", p, name, ErrPluginNotConfigured)
	}
	args := c.phases[p][i].Args.Clone()
	args.Set(key, v)
	c.phases[p][i] = PluginSpec{Name: name, Args: args}
	return nil
}

// MergeArg deep-merges a mapping into one argument of a plugin. Nested
// mappings merge recursively; any other value in patch replaces the
// existing one. A missing or non-mapping argument is replaced by patch.
func (c *Config) MergeArg(p Phase, name, key string, patch *Map) error {
	i := c.index(p, name)
	if i < 0 {
		return fmt.Errorf("%s/%s: %w", p, name, ErrPluginNotConfigured)
	}
	args := c.phases[p][i].Args.Clone()
	current, _ := args.Get(key)
	base := current.Map()
	if current.Kind() != KindMap {
		base = NewMap()
	}
	args.Set(key, MapValue(DeepMerge(base, patch)))
	c.phases[p][i] = PluginSpec{Name: name, Args: args}
	return nil
}

// DeepMerge returns a new mapping holding base updated with patch.
func DeepMerge(base, patch *Map) *Map {
	out := base.Clone()
	patch.Range(func(key string, v Value) bool {
		existing, ok := out.Get(key)
		if ok && existing.Kind() == KindMap && v.Kind() == KindMap {
			out.Set(key, MapValue(DeepMerge(existing.Map(), v.Map())))
		} else {
			out.Set(key, v.Clone())
		}
		return true
	})
	return out
}
