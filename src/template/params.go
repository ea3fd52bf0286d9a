package template

import (
	"fmt"
	"os"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/sofmeright/dockrun/src/pipeline"
)

// Params maps token names to the literal text substituted for them.
// Params is immutable; Merge returns a new set.
type Params struct {
	vals map[string]string
}

// NewParams validates names and values. A value may not itself contain a
// token, which keeps resolution idempotent.
func NewParams(vals map[string]string) (Params, error) {
	p := Params{vals: make(map[string]string, len(vals))}
	var errs []string
	for _, name := range sortedNames(vals) {
		v := vals[name]
		if !nameRe.MatchString(name) {
			errs = append(errs, fmt.Sprintf("%q: not a valid token name", name))
			continue
		}
		if tokenRe.MatchString(v) {
			errs = append(errs, fmt.Sprintf("%s: value %q contains a template token", name, v))
			continue
		}
		p.vals[name] = v
	}
	if len(errs) > 0 {
		return Params{}, fmt.Errorf("invalid template params: %s", strings.Join(errs, "; "))
	}
	return p, nil
}

// MustParams is NewParams for literals known to be valid.
func MustParams(vals map[string]string) Params {
	p, err := NewParams(vals)
	if err != nil {
		panic(err)
	}
	return p
}

// ParamsFromAny converts decoded data (TOML, YAML) into params using each
// value's document text. Nested tables are rejected.
func ParamsFromAny(raw map[string]any) (Params, error) {
	vals := make(map[string]string, len(raw))
	for k, x := range raw {
		v, err := pipeline.FromAny(x)
		if err != nil {
			return Params{}, fmt.Errorf("param %s: %w", k, err)
		}
		if v.Kind() == pipeline.KindMap {
			return Params{}, fmt.Errorf("param %s: tables are not supported", k)
		}
		vals[k] = v.Text()
	}
	return NewParams(vals)
}

// ParseAssignments parses KEY=VALUE pairs as given on the command line.
func ParseAssignments(pairs []string) (Params, error) {
	vals := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return Params{}, fmt.Errorf("param %q: expected KEY=VALUE", pair)
		}
		vals[strings.TrimSpace(k)] = v
	}
	return NewParams(vals)
}

// LoadParamsFile reads a flat TOML table of parameters.
func LoadParamsFile(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("reading params file: %w", err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Params{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	p, err := ParamsFromAny(raw)
	if err != nil {
		return Params{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Get returns the value of a token.
func (p Params) Get(name string) (string, bool) {
	v, ok := p.vals[name]
	return v, ok
}

func (p Params) Len() int { return len(p.vals) }

// Names returns the token names in sorted order.
func (p Params) Names() []string { return sortedNames(p.vals) }

// Map returns a copy of the underlying values.
func (p Params) Map() map[string]string {
	out := make(map[string]string, len(p.vals))
	for k, v := range p.vals {
		out[k] = v
	}
	return out
}

// Merge overlays the given sets on p; later sets win.
func (p Params) Merge(others ...Params) Params {
	out := Params{vals: p.Map()}
	for _, o := range others {
		for k, v := range o.vals {
			out.vals[k] = v
		}
	}
	return out
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
