// Package template substitutes {{TOKEN}} placeholders in plugin arguments
// with run-time parameters.
//
// Tokens are written as {{NAME}} where NAME matches [A-Za-z_][A-Za-z0-9_]*.
// Substitution applies to every string in an argument tree, including
// strings nested in sequences and mappings; mapping keys and non-string
// scalars are left alone:
//
//	url: "{{OPENSHIFT_URI}}"            → url: "https://osbs.example.com"
//	target: "{{KOJI_TARGET}}-candidate" → target: "f24-candidate"
//	registries: ["{{REGISTRY_URI}}"]    → registries: ["registry.example.com:5000"]
package template

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sofmeright/dockrun/src/pipeline"
)

var (
	tokenRe = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)
	nameRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Error reports tokens with no matching parameter, and tokens that
// appeared only after substitution joined a value with surrounding text.
type Error struct {
	Phase  pipeline.Phase
	Plugin string
	Tokens []string // sorted, unique
	Formed []string // sorted, unique
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Tokens) > 0 {
		parts = append(parts, "unresolved template token(s): "+strings.Join(e.Tokens, ", "))
	}
	if len(e.Formed) > 0 {
		parts = append(parts, "substitution formed new token(s): "+strings.Join(e.Formed, ", "))
	}
	return fmt.Sprintf("plugin %q: %s", e.Plugin, strings.Join(parts, "; "))
}

// resolver accumulates failures across one argument tree.
type resolver struct {
	params  Params
	missing map[string]bool
	formed  map[string]bool
}

func newResolver(params Params) *resolver {
	return &resolver{params: params, missing: map[string]bool{}, formed: map[string]bool{}}
}

func (r *resolver) err(plugin string) error {
	if len(r.missing) == 0 && len(r.formed) == 0 {
		return nil
	}
	return &Error{Plugin: plugin, Tokens: setToSorted(r.missing), Formed: setToSorted(r.formed)}
}

// Resolve returns a copy of args with every token substituted. The input
// is not modified. A successful result contains no tokens, so resolving it
// again returns an equal mapping.
func Resolve(plugin string, args *pipeline.Map, params Params) (*pipeline.Map, error) {
	r := newResolver(params)
	out := r.resolveMap(args)
	if err := r.err(plugin); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveValue substitutes tokens in a single value and returns the names
// of tokens it could not resolve.
func ResolveValue(v pipeline.Value, params Params) (pipeline.Value, []string) {
	r := newResolver(params)
	out := r.resolveValue(v)
	return out, setToSorted(r.missing)
}

// ResolveString substitutes tokens in s.
func ResolveString(s string, params Params) (string, []string) {
	r := newResolver(params)
	out := r.resolveString(s)
	return out, setToSorted(r.missing)
}

func (r *resolver) resolveMap(m *pipeline.Map) *pipeline.Map {
	out := pipeline.NewMap()
	m.Range(func(key string, v pipeline.Value) bool {
		out.Set(key, r.resolveValue(v))
		return true
	})
	return out
}

func (r *resolver) resolveValue(v pipeline.Value) pipeline.Value {
	switch v.Kind() {
	case pipeline.KindString:
		s, _ := v.Str()
		return pipeline.String(r.resolveString(s))
	case pipeline.KindSeq:
		items := v.Items()
		out := make([]pipeline.Value, len(items))
		for i, item := range items {
			out[i] = r.resolveValue(item)
		}
		return pipeline.Seq(out...)
	case pipeline.KindMap:
		return pipeline.MapValue(r.resolveMap(v.Map()))
	case pipeline.KindNull, pipeline.KindInt, pipeline.KindFloat, pipeline.KindBool:
		return v
	default:
		return v
	}
}

// resolveString is a single left-to-right pass; substituted text is never
// rescanned. Missing tokens are left in place.
func (r *resolver) resolveString(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	intact := map[string]int{}
	out := tokenRe.ReplaceAllStringFunc(s, func(tok string) string {
		name := tok[2 : len(tok)-2]
		if v, ok := r.params.Get(name); ok {
			return v
		}
		r.missing[name] = true
		intact[name]++
		return tok
	})
	for _, m := range tokenRe.FindAllStringSubmatch(out, -1) {
		if intact[m[1]] > 0 {
			intact[m[1]]--
			continue
		}
		r.formed[m[1]] = true
	}
	return out
}

// Tokens lists the distinct token names referenced in args, sorted.
func Tokens(args *pipeline.Map) []string {
	found := map[string]bool{}
	collectTokens(pipeline.MapValue(args), found)
	return setToSorted(found)
}

func collectTokens(v pipeline.Value, found map[string]bool) {
	switch v.Kind() {
	case pipeline.KindString:
		s, _ := v.Str()
		for _, m := range tokenRe.FindAllStringSubmatch(s, -1) {
			found[m[1]] = true
		}
	case pipeline.KindSeq:
		for _, item := range v.Items() {
			collectTokens(item, found)
		}
	case pipeline.KindMap:
		v.Map().Range(func(_ string, item pipeline.Value) bool {
			collectTokens(item, found)
			return true
		})
	case pipeline.KindNull, pipeline.KindInt, pipeline.KindFloat, pipeline.KindBool:
	}
}

// MissingTokens checks every plugin of cfg against params without running
// anything. The result is ordered by phase then plugin position.
func MissingTokens(cfg *pipeline.Config, params Params) []*Error {
	var out []*Error
	for _, phase := range pipeline.Phases {
		for _, spec := range cfg.Plugins(phase) {
			var missing []string
			for _, tok := range Tokens(spec.Args) {
				if _, ok := params.Get(tok); !ok {
					missing = append(missing, tok)
				}
			}
			if len(missing) > 0 {
				out = append(out, &Error{Phase: phase, Plugin: spec.Name, Tokens: missing})
			}
		}
	}
	return out
}

// ResolveConfig resolves every plugin of cfg, returning a new config. All
// resolution failures are joined into the returned error.
func ResolveConfig(cfg *pipeline.Config, params Params) (*pipeline.Config, error) {
	out := pipeline.NewConfig()
	var errs []error
	for _, phase := range pipeline.Phases {
		for _, spec := range cfg.Plugins(phase) {
			args, err := Resolve(spec.Name, spec.Args, params)
			if err != nil {
				var terr *Error
				if errors.As(err, &terr) {
					terr.Phase = phase
				}
				errs = append(errs, fmt.Errorf("%s: %w", phase.Key(), err))
				continue
			}
			out.Append(phase, pipeline.PluginSpec{Name: spec.Name, Args: args})
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func setToSorted(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
