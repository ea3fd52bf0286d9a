package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Rule names the schema constraint a ValidationError violates.
type Rule string

const (
	RuleDocument Rule = "document-mapping" // top level must be a mapping
	RulePhaseKey Rule = "known-phase"      // only the four phase keys
	RuleSequence Rule = "phase-sequence"   // phase value is a sequence
	RuleEntry    Rule = "plugin-mapping"   // element is a mapping
	RuleName     Rule = "plugin-name"      // non-empty string name
	RuleArgs     Rule = "args-mapping"     // args is a mapping
)

// ValidationError is a single schema violation. Index is -1 when the
// violation is not tied to a plugin entry.
type ValidationError struct {
	Key     string
	Phase   Phase
	Index   int
	Rule    Rule
	Message string
}

func (e *ValidationError) Error() string {
	return e.Path() + ": " + e.Message
}

// Path locates the violation, e.g. "postbuild_plugins[2]".
func (e *ValidationError) Path() string {
	switch {
	case e.Key == "":
		return "document"
	case e.Index < 0:
		return e.Key
	default:
		return fmt.Sprintf("%s[%d]", e.Key, e.Index)
	}
}

// ValidationErrors collects every violation found in one pass.
type ValidationErrors []*ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return "invalid pipeline: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the individual violations to errors.As.
func (errs ValidationErrors) Unwrap() []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

// Validate checks the decoded document against the pipeline schema and
// builds the Config. It reports every violation, not just the first.
// Warnings are soft issues that do not block a run.
func Validate(raw Value) (*Config, []string, error) {
	var (
		errs     ValidationErrors
		warnings []string
	)
	fail := func(key string, phase Phase, index int, rule Rule, format string, args ...any) {
		errs = append(errs, &ValidationError{
			Key:     key,
			Phase:   phase,
			Index:   index,
			Rule:    rule,
			Message: fmt.Sprintf(format, args...),
		})
	}

	cfg := NewConfig()

	switch raw.Kind() {
	case KindNull:
		return cfg, []string{"document is empty; every phase has no plugins"}, nil
	case KindMap:
	default:
		fail("", 0, -1, RuleDocument, "must be a mapping of phases, got %s", raw.Kind())
		return nil, nil, errs
	}

	raw.Map().Range(func(key string, phaseVal Value) bool {
		phase, ok := phaseForKey(key)
		if !ok {
			fail(key, 0, -1, RulePhaseKey, "unknown phase key %q (supported: %s)", key, phaseKeyList())
			return true
		}

		var items []Value
		switch phaseVal.Kind() {
		case KindNull:
			return true
		case KindSeq:
			items = phaseVal.Items()
		default:
			fail(key, phase, -1, RuleSequence, "must be a sequence of plugins, got %s", phaseVal.Kind())
			return true
		}

		seen := map[string]int{}
		for i, item := range items {
			spec, ok := validateEntry(key, phase, i, item, fail, &warnings)
			if !ok {
				continue
			}
			if first, dup := seen[spec.Name]; dup {
				warnings = append(warnings, fmt.Sprintf("%s[%d]: plugin %q already listed at index %d", key, i, spec.Name, first))
			} else {
				seen[spec.Name] = i
			}
			cfg.phases[phase] = append(cfg.phases[phase], spec)
		}
		return true
	})

	if len(errs) > 0 {
		return nil, warnings, errs
	}

	warnings = append(warnings, ScanSecrets(cfg)...)
	return cfg, warnings, nil
}

// validateEntry checks one plugin element of a phase sequence.
func validateEntry(key string, phase Phase, i int, item Value,
	fail func(string, Phase, int, Rule, string, ...any), warnings *[]string) (PluginSpec, bool) {

	entry := item.Map()
	if item.Kind() != KindMap {
		fail(key, phase, i, RuleEntry, "plugin entry must be a mapping with name and args, got %s", item.Kind())
		return PluginSpec{}, false
	}

	ok := true
	spec := PluginSpec{Args: NewMap()}

	nameVal, present := entry.Get("name")
	switch {
	case !present:
		fail(key, phase, i, RuleName, "name is required")
		ok = false
	case nameVal.Kind() != KindString:
		fail(key, phase, i, RuleName, "name must be a string, got %s", nameVal.Kind())
		ok = false
	default:
		name, _ := nameVal.Str()
		if strings.TrimSpace(name) == "" {
			fail(key, phase, i, RuleName, "name must not be empty")
			ok = false
		}
		spec.Name = name
	}

	if argsVal, present := entry.Get("args"); present {
		switch argsVal.Kind() {
		case KindNull:
		case KindMap:
			spec.Args = argsVal.Map().Clone()
		default:
			fail(key, phase, i, RuleArgs, "args must be a mapping, got %s", argsVal.Kind())
			ok = false
		}
	}

	for _, field := range entry.Keys() {
		if field != "name" && field != "args" {
			*warnings = append(*warnings, fmt.Sprintf("%s[%d]: unknown field %q ignored", key, i, field))
		}
	}

	return spec, ok
}

func phaseKeyList() string {
	keys := make([]string, len(Phases))
	for i, p := range Phases {
		keys[i] = p.Key()
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
