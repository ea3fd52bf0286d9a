package pipeline

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

var (
	detectorOnce sync.Once
	detectorMu   sync.Mutex // Detector accumulates findings internally
	detector     *detect.Detector
	detectorErr  error
)

// ScanSecrets reports literal credentials in plugin arguments. Secrets
// belong in template parameters or mounted secret files, never inline in
// the document. Templated strings are skipped.
func ScanSecrets(cfg *Config) []string {
	detectorOnce.Do(func() {
		detector, detectorErr = detect.NewDetectorDefaultConfig()
	})
	if detectorErr != nil {
		return []string{fmt.Sprintf("secret scan unavailable: %v", detectorErr)}
	}

	detectorMu.Lock()
	defer detectorMu.Unlock()

	var warnings []string
	for _, phase := range Phases {
		for i, spec := range cfg.Plugins(phase) {
			path := fmt.Sprintf("%s[%d].args", phase.Key(), i)
			walkStrings(path, MapValue(spec.Args), func(at, key, s string) {
				if strings.Contains(s, "{{") {
					return
				}
				for _, hit := range detector.DetectBytes([]byte(key + ": " + s)) {
					warnings = append(warnings, fmt.Sprintf("%s: possible secret in plugin %q: %s (%s)",
						at, spec.Name, hit.Description, hit.RuleID))
				}
			})
		}
	}
	return warnings
}

// walkStrings visits every string leaf below v with its path and the
// closest mapping key.
func walkStrings(path string, v Value, fn func(path, key, s string)) {
	walk(path, "", v, fn)
}

func walk(path, key string, v Value, fn func(path, key, s string)) {
	switch v.Kind() {
	case KindString:
		s, _ := v.Str()
		fn(path, key, s)
	case KindSeq:
		for i, item := range v.Items() {
			walk(fmt.Sprintf("%s[%d]", path, i), key, item, fn)
		}
	case KindMap:
		v.Map().Range(func(k string, item Value) bool {
			walk(path+"."+k, k, item, fn)
			return true
		})
	case KindNull, KindInt, KindFloat, KindBool:
	}
}
