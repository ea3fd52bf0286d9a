package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/sofmeright/dockrun/src/request"
)

var instanceNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.\-]*$`)

// Validate checks structural invariants of a loaded Config.
// Returns warnings (soft issues) and a hard error if the config is invalid.
func Validate(cfg *Config) (warnings []string, err error) {
	var errs []string

	// ── Logging ───────────────────────────────────────────────────────────

	if cfg.LogLevel != "" && !knownLogLevel(cfg.LogLevel) {
		errs = append(errs, fmt.Sprintf("log_level: unknown level %q (supported: debug, info, warn, error)", cfg.LogLevel))
	}

	// ── Concurrency ───────────────────────────────────────────────────────

	switch {
	case cfg.Concurrency < 0:
		errs = append(errs, fmt.Sprintf("concurrency: must not be negative, got %d", cfg.Concurrency))
	case cfg.Concurrency == 0:
		warnings = append(warnings, fmt.Sprintf("concurrency: 0 means unlimited; consider %d", DefaultConcurrency))
	}

	// ── Instances ─────────────────────────────────────────────────────────

	if cfg.Instance != "" {
		if _, ok := cfg.Instances[cfg.Instance]; !ok {
			errs = append(errs, fmt.Sprintf("instance: references unknown instance %q", cfg.Instance))
		}
	}

	for _, name := range cfg.InstanceNames() {
		inst := cfg.Instances[name]
		ipath := "instances." + name

		if !instanceNameRe.MatchString(name) {
			errs = append(errs, fmt.Sprintf("%s: name is not a valid identifier (must match %s)", ipath, instanceNameRe))
		}

		switch inst.Type {
		case "", request.TypeProd, request.TypeSimple:
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown build_type %q (supported: prod, simple)", ipath, inst.Type))
		}

		if inst.ClusterVersion != "" {
			if _, err := semver.NewVersion(inst.ClusterVersion); err != nil {
				errs = append(errs, fmt.Sprintf("%s: openshift_required_version %q is not a version", ipath, inst.ClusterVersion))
			}
		}

		if inst.OpenShiftURI == "" {
			warnings = append(warnings, fmt.Sprintf("%s: openshift_uri is not set", ipath))
		}
		if inst.PulpRegistry != "" && inst.PulpSecret == "" && inst.SourceSecret == "" {
			warnings = append(warnings, fmt.Sprintf("%s: pulp_registry_name without pulp_secret; pulp_push needs a username arg", ipath))
		}
		if inst.GitPushUsername != "" && inst.GitPushURL == "" {
			warnings = append(warnings, fmt.Sprintf("%s: git_push_username has no effect without git_push_url", ipath))
		}
		if inst.NFSDestDir != "" && inst.NFSServerPath == "" {
			warnings = append(warnings, fmt.Sprintf("%s: nfs_dest_dir has no effect without nfs_server_path", ipath))
		}
	}

	// ── Params ────────────────────────────────────────────────────────────

	if _, err := cfg.TemplateParams(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return warnings, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return warnings, nil
}

func knownLogLevel(level string) bool {
	_, ok := logLevels[strings.ToLower(level)]
	return ok
}
