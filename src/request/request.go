// Package request turns build parameters into a concrete pipeline: it
// validates and derives the build identity, prunes plugins the build cannot
// use, configures the rest, and supplies template parameters.
package request

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/sofmeright/dockrun/src/gitver"
)

// Type selects which parameters are required and how the build is named.
type Type string

const (
	TypeProd   Type = "prod"
	TypeSimple Type = "simple"
)

const (
	DefaultGitRef         = "master"
	DefaultSecretsPath    = "/var/run/secrets/atomic-reactor"
	DefaultClusterVersion = "0.5.4"

	maxBuildIDLen   = 63
	timestampLayout = "20060102150405"
)

// Clusters from this version on mount secrets as files.
var secretsMountVersion = semver.MustParse("1.0.6")

var (
	buildIDRe     = regexp.MustCompile(`^(([A-Za-z0-9][-A-Za-z0-9_.]*)?[A-Za-z0-9])?$`)
	registryURIRe = regexp.MustCompile(`^https?://([^/]*)/?.*`)
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid build request")

// Request is the full parameter set for one build. Field names follow the
// osbs.conf keys so a settings instance can be decoded straight into it.
type Request struct {
	Type Type `yaml:"build_type"`

	GitURI       string   `yaml:"git_url"`
	GitRef       string   `yaml:"git_commit"`
	GitBranch    string   `yaml:"git_branch"`
	User         string   `yaml:"user"`
	Component    string   `yaml:"component"`
	RegistryURI  string   `yaml:"registry_uri"`
	OpenShiftURI string   `yaml:"openshift_uri"`
	YumRepoURLs  []string `yaml:"yum_repourls"`
	UseAuth      *bool    `yaml:"use_auth"`

	SourcesCommand        string `yaml:"sources_command"`
	Architecture          string `yaml:"architecture"`
	Vendor                string `yaml:"vendor"`
	BuildHost             string `yaml:"build_host"`
	AuthoritativeRegistry string `yaml:"authoritative_registry"`

	KojiTarget string `yaml:"koji_target"`
	KojiRoot   string `yaml:"koji_root"`
	KojiHub    string `yaml:"koji_hub"`

	PulpRegistry string `yaml:"pulp_registry_name"`
	PulpSecret   string `yaml:"pulp_secret"`
	SourceSecret string `yaml:"source_secret"` // older name for PulpSecret
	PDCSecret    string `yaml:"pdc_secret"`

	NFSServerPath string `yaml:"nfs_server_path"`
	NFSDestDir    string `yaml:"nfs_dest_dir"`

	GitPushURL      string `yaml:"git_push_url"`
	GitPushUsername string `yaml:"git_push_username"`

	BaseImage string `yaml:"base_image"`
	NameLabel string `yaml:"name_label"`

	// Triggers reports whether the build is re-triggered by base image
	// changes. Without triggers the rebuild plugins have nothing to do.
	Triggers bool `yaml:"triggers"`

	ClusterVersion string `yaml:"openshift_required_version"`
	SecretsPath    string `yaml:"secrets_path"`
}

// Derived holds values computed from a validated request.
type Derived struct {
	BuildID               string
	ImageTag              string
	OutputImage           string // where the built image is pushed
	TriggerImageStreamTag string
	ImageStreamName       string
	ImageStreamURL        string
	Timestamp             string
}

// FillFromGit fills the git fields that are not set yet.
func (r *Request) FillFromGit(info *gitver.Info) {
	if info == nil {
		return
	}
	if r.GitURI == "" {
		r.GitURI = info.URI
	}
	if r.GitRef == "" {
		r.GitRef = info.Commit
	}
	if r.GitBranch == "" {
		r.GitBranch = info.Branch
	}
}

// Normalize applies defaults and canonical forms in place: user names are
// padded to four characters and the registry is reduced to host[:port].
func (r *Request) Normalize() {
	if r.Type == "" {
		r.Type = TypeProd
	}
	if r.GitRef == "" {
		r.GitRef = DefaultGitRef
	}
	if r.User != "" && len(r.User) < 4 {
		r.User += strings.Repeat("_", 4-len(r.User))
	}
	if m := registryURIRe.FindStringSubmatch(r.RegistryURI); m != nil {
		r.RegistryURI = m[1]
	}
	if r.PulpSecret == "" {
		r.PulpSecret = r.SourceSecret
	}
	if r.SecretsPath == "" {
		r.SecretsPath = DefaultSecretsPath
	}
	if r.ClusterVersion == "" {
		r.ClusterVersion = DefaultClusterVersion
	}
}

// Validate checks that every required parameter is set. It reports all
// missing parameters at once.
func (r *Request) Validate() error {
	var errs []string
	require := func(name, v string) {
		if v == "" {
			errs = append(errs, fmt.Sprintf("param %q is required", name))
		}
	}

	switch r.Type {
	case TypeProd, TypeSimple:
	default:
		errs = append(errs, fmt.Sprintf("unknown build type %q (supported: prod, simple)", r.Type))
	}

	require("git_uri", r.GitURI)
	require("git_ref", r.GitRef)
	require("user", r.User)
	require("component", r.Component)
	require("registry_uri", r.RegistryURI)
	require("openshift_uri", r.OpenShiftURI)

	if r.Type == TypeProd {
		require("git_branch", r.GitBranch)
		require("sources_command", r.SourcesCommand)
		require("architecture", r.Architecture)
		require("vendor", r.Vendor)
		require("build_host", r.BuildHost)
		require("authoritative_registry", r.AuthoritativeRegistry)
		require("base_image", r.BaseImage)
		require("name_label", r.NameLabel)
	}

	if r.ClusterVersion != "" {
		if _, err := semver.NewVersion(r.ClusterVersion); err != nil {
			errs = append(errs, fmt.Sprintf("openshift_required_version %q: %v", r.ClusterVersion, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// MountsSecrets reports whether the target cluster takes secrets as mounted
// files rather than a single source secret.
func (r *Request) MountsSecrets() bool {
	v, err := semver.NewVersion(r.ClusterVersion)
	if err != nil {
		return false
	}
	return !v.LessThan(secretsMountVersion)
}

// Derive computes the build identity. A build id longer than the cluster
// allows is truncated with a warning; one that is still not a valid name is
// an error.
func (r *Request) Derive(now time.Time) (*Derived, []string, error) {
	var warnings []string
	d := &Derived{Timestamp: now.Format(timestampLayout)}

	var id string
	switch r.Type {
	case TypeSimple:
		id = "build-" + d.Timestamp
		d.ImageTag = fmt.Sprintf("%s/%s:%s", r.User, r.Component, d.Timestamp)
	default:
		id = gitver.RepoName(r.GitURI) + "-" + r.GitBranch
		d.ImageTag = fmt.Sprintf("%s/%s:%s-%s", r.User, r.Component, r.KojiTarget, d.Timestamp)
		d.TriggerImageStreamTag = ImageStreamTag(r.BaseImage)
		d.ImageStreamName = strings.ReplaceAll(r.NameLabel, "/", "-")
		d.ImageStreamURL = path.Join(r.RegistryURI, r.NameLabel)
	}

	if len(id) > maxBuildIDLen {
		short := id[:maxBuildIDLen]
		warnings = append(warnings, fmt.Sprintf("build id %q is too long, changing to %q", id, short))
		id = short
	}
	if !buildIDRe.MatchString(id) {
		return nil, warnings, fmt.Errorf("%w: build id %q doesn't match %s", ErrInvalid, id, buildIDRe)
	}
	d.BuildID = id

	d.OutputImage = r.RegistryURI + "/" + d.ImageTag
	if r.Type == TypeProd && r.PulpSecret != "" {
		// pushed through pulp, not the registry
		d.OutputImage = d.ImageTag
	}
	return d, warnings, nil
}

// ImageStreamTag converts a FROM value into an image stream tag name:
// the registry part is dropped, slashes become dashes and a missing tag
// defaults to latest.
func ImageStreamTag(image string) string {
	ret := image
	parts := strings.SplitN(image, "/", 3)
	switch len(parts) {
	case 2:
		if strings.ContainsAny(parts[0], ".:") {
			ret = parts[1]
		}
	case 3:
		ret = parts[1] + "/" + parts[2]
	}
	ret = strings.ReplaceAll(ret, "/", "-")
	if !strings.Contains(ret, ":") {
		ret += ":latest"
	}
	return ret
}
