package request

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/sofmeright/dockrun/src/pipeline"
	"github.com/sofmeright/dockrun/src/template"
)

// Plugin names the render step knows how to configure.
const (
	PluginAddYumRepo     = "add_yum_repo_by_url"
	PluginCheckRebuild   = "check_and_set_rebuild"
	PluginBumpRelease    = "bump_release"
	PluginImportImage    = "import_image"
	PluginStoreMetadata  = "store_metadata_in_osv3"
	PluginFetchArtefacts = "distgit_fetch_artefacts"
	PluginPullBaseImage  = "pull_base_image"
	PluginAddLabels      = "add_labels_in_dockerfile"
	PluginKoji           = "koji"
	PluginPulpPush       = "pulp_push"
	PluginSendmail       = "sendmail"
	PluginCopyToNFS      = "cp_built_image_to_nfs"
)

// ErrPulpAuth is returned when a pulp registry is configured without any
// way to authenticate against it.
var ErrPulpAuth = errors.New("pulp registry specified but no auth config")

// Rendered is a request applied to a pipeline.
type Rendered struct {
	Derived
	Request Request // normalized copy
	Config  *pipeline.Config

	// Secrets maps secret names to their mount paths on clusters that
	// mount secrets. Older clusters get only SourceSecret.
	Secrets      map[string]string
	SourceSecret string

	Warnings []string
}

// Params returns the template parameters the request provides. Empty
// values are left out so a pipeline referencing them fails resolution
// instead of silently running with blanks.
func (rd *Rendered) Params() (template.Params, error) {
	r := rd.Request
	vals := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			vals[k] = v
		}
	}
	set("BUILD_ID", rd.BuildID)
	set("IMAGE_TAG", rd.ImageTag)
	set("OUTPUT_IMAGE", rd.OutputImage)
	set("GIT_URI", r.GitURI)
	set("GIT_REF", r.GitRef)
	set("GIT_BRANCH", r.GitBranch)
	set("USER", r.User)
	set("COMPONENT", r.Component)
	set("REGISTRY_URI", r.RegistryURI)
	set("OPENSHIFT_URI", r.OpenShiftURI)
	set("SOURCES_COMMAND", r.SourcesCommand)
	set("ARCHITECTURE", r.Architecture)
	set("VENDOR", r.Vendor)
	set("BUILD_HOST", r.BuildHost)
	set("AUTHORITATIVE_REGISTRY", r.AuthoritativeRegistry)
	set("KOJI_TARGET", r.KojiTarget)
	set("KOJI_ROOT", r.KojiRoot)
	set("KOJI_HUB", r.KojiHub)
	set("PULP_REGISTRY", r.PulpRegistry)
	set("NFS_SERVER_PATH", r.NFSServerPath)
	set("NFS_DEST_DIR", r.NFSDestDir)
	set("BASE_IMAGE", r.BaseImage)
	set("NAME_LABEL", r.NameLabel)
	set("TRIGGER_IMAGESTREAMTAG", rd.TriggerImageStreamTag)
	set("IMAGESTREAM_NAME", rd.ImageStreamName)
	set("IMAGESTREAM_URL", rd.ImageStreamURL)
	return template.NewParams(vals)
}

// Render validates the request and applies it to a copy of cfg. The
// request and cfg are not modified.
func (r *Request) Render(cfg *pipeline.Config, now time.Time) (*Rendered, error) {
	req := *r
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	d, warnings, err := req.Derive(now)
	if err != nil {
		return nil, err
	}

	rd := &Rendered{
		Derived:  *d,
		Request:  req,
		Config:   cfg.Clone(),
		Secrets:  map[string]string{},
		Warnings: warnings,
	}
	e := &editor{cfg: rd.Config}

	req.applyCommon(e)
	if req.Type == TypeProd {
		if err := req.applyProd(e, rd); err != nil {
			return nil, err
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	rd.Warnings = append(rd.Warnings, e.warnings...)
	return rd, nil
}

func (r *Request) applyCommon(e *editor) {
	if e.cfg.HasPlugin(pipeline.PhasePrebuild, PluginAddYumRepo) {
		e.set(pipeline.PhasePrebuild, PluginAddYumRepo, "repourls", pipeline.Strings(r.YumRepoURLs...))
	}
	if e.cfg.HasPlugin(pipeline.PhasePrebuild, PluginCheckRebuild) {
		e.set(pipeline.PhasePrebuild, PluginCheckRebuild, "url", pipeline.String(r.OpenShiftURI))
		if r.UseAuth != nil {
			e.set(pipeline.PhasePrebuild, PluginCheckRebuild, "use_auth", pipeline.Bool(*r.UseAuth))
		}
	}
	if r.UseAuth != nil {
		e.setMetadata("use_auth", pipeline.Bool(*r.UseAuth))
	}
	e.setMetadata("url", pipeline.String(r.OpenShiftURI))
}

func (r *Request) applyProd(e *editor, rd *Rendered) error {
	e.setIfPresent(pipeline.PhasePrebuild, PluginFetchArtefacts, "command", pipeline.String(r.SourcesCommand))
	e.setIfPresent(pipeline.PhasePrebuild, PluginPullBaseImage, "parent_registry", pipeline.String(r.RegistryURI))

	if e.cfg.HasPlugin(pipeline.PhasePrebuild, PluginAddLabels) {
		labels := pipeline.MapOf(
			"Architecture", pipeline.String(r.Architecture),
			"Vendor", pipeline.String(r.Vendor),
			"Build_Host", pipeline.String(r.BuildHost),
			"Authoritative_Registry", pipeline.String(r.AuthoritativeRegistry),
		)
		if err := e.cfg.MergeArg(pipeline.PhasePrebuild, PluginAddLabels, "labels", labels); err != nil && e.err == nil {
			e.err = err
		}
	}

	if !r.Triggers {
		e.cfg.RemovePlugin(pipeline.PhasePrebuild, PluginCheckRebuild)
		e.cfg.RemovePlugin(pipeline.PhasePrebuild, PluginBumpRelease)
		e.cfg.RemovePlugin(pipeline.PhasePostbuild, PluginImportImage)
	}

	switch {
	case len(r.YumRepoURLs) > 0:
		e.remove(pipeline.PhasePrebuild, PluginKoji, "yum repositories are provided")
	case r.KojiTarget == "" || r.KojiRoot == "" || r.KojiHub == "":
		e.remove(pipeline.PhasePrebuild, PluginKoji, "koji target, root or hub is not set")
	default:
		e.setIfPresent(pipeline.PhasePrebuild, PluginKoji, "target", pipeline.String(r.KojiTarget))
		e.setIfPresent(pipeline.PhasePrebuild, PluginKoji, "root", pipeline.String(r.KojiRoot))
		e.setIfPresent(pipeline.PhasePrebuild, PluginKoji, "hub", pipeline.String(r.KojiHub))
	}

	if e.cfg.HasPlugin(pipeline.PhasePrebuild, PluginBumpRelease) {
		if r.GitPushURL != "" {
			pushURL, err := withUser(r.GitPushURL, r.GitPushUsername)
			if err != nil {
				return err
			}
			e.set(pipeline.PhasePrebuild, PluginBumpRelease, "push_url", pipeline.String(pushURL))
		}
		e.set(pipeline.PhasePrebuild, PluginBumpRelease, "git_ref", pipeline.String(r.GitRef))
	}

	r.applySecrets(e, rd)

	if r.NFSServerPath != "" {
		e.setIfPresent(pipeline.PhasePostbuild, PluginCopyToNFS, "nfs_server_path", pipeline.String(r.NFSServerPath))
		if r.NFSDestDir != "" {
			e.setIfPresent(pipeline.PhasePostbuild, PluginCopyToNFS, "nfs_dest_dir", pipeline.String(r.NFSDestDir))
		}
	} else {
		e.remove(pipeline.PhasePostbuild, PluginCopyToNFS, "no nfs server path")
	}

	if r.PulpRegistry != "" {
		if e.cfg.HasPlugin(pipeline.PhasePostbuild, PluginPulpPush) {
			e.set(pipeline.PhasePostbuild, PluginPulpPush, "pulp_registry_name", pipeline.String(r.PulpRegistry))
			if r.PulpSecret == "" {
				args, _ := e.cfg.PluginArgs(pipeline.PhasePostbuild, PluginPulpPush)
				if _, ok := args.Get("username"); !ok {
					return ErrPulpAuth
				}
			}
		} else {
			e.warn("pulp registry %q set but %s is not configured", r.PulpRegistry, PluginPulpPush)
		}
	} else {
		e.remove(pipeline.PhasePostbuild, PluginPulpPush, "no pulp registry")
	}

	if e.cfg.HasPlugin(pipeline.PhasePostbuild, PluginImportImage) {
		e.set(pipeline.PhasePostbuild, PluginImportImage, "imagestream", pipeline.String(rd.ImageStreamName))
		e.set(pipeline.PhasePostbuild, PluginImportImage, "docker_image_repo", pipeline.String(rd.ImageStreamURL))
		e.set(pipeline.PhasePostbuild, PluginImportImage, "url", pipeline.String(r.OpenShiftURI))
		if r.UseAuth != nil {
			e.set(pipeline.PhasePostbuild, PluginImportImage, "use_auth", pipeline.Bool(*r.UseAuth))
		}
	}
	return nil
}

// applySecrets points plugins at their mounted secrets. Clusters older
// than the mount version take a single source secret instead; the pulp
// secret has priority and a PDC secret only fills an empty slot.
func (r *Request) applySecrets(e *editor, rd *Rendered) {
	if !r.MountsSecrets() {
		switch {
		case r.PulpSecret != "":
			rd.SourceSecret = r.PulpSecret
			if r.PDCSecret != "" && r.PDCSecret != r.PulpSecret {
				e.warn("cluster %s takes one source secret; pdc secret %q dropped in favour of %q",
					r.ClusterVersion, r.PDCSecret, r.PulpSecret)
			}
		case r.PDCSecret != "":
			rd.SourceSecret = r.PDCSecret
		}
		return
	}
	mount := func(phase pipeline.Phase, plugin, arg, secret string) {
		if secret == "" || !e.cfg.HasPlugin(phase, plugin) {
			return
		}
		p := path.Join(r.SecretsPath, secret)
		e.set(phase, plugin, arg, pipeline.String(p))
		rd.Secrets[secret] = p
	}
	mount(pipeline.PhasePostbuild, PluginPulpPush, "pulp_secret_path", r.PulpSecret)
	mount(pipeline.PhaseExit, PluginSendmail, "pdc_secret_path", r.PDCSecret)
}

// withUser injects username into a push URL, replacing any user already
// present.
func withUser(raw, username string) (string, error) {
	if username == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("git push url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("git push url %q has no host", raw)
	}
	u.User = url.User(username)
	return u.String(), nil
}

// editor collects the first edit error and the warnings of a render.
type editor struct {
	cfg      *pipeline.Config
	err      error
	warnings []string
	missing  map[string]bool
}

func (e *editor) set(phase pipeline.Phase, plugin, key string, v pipeline.Value) {
	if err := e.cfg.SetArg(phase, plugin, key, v); err != nil && e.err == nil {
		e.err = err
	}
}

// setIfPresent sets an argument of an optional plugin. A plugin the
// pipeline does not configure is reported once and left out.
func (e *editor) setIfPresent(phase pipeline.Phase, plugin, key string, v pipeline.Value) {
	if !e.cfg.HasPlugin(phase, plugin) {
		id := fmt.Sprintf("%s/%s", phase, plugin)
		if !e.missing[id] {
			if e.missing == nil {
				e.missing = map[string]bool{}
			}
			e.missing[id] = true
			e.warn("%s not configured; %s not set", id, key)
		}
		return
	}
	e.set(phase, plugin, key, v)
}

// setMetadata configures the metadata plugin, which lives in exit on
// current pipelines and in postbuild on older ones.
func (e *editor) setMetadata(key string, v pipeline.Value) {
	for _, phase := range []pipeline.Phase{pipeline.PhaseExit, pipeline.PhasePostbuild} {
		if e.cfg.HasPlugin(phase, PluginStoreMetadata) {
			e.set(phase, PluginStoreMetadata, key, v)
			return
		}
	}
}

func (e *editor) remove(phase pipeline.Phase, plugin, reason string) {
	if e.cfg.RemovePlugin(phase, plugin) {
		e.warn("removed %s/%s: %s", phase, plugin, reason)
	}
}

func (e *editor) warn(format string, args ...any) {
	e.warnings = append(e.warnings, fmt.Sprintf(format, args...))
}
