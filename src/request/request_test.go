package request

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofmeright/dockrun/src/gitver"
	"github.com/sofmeright/dockrun/src/pipeline"
)

const prodPipeline = `
prebuild_plugins:
  - name: add_yum_repo_by_url
  - name: check_and_set_rebuild
    args:
      label_key: is_autorebuild
  - name: bump_release
  - name: koji
  - name: distgit_fetch_artefacts
  - name: pull_base_image
  - name: add_labels_in_dockerfile
    args:
      labels:
        Vendor: Someone Else
        Release: "1"
postbuild_plugins:
  - name: cp_built_image_to_nfs
  - name: pulp_push
  - name: import_image
exit_plugins:
  - name: store_metadata_in_osv3
  - name: sendmail
`

var buildTime = time.Date(2016, 3, 1, 12, 30, 45, 0, time.UTC)

func loadPipeline(t *testing.T, doc string) *pipeline.Config {
	t.Helper()
	cfg, _, err := pipeline.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func prodRequest() *Request {
	return &Request{
		Type:                  TypeProd,
		GitURI:                "https://github.com/example/fedora-docker.git",
		GitRef:                "a1b2c3d",
		GitBranch:             "f24",
		User:                  "jo",
		Component:             "fedora",
		RegistryURI:           "https://registry.example.com:5000/v1",
		OpenShiftURI:          "https://openshift.example.com:8443",
		SourcesCommand:        "fedpkg sources",
		Architecture:          "x86_64",
		Vendor:                "Example",
		BuildHost:             "builder.example.com",
		AuthoritativeRegistry: "registry.example.com",
		BaseImage:             "fedora:24",
		NameLabel:             "example/fedora",
		ClusterVersion:        "1.1.0",
	}
}

func TestNormalize(t *testing.T) {
	r := &Request{User: "jo", RegistryURI: "http://reg.local:5000/v2/", SourceSecret: "pulp"}
	r.Normalize()
	assert.Equal(t, TypeProd, r.Type)
	assert.Equal(t, "jo__", r.User)
	assert.Equal(t, "reg.local:5000", r.RegistryURI)
	assert.Equal(t, DefaultGitRef, r.GitRef)
	assert.Equal(t, "pulp", r.PulpSecret)
	assert.Equal(t, DefaultClusterVersion, r.ClusterVersion)

	plain := &Request{RegistryURI: "reg.local"}
	plain.Normalize()
	assert.Equal(t, "reg.local", plain.RegistryURI)
}

func TestValidateReportsEveryMissingParam(t *testing.T) {
	r := &Request{Type: TypeProd}
	err := r.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	for _, name := range []string{"git_uri", "user", "component", "registry_uri", "sources_command", "name_label"} {
		assert.Contains(t, err.Error(), `"`+name+`"`)
	}

	simple := &Request{Type: TypeSimple, GitURI: "g", GitRef: "r", User: "u", Component: "c", RegistryURI: "reg", OpenShiftURI: "o"}
	assert.NoError(t, simple.Validate())

	bad := *simple
	bad.Type = "nightly"
	bad.ClusterVersion = "one"
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown build type")
	assert.Contains(t, err.Error(), "openshift_required_version")
}

func TestDeriveProd(t *testing.T) {
	r := prodRequest()
	r.KojiTarget = "f24-candidate"
	r.Normalize()

	d, warnings, err := r.Derive(buildTime)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "fedora-docker-f24", d.BuildID)
	assert.Equal(t, "jo__/fedora:f24-candidate-20160301123045", d.ImageTag)
	assert.Equal(t, "registry.example.com:5000/jo__/fedora:f24-candidate-20160301123045", d.OutputImage)
	assert.Equal(t, "fedora:24", d.TriggerImageStreamTag)
	assert.Equal(t, "example-fedora", d.ImageStreamName)
	assert.Equal(t, "registry.example.com:5000/example/fedora", d.ImageStreamURL)

	r.PulpSecret = "pulp"
	d, _, err = r.Derive(buildTime)
	require.NoError(t, err)
	assert.Equal(t, d.ImageTag, d.OutputImage)
}

func TestDeriveSimple(t *testing.T) {
	r := &Request{Type: TypeSimple, User: "user", Component: "comp", RegistryURI: "reg"}
	d, _, err := r.Derive(buildTime)
	require.NoError(t, err)
	assert.Equal(t, "build-20160301123045", d.BuildID)
	assert.Equal(t, "user/comp:20160301123045", d.ImageTag)
	assert.Empty(t, d.ImageStreamName)
}

func TestDeriveBuildIDRules(t *testing.T) {
	r := prodRequest()
	r.GitBranch = strings.Repeat("b", 80)
	d, warnings, err := r.Derive(buildTime)
	require.NoError(t, err)
	assert.Len(t, d.BuildID, 63)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "too long")

	r.GitBranch = "feature/x"
	_, _, err = r.Derive(buildTime)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestImageStreamTag(t *testing.T) {
	tests := map[string]string{
		"fedora":                              "fedora:latest",
		"fedora:24":                           "fedora:24",
		"library/fedora:24":                   "library-fedora:24",
		"registry.example.com/fedora":         "fedora:latest",
		"localhost:5000/fedora:24":            "fedora:24",
		"registry.example.com/org/fedora:24":  "org-fedora:24",
		"registry.example.com/org/sub/img:v1": "org-sub-img:v1",
	}
	for in, want := range tests {
		assert.Equal(t, want, ImageStreamTag(in), in)
	}
}

func TestMountsSecrets(t *testing.T) {
	for v, want := range map[string]bool{"0.5.4": false, "1.0.5": false, "1.0.6": true, "3.2": true, "junk": false} {
		r := &Request{ClusterVersion: v}
		assert.Equal(t, want, r.MountsSecrets(), v)
	}
}

func TestFillFromGit(t *testing.T) {
	r := &Request{GitBranch: "keep"}
	r.FillFromGit(&gitver.Info{URI: "git@host:org/repo.git", Commit: "abc", Branch: "main"})
	assert.Equal(t, "git@host:org/repo.git", r.GitURI)
	assert.Equal(t, "abc", r.GitRef)
	assert.Equal(t, "keep", r.GitBranch)
	r.FillFromGit(nil)
}

func argOf(t *testing.T, cfg *pipeline.Config, phase pipeline.Phase, plugin, key string) pipeline.Value {
	t.Helper()
	args, err := cfg.PluginArgs(phase, plugin)
	require.NoError(t, err)
	v, ok := args.Get(key)
	require.True(t, ok, "%s/%s has no arg %s", phase, plugin, key)
	return v
}

func TestRenderProdMinimal(t *testing.T) {
	cfg := loadPipeline(t, prodPipeline)
	rd, err := prodRequest().Render(cfg, buildTime)
	require.NoError(t, err)

	out := rd.Config
	assert.False(t, out.HasPlugin(pipeline.PhasePrebuild, PluginCheckRebuild))
	assert.False(t, out.HasPlugin(pipeline.PhasePrebuild, PluginBumpRelease))
	assert.False(t, out.HasPlugin(pipeline.PhasePostbuild, PluginImportImage))
	assert.False(t, out.HasPlugin(pipeline.PhasePrebuild, PluginKoji))
	assert.False(t, out.HasPlugin(pipeline.PhasePostbuild, PluginPulpPush))
	assert.False(t, out.HasPlugin(pipeline.PhasePostbuild, PluginCopyToNFS))
	assert.True(t, out.HasPlugin(pipeline.PhaseExit, PluginSendmail))

	assert.Equal(t, "fedpkg sources", argOf(t, out, pipeline.PhasePrebuild, PluginFetchArtefacts, "command").Text())
	assert.Equal(t, "registry.example.com:5000", argOf(t, out, pipeline.PhasePrebuild, PluginPullBaseImage, "parent_registry").Text())
	assert.Equal(t, "https://openshift.example.com:8443", argOf(t, out, pipeline.PhaseExit, PluginStoreMetadata, "url").Text())

	repos := argOf(t, out, pipeline.PhasePrebuild, PluginAddYumRepo, "repourls")
	assert.Equal(t, pipeline.KindSeq, repos.Kind())
	assert.Empty(t, repos.Items())

	labels := argOf(t, out, pipeline.PhasePrebuild, PluginAddLabels, "labels").Map()
	assert.Equal(t, []string{"Vendor", "Release", "Architecture", "Build_Host", "Authoritative_Registry"}, labels.Keys())
	vendor, _ := labels.Get("Vendor")
	assert.Equal(t, "Example", vendor.Text())

	// removals of configured plugins are reported
	joined := strings.Join(rd.Warnings, "\n")
	assert.Contains(t, joined, "prebuild/koji")
	assert.Contains(t, joined, "postbuild/pulp_push")

	// the input pipeline is untouched
	assert.True(t, cfg.HasPlugin(pipeline.PhasePrebuild, PluginKoji))
	_, err = cfg.PluginArgs(pipeline.PhasePrebuild, PluginFetchArtefacts)
	require.NoError(t, err)
}

func TestRenderProdFull(t *testing.T) {
	r := prodRequest()
	r.Triggers = true
	yes := true
	r.UseAuth = &yes
	r.KojiTarget, r.KojiRoot, r.KojiHub = "f24-candidate", "http://koji/root", "http://koji/hub"
	r.GitPushURL = "https://olduser@git.example.com/fedora.git"
	r.GitPushUsername = "builder"
	r.PulpRegistry = "pulp-prod"
	r.PulpSecret = "pulpsecret"
	r.PDCSecret = "pdcsecret"
	r.NFSServerPath = "nfs.example.com:/exports"
	r.NFSDestDir = "builds"

	rd, err := r.Render(loadPipeline(t, prodPipeline), buildTime)
	require.NoError(t, err)
	out := rd.Config

	assert.Equal(t, "https://openshift.example.com:8443", argOf(t, out, pipeline.PhasePrebuild, PluginCheckRebuild, "url").Text())
	assert.Equal(t, "true", argOf(t, out, pipeline.PhasePrebuild, PluginCheckRebuild, "use_auth").Text())
	assert.Equal(t, "is_autorebuild", argOf(t, out, pipeline.PhasePrebuild, PluginCheckRebuild, "label_key").Text())

	assert.Equal(t, "f24-candidate", argOf(t, out, pipeline.PhasePrebuild, PluginKoji, "target").Text())
	assert.Equal(t, "http://koji/hub", argOf(t, out, pipeline.PhasePrebuild, PluginKoji, "hub").Text())

	assert.Equal(t, "https://builder@git.example.com/fedora.git", argOf(t, out, pipeline.PhasePrebuild, PluginBumpRelease, "push_url").Text())
	assert.Equal(t, "a1b2c3d", argOf(t, out, pipeline.PhasePrebuild, PluginBumpRelease, "git_ref").Text())

	assert.Equal(t, "pulp-prod", argOf(t, out, pipeline.PhasePostbuild, PluginPulpPush, "pulp_registry_name").Text())
	assert.Equal(t, "/var/run/secrets/atomic-reactor/pulpsecret", argOf(t, out, pipeline.PhasePostbuild, PluginPulpPush, "pulp_secret_path").Text())
	assert.Equal(t, "/var/run/secrets/atomic-reactor/pdcsecret", argOf(t, out, pipeline.PhaseExit, PluginSendmail, "pdc_secret_path").Text())
	assert.Equal(t, map[string]string{
		"pulpsecret": "/var/run/secrets/atomic-reactor/pulpsecret",
		"pdcsecret":  "/var/run/secrets/atomic-reactor/pdcsecret",
	}, rd.Secrets)
	assert.Empty(t, rd.SourceSecret)

	assert.Equal(t, "nfs.example.com:/exports", argOf(t, out, pipeline.PhasePostbuild, PluginCopyToNFS, "nfs_server_path").Text())
	assert.Equal(t, "builds", argOf(t, out, pipeline.PhasePostbuild, PluginCopyToNFS, "nfs_dest_dir").Text())
	nfsArgs, err := out.PluginArgs(pipeline.PhasePostbuild, PluginCopyToNFS)
	require.NoError(t, err)
	_, ok := nfsArgs.Get("dest_dir")
	assert.False(t, ok)

	assert.Equal(t, "example-fedora", argOf(t, out, pipeline.PhasePostbuild, PluginImportImage, "imagestream").Text())
	assert.Equal(t, "registry.example.com:5000/example/fedora", argOf(t, out, pipeline.PhasePostbuild, PluginImportImage, "docker_image_repo").Text())
	assert.Equal(t, "true", argOf(t, out, pipeline.PhaseExit, PluginStoreMetadata, "use_auth").Text())
}

func TestRenderYumReposDropKoji(t *testing.T) {
	r := prodRequest()
	r.KojiTarget, r.KojiRoot, r.KojiHub = "t", "r", "h"
	r.YumRepoURLs = []string{"http://repo/a.repo", "http://repo/b.repo"}

	rd, err := r.Render(loadPipeline(t, prodPipeline), buildTime)
	require.NoError(t, err)
	assert.False(t, rd.Config.HasPlugin(pipeline.PhasePrebuild, PluginKoji))
	repos := argOf(t, rd.Config, pipeline.PhasePrebuild, PluginAddYumRepo, "repourls")
	assert.Len(t, repos.Items(), 2)
}

func TestRenderPulpWithoutAuth(t *testing.T) {
	r := prodRequest()
	r.PulpRegistry = "pulp-prod"

	_, err := r.Render(loadPipeline(t, prodPipeline), buildTime)
	assert.ErrorIs(t, err, ErrPulpAuth)

	withUsername := strings.Replace(prodPipeline, "  - name: pulp_push\n", "  - name: pulp_push\n    args:\n      username: pulp\n", 1)
	rd, err := r.Render(loadPipeline(t, withUsername), buildTime)
	require.NoError(t, err)
	assert.True(t, rd.Config.HasPlugin(pipeline.PhasePostbuild, PluginPulpPush))
}

func TestRenderOldClusterUsesSourceSecret(t *testing.T) {
	r := prodRequest()
	r.ClusterVersion = "1.0.5"
	r.PulpRegistry = "pulp-prod"
	r.SourceSecret = "legacy"

	rd, err := r.Render(loadPipeline(t, prodPipeline), buildTime)
	require.NoError(t, err)
	assert.Equal(t, "legacy", rd.SourceSecret)
	assert.Empty(t, rd.Secrets)
	args, err := rd.Config.PluginArgs(pipeline.PhasePostbuild, PluginPulpPush)
	require.NoError(t, err)
	_, ok := args.Get("pulp_secret_path")
	assert.False(t, ok)
}

func TestRenderOldClusterPDCSecret(t *testing.T) {
	tests := []struct {
		name       string
		pulp, pdc  string
		wantSource string
		wantWarn   bool
	}{
		{name: "pdc only", pdc: "pdcsecret", wantSource: "pdcsecret"},
		{name: "pulp wins", pulp: "pulpsecret", pdc: "pdcsecret", wantSource: "pulpsecret", wantWarn: true},
		{name: "same secret", pulp: "shared", pdc: "shared", wantSource: "shared"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := prodRequest()
			r.ClusterVersion = "1.0.5"
			r.PulpSecret, r.PDCSecret = tt.pulp, tt.pdc

			rd, err := r.Render(loadPipeline(t, prodPipeline), buildTime)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSource, rd.SourceSecret)
			assert.Empty(t, rd.Secrets)

			joined := strings.Join(rd.Warnings, "\n")
			if tt.wantWarn {
				assert.Contains(t, joined, `pdc secret "pdcsecret" dropped`)
			} else {
				assert.NotContains(t, joined, "pdc secret")
			}
		})
	}
}

func TestRenderWarnsOnUnconfiguredPlugins(t *testing.T) {
	doc := `
prebuild_plugins:
  - name: add_labels_in_dockerfile
postbuild_plugins:
  - name: cp_built_image_to_nfs
exit_plugins:
  - name: store_metadata_in_osv3
`
	r := prodRequest()
	r.KojiTarget, r.KojiRoot, r.KojiHub = "f24-candidate", "http://koji/root", "http://koji/hub"

	rd, err := r.Render(loadPipeline(t, doc), buildTime)
	require.NoError(t, err)

	joined := strings.Join(rd.Warnings, "\n")
	assert.Contains(t, joined, "prebuild/distgit_fetch_artefacts not configured; command not set")
	assert.Contains(t, joined, "prebuild/pull_base_image not configured; parent_registry not set")
	// one warning per plugin, however many of its args were skipped
	assert.Equal(t, 1, strings.Count(joined, "prebuild/koji not configured"))
	assert.False(t, rd.Config.HasPlugin(pipeline.PhasePrebuild, PluginKoji))

	full, err := prodRequest().Render(loadPipeline(t, prodPipeline), buildTime)
	require.NoError(t, err)
	assert.NotContains(t, strings.Join(full.Warnings, "\n"), "not configured")
}

func TestRenderMetadataFallsBackToPostbuild(t *testing.T) {
	doc := `
postbuild_plugins:
  - name: store_metadata_in_osv3
`
	r := &Request{Type: TypeSimple, GitURI: "g", User: "user", Component: "c", RegistryURI: "reg", OpenShiftURI: "https://os"}
	rd, err := r.Render(loadPipeline(t, doc), buildTime)
	require.NoError(t, err)
	assert.Equal(t, "https://os", argOf(t, rd.Config, pipeline.PhasePostbuild, PluginStoreMetadata, "url").Text())
}

func TestRenderInvalidRequest(t *testing.T) {
	_, err := (&Request{}).Render(pipeline.NewConfig(), buildTime)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRenderedParams(t *testing.T) {
	r := prodRequest()
	rd, err := r.Render(loadPipeline(t, prodPipeline), buildTime)
	require.NoError(t, err)

	p, err := rd.Params()
	require.NoError(t, err)
	id, ok := p.Get("BUILD_ID")
	assert.True(t, ok)
	assert.Equal(t, "fedora-docker-f24", id)
	reg, _ := p.Get("REGISTRY_URI")
	assert.Equal(t, "registry.example.com:5000", reg)
	_, ok = p.Get("KOJI_TARGET")
	assert.False(t, ok)
}

func TestWithUser(t *testing.T) {
	got, err := withUser("ssh://git.example.com/repo.git", "me")
	require.NoError(t, err)
	assert.Equal(t, "ssh://me@git.example.com/repo.git", got)

	got, err = withUser("https://git.example.com/repo.git", "")
	require.NoError(t, err)
	assert.Equal(t, "https://git.example.com/repo.git", got)

	_, err = withUser("git.example.com:repo.git", "me")
	assert.Error(t, err)
}
