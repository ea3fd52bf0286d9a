package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofmeright/dockrun/src/build"
	"github.com/sofmeright/dockrun/src/pipeline"
)

func newRegistry(t *testing.T, opts Options) *build.Registry {
	t.Helper()
	r := build.NewRegistry()
	require.NoError(t, Register(r, opts))
	return r
}

func run(t *testing.T, r *build.Registry, name string, bc *build.Context, args *pipeline.Map) (*build.Contribution, error) {
	t.Helper()
	c, err := r.Resolve(name)
	require.NoError(t, err)
	return c.Run(context.Background(), bc, args)
}

func TestRegisterBuiltins(t *testing.T) {
	r := newRegistry(t, Options{})
	assert.Equal(t, []string{AddLabels, Exec, InspectDockerfile, Noop, StoreMetadata}, r.Names())

	// a second registration collides
	assert.Error(t, Register(r, Options{}))
}

func TestExec(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sh")
	}
	var stdout bytes.Buffer
	r := newRegistry(t, Options{Stdout: &stdout, Stderr: &bytes.Buffer{}, WorkDir: t.TempDir()})
	bc := build.NewContext("b-7")

	contrib, err := run(t, r, Exec, bc, pipeline.MapOf(
		"command", "echo $GREETING-$DOCKRUN_BUILD_ID",
		"env", map[string]any{"GREETING": "hi"},
		"capture", "greeting",
		"image_id", true,
	))
	require.NoError(t, err)
	assert.Equal(t, "hi-b-7", contrib.ImageID)
	assert.Equal(t, "hi-b-7", contrib.Values["greeting"].Text())
	assert.Contains(t, stdout.String(), "hi-b-7")
}

func TestExecArgv(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sh")
	}
	r := newRegistry(t, Options{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
	_, err := run(t, r, Exec, build.NewContext(""), pipeline.MapOf("command", []any{"sh", "-c", "exit 3"}))
	assert.Error(t, err)

	_, err = run(t, r, Exec, build.NewContext(""), pipeline.NewMap())
	assert.ErrorContains(t, err, "required")

	_, err = run(t, r, Exec, build.NewContext(""), pipeline.MapOf("command", "true", "timeout", "soon"))
	assert.Error(t, err)
}

func TestExecHonorsCancellation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sh")
	}
	r := newRegistry(t, Options{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
	c, err := r.Resolve(Exec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Run(ctx, build.NewContext(""), pipeline.MapOf("command", "sleep 5"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAddLabels(t *testing.T) {
	r := newRegistry(t, Options{})
	contrib, err := run(t, r, AddLabels, build.NewContext(""), pipeline.MapOf(
		"labels", map[string]any{"Vendor": "Acme", "Release": 3},
	))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Vendor": "Acme", "Release": "3"}, contrib.Labels)

	_, err = run(t, r, AddLabels, build.NewContext(""), pipeline.MapOf("labels", "nope"))
	assert.Error(t, err)
}

func TestStoreMetadata(t *testing.T) {
	dir := t.TempDir()
	r := newRegistry(t, Options{WorkDir: dir})
	bc := build.NewContext("osbs-test-1")
	bc.Merge("labels", &build.Contribution{Labels: map[string]string{"Vendor": "Acme"}})

	contrib, err := run(t, r, StoreMetadata, bc, pipeline.NewMap())
	require.NoError(t, err)

	path := filepath.Join(dir, "osbs-test-1.json")
	assert.Equal(t, []string{path}, contrib.Artifacts)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "osbs-test-1", doc["build_id"])
	assert.Equal(t, map[string]any{"Vendor": "Acme"}, doc["labels"])
}

func TestStoreMetadataBuildIDStaysInWorkDir(t *testing.T) {
	tests := []struct {
		buildID string
		want    string
	}{
		{"../../escaped", "escaped.json"},
		{"/abs/run-7", "run-7.json"},
		{"..", "metadata.json"},
		{"/", "metadata.json"},
	}
	for _, tt := range tests {
		t.Run(tt.buildID, func(t *testing.T) {
			root := t.TempDir()
			dir := filepath.Join(root, "work")
			r := newRegistry(t, Options{WorkDir: dir})

			contrib, err := run(t, r, StoreMetadata, build.NewContext(tt.buildID), pipeline.NewMap())
			require.NoError(t, err)
			assert.Equal(t, []string{filepath.Join(dir, tt.want)}, contrib.Artifacts)
			assert.FileExists(t, filepath.Join(dir, tt.want))

			entries, err := os.ReadDir(root)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "work", entries[0].Name())
		})
	}
}

func TestRegisterStubs(t *testing.T) {
	r := newRegistry(t, Options{})
	stubbed, err := RegisterStubs(r, []string{"koji", Exec, "pulp_push"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"koji", "pulp_push"}, stubbed)

	contrib, err := run(t, r, "koji", build.NewContext(""), pipeline.MapOf("target", "x"))
	require.NoError(t, err)
	assert.Nil(t, contrib)
}

const sampleDockerfile = `# syntax=docker/dockerfile:1
ARG GO_VERSION=1.25
FROM --platform=$BUILDPLATFORM golang:${GO_VERSION} AS builder
RUN go build ./...

FROM registry.example.com/base/ubi:9 AS runtime
FROM runtime
LABEL name="team/app" \
      version=1.2 vendor="Acme Corp"
EXPOSE 8080/tcp 9090
`

func TestParseDockerfile(t *testing.T) {
	info, err := parseDockerfile(strings.NewReader(sampleDockerfile))
	require.NoError(t, err)

	require.Len(t, info.Stages, 3)
	assert.Equal(t, dockerStage{Name: "builder", BaseImage: "golang:${GO_VERSION}", Line: 3}, info.Stages[0])
	assert.Equal(t, "runtime", info.BaseImage())
	assert.Equal(t, []string{"golang:${GO_VERSION}", "registry.example.com/base/ubi:9"}, info.ParentImages())
	assert.Equal(t, []string{"GO_VERSION"}, info.Args)
	assert.Equal(t, []string{"8080/tcp", "9090"}, info.Expose)
	assert.Equal(t, map[string]string{"name": "team/app", "version": "1.2", "vendor": "Acme Corp"}, info.Labels)
}

func TestInspectDockerfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(sampleDockerfile), 0o644))
	r := newRegistry(t, Options{WorkDir: dir})

	contrib, err := run(t, r, InspectDockerfile, build.NewContext(""), pipeline.NewMap())
	require.NoError(t, err)
	assert.Equal(t, "runtime", contrib.Values["base_image"].Text())
	assert.Len(t, contrib.Values["parent_images"].Items(), 2)
	assert.Equal(t, "Acme Corp", contrib.Labels["vendor"])

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Empty"), []byte("# nothing\n"), 0o644))
	_, err = run(t, r, InspectDockerfile, build.NewContext(""), pipeline.MapOf("path", "Empty"))
	assert.ErrorContains(t, err, "no FROM")

	_, err = run(t, r, InspectDockerfile, build.NewContext(""), pipeline.MapOf("path", "Missing"))
	assert.Error(t, err)
}
