package gitver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{"git@github.com:example/osbs-test.git"},
	})
	require.NoError(t, err)
	return dir, repo
}

func commit(t *testing.T, dir string, repo *git.Repository, msg string) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM fedora\n# "+msg+"\n"), 0o644))
	_, err = wt.Add("Dockerfile")
	require.NoError(t, err)
	h, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return h
}

func TestDetectNotARepo(t *testing.T) {
	info, err := Detect(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, info.Params())
}

func TestDetectUntagged(t *testing.T) {
	dir, repo := initRepo(t)
	h := commit(t, dir, repo, "initial")

	info, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, "git@github.com:example/osbs-test.git", info.URI)
	assert.Equal(t, h.String(), info.Commit)
	assert.Equal(t, "master", info.Branch)
	assert.False(t, info.IsRelease)
	assert.Equal(t, "0.0.0-dev+"+h.String()[:7], info.Version)

	p := info.Params()
	assert.Equal(t, "master", p[ParamRef])
	assert.Equal(t, "master", p[ParamBranch])
	assert.Equal(t, info.URI, p[ParamURI])
}

func TestDetectFromSubdirectory(t *testing.T) {
	dir, repo := initRepo(t)
	commit(t, dir, repo, "initial")
	sub := filepath.Join(dir, "images", "base")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	info, err := Detect(sub)
	require.NoError(t, err)
	assert.NotEmpty(t, info.Commit)
}

func TestDetectReleaseTag(t *testing.T) {
	dir, repo := initRepo(t)
	first := commit(t, dir, repo, "one")
	_, err := repo.CreateTag("v1.2.0", first, nil)
	require.NoError(t, err)

	head := commit(t, dir, repo, "two")
	_, err = repo.CreateTag("v1.3.0", head, &git.CreateTagOptions{
		Tagger:  &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
		Message: "release 1.3.0",
	})
	require.NoError(t, err)
	_, err = repo.CreateTag("not-a-version", head, nil)
	require.NoError(t, err)

	info, err := Detect(dir)
	require.NoError(t, err)
	assert.True(t, info.IsRelease)
	assert.Equal(t, "v1.3.0", info.Tag)
	assert.Equal(t, "1.3.0", info.Version)
}

func TestDetectBetweenReleases(t *testing.T) {
	dir, repo := initRepo(t)
	first := commit(t, dir, repo, "one")
	_, err := repo.CreateTag("v0.9.0", first, nil)
	require.NoError(t, err)
	_, err = repo.CreateTag("v0.10.0-rc.1", first, nil)
	require.NoError(t, err)
	head := commit(t, dir, repo, "two")

	info, err := Detect(dir)
	require.NoError(t, err)
	assert.False(t, info.IsRelease)
	assert.True(t, info.Prerelease)
	assert.Equal(t, "0.10.0-rc.1-dev+"+head.String()[:7], info.Version)
}

func TestDetectDetachedHead(t *testing.T) {
	dir, repo := initRepo(t)
	h := commit(t, dir, repo, "one")
	commit(t, dir, repo, "two")

	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Hash: h}))

	info, err := Detect(dir)
	require.NoError(t, err)
	assert.Empty(t, info.Branch)
	assert.Equal(t, h.String(), info.Params()[ParamRef])
}

func TestRepoName(t *testing.T) {
	tests := map[string]string{
		"https://github.com/projectatomic/osbs-client.git": "osbs-client",
		"https://github.com/projectatomic/osbs-client":     "osbs-client",
		"git@github.com:projectatomic/osbs-client.git":     "osbs-client",
		"git://example.com/path/repo/.git":                 "repo",
		"file:///srv/git/repo/":                            "repo",
		"repo":                                             "repo",
	}
	for in, want := range tests {
		assert.Equal(t, want, RepoName(in), in)
	}
}

func TestRemoteToHTTPS(t *testing.T) {
	assert.Equal(t, "https://github.com/org/repo", RemoteToHTTPS("git@github.com:org/repo.git"))
	assert.Equal(t, "https://github.com/org/repo", RemoteToHTTPS("https://github.com/org/repo.git"))
	assert.Equal(t, "ssh://git@host/repo", RemoteToHTTPS("ssh://git@host/repo"))
}
