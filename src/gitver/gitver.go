// Package gitver derives build parameters from the git checkout a pipeline
// runs in: the origin URL, the HEAD commit and branch, and a version from
// the nearest semver tag.
package gitver

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Info holds what was learned from the repository. The zero value means
// the directory is not a git checkout.
type Info struct {
	URI        string // origin remote URL as configured
	Commit     string
	Branch     string // empty on a detached HEAD
	Tag        string // tag pointing at HEAD, if any
	Version    string // "1.2.3", or "1.2.3-dev+abc1234" between releases
	IsRelease  bool   // HEAD carries a semver tag
	Prerelease bool
}

// Parameter names produced by Params.
const (
	ParamURI     = "GIT_URI"
	ParamRef     = "GIT_REF"
	ParamBranch  = "GIT_BRANCH"
	ParamCommit  = "GIT_COMMIT"
	ParamVersion = "GIT_VERSION"
)

// Detect opens the repository containing rootDir. A directory outside any
// repository yields an empty Info and no error.
func Detect(rootDir string) (*Info, error) {
	repo, err := git.PlainOpenWithOptions(rootDir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return &Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	info := &Info{}
	if remote, err := repo.Remote("origin"); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			info.URI = urls[0]
		}
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		// fresh repository without commits
		return info, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	info.Commit = head.Hash().String()
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}

	if err := info.resolveVersion(repo, head.Hash()); err != nil {
		return nil, err
	}
	return info, nil
}

// ShortCommit is the first seven characters of the commit.
func (i *Info) ShortCommit() string {
	if len(i.Commit) > 7 {
		return i.Commit[:7]
	}
	return i.Commit
}

// Params returns the non-empty git parameters for template resolution.
// GIT_REF is the branch when HEAD is on one, otherwise the commit.
func (i *Info) Params() map[string]string {
	out := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set(ParamURI, i.URI)
	set(ParamCommit, i.Commit)
	set(ParamBranch, i.Branch)
	set(ParamVersion, i.Version)
	if i.Branch != "" {
		set(ParamRef, i.Branch)
	} else {
		set(ParamRef, i.Commit)
	}
	return out
}

type taggedVersion struct {
	name string
	v    *semver.Version
}

// resolveVersion picks the highest semver tag. If it points at HEAD the
// build is a release; otherwise the version gets a dev suffix.
func (i *Info) resolveVersion(repo *git.Repository, head plumbing.Hash) error {
	iter, err := repo.Tags()
	if err != nil {
		return fmt.Errorf("listing tags: %w", err)
	}

	var tags []taggedVersion
	var atHead []taggedVersion
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		v, err := semver.NewVersion(name)
		if err != nil {
			return nil
		}
		tv := taggedVersion{name: name, v: v}
		tags = append(tags, tv)

		target := ref.Hash()
		if obj, err := repo.TagObject(target); err == nil {
			commit, err := obj.Commit()
			if err != nil {
				return nil
			}
			target = commit.Hash
		}
		if target == head {
			atHead = append(atHead, tv)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reading tags: %w", err)
	}

	short := i.ShortCommit()
	if len(atHead) > 0 {
		best := highest(atHead)
		i.Tag = best.name
		i.Version = best.v.String()
		i.IsRelease = true
		i.Prerelease = best.v.Prerelease() != ""
		return nil
	}
	if len(tags) == 0 {
		i.Version = "0.0.0-dev+" + short
		return nil
	}
	best := highest(tags)
	i.Prerelease = best.v.Prerelease() != ""
	i.Version = fmt.Sprintf("%s-dev+%s", best.v.String(), short)
	return nil
}

func highest(tags []taggedVersion) taggedVersion {
	sort.Slice(tags, func(a, b int) bool { return tags[a].v.LessThan(tags[b].v) })
	return tags[len(tags)-1]
}
