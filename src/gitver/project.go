package gitver

import (
	"path"
	"strings"
)

// RepoName extracts the "humanish" repository name from a git URI, the
// way git clone names its target directory:
//
//	https://github.com/org/repo.git  → repo
//	git@github.com:org/repo          → repo
//	git://host/path/repo/.git        → repo
func RepoName(uri string) string {
	uri = strings.TrimRight(uri, "/")
	switch {
	case strings.HasSuffix(uri, "/.git"):
		uri = strings.TrimSuffix(uri, "/.git")
	case strings.HasSuffix(uri, ".git"):
		uri = strings.TrimSuffix(uri, ".git")
	}

	// SSH: git@host:org/repo
	if idx := strings.LastIndex(uri, ":"); idx != -1 && !strings.Contains(uri, "://") {
		uri = uri[idx+1:]
	}
	return path.Base(uri)
}

// RemoteToHTTPS converts a git remote URL to HTTPS form for display.
// SSH remotes (git@host:org/repo.git) become https://host/org/repo.
func RemoteToHTTPS(remote string) string {
	remote = strings.TrimSuffix(remote, ".git")

	if strings.HasPrefix(remote, "https://") || strings.HasPrefix(remote, "http://") {
		return remote
	}

	if idx := strings.Index(remote, "@"); idx != -1 && !strings.Contains(remote, "://") {
		rest := strings.Replace(remote[idx+1:], ":", "/", 1)
		return "https://" + rest
	}
	return remote
}
