package domain

import (
	"hash/fnv"
	"net/url"
	"strconv"
	"strings"
)

// Diff path prefixes emitted by git.
const (
	PathPrefixGitSource      = "a/"
	PathPrefixGitDestination = "b/"
)

// NormalizePath strips VCS diff prefixes and standardises separators.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimPrefix(path, PathPrefixGitSource)
	path = strings.TrimPrefix(path, PathPrefixGitDestination)
	return path
}

// EncodeProjectPath percent-encodes a "group/repo" identifier for use as a
// single URL path segment, the way the GitLab API addresses projects.
func EncodeProjectPath(project string) string {
	return url.PathEscape(project)
}

// EncodeFilePath percent-encodes a repository file path for the GitLab
// repository files API, which wants slashes encoded too.
func EncodeFilePath(path string) string {
	return url.PathEscape(path)
}

// Fingerprint returns a short stable FNV-1a digest of the input, used for
// dedupe keys and managed-comment markers.
func Fingerprint(s string) string {
	h := fnv.New64a()
	h.Write([]byte(s))
	return strconv.FormatUint(h.Sum64(), 16)
}
