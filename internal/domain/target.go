package domain

import (
	"path"
	"strings"
)

// defaultCodeExtensions is the allow-list used when REVIEW_CODE_EXTENSIONS
// is not set.
var defaultCodeExtensions = map[string]bool{
	"go": true, "ts": true, "tsx": true, "js": true, "jsx": true,
	"py": true, "rb": true, "java": true, "kt": true, "scala": true,
	"c": true, "h": true, "cc": true, "cpp": true, "hpp": true,
	"cs": true, "rs": true, "swift": true, "m": true, "mm": true,
	"php": true, "sh": true, "bash": true, "sql": true, "proto": true,
	"yaml": true, "yml": true, "json": true, "toml": true, "tf": true,
	"vue": true, "svelte": true, "dart": true, "ex": true, "exs": true,
}

// IsCodeFile reports whether the path has a reviewable code extension.
// extensions overrides the default allow-list when non-empty.
func IsCodeFile(filePath string, extensions []string) bool {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filePath), "."))
	if ext == "" {
		return false
	}
	if len(extensions) > 0 {
		for _, e := range extensions {
			if ext == e {
				return true
			}
		}
		return false
	}
	return defaultCodeExtensions[ext]
}

// IsProcessTemplateFile reports whether the path is repository process
// metadata (PR templates, workflows, CODEOWNERS and friends) on which the
// reviewer comments about flow quality rather than code quality.
func IsProcessTemplateFile(platform Platform, filePath string) bool {
	p := strings.ToLower(filePath)
	base := path.Base(p)

	switch base {
	case "codeowners", "contributing.md", "pull_request_template.md",
		"merge_request_template.md", "issue_template.md":
		return true
	}

	switch platform {
	case PlatformGitHub:
		if strings.HasPrefix(p, ".github/") {
			return true
		}
	case PlatformGitLab:
		if strings.HasPrefix(p, ".gitlab/") || base == ".gitlab-ci.yml" {
			return true
		}
	}
	return false
}
