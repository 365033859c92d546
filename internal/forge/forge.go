// Package forge defines the capability surface the review core needs from a
// source forge, implemented for GitHub and GitLab in subpackages.
package forge

import (
	"context"
	"fmt"
	"strings"

	"mr-agent/internal/domain"
)

// PullRequest is the forge-neutral view of a pull or merge request.
type PullRequest struct {
	Number     int
	Title      string
	Body       string
	Author     string
	BaseBranch string
	HeadBranch string
	BaseSHA    string
	HeadSHA    string
	StartSHA   string // GitLab diff_refs only; empty on GitHub
	Draft      bool
	Merged     bool
	Additions  int
	Deletions  int
	Labels     []string
}

// ListFilesResult carries the change set plus the pagination-wall flag.
type ListFilesResult struct {
	Files     []domain.DiffFile
	Truncated bool
}

// LineComment is one issue anchored to a diff line.
type LineComment struct {
	Path    string
	OldPath string
	Side    domain.IssueSide
	Line    int
	Body    string
}

// IssueRef is one search hit from the similar-issue lookup.
type IssueRef struct {
	Number int
	Title  string
	State  string
	URL    string
}

// Client is the minimal forge surface the orchestrations use.
type Client interface {
	Platform() domain.Platform

	GetPullRequest(ctx context.Context, repo string, number int) (*PullRequest, error)
	UpdateDescription(ctx context.Context, repo string, number int, body string) error
	SearchIssues(ctx context.Context, repo, query string) ([]IssueRef, error)
	ListFiles(ctx context.Context, repo string, number int) (*ListFilesResult, error)
	CompareDiff(ctx context.Context, repo, base, head string) ([]domain.DiffFile, error)

	ReadFile(ctx context.Context, repo, ref, path string) (string, error)
	WriteFile(ctx context.Context, repo, branch, path, content, message string) error

	CreateComment(ctx context.Context, repo string, number int, body string) error
	// UpsertComment finds the managed comment carrying marker and updates it,
	// or creates a new one. At most one comment per (target, marker) pair.
	UpsertComment(ctx context.Context, repo string, number int, marker, body string) error
	// CreateLineComments publishes per-line comments and reports how many
	// were accepted and how many the forge rejected.
	CreateLineComments(ctx context.Context, repo string, pr *PullRequest, comments []LineComment) (published, skipped int, err error)

	ListChecks(ctx context.Context, repo, ref string) ([]domain.CICheck, error)
	AddLabels(ctx context.Context, repo string, number int, labels []string) error
}

// Marker builds the managed-comment marker token.
func Marker(kind, digest string) string {
	if digest != "" {
		return fmt.Sprintf("<!-- mr-agent:%s:%s -->", kind, digest)
	}
	return fmt.Sprintf("<!-- mr-agent:%s -->", kind)
}

// WithMarker appends the marker to a comment body.
func WithMarker(body, marker string) string {
	return strings.TrimRight(body, "\n") + "\n\n" + marker
}

// HasMarker reports whether a comment body carries the marker.
func HasMarker(body, marker string) bool {
	return strings.Contains(body, marker)
}
