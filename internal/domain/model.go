package domain

import "time"

// Platform identifies the source forge a webhook originated from.
type Platform string

const (
	PlatformGitHub Platform = "github"
	PlatformGitLab Platform = "gitlab"
)

// FileStatus describes what happened to a file in a change set.
type FileStatus string

const (
	FileAdded    FileStatus = "added"
	FileModified FileStatus = "modified"
	FileRemoved  FileStatus = "removed"
	FileRenamed  FileStatus = "renamed"
)

// DiffFile is one file of a change set, with the unified patch parsed into
// line-number maps so issues can be anchored to real lines.
type DiffFile struct {
	NewPath      string         `json:"new_path"`
	OldPath      string         `json:"old_path"`
	Status       FileStatus     `json:"status"`
	Additions    int            `json:"additions"`
	Deletions    int            `json:"deletions"`
	Patch        string         `json:"patch"`
	ExtendedDiff string         `json:"extended_diff"`
	OldLines     map[int]string `json:"old_lines_by_number"`
	NewLines     map[int]string `json:"new_lines_by_number"`
}

// Severity of a single review issue.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// RiskLevel of the whole change set.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// IssueSide says whether an issue anchors to the old or the new side of the diff.
type IssueSide string

const (
	SideOld IssueSide = "old"
	SideNew IssueSide = "new"
)

// ReviewIssue is one model-reported finding tied to a file and line range.
type ReviewIssue struct {
	Severity     Severity  `json:"severity"`
	NewPath      string    `json:"new_path"`
	OldPath      string    `json:"old_path"`
	Side         IssueSide `json:"type"`
	StartLine    int       `json:"start_line"`
	EndLine      int       `json:"end_line"`
	IssueHeader  string    `json:"issue_header"`
	IssueContent string    `json:"issue_content"`
	Suggestion   string    `json:"suggestion,omitempty"`
}

// ReviewResult is the normalised model output for one review.
type ReviewResult struct {
	Summary     string        `json:"summary"`
	RiskLevel   RiskLevel     `json:"risk_level"`
	Reviews     []ReviewIssue `json:"reviews"`
	Positives   []string      `json:"positives"`
	ActionItems []string      `json:"action_items"`
}

// CICheck is one CI check result attached to the review input.
type CICheck struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	DetailsURL string `json:"details_url,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// Guideline is a repository process-guideline file included in the prompt.
type Guideline struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// SecretFinding is one redacted secret-scanner hit on an added line.
type SecretFinding struct {
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Kind   string `json:"kind"`
	Sample string `json:"sample"`
}

// FeedbackSignal records a developer reaction (review thread resolved,
// /feedback command) scoped to one pull request.
type FeedbackSignal struct {
	Author  string    `json:"author"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Caps applied when assembling a ReviewInput.
const (
	MaxCustomRules     = 30
	MaxFeedbackSignals = 80
	MaxCIChecks        = 30
	MaxGuidelines      = 20
	MaxGuidelineChars  = 4000
	MaxReviewIssues    = 30
	MaxPositives       = 10
	MaxActionItems     = 10
)

// ReviewInput is everything the prompt builder needs for one review.
type ReviewInput struct {
	Platform        Platform
	Repo            string
	Number          int
	Title           string
	Body            string
	Author          string
	BaseBranch      string
	HeadBranch      string
	Additions       int
	Deletions       int
	Files           []DiffFile
	CustomRules     []string
	FeedbackSignals []string
	CIChecks        []CICheck
	Guidelines      []Guideline
	Incremental     bool
	Truncated       bool
}

// AskTurn is one question/answer pair of an ask session.
type AskTurn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
