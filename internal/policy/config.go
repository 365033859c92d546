package policy

import "mr-agent/internal/domain"

// Config file names probed on the target ref, in order.
var ConfigFileNames = []string{".mr-agent.yml", ".mr-agent.yaml"}

// Modes for policy enforcement.
const (
	ModeRemind  = "remind"
	ModeEnforce = "enforce"
)

// Caps enforced during schema validation.
const (
	maxCustomRules        = domain.MaxCustomRules
	maxSecretPatterns     = 20
	maxSecretPatternChars = 240
	maxRequiredSections   = 20
)

// Config is the resolved repository policy. Every *bool is nil when the file
// did not mention it; nil means "on".
type Config struct {
	Mode        string
	Issue       IssueSection
	PullRequest PRSection
	Review      ReviewSection
}

// IssueSection gates issue-body policy checks.
type IssueSection struct {
	CheckEnabled     *bool
	MinBodyLength    int
	RequiredSections []string
}

// PRSection gates pull-request-body policy checks.
type PRSection struct {
	CheckEnabled          *bool
	MinBodyLength         int
	RequiredSections      []string
	RequireIssueReference *bool
	IssueReferencePattern string
}

// ReviewSection gates the review pipeline and every slash command.
type ReviewSection struct {
	Enabled       *bool
	OnOpened      *bool
	OnEdited      *bool
	OnSynchronize *bool
	Mode          string // comment, report

	CustomRules              []string
	IncludeCIChecks          *bool
	SecretScanEnabled        *bool
	SecretScanCustomPatterns []string
	AutoLabelEnabled         *bool

	ReviewCommandEnabled        *bool
	AskCommandEnabled           *bool
	DescribeCommandEnabled      *bool
	ChecksCommandEnabled        *bool
	GenerateTestsCommandEnabled *bool
	ChangelogCommandEnabled     *bool
	FeedbackCommandEnabled      *bool
	SimilarIssueCommandEnabled  *bool

	DescribeAllowApply  *bool
	ChangelogAllowApply *bool
}

// Default returns the embedded default policy: everything on, remind mode.
func Default() *Config {
	return &Config{
		Mode: ModeRemind,
		Issue: IssueSection{
			MinBodyLength: 0,
		},
		PullRequest: PRSection{
			MinBodyLength: 0,
		},
		Review: ReviewSection{
			Mode: "comment",
		},
	}
}

// on interprets a tri-state flag: nil and true mean enabled.
func on(b *bool) bool {
	return b == nil || *b
}

// AutoReviewPolicy is the resolved gate for one auto-review trigger.
type AutoReviewPolicy struct {
	Enabled                  bool
	Mode                     string
	CustomRules              []string
	IncludeCIChecks          bool
	SecretScanEnabled        bool
	SecretScanCustomPatterns []string
	AutoLabelEnabled         bool
}

// ResolveAutoReview resolves the auto-review gate for one of the actions
// opened, edited, synchronize.
func (c *Config) ResolveAutoReview(action string) AutoReviewPolicy {
	enabled := on(c.Review.Enabled)
	switch action {
	case "opened":
		enabled = enabled && on(c.Review.OnOpened)
	case "edited":
		enabled = enabled && on(c.Review.OnEdited)
	case "synchronize":
		enabled = enabled && on(c.Review.OnSynchronize)
	default:
		enabled = false
	}
	mode := c.Review.Mode
	if mode == "" {
		mode = "comment"
	}
	return AutoReviewPolicy{
		Enabled:                  enabled,
		Mode:                     mode,
		CustomRules:              c.Review.CustomRules,
		IncludeCIChecks:          on(c.Review.IncludeCIChecks),
		SecretScanEnabled:        on(c.Review.SecretScanEnabled),
		SecretScanCustomPatterns: c.Review.SecretScanCustomPatterns,
		AutoLabelEnabled:         on(c.Review.AutoLabelEnabled),
	}
}

// ReviewBehavior is the full set of command toggles and apply permissions.
type ReviewBehavior struct {
	ReviewCommandEnabled        bool
	AskCommandEnabled           bool
	DescribeCommandEnabled      bool
	ChecksCommandEnabled        bool
	GenerateTestsCommandEnabled bool
	ChangelogCommandEnabled     bool
	FeedbackCommandEnabled      bool
	SimilarIssueCommandEnabled  bool
	DescribeAllowApply          bool
	ChangelogAllowApply         bool
}

// ResolveReviewBehavior resolves every command toggle.
func (c *Config) ResolveReviewBehavior() ReviewBehavior {
	r := c.Review
	return ReviewBehavior{
		ReviewCommandEnabled:        on(r.ReviewCommandEnabled),
		AskCommandEnabled:           on(r.AskCommandEnabled),
		DescribeCommandEnabled:      on(r.DescribeCommandEnabled),
		ChecksCommandEnabled:        on(r.ChecksCommandEnabled),
		GenerateTestsCommandEnabled: on(r.GenerateTestsCommandEnabled),
		ChangelogCommandEnabled:     on(r.ChangelogCommandEnabled),
		FeedbackCommandEnabled:      on(r.FeedbackCommandEnabled),
		SimilarIssueCommandEnabled:  on(r.SimilarIssueCommandEnabled),
		DescribeAllowApply:          on(r.DescribeAllowApply),
		ChangelogAllowApply:         on(r.ChangelogAllowApply),
	}
}

// DescribePolicy gates the /describe command.
type DescribePolicy struct {
	Enabled    bool
	AllowApply bool
}

// ResolveDescribe resolves the /describe gate.
func (c *Config) ResolveDescribe() DescribePolicy {
	return DescribePolicy{
		Enabled:    on(c.Review.DescribeCommandEnabled),
		AllowApply: on(c.Review.DescribeAllowApply),
	}
}

// SectionPolicy is the resolved body-check policy for issues or PRs.
type SectionPolicy struct {
	CheckEnabled          bool
	MinBodyLength         int
	RequiredSections      []string
	RequireIssueReference bool
	IssueReferencePattern string
	Mode                  string
}

// ResolveIssueSection resolves the issue body-check policy.
func (c *Config) ResolveIssueSection() SectionPolicy {
	return SectionPolicy{
		CheckEnabled:     on(c.Issue.CheckEnabled),
		MinBodyLength:    c.Issue.MinBodyLength,
		RequiredSections: c.Issue.RequiredSections,
		Mode:             c.modeOrDefault(),
	}
}

// ResolvePRSection resolves the pull-request body-check policy.
func (c *Config) ResolvePRSection() SectionPolicy {
	return SectionPolicy{
		CheckEnabled:          on(c.PullRequest.CheckEnabled),
		MinBodyLength:         c.PullRequest.MinBodyLength,
		RequiredSections:      c.PullRequest.RequiredSections,
		RequireIssueReference: c.PullRequest.RequireIssueReference != nil && *c.PullRequest.RequireIssueReference,
		IssueReferencePattern: c.PullRequest.IssueReferencePattern,
		Mode:                  c.modeOrDefault(),
	}
}

func (c *Config) modeOrDefault() string {
	if c.Mode == ModeEnforce {
		return ModeEnforce
	}
	return ModeRemind
}
