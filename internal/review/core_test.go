package review

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mr-agent/internal/config"
	"mr-agent/internal/domain"
	"mr-agent/internal/forge"
	"mr-agent/internal/httpx"
	"mr-agent/internal/notify"
	"mr-agent/internal/patch"
	"mr-agent/internal/policy"
	"mr-agent/internal/state"
)

// mockProvider implements Provider with func fields.
type mockProvider struct {
	AnalyzeFunc  func(ctx context.Context, system, user string) (*domain.ReviewResult, error)
	GenerateFunc func(ctx context.Context, system, user string) (string, error)
}

func (m *mockProvider) Analyze(ctx context.Context, system, user string) (*domain.ReviewResult, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, system, user)
	}
	return &domain.ReviewResult{Summary: "ok", RiskLevel: domain.RiskLow, Reviews: []domain.ReviewIssue{}}, nil
}

func (m *mockProvider) Generate(ctx context.Context, system, user string) (string, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, system, user)
	}
	return "generated text", nil
}

// mockForge implements forge.Client with func fields; unset hooks return
// benign defaults.
type mockForge struct {
	GetPullRequestFunc     func(ctx context.Context, repo string, number int) (*forge.PullRequest, error)
	ListFilesFunc          func(ctx context.Context, repo string, number int) (*forge.ListFilesResult, error)
	CompareDiffFunc        func(ctx context.Context, repo, base, head string) ([]domain.DiffFile, error)
	CreateCommentFunc      func(ctx context.Context, repo string, number int, body string) error
	UpsertCommentFunc      func(ctx context.Context, repo string, number int, marker, body string) error
	CreateLineCommentsFunc func(ctx context.Context, repo string, pr *forge.PullRequest, comments []forge.LineComment) (int, int, error)
	ReadFileFunc           func(ctx context.Context, repo, ref, path string) (string, error)
	WriteFileFunc          func(ctx context.Context, repo, branch, path, content, message string) error
	AddLabelsFunc          func(ctx context.Context, repo string, number int, labels []string) error
	ListChecksFunc         func(ctx context.Context, repo, ref string) ([]domain.CICheck, error)
	SearchIssuesFunc       func(ctx context.Context, repo, query string) ([]forge.IssueRef, error)
	UpdateDescriptionFunc  func(ctx context.Context, repo string, number int, body string) error
}

func (m *mockForge) Platform() domain.Platform { return domain.PlatformGitHub }

func (m *mockForge) GetPullRequest(ctx context.Context, repo string, number int) (*forge.PullRequest, error) {
	if m.GetPullRequestFunc != nil {
		return m.GetPullRequestFunc(ctx, repo, number)
	}
	return &forge.PullRequest{
		Number:     number,
		Title:      "fix: reconnect loop",
		Author:     "alice",
		BaseBranch: "main",
		HeadBranch: "fix/reconnect",
		HeadSHA:    "headsha",
	}, nil
}

func (m *mockForge) UpdateDescription(ctx context.Context, repo string, number int, body string) error {
	if m.UpdateDescriptionFunc != nil {
		return m.UpdateDescriptionFunc(ctx, repo, number, body)
	}
	return nil
}

func (m *mockForge) SearchIssues(ctx context.Context, repo, query string) ([]forge.IssueRef, error) {
	if m.SearchIssuesFunc != nil {
		return m.SearchIssuesFunc(ctx, repo, query)
	}
	return nil, nil
}

func (m *mockForge) ListFiles(ctx context.Context, repo string, number int) (*forge.ListFilesResult, error) {
	if m.ListFilesFunc != nil {
		return m.ListFilesFunc(ctx, repo, number)
	}
	return &forge.ListFilesResult{Files: []domain.DiffFile{testDiffFile()}}, nil
}

func (m *mockForge) CompareDiff(ctx context.Context, repo, base, head string) ([]domain.DiffFile, error) {
	if m.CompareDiffFunc != nil {
		return m.CompareDiffFunc(ctx, repo, base, head)
	}
	return []domain.DiffFile{testDiffFile()}, nil
}

func (m *mockForge) ReadFile(ctx context.Context, repo, ref, path string) (string, error) {
	if m.ReadFileFunc != nil {
		return m.ReadFileFunc(ctx, repo, ref, path)
	}
	return "", errors.New("not found")
}

func (m *mockForge) WriteFile(ctx context.Context, repo, branch, path, content, message string) error {
	if m.WriteFileFunc != nil {
		return m.WriteFileFunc(ctx, repo, branch, path, content, message)
	}
	return nil
}

func (m *mockForge) CreateComment(ctx context.Context, repo string, number int, body string) error {
	if m.CreateCommentFunc != nil {
		return m.CreateCommentFunc(ctx, repo, number, body)
	}
	return nil
}

func (m *mockForge) UpsertComment(ctx context.Context, repo string, number int, marker, body string) error {
	if m.UpsertCommentFunc != nil {
		return m.UpsertCommentFunc(ctx, repo, number, marker, body)
	}
	return nil
}

func (m *mockForge) CreateLineComments(ctx context.Context, repo string, pr *forge.PullRequest, comments []forge.LineComment) (int, int, error) {
	if m.CreateLineCommentsFunc != nil {
		return m.CreateLineCommentsFunc(ctx, repo, pr, comments)
	}
	return len(comments), 0, nil
}

func (m *mockForge) ListChecks(ctx context.Context, repo, ref string) ([]domain.CICheck, error) {
	if m.ListChecksFunc != nil {
		return m.ListChecksFunc(ctx, repo, ref)
	}
	return nil, nil
}

func (m *mockForge) AddLabels(ctx context.Context, repo string, number int, labels []string) error {
	if m.AddLabelsFunc != nil {
		return m.AddLabelsFunc(ctx, repo, number, labels)
	}
	return nil
}

func testDiffFile() domain.DiffFile {
	raw := "@@ -1,2 +1,3 @@\n a := 1\n-b := 2\n+b := 3\n+c := 4"
	p := patch.Parse(raw)
	return domain.DiffFile{
		NewPath:      "main.go",
		Status:       domain.FileModified,
		Additions:    p.Additions,
		Deletions:    p.Deletions,
		Patch:        raw,
		ExtendedDiff: p.ExtendedDiff,
		OldLines:     p.OldLines,
		NewLines:     p.NewLines,
	}
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Locale = "en"
	cfg.Review.DedupeTTL = 5 * time.Minute
	cfg.Review.MergedReportTTL = 24 * time.Hour
	cfg.Review.MaxFiles = 40
	cfg.Review.MaxPatchChars = 4000
	cfg.Review.MaxTotalChars = 60000
	cfg.Cache.GuidelineTTL = 10 * time.Minute
	cfg.Cache.HeadTTL = 24 * time.Hour
	cfg.Cache.FeedbackTTL = 7 * 24 * time.Hour
	cfg.Cache.AskSessionTTL = time.Hour
	return cfg
}

func testCore(p Provider) *Core {
	cfg := testConfig()
	return New(cfg, p, state.NewStore(), policy.NewEngine(time.Minute), notify.New(httpx.New(), "", "generic"))
}

func testRequest(fc forge.Client) Request {
	return Request{
		Forge:   fc,
		Repo:    "org/repo",
		Number:  7,
		Trigger: TriggerOpened,
		Mode:    "comment",
		Policy:  policy.AutoReviewPolicy{Enabled: true, Mode: "comment"},
	}
}

func TestReviewDedupeSuppressed(t *testing.T) {
	var analyzed int
	c := testCore(&mockProvider{AnalyzeFunc: func(ctx context.Context, system, user string) (*domain.ReviewResult, error) {
		analyzed++
		return &domain.ReviewResult{Summary: "ok", Reviews: []domain.ReviewIssue{}}, nil
	}})
	fc := &mockForge{}
	req := testRequest(fc)

	if res := c.Review(context.Background(), req); !res.OK {
		t.Fatalf("first run failed: %+v", res)
	}
	res := c.Review(context.Background(), req)
	if !res.OK || res.Message != "duplicate request suppressed" {
		t.Errorf("second run = %+v", res)
	}
	if analyzed != 1 {
		t.Errorf("provider called %d times, want 1", analyzed)
	}
}

func TestReviewDedupeNoteOnCommand(t *testing.T) {
	var notes []string
	fc := &mockForge{CreateCommentFunc: func(ctx context.Context, repo string, number int, body string) error {
		notes = append(notes, body)
		return nil
	}}
	c := testCore(&mockProvider{})
	req := testRequest(fc)
	req.CommandTriggered = true

	c.Review(context.Background(), req)
	c.Review(context.Background(), req)

	if len(notes) != 1 || !strings.Contains(notes[0], "already executed") {
		t.Errorf("expected one duplicate note, got %v", notes)
	}
}

func TestReviewDraftSkipped(t *testing.T) {
	var analyzed bool
	fc := &mockForge{GetPullRequestFunc: func(ctx context.Context, repo string, number int) (*forge.PullRequest, error) {
		return &forge.PullRequest{Number: number, Draft: true, HeadSHA: "headsha"}, nil
	}}
	c := testCore(&mockProvider{AnalyzeFunc: func(ctx context.Context, system, user string) (*domain.ReviewResult, error) {
		analyzed = true
		return &domain.ReviewResult{Reviews: []domain.ReviewIssue{}}, nil
	}})

	res := c.Review(context.Background(), testRequest(fc))
	if !res.OK || res.Message != "draft skipped" {
		t.Errorf("got %+v", res)
	}
	if analyzed {
		t.Error("draft must not reach the provider")
	}

	// A command run proceeds on drafts.
	req := testRequest(fc)
	req.Suffix = "ai-review"
	req.CommandTriggered = true
	if res := c.Review(context.Background(), req); res.Message == "draft skipped" {
		t.Error("command-triggered run must not skip drafts")
	}
}

func TestReviewNoDiff(t *testing.T) {
	fc := &mockForge{ListFilesFunc: func(ctx context.Context, repo string, number int) (*forge.ListFilesResult, error) {
		return &forge.ListFilesResult{}, nil
	}}
	c := testCore(&mockProvider{})

	res := c.Review(context.Background(), testRequest(fc))
	if !res.OK || res.Message != "no reviewable changes" {
		t.Errorf("got %+v", res)
	}
}

func TestReviewCommentModePublishes(t *testing.T) {
	var (
		lineComments []forge.LineComment
		summaryBody  string
		labels       []string
	)
	fc := &mockForge{
		CreateLineCommentsFunc: func(ctx context.Context, repo string, pr *forge.PullRequest, comments []forge.LineComment) (int, int, error) {
			lineComments = comments
			return len(comments), 0, nil
		},
		UpsertCommentFunc: func(ctx context.Context, repo string, number int, marker, body string) error {
			if marker == forge.Marker(MarkerSummary, "") {
				summaryBody = body
			}
			return nil
		},
		AddLabelsFunc: func(ctx context.Context, repo string, number int, l []string) error {
			labels = l
			return nil
		},
	}
	c := testCore(&mockProvider{AnalyzeFunc: func(ctx context.Context, system, user string) (*domain.ReviewResult, error) {
		return &domain.ReviewResult{
			Summary:   "one issue",
			RiskLevel: domain.RiskHigh,
			Reviews: []domain.ReviewIssue{
				{Severity: domain.SeverityHigh, NewPath: "main.go", Side: domain.SideNew, StartLine: 2, EndLine: 3, IssueHeader: "off by one"},
				{Severity: domain.SeverityLow, NewPath: "missing.go", Side: domain.SideNew, StartLine: 1, EndLine: 1, IssueHeader: "unanchorable"},
			},
		}, nil
	}})

	req := testRequest(fc)
	req.Policy.AutoLabelEnabled = true
	res := c.Review(context.Background(), req)
	if !res.OK {
		t.Fatalf("review failed: %+v", res)
	}

	if len(lineComments) != 1 || lineComments[0].Path != "main.go" {
		t.Errorf("line comments = %+v", lineComments)
	}
	if !strings.Contains(summaryBody, "(1 could not be anchored)") {
		t.Errorf("summary must count unanchored issues: %q", summaryBody)
	}
	want := []string{"bugfix", "needs-attention"}
	if len(labels) != len(want) || labels[0] != want[0] || labels[1] != want[1] {
		t.Errorf("labels = %v, want %v", labels, want)
	}
}

func TestReviewReportMode(t *testing.T) {
	var reportBody string
	fc := &mockForge{UpsertCommentFunc: func(ctx context.Context, repo string, number int, marker, body string) error {
		if marker == forge.Marker(MarkerReport, "") {
			reportBody = body
		}
		return nil
	}}
	c := testCore(&mockProvider{})

	req := testRequest(fc)
	req.Mode = "report"
	if res := c.Review(context.Background(), req); !res.OK {
		t.Fatalf("review failed: %+v", res)
	}
	if !strings.Contains(reportBody, "## Automated Review") {
		t.Errorf("report body = %q", reportBody)
	}
}

func TestReviewFailureClearsDedupe(t *testing.T) {
	var errBody string
	fc := &mockForge{UpsertCommentFunc: func(ctx context.Context, repo string, number int, marker, body string) error {
		if marker == forge.Marker(MarkerError, "") {
			errBody = body
		}
		return nil
	}}

	fail := true
	c := testCore(&mockProvider{AnalyzeFunc: func(ctx context.Context, system, user string) (*domain.ReviewResult, error) {
		if fail {
			return nil, errors.New("dial tcp: connection refused")
		}
		return &domain.ReviewResult{Reviews: []domain.ReviewIssue{}}, nil
	}})
	req := testRequest(fc)

	if res := c.Review(context.Background(), req); res.OK {
		t.Fatal("expected failure")
	}
	if !strings.Contains(errBody, "internal execution error") {
		t.Errorf("error comment must be sanitised: %q", errBody)
	}

	// The failed run released its reservation, so a retry goes through.
	fail = false
	if res := c.Review(context.Background(), req); !res.OK || res.Message == "duplicate request suppressed" {
		t.Errorf("retry after failure = %+v", res)
	}
}

func TestReviewIncrementalUsesCompare(t *testing.T) {
	var compared bool
	fc := &mockForge{CompareDiffFunc: func(ctx context.Context, repo, base, head string) ([]domain.DiffFile, error) {
		compared = true
		if base != "headsha" || head != "newsha" {
			t.Errorf("compare %s..%s", base, head)
		}
		return []domain.DiffFile{testDiffFile()}, nil
	}}
	c := testCore(&mockProvider{})

	// First run on the initial head seeds the baseline.
	if res := c.Review(context.Background(), testRequest(fc)); !res.OK {
		t.Fatal("seed run failed")
	}

	fc.GetPullRequestFunc = func(ctx context.Context, repo string, number int) (*forge.PullRequest, error) {
		return &forge.PullRequest{Number: number, HeadSHA: "newsha", Title: "t"}, nil
	}
	req := testRequest(fc)
	req.Trigger = TriggerSynchronize
	if res := c.Review(context.Background(), req); !res.OK {
		t.Fatalf("incremental run failed: %+v", res)
	}
	if !compared {
		t.Error("synchronize with a moved head must use the compare API")
	}
}

func TestApplyCapsFiltersAndBudgets(t *testing.T) {
	c := testCore(&mockProvider{})
	c.cfg.Review.MaxFiles = 2

	raw := []domain.DiffFile{
		{NewPath: "a.go", Status: domain.FileModified, Patch: "@@ -1 +1 @@\n+x"},
		{NewPath: "image.png", Status: domain.FileModified},
		{NewPath: "gone.go", Status: domain.FileRemoved},
		{NewPath: "b.go", Status: domain.FileModified, Patch: "@@ -1 +1 @@\n+y"},
		{NewPath: "c.go", Status: domain.FileModified, Patch: "@@ -1 +1 @@\n+z"},
	}
	kept, dropped := c.applyCaps(raw)
	if len(kept) != 2 || kept[0].NewPath != "a.go" || kept[1].NewPath != "b.go" {
		t.Errorf("kept = %+v", kept)
	}
	if !dropped {
		t.Error("exceeding MaxFiles must flag truncation")
	}
}

func TestRecordFeedbackScopes(t *testing.T) {
	c := testCore(&mockProvider{})

	c.RecordFeedback(domain.PlatformGitHub, "org/repo", 7, "alice", "too noisy")
	sigs := c.feedbackSignals(domain.PlatformGitHub, "org/repo", 7)
	if len(sigs) != 1 || sigs[0].Content != "too noisy" {
		t.Errorf("pr-scope signals = %+v", sigs)
	}

	// Another PR in the same repo sees the repo-scope fallback.
	sigs = c.feedbackSignals(domain.PlatformGitHub, "org/repo", 99)
	if len(sigs) != 1 {
		t.Errorf("repo-scope fallback = %+v", sigs)
	}
}

func TestPolicyRemindDedupes(t *testing.T) {
	var upserts int
	fc := &mockForge{UpsertCommentFunc: func(ctx context.Context, repo string, number int, marker, body string) error {
		upserts++
		return nil
	}}
	c := testCore(&mockProvider{})
	pol := policy.SectionPolicy{CheckEnabled: true, MinBodyLength: 100}

	c.PolicyRemind(context.Background(), fc, "org/repo", 7, "title", "short", pol)
	c.PolicyRemind(context.Background(), fc, "org/repo", 7, "title", "short", pol)
	if upserts != 1 {
		t.Errorf("identical problems must post once, got %d", upserts)
	}

	// A compliant body posts nothing.
	long := strings.Repeat("detailed description ", 10)
	res := c.PolicyRemind(context.Background(), fc, "org/repo", 8, "title", long, pol)
	if !res.OK || res.Message != "policy satisfied" {
		t.Errorf("got %+v", res)
	}
}

func TestPolicyRemindRetriesAfterPublishFailure(t *testing.T) {
	failing := true
	var upserts int
	fc := &mockForge{UpsertCommentFunc: func(ctx context.Context, repo string, number int, marker, body string) error {
		upserts++
		if failing {
			return errors.New("503")
		}
		return nil
	}}
	c := testCore(&mockProvider{})
	pol := policy.SectionPolicy{CheckEnabled: true, MinBodyLength: 100}

	if res := c.PolicyRemind(context.Background(), fc, "org/repo", 7, "title", "short", pol); res.OK {
		t.Fatal("expected publish failure")
	}
	failing = false
	if res := c.PolicyRemind(context.Background(), fc, "org/repo", 7, "title", "short", pol); !res.OK || res.Message != "reminder published" {
		t.Errorf("retry = %+v", res)
	}
	if upserts != 2 {
		t.Errorf("upserts = %d", upserts)
	}
}
