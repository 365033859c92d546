package command

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
	"mr-agent/internal/review"
	"mr-agent/internal/state"
)

type stubProvider struct{}

func (stubProvider) Analyze(ctx context.Context, system, user string) (*domain.ReviewResult, error) {
	return &domain.ReviewResult{Reviews: []domain.ReviewIssue{}}, nil
}

func (stubProvider) Generate(ctx context.Context, system, user string) (string, error) {
	return "generated", nil
}

// mockForge implements forge.Client; unset hooks return benign defaults.
type mockForge struct {
	ReadFileFunc          func(ctx context.Context, repo, ref, path string) (string, error)
	CreateCommentFunc     func(ctx context.Context, repo string, number int, body string) error
	UpsertCommentFunc     func(ctx context.Context, repo string, number int, marker, body string) error
	UpdateDescriptionFunc func(ctx context.Context, repo string, number int, body string) error
}

func (m *mockForge) Platform() domain.Platform { return domain.PlatformGitHub }

func (m *mockForge) GetPullRequest(ctx context.Context, repo string, number int) (*forge.PullRequest, error) {
	return &forge.PullRequest{Number: number, Title: "t", HeadBranch: "feature", BaseBranch: "main", HeadSHA: "sha"}, nil
}

func (m *mockForge) UpdateDescription(ctx context.Context, repo string, number int, body string) error {
	if m.UpdateDescriptionFunc != nil {
		return m.UpdateDescriptionFunc(ctx, repo, number, body)
	}
	return nil
}

func (m *mockForge) SearchIssues(ctx context.Context, repo, query string) ([]forge.IssueRef, error) {
	return nil, nil
}

func (m *mockForge) ListFiles(ctx context.Context, repo string, number int) (*forge.ListFilesResult, error) {
	raw := "@@ -1,1 +1,2 @@\n a := 1\n+b := 2"
	p := patch.Parse(raw)
	return &forge.ListFilesResult{Files: []domain.DiffFile{{
		NewPath:      "main.go",
		Status:       domain.FileModified,
		Additions:    p.Additions,
		Patch:        raw,
		ExtendedDiff: p.ExtendedDiff,
		OldLines:     p.OldLines,
		NewLines:     p.NewLines,
	}}}, nil
}

func (m *mockForge) CompareDiff(ctx context.Context, repo, base, head string) ([]domain.DiffFile, error) {
	return nil, nil
}

func (m *mockForge) ReadFile(ctx context.Context, repo, ref, path string) (string, error) {
	if m.ReadFileFunc != nil {
		return m.ReadFileFunc(ctx, repo, ref, path)
	}
	return "", errors.New("404")
}

func (m *mockForge) WriteFile(ctx context.Context, repo, branch, path, content, message string) error {
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
	return len(comments), 0, nil
}

func (m *mockForge) ListChecks(ctx context.Context, repo, ref string) ([]domain.CICheck, error) {
	return nil, nil
}

func (m *mockForge) AddLabels(ctx context.Context, repo string, number int, labels []string) error {
	return nil
}

func testRouter() *Router {
	cfg := &config.Config{}
	cfg.Locale = "en"
	cfg.Commands.RateLimitMax = 2
	cfg.Commands.RateLimitWindow = time.Hour
	cfg.Review.DedupeTTL = 5 * time.Minute
	cfg.Review.MergedReportTTL = 24 * time.Hour
	cfg.Review.MaxFiles = 40
	cfg.Review.MaxPatchChars = 4000
	cfg.Review.MaxTotalChars = 60000
	cfg.Cache.GuidelineTTL = 10 * time.Minute
	cfg.Cache.HeadTTL = 24 * time.Hour
	cfg.Cache.FeedbackTTL = time.Hour
	cfg.Cache.AskSessionTTL = time.Hour

	store := state.NewStore()
	core := review.New(cfg, stubProvider{}, store, policy.NewEngine(time.Minute), notify.New(httpx.New(), "", "generic"))
	return New(cfg, core, store)
}

func event(fc forge.Client, body string) CommentEvent {
	return CommentEvent{
		Forge:  fc,
		Repo:   "org/repo",
		Number: 7,
		Author: "alice",
		Body:   body,
	}
}

func TestParse(t *testing.T) {
	cases := []struct {
		body string
		name string
		arg  string
		ok   bool
	}{
		{"/ai-review", "/ai-review", "", true},
		{"/describe apply", "/describe", "apply", true},
		{"/ask why is this safe", "/ask", "why is this safe", true},
		{"some context\n/checks", "/checks", "", true},
		{"  /feedback too noisy  ", "/feedback", "too noisy", true},
		{"please run /ai-review for me", "", "", false},
		{"/ai-reviewer", "", "", false},
		{"no commands here", "", "", false},
	}
	for _, tc := range cases {
		name, arg, ok := parse(tc.body)
		if name != tc.name || arg != tc.arg || ok != tc.ok {
			t.Errorf("parse(%q) = (%q, %q, %v), want (%q, %q, %v)", tc.body, name, arg, ok, tc.name, tc.arg, tc.ok)
		}
	}
}

func TestParseFirstLineWins(t *testing.T) {
	name, _, ok := parse("/ask what changed\n/feedback too noisy")
	if !ok || name != "/ask" {
		t.Errorf("got %q", name)
	}
}

func TestIsBot(t *testing.T) {
	cases := []struct {
		platform   domain.Platform
		author     string
		authorType string
		want       bool
	}{
		{domain.PlatformGitHub, "alice", "User", false},
		{domain.PlatformGitHub, "alice", "Bot", true},
		{domain.PlatformGitHub, "dependabot[bot]", "", true},
		{domain.PlatformGitLab, "project_42_bot_0a1b", "", true},
		{domain.PlatformGitLab, "release-bot", "", true},
		{domain.PlatformGitLab, "gitlab_ci_bot", "", true},
		{domain.PlatformGitHub, "release-bot", "", false},
		{domain.PlatformGitLab, "robotics-dev", "", false},
	}
	for _, tc := range cases {
		if got := IsBot(tc.platform, tc.author, tc.authorType); got != tc.want {
			t.Errorf("IsBot(%s, %q, %q) = %v, want %v", tc.platform, tc.author, tc.authorType, got, tc.want)
		}
	}
}

func TestHandleIgnoresBots(t *testing.T) {
	r := testRouter()
	ev := event(&mockForge{}, "/ai-review")
	ev.Author = "dependabot[bot]"

	if _, handled := r.Handle(context.Background(), ev); handled {
		t.Error("bot comments must not be handled")
	}
}

func TestHandleNoCommand(t *testing.T) {
	r := testRouter()
	if _, handled := r.Handle(context.Background(), event(&mockForge{}, "nice change")); handled {
		t.Error("plain comments must not be handled")
	}
}

func TestHandleRateLimit(t *testing.T) {
	var notes []string
	fc := &mockForge{CreateCommentFunc: func(ctx context.Context, repo string, number int, body string) error {
		notes = append(notes, body)
		return nil
	}}
	r := testRouter()
	ev := event(fc, "/feedback too noisy")

	for i := 0; i < 2; i++ {
		if res, handled := r.Handle(context.Background(), ev); !handled || !res.OK {
			t.Fatalf("run %d = %+v", i, res)
		}
	}
	res, handled := r.Handle(context.Background(), ev)
	if !handled || res.Message != "rate limited" {
		t.Fatalf("third run = %+v", res)
	}
	if last := notes[len(notes)-1]; !strings.Contains(last, "frequently") {
		t.Errorf("rate limit note = %q", last)
	}
}

func TestHandleDisabledCommand(t *testing.T) {
	var notes []string
	fc := &mockForge{
		ReadFileFunc: func(ctx context.Context, repo, ref, path string) (string, error) {
			if path == ".mr-agent.yml" {
				return "review:\n  ask_command_enabled: off\n", nil
			}
			return "", errors.New("404")
		},
		CreateCommentFunc: func(ctx context.Context, repo string, number int, body string) error {
			notes = append(notes, body)
			return nil
		},
	}
	r := testRouter()

	res, handled := r.Handle(context.Background(), event(fc, "/ask what changed"))
	if !handled || res.Message != "command disabled" {
		t.Fatalf("got %+v", res)
	}
	if len(notes) != 1 || !strings.Contains(notes[0], "disabled") {
		t.Errorf("notes = %v", notes)
	}

	// Other commands stay available.
	if res, _ := r.Handle(context.Background(), event(fc, "/feedback still works")); res.Message != "feedback recorded" {
		t.Errorf("feedback = %+v", res)
	}
}

func TestHandleDescribeApply(t *testing.T) {
	var updated bool
	fc := &mockForge{UpdateDescriptionFunc: func(ctx context.Context, repo string, number int, body string) error {
		updated = true
		return nil
	}}
	r := testRouter()

	res, handled := r.Handle(context.Background(), event(fc, "/describe apply"))
	if !handled || !res.OK {
		t.Fatalf("got %+v", res)
	}
	if !updated {
		t.Error("apply must replace the description")
	}
}

func TestHandleDescribeApplyDeniedByPolicy(t *testing.T) {
	var updated bool
	var markers []string
	fc := &mockForge{
		ReadFileFunc: func(ctx context.Context, repo, ref, path string) (string, error) {
			if path == ".mr-agent.yml" {
				return "review:\n  describe_allow_apply: off\n", nil
			}
			return "", errors.New("404")
		},
		UpdateDescriptionFunc: func(ctx context.Context, repo string, number int, body string) error {
			updated = true
			return nil
		},
		UpsertCommentFunc: func(ctx context.Context, repo string, number int, marker, body string) error {
			markers = append(markers, marker)
			return nil
		},
	}
	r := testRouter()

	res, _ := r.Handle(context.Background(), event(fc, "/describe apply"))
	if !res.OK {
		t.Fatalf("got %+v", res)
	}
	if updated {
		t.Error("policy must downgrade apply to a preview comment")
	}
	found := false
	for _, m := range markers {
		if m == forge.Marker(review.MarkerDescribe, "") {
			found = true
		}
	}
	if !found {
		t.Errorf("preview comment missing, markers = %v", markers)
	}
}

func TestHandleAIModeOverride(t *testing.T) {
	var markers []string
	fc := &mockForge{UpsertCommentFunc: func(ctx context.Context, repo string, number int, marker, body string) error {
		markers = append(markers, marker)
		return nil
	}}
	r := testRouter()
	ev := event(fc, "/ai-review")
	ev.AIMode = "report"

	if res, _ := r.Handle(context.Background(), ev); !res.OK {
		t.Fatalf("got %+v", res)
	}
	found := false
	for _, m := range markers {
		if m == forge.Marker(review.MarkerReport, "") {
			found = true
		}
	}
	if !found {
		t.Errorf("report marker missing, markers = %v", markers)
	}
}

func TestHandleDuplicateCommandNotes(t *testing.T) {
	var notes []string
	fc := &mockForge{CreateCommentFunc: func(ctx context.Context, repo string, number int, body string) error {
		notes = append(notes, body)
		return nil
	}}
	r := testRouter()
	ev := event(fc, "/checks")

	if res, _ := r.Handle(context.Background(), ev); res.Message != "checks published" {
		t.Fatalf("first run = %+v", res)
	}
	res, _ := r.Handle(context.Background(), ev)
	if res.Message != "duplicate request suppressed" {
		t.Fatalf("second run = %+v", res)
	}
	if len(notes) != 1 || !strings.Contains(notes[0], "already executed") {
		t.Errorf("notes = %v", notes)
	}
}
