package review

import (
	"context"
	"fmt"
	"strings"

	"mr-agent/internal/domain"
	"mr-agent/internal/forge"
	"mr-agent/internal/i18n"
	"mr-agent/internal/metrics"
	"mr-agent/internal/policy"
	"mr-agent/internal/prompt"
)

// reserve runs the dedupe gate shared by every command orchestration.
// Returns false when the run is a duplicate (a note is posted).
func (c *Core) reserve(ctx context.Context, req Request) (string, bool) {
	key := c.requestKey(req)
	if c.dedupe.IsDuplicate(key, c.dedupeTTL(req)) {
		metrics.ReviewsTotal.WithLabelValues("deduped").Inc()
		c.comment(ctx, req, i18n.T(c.locale, i18n.KeyAlreadyExecuted))
		return key, false
	}
	return key, true
}

// fetchInput loads the PR and its capped change set for command prompts.
func (c *Core) fetchInput(ctx context.Context, req Request) (*forge.PullRequest, *domain.ReviewInput, error) {
	pr, err := req.Forge.GetPullRequest(ctx, req.Repo, req.Number)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch pull request: %w", err)
	}
	files, truncated, err := c.collectFiles(ctx, req, pr)
	if err != nil {
		return nil, nil, fmt.Errorf("collect files: %w", err)
	}
	return pr, c.buildInput(ctx, req, pr, files, truncated), nil
}

// Ask answers a question about the change set, keeping a bounded session of
// turns per (platform, repo, pr). Repeats of the same question overwrite the
// previous answer via the marker digest.
func (c *Core) Ask(ctx context.Context, req Request, question string) Result {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{OK: false, Message: "empty question"}
	}
	req.Suffix = domain.Fingerprint(question)

	key, ok := c.reserve(ctx, req)
	if !ok {
		return Result{OK: true, Message: "duplicate request suppressed"}
	}

	_, input, err := c.fetchInput(ctx, req)
	if err != nil {
		return c.fail(ctx, req, key, err)
	}

	sessionKey := fmt.Sprintf("%s:%s#%d", req.Forge.Platform(), req.Repo, req.Number)
	turns, _ := c.sessions.GetFresh(sessionKey, c.now())

	answer, err := c.provider.Generate(ctx, prompt.SystemAsk, c.prompts.BuildAsk(input, question, turns))
	if err != nil {
		return c.fail(ctx, req, key, err)
	}

	turns = append(turns, domain.AskTurn{Question: question, Answer: answer})
	if len(turns) > askSessionMaxTurns {
		turns = turns[len(turns)-askSessionMaxTurns:]
	}
	c.sessions.Set(sessionKey, turns, c.now().Add(c.cfg.Cache.AskSessionTTL))
	c.sessions.Prune(c.now())
	c.sessions.Trim(1000)

	body := fmt.Sprintf("**Q:** %s\n\n%s", question, answer)
	marker := forge.Marker(MarkerAsk, req.Suffix)
	if err := req.Forge.UpsertComment(ctx, req.Repo, req.Number, marker, body); err != nil {
		return c.fail(ctx, req, key, fmt.Errorf("publish answer: %w", err))
	}
	metrics.ReviewsTotal.WithLabelValues("success").Inc()
	return Result{OK: true, Message: "answer published"}
}

// Describe generates a change-set description. With apply permission the PR
// body is replaced; otherwise the description is posted as a managed comment.
func (c *Core) Describe(ctx context.Context, req Request, apply bool) Result {
	key, ok := c.reserve(ctx, req)
	if !ok {
		return Result{OK: true, Message: "duplicate request suppressed"}
	}

	_, input, err := c.fetchInput(ctx, req)
	if err != nil {
		return c.fail(ctx, req, key, err)
	}

	text, err := c.provider.Generate(ctx, prompt.SystemDescribe, c.prompts.BuildDescribe(input))
	if err != nil {
		return c.fail(ctx, req, key, err)
	}

	if apply {
		if err := req.Forge.UpdateDescription(ctx, req.Repo, req.Number, text); err != nil {
			return c.fail(ctx, req, key, fmt.Errorf("update description: %w", err))
		}
	} else {
		marker := forge.Marker(MarkerDescribe, "")
		if err := req.Forge.UpsertComment(ctx, req.Repo, req.Number, marker, text); err != nil {
			return c.fail(ctx, req, key, fmt.Errorf("publish description: %w", err))
		}
	}
	metrics.ReviewsTotal.WithLabelValues("success").Inc()
	return Result{OK: true, Message: "description published"}
}

const changelogFile = "CHANGELOG.md"

// Changelog generates a changelog entry. With apply permission the entry is
// prepended to CHANGELOG.md on the head branch; otherwise it is posted as a
// managed comment.
func (c *Core) Changelog(ctx context.Context, req Request, apply bool) Result {
	key, ok := c.reserve(ctx, req)
	if !ok {
		return Result{OK: true, Message: "duplicate request suppressed"}
	}

	pr, input, err := c.fetchInput(ctx, req)
	if err != nil {
		return c.fail(ctx, req, key, err)
	}

	entry, err := c.provider.Generate(ctx, prompt.SystemChangelog, c.prompts.BuildChangelog(input))
	if err != nil {
		return c.fail(ctx, req, key, err)
	}

	if apply {
		existing, err := req.Forge.ReadFile(ctx, req.Repo, pr.HeadBranch, changelogFile)
		if err != nil {
			existing = ""
		}
		content := strings.TrimRight(entry, "\n") + "\n"
		if existing != "" {
			content += "\n" + existing
		}
		message := fmt.Sprintf("docs: update changelog for !%d", req.Number)
		if err := req.Forge.WriteFile(ctx, req.Repo, pr.HeadBranch, changelogFile, content, message); err != nil {
			return c.fail(ctx, req, key, fmt.Errorf("write changelog: %w", err))
		}
	} else {
		marker := forge.Marker(MarkerChangelog, "")
		if err := req.Forge.UpsertComment(ctx, req.Repo, req.Number, marker, entry); err != nil {
			return c.fail(ctx, req, key, fmt.Errorf("publish changelog: %w", err))
		}
	}
	metrics.ReviewsTotal.WithLabelValues("success").Inc()
	return Result{OK: true, Message: "changelog published"}
}

// GenerateTests proposes unit tests for the change set as a managed comment.
func (c *Core) GenerateTests(ctx context.Context, req Request) Result {
	key, ok := c.reserve(ctx, req)
	if !ok {
		return Result{OK: true, Message: "duplicate request suppressed"}
	}

	_, input, err := c.fetchInput(ctx, req)
	if err != nil {
		return c.fail(ctx, req, key, err)
	}

	text, err := c.provider.Generate(ctx, prompt.SystemGenerateTests, c.prompts.BuildDescribe(input))
	if err != nil {
		return c.fail(ctx, req, key, err)
	}

	marker := forge.Marker(MarkerGenerateTests, "")
	if err := req.Forge.UpsertComment(ctx, req.Repo, req.Number, marker, text); err != nil {
		return c.fail(ctx, req, key, fmt.Errorf("publish tests: %w", err))
	}
	metrics.ReviewsTotal.WithLabelValues("success").Inc()
	return Result{OK: true, Message: "test proposals published"}
}

// Checks summarises CI check results for the current head as a managed
// comment. No provider call.
func (c *Core) Checks(ctx context.Context, req Request) Result {
	key, ok := c.reserve(ctx, req)
	if !ok {
		return Result{OK: true, Message: "duplicate request suppressed"}
	}

	pr, err := req.Forge.GetPullRequest(ctx, req.Repo, req.Number)
	if err != nil {
		return c.fail(ctx, req, key, fmt.Errorf("fetch pull request: %w", err))
	}
	checks, err := req.Forge.ListChecks(ctx, req.Repo, pr.HeadSHA)
	if err != nil {
		return c.fail(ctx, req, key, fmt.Errorf("list checks: %w", err))
	}

	marker := forge.Marker(MarkerChecks, "")
	if err := req.Forge.UpsertComment(ctx, req.Repo, req.Number, marker, renderChecks(checks)); err != nil {
		return c.fail(ctx, req, key, fmt.Errorf("publish checks: %w", err))
	}
	metrics.ReviewsTotal.WithLabelValues("success").Inc()
	return Result{OK: true, Message: "checks published"}
}

// Feedback records a developer feedback signal and acknowledges it.
func (c *Core) Feedback(ctx context.Context, req Request, author, content string) Result {
	content = strings.TrimSpace(content)
	if content == "" {
		return Result{OK: false, Message: "empty feedback"}
	}
	c.RecordFeedback(req.Forge.Platform(), req.Repo, req.Number, author, content)
	c.comment(ctx, req, i18n.T(c.locale, i18n.KeyFeedbackRecorded))
	metrics.ReviewsTotal.WithLabelValues("success").Inc()
	return Result{OK: true, Message: "feedback recorded"}
}

// SimilarIssue searches the tracker for issues resembling the PR title.
func (c *Core) SimilarIssue(ctx context.Context, req Request) Result {
	key, ok := c.reserve(ctx, req)
	if !ok {
		return Result{OK: true, Message: "duplicate request suppressed"}
	}

	pr, err := req.Forge.GetPullRequest(ctx, req.Repo, req.Number)
	if err != nil {
		return c.fail(ctx, req, key, fmt.Errorf("fetch pull request: %w", err))
	}
	refs, err := req.Forge.SearchIssues(ctx, req.Repo, pr.Title)
	if err != nil {
		return c.fail(ctx, req, key, fmt.Errorf("search issues: %w", err))
	}

	// Do not suggest the request itself.
	filtered := refs[:0]
	for _, r := range refs {
		if r.Number != req.Number {
			filtered = append(filtered, r)
		}
	}

	marker := forge.Marker(MarkerSimilarIssue, "")
	if err := req.Forge.UpsertComment(ctx, req.Repo, req.Number, marker, renderSimilarIssues(filtered)); err != nil {
		return c.fail(ctx, req, key, fmt.Errorf("publish similar issues: %w", err))
	}
	metrics.ReviewsTotal.WithLabelValues("success").Inc()
	return Result{OK: true, Message: "similar issues published"}
}

// PolicyRemind checks a title/body pair against the resolved section policy
// and upserts a reminder comment when problems are found. The reminder is
// deduped so rapid edit events do not repost it.
func (c *Core) PolicyRemind(ctx context.Context, fc forge.Client, repo string, number int, title, body string, pol policy.SectionPolicy) Result {
	problems := policy.CheckDescription(c.locale, title, body, pol)
	if len(problems) == 0 {
		return Result{OK: true, Message: "policy satisfied"}
	}

	key := fmt.Sprintf("%s:%s#%d:policy-reminder:%s", fc.Platform(), repo, number, domain.Fingerprint(strings.Join(problems, "|")))
	if c.dedupe.IsDuplicate(key, c.cfg.Review.DedupeTTL) {
		return Result{OK: true, Message: "reminder suppressed"}
	}

	marker := forge.Marker(MarkerPolicyReminder, "")
	if err := fc.UpsertComment(ctx, repo, number, marker, renderPolicyReminder(c.locale, problems)); err != nil {
		c.dedupe.Clear(key)
		return Result{OK: false, Message: "reminder publish failed"}
	}
	return Result{OK: true, Message: "reminder published"}
}
