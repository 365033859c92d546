// Package review orchestrates one review or command run: dedupe, context
// fetch, provider call, publication, notification.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mr-agent/internal/cache"
	"mr-agent/internal/config"
	"mr-agent/internal/domain"
	"mr-agent/internal/forge"
	"mr-agent/internal/i18n"
	"mr-agent/internal/metrics"
	"mr-agent/internal/notify"
	"mr-agent/internal/patch"
	"mr-agent/internal/policy"
	"mr-agent/internal/prompt"
	"mr-agent/internal/secrets"
	"mr-agent/internal/state"
)

// Markers for managed comments.
const (
	MarkerReport         = "report"
	MarkerSummary        = "review-summary"
	MarkerSecretWarning  = "secret-warning"
	MarkerPolicyReminder = "policy-reminder"
	MarkerDescribe       = "describe"
	MarkerChangelog      = "changelog"
	MarkerGenerateTests  = "generate-tests"
	MarkerChecks         = "checks"
	MarkerSimilarIssue   = "similar-issue"
	MarkerAsk            = "ask"
	MarkerError          = "review-error"
)

// Triggers a review run can be started by.
const (
	TriggerOpened      = "pr-opened"
	TriggerEdited      = "pr-edited"
	TriggerSynchronize = "pr-synchronize"
	TriggerCommand     = "command"
	TriggerMerged      = "merged"
)

const askSessionMaxTurns = 20

// Provider is the slice of the provider adapter the orchestrations use.
type Provider interface {
	Analyze(ctx context.Context, system, user string) (*domain.ReviewResult, error)
	Generate(ctx context.Context, system, user string) (string, error)
}

// Result is the {ok, message} envelope every orchestration resolves with.
type Result struct {
	OK      bool
	Message string
}

// Request describes one orchestration run.
type Request struct {
	Forge   forge.Client
	Repo    string
	Number  int
	Trigger string
	Mode    string // comment, report
	Suffix  string // extra dedupe discriminator
	PushURL string
	Policy  policy.AutoReviewPolicy
	// CommandTriggered runs proceed on drafts and answer with user-visible
	// notes on dedupe hits.
	CommandTriggered bool
}

// Core wires the shared collaborators of every orchestration.
type Core struct {
	cfg      *config.Config
	provider Provider
	dedupe   *state.Dedupe
	policy   *policy.Engine
	notifier *notify.Notifier
	prompts  *prompt.Builder
	locale   i18n.Locale

	heads      *cache.Cache[string]
	guidelines *cache.Cache[[]domain.Guideline]
	feedback   *cache.Cache[[]domain.FeedbackSignal]
	sessions   *cache.Cache[[]domain.AskTurn]

	now func() time.Time
}

// New creates the review core.
func New(cfg *config.Config, provider Provider, store *state.Store, engine *policy.Engine, notifier *notify.Notifier) *Core {
	return &Core{
		cfg:        cfg,
		provider:   provider,
		dedupe:     state.NewDedupe(store),
		policy:     engine,
		notifier:   notifier,
		prompts:    prompt.NewBuilder(),
		locale:     i18n.Resolve(cfg.Locale),
		heads:      cache.New[string](),
		guidelines: cache.New[[]domain.Guideline](),
		feedback:   cache.New[[]domain.FeedbackSignal](),
		sessions:   cache.New[[]domain.AskTurn](),
		now:        time.Now,
	}
}

// Policy returns the policy engine for webhook-side gating.
func (c *Core) Policy() *policy.Engine { return c.policy }

// Locale returns the resolved UI locale.
func (c *Core) Locale() i18n.Locale { return c.locale }

func (c *Core) requestKey(req Request) string {
	key := fmt.Sprintf("%s:%s#%d:%s:%s", req.Forge.Platform(), req.Repo, req.Number, req.Mode, req.Trigger)
	if req.Suffix != "" {
		key += ":" + req.Suffix
	}
	return key
}

func (c *Core) dedupeTTL(req Request) time.Duration {
	if req.Trigger == TriggerMerged {
		return c.cfg.Review.MergedReportTTL
	}
	return c.cfg.Review.DedupeTTL
}

func headKey(platform domain.Platform, repo string, number int) string {
	return fmt.Sprintf("%s:%s#%d", platform, repo, number)
}

// Review runs the full review state machine for one request.
func (c *Core) Review(ctx context.Context, req Request) Result {
	start := c.now()
	res := c.review(ctx, req)
	outcome := "success"
	if !res.OK {
		outcome = "failed"
	}
	metrics.ProcessingDuration.WithLabelValues(outcome).Observe(c.now().Sub(start).Seconds())
	return res
}

func (c *Core) review(ctx context.Context, req Request) Result {
	key := c.requestKey(req)

	if c.dedupe.IsDuplicate(key, c.dedupeTTL(req)) {
		metrics.ReviewsTotal.WithLabelValues("deduped").Inc()
		if req.CommandTriggered {
			c.comment(ctx, req, i18n.T(c.locale, i18n.KeyAlreadyExecuted))
		}
		return Result{OK: true, Message: "duplicate request suppressed"}
	}

	pr, err := req.Forge.GetPullRequest(ctx, req.Repo, req.Number)
	if err != nil {
		return c.fail(ctx, req, key, fmt.Errorf("fetch pull request: %w", err))
	}
	if pr.Draft && !req.CommandTriggered {
		metrics.ReviewsTotal.WithLabelValues("skipped").Inc()
		slog.Info("draft skipped", "repo", req.Repo, "number", req.Number, "trigger", req.Trigger)
		return Result{OK: true, Message: "draft skipped"}
	}

	files, truncated, err := c.collectFiles(ctx, req, pr)
	if err != nil {
		return c.fail(ctx, req, key, fmt.Errorf("collect files: %w", err))
	}

	if len(files) == 0 {
		metrics.ReviewsTotal.WithLabelValues("skipped").Inc()
		if req.CommandTriggered {
			c.comment(ctx, req, i18n.T(c.locale, i18n.KeyNoDiff))
		}
		c.rememberHead(req, pr)
		return Result{OK: true, Message: "no reviewable changes"}
	}

	input := c.buildInput(ctx, req, pr, files, truncated)

	result, err := c.provider.Analyze(ctx, prompt.SystemReview, c.prompts.BuildReview(input))
	if err != nil {
		return c.fail(ctx, req, key, err)
	}

	c.publish(ctx, req, pr, files, result, truncated)
	c.rememberHead(req, pr)

	metrics.ReviewsTotal.WithLabelValues("success").Inc()
	c.notifier.Publish(ctx, req.PushURL, notify.Message{
		Author:       pr.Author,
		Repo:         req.Repo,
		SourceBranch: pr.HeadBranch,
		TargetBranch: pr.BaseBranch,
		Content: fmt.Sprintf("Review of %s#%d finished: risk %s, %d finding(s).",
			req.Repo, req.Number, result.RiskLevel, len(result.Reviews)),
	})
	return Result{OK: true, Message: "review published"}
}

// collectFiles resolves the incremental base and applies the run caps.
func (c *Core) collectFiles(ctx context.Context, req Request, pr *forge.PullRequest) ([]domain.DiffFile, bool, error) {
	var (
		raw       []domain.DiffFile
		truncated bool
	)

	incremental := false
	if req.Trigger == TriggerSynchronize || req.Trigger == TriggerEdited {
		if base, ok := c.heads.GetFresh(headKey(req.Forge.Platform(), req.Repo, req.Number), c.now()); ok && base != pr.HeadSHA {
			files, err := req.Forge.CompareDiff(ctx, req.Repo, base, pr.HeadSHA)
			if err != nil {
				return nil, false, err
			}
			raw = files
			incremental = true
		}
	}
	if !incremental {
		listed, err := req.Forge.ListFiles(ctx, req.Repo, req.Number)
		if err != nil {
			return nil, false, err
		}
		raw = listed.Files
		truncated = listed.Truncated
	}

	files, capped := c.applyCaps(raw)
	return files, truncated || capped, nil
}

// applyCaps filters review targets and enforces the per-run size budget.
// Returns the kept files and whether anything was dropped for size.
func (c *Core) applyCaps(raw []domain.DiffFile) ([]domain.DiffFile, bool) {
	var (
		kept    []domain.DiffFile
		total   int
		dropped bool
	)
	for _, f := range raw {
		if !c.isReviewTarget(f) {
			continue
		}
		if len(kept) >= c.cfg.Review.MaxFiles {
			dropped = true
			break
		}
		if len(f.Patch) > c.cfg.Review.MaxPatchChars {
			f.Patch = patch.PrioritizeHunks(f.Patch, c.cfg.Review.MaxPatchChars)
			parsed := patch.Parse(f.Patch)
			f.ExtendedDiff = parsed.ExtendedDiff
			f.OldLines = parsed.OldLines
			f.NewLines = parsed.NewLines
		}
		if total+len(f.Patch) > c.cfg.Review.MaxTotalChars {
			dropped = true
			break
		}
		total += len(f.Patch)
		kept = append(kept, f)
	}
	return kept, dropped
}

func (c *Core) isReviewTarget(f domain.DiffFile) bool {
	if f.Status == domain.FileRemoved {
		return false
	}
	return domain.IsCodeFile(f.NewPath, c.cfg.Review.CodeExtensions) ||
		domain.IsProcessTemplateFile(domain.PlatformGitHub, f.NewPath) ||
		domain.IsProcessTemplateFile(domain.PlatformGitLab, f.NewPath)
}

// buildInput assembles the ReviewInput: metadata, guidelines, custom rules,
// feedback signals, CI checks.
func (c *Core) buildInput(ctx context.Context, req Request, pr *forge.PullRequest, files []domain.DiffFile, truncated bool) *domain.ReviewInput {
	additions, deletions := pr.Additions, pr.Deletions
	if additions == 0 && deletions == 0 {
		for _, f := range files {
			additions += f.Additions
			deletions += f.Deletions
		}
	}

	in := &domain.ReviewInput{
		Platform:    req.Forge.Platform(),
		Repo:        req.Repo,
		Number:      req.Number,
		Title:       pr.Title,
		Body:        pr.Body,
		Author:      pr.Author,
		BaseBranch:  pr.BaseBranch,
		HeadBranch:  pr.HeadBranch,
		Additions:   additions,
		Deletions:   deletions,
		Files:       files,
		Incremental: req.Trigger == TriggerSynchronize || req.Trigger == TriggerEdited,
		Truncated:   truncated,
	}

	rules := req.Policy.CustomRules
	if len(rules) > domain.MaxCustomRules {
		rules = rules[:domain.MaxCustomRules]
	}
	in.CustomRules = rules

	in.Guidelines = c.loadGuidelines(ctx, req.Forge, req.Repo, pr.BaseBranch)

	for _, sig := range c.feedbackSignals(req.Forge.Platform(), req.Repo, req.Number) {
		in.FeedbackSignals = append(in.FeedbackSignals, fmt.Sprintf("%s: %s", sig.Author, sig.Content))
	}

	if req.Policy.IncludeCIChecks && pr.HeadSHA != "" {
		checks, err := req.Forge.ListChecks(ctx, req.Repo, pr.HeadSHA)
		if err != nil {
			slog.Warn("ci checks fetch failed", "repo", req.Repo, "number", req.Number, "error", err)
		} else {
			in.CIChecks = checks
		}
	}
	return in
}

// guidelineCandidates are the process docs probed for prompt context.
var guidelineCandidates = []string{
	"CONTRIBUTING.md",
	"docs/CONTRIBUTING.md",
	".github/PULL_REQUEST_TEMPLATE.md",
	".gitlab/merge_request_templates/Default.md",
}

func (c *Core) loadGuidelines(ctx context.Context, fc forge.Client, repo, ref string) []domain.Guideline {
	key := repo + "@" + ref
	if cached, ok := c.guidelines.GetFresh(key, c.now()); ok {
		return cached
	}

	var out []domain.Guideline
	for _, path := range guidelineCandidates {
		content, err := fc.ReadFile(ctx, repo, ref, path)
		if err != nil || strings.TrimSpace(content) == "" {
			continue
		}
		if len(content) > domain.MaxGuidelineChars {
			content = content[:domain.MaxGuidelineChars]
		}
		out = append(out, domain.Guideline{Path: path, Content: content})
		if len(out) >= domain.MaxGuidelines {
			break
		}
	}

	c.guidelines.Set(key, out, c.now().Add(c.cfg.Cache.GuidelineTTL))
	c.guidelines.Prune(c.now())
	c.guidelines.Trim(500)
	return out
}

// feedbackSignals reads per-PR signals first, falling back to repo scope.
func (c *Core) feedbackSignals(platform domain.Platform, repo string, number int) []domain.FeedbackSignal {
	if sigs, ok := c.feedback.GetFresh(fmt.Sprintf("%s:%s#%d", platform, repo, number), c.now()); ok && len(sigs) > 0 {
		return sigs
	}
	if sigs, ok := c.feedback.GetFresh(fmt.Sprintf("%s:%s", platform, repo), c.now()); ok {
		return sigs
	}
	return nil
}

// RecordFeedback appends one feedback signal at both PR and repo scope.
func (c *Core) RecordFeedback(platform domain.Platform, repo string, number int, author, content string) {
	sig := domain.FeedbackSignal{Author: author, Content: content, At: c.now()}
	for _, key := range []string{
		fmt.Sprintf("%s:%s#%d", platform, repo, number),
		fmt.Sprintf("%s:%s", platform, repo),
	} {
		sigs, _ := c.feedback.GetFresh(key, c.now())
		sigs = append(sigs, sig)
		if len(sigs) > domain.MaxFeedbackSignals {
			sigs = sigs[len(sigs)-domain.MaxFeedbackSignals:]
		}
		c.feedback.Set(key, sigs, c.now().Add(c.cfg.Cache.FeedbackTTL))
	}
	c.feedback.Prune(c.now())
	c.feedback.Trim(2000)
}

// publish writes the review outcome back to the forge: line comments or a
// managed report, the secret warning, and auto-labels.
func (c *Core) publish(ctx context.Context, req Request, pr *forge.PullRequest, files []domain.DiffFile, result *domain.ReviewResult, truncated bool) {
	published, skipped := 0, 0

	if req.Mode == "comment" {
		byPath := map[string]*domain.DiffFile{}
		for i := range files {
			byPath[files[i].NewPath] = &files[i]
		}

		var comments []forge.LineComment
		for _, issue := range result.Reviews {
			f, ok := byPath[issue.NewPath]
			if !ok {
				skipped++
				continue
			}
			line, ok := patch.ResolveLine(f, issue)
			if !ok {
				skipped++
				continue
			}
			comments = append(comments, forge.LineComment{
				Path:    issue.NewPath,
				OldPath: issue.OldPath,
				Side:    issue.Side,
				Line:    line,
				Body:    renderLineComment(issue),
			})
		}

		pub, skip, err := req.Forge.CreateLineComments(ctx, req.Repo, pr, comments)
		if err != nil {
			slog.Warn("line comment fanout failed", "repo", req.Repo, "number", req.Number, "error", err)
		}
		published, skipped = pub, skipped+skip

		body := renderSummary(c.locale, result, published, skipped, truncated)
		if err := req.Forge.UpsertComment(ctx, req.Repo, req.Number, forge.Marker(MarkerSummary, ""), body); err != nil {
			metrics.PublishFailures.WithLabelValues("report").Inc()
			slog.Warn("summary upsert failed", "repo", req.Repo, "number", req.Number, "error", err)
		}
	} else {
		body := renderReport(c.locale, result, truncated)
		if err := req.Forge.UpsertComment(ctx, req.Repo, req.Number, forge.Marker(MarkerReport, ""), body); err != nil {
			metrics.PublishFailures.WithLabelValues("report").Inc()
			slog.Warn("report upsert failed", "repo", req.Repo, "number", req.Number, "error", err)
		}
	}

	secretCount := 0
	if req.Policy.SecretScanEnabled {
		scanner := secrets.NewScanner(req.Policy.SecretScanCustomPatterns)
		findings := scanner.Scan(files)
		secretCount = len(findings)
		if secretCount > 0 {
			body := renderSecretWarning(c.locale, findings)
			if err := req.Forge.UpsertComment(ctx, req.Repo, req.Number, forge.Marker(MarkerSecretWarning, ""), body); err != nil {
				metrics.PublishFailures.WithLabelValues("secret_warning").Inc()
				slog.Warn("secret warning upsert failed", "repo", req.Repo, "number", req.Number, "error", err)
			}
		}
	}

	if req.Policy.AutoLabelEnabled {
		labels := deriveLabels(pr.Title, files, secretCount, result.RiskLevel)
		if err := req.Forge.AddLabels(ctx, req.Repo, req.Number, labels); err != nil {
			metrics.PublishFailures.WithLabelValues("label").Inc()
			slog.Warn("label add failed", "repo", req.Repo, "number", req.Number, "error", err)
		}
	}
}

// rememberHead records the reviewed head SHA; only successful or empty runs
// move the incremental baseline.
func (c *Core) rememberHead(req Request, pr *forge.PullRequest) {
	if pr.HeadSHA == "" {
		return
	}
	c.heads.Set(headKey(req.Forge.Platform(), req.Repo, req.Number), pr.HeadSHA, c.now().Add(c.cfg.Cache.HeadTTL))
	c.heads.Prune(c.now())
	c.heads.Trim(2000)
}

// fail releases the dedupe reservation, publishes a sanitised error comment,
// and fans out a failure notification.
func (c *Core) fail(ctx context.Context, req Request, key string, err error) Result {
	metrics.ReviewsTotal.WithLabelValues("failed").Inc()
	slog.Error("review failed", "repo", req.Repo, "number", req.Number, "trigger", req.Trigger, "error", err)

	c.dedupe.Clear(key)

	msg := SanitizeError(c.locale, err)
	body := i18n.T(c.locale, i18n.KeyReviewFailed, msg)
	if cerr := req.Forge.UpsertComment(ctx, req.Repo, req.Number, forge.Marker(MarkerError, ""), body); cerr != nil {
		slog.Warn("error comment failed", "repo", req.Repo, "number", req.Number, "error", cerr)
	}

	c.notifier.Publish(ctx, req.PushURL, notify.Message{
		Repo:    req.Repo,
		Content: fmt.Sprintf("Review of %s#%d failed: %s", req.Repo, req.Number, msg),
	})
	return Result{OK: false, Message: msg}
}

// comment posts a plain note, logging failures.
func (c *Core) comment(ctx context.Context, req Request, body string) {
	if err := req.Forge.CreateComment(ctx, req.Repo, req.Number, body); err != nil {
		slog.Warn("comment failed", "repo", req.Repo, "number", req.Number, "error", err)
	}
}
