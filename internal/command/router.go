// Package command parses slash commands out of comment events and routes
// them to the review orchestrations behind rate-limit and policy gates.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"mr-agent/internal/config"
	"mr-agent/internal/domain"
	"mr-agent/internal/forge"
	"mr-agent/internal/i18n"
	"mr-agent/internal/metrics"
	"mr-agent/internal/policy"
	"mr-agent/internal/review"
	"mr-agent/internal/state"
)

// Command names in their fixed parse order. /ai-review is last because its
// prefix collides with nothing and users often append arguments.
var parseOrder = []string{
	"/feedback",
	"/describe",
	"/ask",
	"/checks",
	"/generate_tests",
	"/changelog",
	"/similar_issue",
	"/ai-review",
}

// gitlabBotPatterns match the service-account naming GitLab uses.
var gitlabBotPatterns = []*regexp.Regexp{
	regexp.MustCompile(`-bot$`),
	regexp.MustCompile(`^project_\d+_bot`),
	regexp.MustCompile(`gitlab[-_]ci[-_]bot`),
}

// CommentEvent is one comment on a pull/merge request.
type CommentEvent struct {
	Forge      forge.Client
	Repo       string
	Number     int
	Author     string
	AuthorType string // forge A: "Bot" or "User"
	Body       string
	PushURL    string
	AIMode     string // X-AI-Mode override: comment, report
}

// Router gates and dispatches slash commands.
type Router struct {
	cfg     *config.Config
	core    *review.Core
	limiter *state.RateLimiter
	locale  i18n.Locale

	rateLimitMax    int
	rateLimitWindow time.Duration
}

// New creates a Router sharing the runtime-state store with the dedupe gate.
func New(cfg *config.Config, core *review.Core, store *state.Store) *Router {
	return &Router{
		cfg:             cfg,
		core:            core,
		limiter:         state.NewRateLimiter(store),
		locale:          core.Locale(),
		rateLimitMax:    cfg.Commands.RateLimitMax,
		rateLimitWindow: cfg.Commands.RateLimitWindow,
	}
}

// IsBot reports whether the commenter is a service account.
func IsBot(platform domain.Platform, author, authorType string) bool {
	if strings.EqualFold(authorType, "Bot") {
		return true
	}
	lower := strings.ToLower(author)
	if strings.HasSuffix(lower, "[bot]") {
		return true
	}
	if platform == domain.PlatformGitLab {
		for _, re := range gitlabBotPatterns {
			if re.MatchString(lower) {
				return true
			}
		}
	}
	return false
}

// Handle parses the comment and runs the first matching command. Returns
// false when the comment carries no command.
func (r *Router) Handle(ctx context.Context, ev CommentEvent) (review.Result, bool) {
	if IsBot(ev.Forge.Platform(), ev.Author, ev.AuthorType) {
		return review.Result{OK: true, Message: "bot comment ignored"}, false
	}

	name, arg, ok := parse(ev.Body)
	if !ok {
		return review.Result{OK: true, Message: "no command"}, false
	}

	limitKey := state.CanonicalKey(string(ev.Forge.Platform()), ev.Repo, fmt.Sprintf("%d", ev.Number), ev.Author, name)
	if r.limiter.IsLimited(limitKey, r.rateLimitMax, r.rateLimitWindow) {
		metrics.RateLimitHits.WithLabelValues(name).Inc()
		r.note(ctx, ev, i18n.T(r.locale, i18n.KeyTooFrequent))
		return review.Result{OK: true, Message: "rate limited"}, true
	}

	pol := r.core.Policy().Resolve(ctx, ev.Forge, ev.Repo, "HEAD")
	behavior := pol.ResolveReviewBehavior()

	if !r.enabled(name, behavior) {
		r.note(ctx, ev, i18n.T(r.locale, i18n.KeyCommandDisabled, name))
		return review.Result{OK: true, Message: "command disabled"}, true
	}

	slog.Info("command accepted", "command", name, "repo", ev.Repo, "number", ev.Number, "author", ev.Author)
	return r.dispatch(ctx, ev, pol, behavior, name, arg), true
}

// parse finds the first command in fixed order anywhere in the body and
// returns its same-line argument.
func parse(body string) (name, arg string, ok bool) {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, cmd := range parseOrder {
			if trimmed == cmd || strings.HasPrefix(trimmed, cmd+" ") {
				return cmd, strings.TrimSpace(strings.TrimPrefix(trimmed, cmd)), true
			}
		}
	}
	return "", "", false
}

func (r *Router) enabled(name string, b policy.ReviewBehavior) bool {
	switch name {
	case "/feedback":
		return b.FeedbackCommandEnabled
	case "/describe":
		return b.DescribeCommandEnabled
	case "/ask":
		return b.AskCommandEnabled
	case "/checks":
		return b.ChecksCommandEnabled
	case "/generate_tests":
		return b.GenerateTestsCommandEnabled
	case "/changelog":
		return b.ChangelogCommandEnabled
	case "/similar_issue":
		return b.SimilarIssueCommandEnabled
	case "/ai-review":
		return b.ReviewCommandEnabled
	}
	return false
}

func (r *Router) dispatch(ctx context.Context, ev CommentEvent, pol *policy.Config, behavior policy.ReviewBehavior, name, arg string) review.Result {
	req := review.Request{
		Forge:            ev.Forge,
		Repo:             ev.Repo,
		Number:           ev.Number,
		Trigger:          review.TriggerCommand,
		Mode:             r.mode(ev, pol),
		PushURL:          ev.PushURL,
		Policy:           pol.ResolveAutoReview("opened"),
		CommandTriggered: true,
	}
	req.Suffix = strings.TrimPrefix(name, "/")

	switch name {
	case "/feedback":
		return r.core.Feedback(ctx, req, ev.Author, arg)
	case "/describe":
		return r.core.Describe(ctx, req, behavior.DescribeAllowApply && arg == "apply")
	case "/ask":
		return r.core.Ask(ctx, req, arg)
	case "/checks":
		return r.core.Checks(ctx, req)
	case "/generate_tests":
		return r.core.GenerateTests(ctx, req)
	case "/changelog":
		return r.core.Changelog(ctx, req, behavior.ChangelogAllowApply && arg == "apply")
	case "/similar_issue":
		return r.core.SimilarIssue(ctx, req)
	case "/ai-review":
		return r.core.Review(ctx, req)
	}
	return review.Result{OK: false, Message: "unknown command"}
}

// mode picks the review mode: the X-AI-Mode header wins, then policy.
func (r *Router) mode(ev CommentEvent, pol *policy.Config) string {
	switch ev.AIMode {
	case "comment", "report":
		return ev.AIMode
	}
	return pol.ResolveAutoReview("opened").Mode
}

func (r *Router) note(ctx context.Context, ev CommentEvent, body string) {
	if err := ev.Forge.CreateComment(ctx, ev.Repo, ev.Number, body); err != nil {
		slog.Warn("command note failed", "repo", ev.Repo, "number", ev.Number, "error", err)
	}
}
