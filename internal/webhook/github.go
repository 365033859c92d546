package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"

	"mr-agent/internal/command"
	"mr-agent/internal/metrics"
	"mr-agent/internal/review"
)

// HandleGitHub is the POST /webhook/github sink.
func (h *Handler) HandleGitHub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.GitHub.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("github body read failed", "error", err)
		metrics.WebhookRequests.WithLabelValues("github", "oversized").Inc()
		http.Error(w, "Request body too large or unreadable", http.StatusBadRequest)
		return
	}

	if !h.cfg.GitHub.SkipSignature {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !VerifyGitHubSignature(h.cfg.GitHub.WebhookSecret, body, sig) {
			slog.Warn("github signature rejected", "delivery", r.Header.Get("X-GitHub-Delivery"))
			metrics.WebhookRequests.WithLabelValues("github", "invalid_signature").Inc()
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
	}

	event := r.Header.Get("X-GitHub-Event")
	delivery := r.Header.Get("X-GitHub-Delivery")
	slog.Debug("github event received", "event", event, "delivery", delivery)

	if h.replay != nil {
		if err := h.replay.Append("github", event, r.Header, body); err != nil {
			slog.Warn("replay append failed", "error", err)
		}
	}

	if event == "ping" {
		metrics.WebhookRequests.WithLabelValues("github", "accepted").Inc()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
		return
	}

	doc := gjson.ParseBytes(body)
	aiMode := r.Header.Get("X-AI-Mode")
	pushURL := r.Header.Get("X-Push-Url")

	var dispatchErr error
	switch event {
	case "pull_request":
		dispatchErr = h.githubPullRequest(doc, aiMode, pushURL)
	case "issues":
		dispatchErr = h.githubIssue(doc)
	case "issue_comment":
		dispatchErr = h.githubComment(doc, aiMode, pushURL)
	case "pull_request_review_thread":
		dispatchErr = h.githubReviewThread(doc)
	default:
		metrics.WebhookRequests.WithLabelValues("github", "ignored").Inc()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ignored"))
		return
	}

	if dispatchErr != nil {
		metrics.WebhookRequests.WithLabelValues("github", "invalid_schema").Inc()
		http.Error(w, dispatchErr.Error(), http.StatusBadRequest)
		return
	}

	metrics.WebhookRequests.WithLabelValues("github", "accepted").Inc()
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("accepted"))
}

func (h *Handler) githubPullRequest(doc gjson.Result, aiMode, pushURL string) error {
	if err := validate(doc, []fieldCheck{
		{"action", kindString},
		{"repository.full_name", kindString},
		{"pull_request.number", kindInt},
		{"pull_request.base.ref", kindString},
	}); err != nil {
		return err
	}

	action := doc.Get("action").String()
	repo := doc.Get("repository.full_name").String()
	number := int(doc.Get("pull_request.number").Int())
	baseRef := doc.Get("pull_request.base.ref").String()
	title := doc.Get("pull_request.title").String()
	prBody := doc.Get("pull_request.body").String()
	merged := doc.Get("pull_request.merged").Bool()

	h.async(func() {
		ctx := context.Background()
		pol := h.core.Policy().Resolve(ctx, h.github, repo, baseRef)

		switch action {
		case "opened", "edited", "synchronize":
			if action != "synchronize" {
				h.core.PolicyRemind(ctx, h.github, repo, number, title, prBody, pol.ResolvePRSection())
			}
			auto := pol.ResolveAutoReview(action)
			if !auto.Enabled {
				return
			}
			h.core.Review(ctx, review.Request{
				Forge:   h.github,
				Repo:    repo,
				Number:  number,
				Trigger: "pr-" + action,
				Mode:    pickMode(aiMode, auto.Mode),
				PushURL: pushURL,
				Policy:  auto,
			})
		case "closed":
			if !merged {
				return
			}
			auto := pol.ResolveAutoReview("opened")
			auto.Mode = "report"
			h.core.Review(ctx, review.Request{
				Forge:   h.github,
				Repo:    repo,
				Number:  number,
				Trigger: review.TriggerMerged,
				Mode:    "report",
				Suffix:  "merged-report",
				PushURL: pushURL,
				Policy:  auto,
			})
		}
	})
	return nil
}

func (h *Handler) githubIssue(doc gjson.Result) error {
	if err := validate(doc, []fieldCheck{
		{"action", kindString},
		{"repository.full_name", kindString},
		{"issue.number", kindInt},
	}); err != nil {
		return err
	}

	action := doc.Get("action").String()
	if action != "opened" && action != "edited" {
		return nil
	}
	repo := doc.Get("repository.full_name").String()
	number := int(doc.Get("issue.number").Int())
	title := doc.Get("issue.title").String()
	body := doc.Get("issue.body").String()

	h.async(func() {
		ctx := context.Background()
		pol := h.core.Policy().Resolve(ctx, h.github, repo, "HEAD")
		h.core.PolicyRemind(ctx, h.github, repo, number, title, body, pol.ResolveIssueSection())
	})
	return nil
}

func (h *Handler) githubComment(doc gjson.Result, aiMode, pushURL string) error {
	if err := validate(doc, []fieldCheck{
		{"action", kindString},
		{"repository.full_name", kindString},
		{"issue.number", kindInt},
		{"comment.body", kindString},
		{"comment.user.login", kindString},
	}); err != nil {
		return err
	}

	if doc.Get("action").String() != "created" {
		return nil
	}
	// Only comments on pull requests carry commands.
	if !doc.Get("issue.pull_request").Exists() {
		return nil
	}

	ev := command.CommentEvent{
		Forge:      h.github,
		Repo:       doc.Get("repository.full_name").String(),
		Number:     int(doc.Get("issue.number").Int()),
		Author:     doc.Get("comment.user.login").String(),
		AuthorType: doc.Get("comment.user.type").String(),
		Body:       doc.Get("comment.body").String(),
		PushURL:    pushURL,
		AIMode:     aiMode,
	}

	h.async(func() {
		if _, handled := h.router.Handle(context.Background(), ev); !handled {
			slog.Debug("comment carried no command", "repo", ev.Repo, "number", ev.Number)
		}
	})
	return nil
}

func (h *Handler) githubReviewThread(doc gjson.Result) error {
	if err := validate(doc, []fieldCheck{
		{"action", kindString},
		{"repository.full_name", kindString},
		{"pull_request.number", kindInt},
	}); err != nil {
		return err
	}

	action := doc.Get("action").String()
	if action != "resolved" && action != "unresolved" {
		return nil
	}
	repo := doc.Get("repository.full_name").String()
	number := int(doc.Get("pull_request.number").Int())
	author := doc.Get("sender.login").String()

	h.async(func() {
		h.core.RecordFeedback(h.github.Platform(), repo, number, author, "review thread "+action)
	})
	return nil
}

func pickMode(header, policyMode string) string {
	switch header {
	case "comment", "report":
		return header
	}
	if policyMode == "" {
		return "comment"
	}
	return policyMode
}
