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

// HandleGitLab is the POST /webhook/gitlab sink.
func (h *Handler) HandleGitLab(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.GitLab.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("gitlab body read failed", "error", err)
		metrics.WebhookRequests.WithLabelValues("gitlab", "oversized").Inc()
		http.Error(w, "Request body too large or unreadable", http.StatusBadRequest)
		return
	}

	token := r.Header.Get("X-Gitlab-Token")
	if h.cfg.GitLab.WebhookSecret != "" {
		if !VerifyToken(h.cfg.GitLab.WebhookSecret, token) {
			slog.Warn("gitlab token rejected")
			metrics.WebhookRequests.WithLabelValues("gitlab", "invalid_signature").Inc()
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
	} else if h.cfg.GitLab.RequireSecret {
		metrics.WebhookRequests.WithLabelValues("gitlab", "invalid_signature").Inc()
		http.Error(w, "Webhook secret required but not configured", http.StatusUnauthorized)
		return
	} else {
		slog.Warn("gitlab webhook secret not configured; accepting unauthenticated event")
	}

	event := r.Header.Get("X-Gitlab-Event")
	slog.Debug("gitlab event received", "event", event)

	if h.replay != nil {
		if err := h.replay.Append("gitlab", event, r.Header, body); err != nil {
			slog.Warn("replay append failed", "error", err)
		}
	}

	doc := gjson.ParseBytes(body)
	aiMode := r.Header.Get("X-AI-Mode")
	pushURL := r.Header.Get("X-Push-Url")

	var dispatchErr error
	switch event {
	case "Merge Request Hook":
		dispatchErr = h.gitlabMergeRequest(doc, aiMode, pushURL)
	case "Note Hook":
		dispatchErr = h.gitlabNote(doc, aiMode, pushURL)
	case "Issue Hook":
		dispatchErr = h.gitlabIssue(doc)
	default:
		metrics.WebhookRequests.WithLabelValues("gitlab", "ignored").Inc()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ignored"))
		return
	}

	if dispatchErr != nil {
		metrics.WebhookRequests.WithLabelValues("gitlab", "invalid_schema").Inc()
		http.Error(w, dispatchErr.Error(), http.StatusBadRequest)
		return
	}

	metrics.WebhookRequests.WithLabelValues("gitlab", "accepted").Inc()
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("accepted"))
}

func (h *Handler) gitlabMergeRequest(doc gjson.Result, aiMode, pushURL string) error {
	if err := validate(doc, []fieldCheck{
		{"project.path_with_namespace", kindString},
		{"object_attributes.iid", kindInt},
		{"object_attributes.action", kindString},
	}); err != nil {
		return err
	}

	repo := doc.Get("project.path_with_namespace").String()
	number := int(doc.Get("object_attributes.iid").Int())
	action := doc.Get("object_attributes.action").String()
	targetBranch := doc.Get("object_attributes.target_branch").String()
	title := doc.Get("object_attributes.title").String()
	description := doc.Get("object_attributes.description").String()
	// An update carrying oldrev means new commits were pushed.
	hasNewCommits := doc.Get("object_attributes.oldrev").Exists()

	h.async(func() {
		ctx := context.Background()
		pol := h.core.Policy().Resolve(ctx, h.gitlab, repo, targetBranch)

		switch action {
		case "open", "update":
			policyAction := "opened"
			trigger := review.TriggerOpened
			if action == "update" {
				if hasNewCommits {
					policyAction = "synchronize"
					trigger = review.TriggerSynchronize
				} else {
					policyAction = "edited"
					trigger = review.TriggerEdited
				}
			}
			if policyAction != "synchronize" {
				h.core.PolicyRemind(ctx, h.gitlab, repo, number, title, description, pol.ResolvePRSection())
			}
			auto := pol.ResolveAutoReview(policyAction)
			if !auto.Enabled {
				return
			}
			h.core.Review(ctx, review.Request{
				Forge:   h.gitlab,
				Repo:    repo,
				Number:  number,
				Trigger: trigger,
				Mode:    pickMode(aiMode, auto.Mode),
				PushURL: pushURL,
				Policy:  auto,
			})
		case "merge":
			auto := pol.ResolveAutoReview("opened")
			auto.Mode = "report"
			h.core.Review(ctx, review.Request{
				Forge:   h.gitlab,
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

func (h *Handler) gitlabNote(doc gjson.Result, aiMode, pushURL string) error {
	if err := validate(doc, []fieldCheck{
		{"project.path_with_namespace", kindString},
		{"object_attributes.note", kindString},
		{"user.username", kindString},
	}); err != nil {
		return err
	}

	if doc.Get("object_attributes.noteable_type").String() != "MergeRequest" {
		return nil
	}
	if !doc.Get("merge_request.iid").Exists() || doc.Get("merge_request.iid").Int() <= 0 {
		return nil
	}

	ev := command.CommentEvent{
		Forge:   h.gitlab,
		Repo:    doc.Get("project.path_with_namespace").String(),
		Number:  int(doc.Get("merge_request.iid").Int()),
		Author:  doc.Get("user.username").String(),
		Body:    doc.Get("object_attributes.note").String(),
		PushURL: pushURL,
		AIMode:  aiMode,
	}

	h.async(func() {
		if _, handled := h.router.Handle(context.Background(), ev); !handled {
			slog.Debug("note carried no command", "repo", ev.Repo, "number", ev.Number)
		}
	})
	return nil
}

func (h *Handler) gitlabIssue(doc gjson.Result) error {
	if err := validate(doc, []fieldCheck{
		{"project.path_with_namespace", kindString},
		{"object_attributes.iid", kindInt},
		{"object_attributes.action", kindString},
	}); err != nil {
		return err
	}

	action := doc.Get("object_attributes.action").String()
	if action != "open" && action != "update" {
		return nil
	}
	repo := doc.Get("project.path_with_namespace").String()
	number := int(doc.Get("object_attributes.iid").Int())
	title := doc.Get("object_attributes.title").String()
	description := doc.Get("object_attributes.description").String()

	h.async(func() {
		ctx := context.Background()
		pol := h.core.Policy().Resolve(ctx, h.gitlab, repo, "HEAD")
		h.core.PolicyRemind(ctx, h.gitlab, repo, number, title, description, pol.ResolveIssueSection())
	})
	return nil
}
