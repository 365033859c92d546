// Package notify fans a markdown message out to a side-channel webhook in
// one of several wire formats. Delivery is best-effort: failures are logged
// and never propagated.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tidwall/sjson"

	"mr-agent/internal/httpx"
)

// Message is one notification fanned out after an orchestration.
type Message struct {
	Author       string
	Repo         string
	SourceBranch string
	TargetBranch string
	Content      string
}

// Notifier posts notifications to a configured webhook URL. A per-request
// push URL (X-Push-Url header) overrides the configured one.
type Notifier struct {
	http       *httpx.Client
	defaultURL string
	format     string
}

// New creates a Notifier. format is one of wecom, slack, discord, generic.
func New(hc *httpx.Client, defaultURL, format string) *Notifier {
	return &Notifier{http: hc, defaultURL: defaultURL, format: format}
}

// Publish sends the message to pushURL (or the configured default when
// empty). It never returns an error.
func (n *Notifier) Publish(ctx context.Context, pushURL string, msg Message) {
	url := pushURL
	if url == "" {
		url = n.defaultURL
	}
	if url == "" {
		return
	}

	body, err := n.encode(msg)
	if err != nil {
		slog.Warn("notification encode failed", "format", n.format, "error", err)
		return
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	res, err := n.http.Do(ctx, httpx.Request{
		Method: http.MethodPost,
		URL:    url,
		Header: header,
		Body:   body,
	}, httpx.Options{})
	if err != nil {
		slog.Warn("notification delivery failed", "format", n.format, "error", err)
		return
	}
	if !res.IsSuccess() {
		slog.Warn("notification rejected", "format", n.format, "status", res.StatusCode)
	}
}

func (n *Notifier) encode(msg Message) ([]byte, error) {
	text := fmt.Sprintf("%s\n\n> %s | %s -> %s | by %s",
		msg.Content, msg.Repo, msg.SourceBranch, msg.TargetBranch, msg.Author)

	var payload string
	var err error
	switch n.format {
	case "wecom":
		payload, err = sjson.Set("", "msgtype", "markdown")
		if err == nil {
			payload, err = sjson.Set(payload, "markdown.content", text)
		}
	case "slack":
		payload, err = sjson.Set("", "text", text)
	case "discord":
		payload, err = sjson.Set("", "content", text)
	default: // generic
		payload, err = sjson.Set("", "author", msg.Author)
		if err == nil {
			payload, err = sjson.Set(payload, "repo", msg.Repo)
		}
		if err == nil {
			payload, err = sjson.Set(payload, "source_branch", msg.SourceBranch)
		}
		if err == nil {
			payload, err = sjson.Set(payload, "target_branch", msg.TargetBranch)
		}
		if err == nil {
			payload, err = sjson.Set(payload, "content", msg.Content)
		}
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}
