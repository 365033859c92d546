// Package github implements the forge surface against the GitHub REST v3 API.
package github

import (
	"container/list"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"

	"mr-agent/internal/config"
	"mr-agent/internal/domain"
	"mr-agent/internal/forge"
	"mr-agent/internal/httpx"
	"mr-agent/internal/metrics"
	"mr-agent/internal/patch"
)

const (
	perPage           = 100
	maxFilePages      = 20
	maxUpsertPages    = 5
	lineCommentFanout = 4
	truncMemoCap      = 500
)

// Client talks to the GitHub REST API.
type Client struct {
	http   *httpx.Client
	apiURL string
	token  string
	opts   httpx.Options

	// truncMemo remembers (repo, pr, perPage) listings that hit the
	// pagination wall so the warning can be surfaced later.
	truncMu   sync.Mutex
	truncMemo map[string]*list.Element
	truncLRU  *list.List
}

// New creates a GitHub client using the shared retrying HTTP client.
func New(hc *httpx.Client, cfg *config.Config) *Client {
	return &Client{
		http:   hc,
		apiURL: cfg.GitHub.APIURL,
		token:  cfg.GitHub.Token,
		opts: httpx.Options{
			Timeout: cfg.AI.HTTPTimeout,
			Retries: cfg.AI.HTTPRetries,
			Backoff: cfg.AI.RetryBackoff,
		},
		truncMemo: make(map[string]*list.Element),
		truncLRU:  list.New(),
	}
}

func (c *Client) Platform() domain.Platform { return domain.PlatformGitHub }

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/vnd.github+json")
	h.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// call runs one API request and fails on non-2xx.
func (c *Client) call(ctx context.Context, method, path string, body []byte) (*httpx.Response, error) {
	res, err := c.http.Do(ctx, httpx.Request{
		Method: method,
		URL:    c.apiURL + path,
		Header: c.headers(),
		Body:   body,
	}, c.opts)
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		return res, fmt.Errorf("github %s %s: status %d", method, path, res.StatusCode)
	}
	return res, nil
}

// GetPullRequest fetches PR metadata.
func (c *Client) GetPullRequest(ctx context.Context, repo string, number int) (*forge.PullRequest, error) {
	res, err := c.call(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/pulls/%d", repo, number), nil)
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(res.Body)

	pr := &forge.PullRequest{
		Number:     int(doc.Get("number").Int()),
		Title:      doc.Get("title").String(),
		Body:       doc.Get("body").String(),
		Author:     doc.Get("user.login").String(),
		BaseBranch: doc.Get("base.ref").String(),
		HeadBranch: doc.Get("head.ref").String(),
		BaseSHA:    doc.Get("base.sha").String(),
		HeadSHA:    doc.Get("head.sha").String(),
		Draft:      doc.Get("draft").Bool(),
		Merged:     doc.Get("merged").Bool(),
		Additions:  int(doc.Get("additions").Int()),
		Deletions:  int(doc.Get("deletions").Int()),
	}
	for _, l := range doc.Get("labels.#.name").Array() {
		pr.Labels = append(pr.Labels, l.String())
	}
	return pr, nil
}

// UpdateDescription replaces the PR body.
func (c *Client) UpdateDescription(ctx context.Context, repo string, number int, body string) error {
	payload, _ := sjson.Set("", "body", body)
	_, err := c.call(ctx, http.MethodPatch, fmt.Sprintf("/repos/%s/pulls/%d", repo, number), []byte(payload))
	return err
}

// SearchIssues looks up issues in the repository matching the query.
func (c *Client) SearchIssues(ctx context.Context, repo, query string) ([]forge.IssueRef, error) {
	path := fmt.Sprintf("/search/issues?q=%s&per_page=10", url.QueryEscape(fmt.Sprintf("repo:%s is:issue %s", repo, query)))
	res, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var refs []forge.IssueRef
	for _, item := range gjson.GetBytes(res.Body, "items").Array() {
		refs = append(refs, forge.IssueRef{
			Number: int(item.Get("number").Int()),
			Title:  item.Get("title").String(),
			State:  item.Get("state").String(),
			URL:    item.Get("html_url").String(),
		})
	}
	return refs, nil
}

// ListFiles pages through the PR file listing, up to 20 full pages. A full
// final page marks the result truncated and memoises the fact.
func (c *Client) ListFiles(ctx context.Context, repo string, number int) (*forge.ListFilesResult, error) {
	out := &forge.ListFilesResult{}
	for page := 1; page <= maxFilePages; page++ {
		path := fmt.Sprintf("/repos/%s/pulls/%d/files?per_page=%d&page=%d", repo, number, perPage, page)
		res, err := c.call(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		files := gjson.ParseBytes(res.Body).Array()
		for _, f := range files {
			out.Files = append(out.Files, decodeFile(f))
		}
		if len(files) < perPage {
			return out, nil
		}
		if page == maxFilePages {
			out.Truncated = true
			c.rememberTruncated(repo, number)
		}
	}
	return out, nil
}

// CompareDiff fetches the file delta between two SHAs.
func (c *Client) CompareDiff(ctx context.Context, repo, base, head string) ([]domain.DiffFile, error) {
	path := fmt.Sprintf("/repos/%s/compare/%s...%s", repo, base, head)
	res, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var files []domain.DiffFile
	for _, f := range gjson.GetBytes(res.Body, "files").Array() {
		files = append(files, decodeFile(f))
	}
	return files, nil
}

func decodeFile(f gjson.Result) domain.DiffFile {
	raw := f.Get("patch").String()
	parsed := patch.Parse(raw)
	return domain.DiffFile{
		NewPath:      domain.NormalizePath(f.Get("filename").String()),
		OldPath:      domain.NormalizePath(f.Get("previous_filename").String()),
		Status:       mapStatus(f.Get("status").String()),
		Additions:    int(f.Get("additions").Int()),
		Deletions:    int(f.Get("deletions").Int()),
		Patch:        raw,
		ExtendedDiff: parsed.ExtendedDiff,
		OldLines:     parsed.OldLines,
		NewLines:     parsed.NewLines,
	}
}

func mapStatus(s string) domain.FileStatus {
	switch s {
	case "added", "copied":
		return domain.FileAdded
	case "removed":
		return domain.FileRemoved
	case "renamed":
		return domain.FileRenamed
	default:
		return domain.FileModified
	}
}

// ReadFile fetches file content at a ref, decoding the base64 body GitHub
// returns (embedded newlines stripped).
func (c *Client) ReadFile(ctx context.Context, repo, ref, path string) (string, error) {
	url := fmt.Sprintf("/repos/%s/contents/%s?ref=%s", repo, path, ref)
	res, err := c.call(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	return decodeContent(res.Body)
}

func decodeContent(body []byte) (string, error) {
	doc := gjson.ParseBytes(body)
	content := doc.Get("content").String()
	if doc.Get("encoding").String() == "base64" {
		raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
		if err != nil {
			return "", fmt.Errorf("decode file content: %w", err)
		}
		return string(raw), nil
	}
	return content, nil
}

// WriteFile creates or updates a file on a branch via the contents API.
func (c *Client) WriteFile(ctx context.Context, repo, branch, path, content, message string) error {
	url := fmt.Sprintf("/repos/%s/contents/%s", repo, path)

	payload, _ := sjson.Set("", "message", message)
	payload, _ = sjson.Set(payload, "content", base64.StdEncoding.EncodeToString([]byte(content)))
	payload, _ = sjson.Set(payload, "branch", branch)

	// Updating an existing file requires its blob SHA.
	if res, err := c.call(ctx, http.MethodGet, url+"?ref="+branch, nil); err == nil {
		if sha := gjson.GetBytes(res.Body, "sha").String(); sha != "" {
			payload, _ = sjson.Set(payload, "sha", sha)
		}
	}

	_, err := c.call(ctx, http.MethodPut, url, []byte(payload))
	return err
}

// CreateComment posts a plain issue comment.
func (c *Client) CreateComment(ctx context.Context, repo string, number int, body string) error {
	payload, _ := sjson.Set("", "body", body)
	_, err := c.call(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/issues/%d/comments", repo, number), []byte(payload))
	return err
}

// UpsertComment scans a bounded number of comment pages for the marker and
// updates in place, creating only when no managed comment exists.
func (c *Client) UpsertComment(ctx context.Context, repo string, number int, marker, body string) error {
	full := forge.WithMarker(body, marker)

	for page := 1; page <= maxUpsertPages; page++ {
		path := fmt.Sprintf("/repos/%s/issues/%d/comments?per_page=%d&page=%d", repo, number, perPage, page)
		res, err := c.call(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		comments := gjson.ParseBytes(res.Body).Array()
		for _, cm := range comments {
			if forge.HasMarker(cm.Get("body").String(), marker) {
				payload, _ := sjson.Set("", "body", full)
				_, err := c.call(ctx, http.MethodPatch,
					fmt.Sprintf("/repos/%s/issues/comments/%d", repo, cm.Get("id").Int()), []byte(payload))
				return err
			}
		}
		if len(comments) < perPage {
			break
		}
	}
	return c.CreateComment(ctx, repo, number, full)
}

// CreateLineComments publishes review comments in a bounded fanout. A 422
// means the line is not commentable on the current diff; it is counted as
// skipped, not failed.
func (c *Client) CreateLineComments(ctx context.Context, repo string, pr *forge.PullRequest, comments []forge.LineComment) (int, int, error) {
	var mu sync.Mutex
	published, skipped := 0, 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lineCommentFanout)

	for _, cm := range comments {
		g.Go(func() error {
			side := "RIGHT"
			path := cm.Path
			if cm.Side == domain.SideOld {
				side = "LEFT"
				if cm.OldPath != "" {
					path = cm.OldPath
				}
			}

			payload, _ := sjson.Set("", "body", cm.Body)
			payload, _ = sjson.Set(payload, "commit_id", pr.HeadSHA)
			payload, _ = sjson.Set(payload, "path", path)
			payload, _ = sjson.Set(payload, "side", side)
			payload, _ = sjson.Set(payload, "line", cm.Line)

			res, err := c.http.Do(gctx, httpx.Request{
				Method: http.MethodPost,
				URL:    fmt.Sprintf("%s/repos/%s/pulls/%d/comments", c.apiURL, repo, pr.Number),
				Header: c.headers(),
				Body:   []byte(payload),
			}, c.opts)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case res.IsSuccess():
				published++
			case res.StatusCode == http.StatusUnprocessableEntity:
				skipped++
				slog.Debug("line comment rejected", "repo", repo, "pr", pr.Number, "path", path, "line", cm.Line)
			default:
				metrics.PublishFailures.WithLabelValues("line_comment").Inc()
				skipped++
				slog.Warn("line comment failed", "repo", repo, "pr", pr.Number, "status", res.StatusCode)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return published, skipped, err
	}
	return published, skipped, nil
}

// ListChecks fetches check runs for a commit.
func (c *Client) ListChecks(ctx context.Context, repo, ref string) ([]domain.CICheck, error) {
	path := fmt.Sprintf("/repos/%s/commits/%s/check-runs?per_page=%d", repo, ref, perPage)
	res, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var checks []domain.CICheck
	for _, run := range gjson.GetBytes(res.Body, "check_runs").Array() {
		checks = append(checks, domain.CICheck{
			Name:       run.Get("name").String(),
			Status:     run.Get("status").String(),
			Conclusion: run.Get("conclusion").String(),
			DetailsURL: run.Get("details_url").String(),
			Summary:    run.Get("output.summary").String(),
		})
		if len(checks) >= domain.MaxCIChecks {
			break
		}
	}
	return checks, nil
}

// AddLabels attaches labels to the PR.
func (c *Client) AddLabels(ctx context.Context, repo string, number int, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string][]string{"labels": labels})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/issues/%d/labels", repo, number), body)
	return err
}

// WasTruncated reports whether a previous listing for this PR hit the
// pagination wall.
func (c *Client) WasTruncated(repo string, number int) bool {
	key := fmt.Sprintf("%s#%d@%d", repo, number, perPage)
	c.truncMu.Lock()
	defer c.truncMu.Unlock()
	if el, ok := c.truncMemo[key]; ok {
		c.truncLRU.MoveToFront(el)
		return true
	}
	return false
}

func (c *Client) rememberTruncated(repo string, number int) {
	key := fmt.Sprintf("%s#%d@%d", repo, number, perPage)
	c.truncMu.Lock()
	defer c.truncMu.Unlock()
	if el, ok := c.truncMemo[key]; ok {
		c.truncLRU.MoveToFront(el)
		return
	}
	c.truncMemo[key] = c.truncLRU.PushFront(key)
	for c.truncLRU.Len() > truncMemoCap {
		back := c.truncLRU.Back()
		c.truncLRU.Remove(back)
		delete(c.truncMemo, back.Value.(string))
	}
}
