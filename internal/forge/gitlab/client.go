// Package gitlab implements the forge surface against the GitLab REST v4 API.
package gitlab

import (
	"context"
	"encoding/base64"
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
	perPage        = 100
	maxUpsertPages = 5
	noteFanout     = 4
)

// Client talks to the GitLab REST API. The repo identity is the full project
// path (group/project), URL-encoded into project ids.
type Client struct {
	http    *httpx.Client
	baseURL string
	token   string
	opts    httpx.Options
}

// New creates a GitLab client. The base URL must be HTTPS unless explicitly
// allowed; config validation enforces that before this runs.
func New(hc *httpx.Client, cfg *config.Config) *Client {
	return &Client{
		http:    hc,
		baseURL: cfg.GitLab.BaseURL + "/api/v4",
		token:   cfg.GitLab.Token,
		opts: httpx.Options{
			Timeout: cfg.AI.HTTPTimeout,
			Retries: cfg.AI.HTTPRetries,
			Backoff: cfg.AI.RetryBackoff,
		},
	}
}

func (c *Client) Platform() domain.Platform { return domain.PlatformGitLab }

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if c.token != "" {
		h.Set("PRIVATE-TOKEN", c.token)
	}
	return h
}

func (c *Client) call(ctx context.Context, method, path string, body []byte) (*httpx.Response, error) {
	res, err := c.http.Do(ctx, httpx.Request{
		Method: method,
		URL:    c.baseURL + path,
		Header: c.headers(),
		Body:   body,
	}, c.opts)
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		return res, fmt.Errorf("gitlab %s %s: status %d", method, path, res.StatusCode)
	}
	return res, nil
}

// GetPullRequest fetches merge request metadata, including the diff refs
// line comments need.
func (c *Client) GetPullRequest(ctx context.Context, repo string, number int) (*forge.PullRequest, error) {
	path := fmt.Sprintf("/projects/%s/merge_requests/%d", domain.EncodeProjectPath(repo), number)
	res, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(res.Body)

	pr := &forge.PullRequest{
		Number:     int(doc.Get("iid").Int()),
		Title:      doc.Get("title").String(),
		Body:       doc.Get("description").String(),
		Author:     doc.Get("author.username").String(),
		BaseBranch: doc.Get("target_branch").String(),
		HeadBranch: doc.Get("source_branch").String(),
		BaseSHA:    doc.Get("diff_refs.base_sha").String(),
		HeadSHA:    doc.Get("diff_refs.head_sha").String(),
		StartSHA:   doc.Get("diff_refs.start_sha").String(),
		Draft:      doc.Get("draft").Bool() || doc.Get("work_in_progress").Bool(),
		Merged:     doc.Get("state").String() == "merged",
	}
	if pr.HeadSHA == "" {
		pr.HeadSHA = doc.Get("sha").String()
	}
	for _, l := range doc.Get("labels").Array() {
		pr.Labels = append(pr.Labels, l.String())
	}
	return pr, nil
}

// UpdateDescription replaces the merge request description.
func (c *Client) UpdateDescription(ctx context.Context, repo string, number int, body string) error {
	payload, _ := sjson.Set("", "description", body)
	path := fmt.Sprintf("/projects/%s/merge_requests/%d", domain.EncodeProjectPath(repo), number)
	_, err := c.call(ctx, http.MethodPut, path, []byte(payload))
	return err
}

// SearchIssues looks up project issues matching the query.
func (c *Client) SearchIssues(ctx context.Context, repo, query string) ([]forge.IssueRef, error) {
	path := fmt.Sprintf("/projects/%s/issues?search=%s&per_page=10",
		domain.EncodeProjectPath(repo), url.QueryEscape(query))
	res, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var refs []forge.IssueRef
	for _, item := range gjson.ParseBytes(res.Body).Array() {
		refs = append(refs, forge.IssueRef{
			Number: int(item.Get("iid").Int()),
			Title:  item.Get("title").String(),
			State:  item.Get("state").String(),
			URL:    item.Get("web_url").String(),
		})
	}
	return refs, nil
}

// ListFiles fetches the change set via the changes API. The overflow flag
// maps to the truncation warning.
func (c *Client) ListFiles(ctx context.Context, repo string, number int) (*forge.ListFilesResult, error) {
	path := fmt.Sprintf("/projects/%s/merge_requests/%d/changes", domain.EncodeProjectPath(repo), number)
	res, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(res.Body)

	out := &forge.ListFilesResult{Truncated: doc.Get("overflow").Bool()}
	for _, ch := range doc.Get("changes").Array() {
		out.Files = append(out.Files, decodeChange(ch))
	}
	return out, nil
}

// CompareDiff fetches the delta between two SHAs.
func (c *Client) CompareDiff(ctx context.Context, repo, base, head string) ([]domain.DiffFile, error) {
	path := fmt.Sprintf("/projects/%s/repository/compare?from=%s&to=%s", domain.EncodeProjectPath(repo), base, head)
	res, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var files []domain.DiffFile
	for _, ch := range gjson.GetBytes(res.Body, "diffs").Array() {
		files = append(files, decodeChange(ch))
	}
	return files, nil
}

func decodeChange(ch gjson.Result) domain.DiffFile {
	raw := ch.Get("diff").String()
	parsed := patch.Parse(raw)

	status := domain.FileModified
	switch {
	case ch.Get("new_file").Bool():
		status = domain.FileAdded
	case ch.Get("deleted_file").Bool():
		status = domain.FileRemoved
	case ch.Get("renamed_file").Bool():
		status = domain.FileRenamed
	}

	return domain.DiffFile{
		NewPath:      domain.NormalizePath(ch.Get("new_path").String()),
		OldPath:      domain.NormalizePath(ch.Get("old_path").String()),
		Status:       status,
		Additions:    parsed.Additions,
		Deletions:    parsed.Deletions,
		Patch:        raw,
		ExtendedDiff: parsed.ExtendedDiff,
		OldLines:     parsed.OldLines,
		NewLines:     parsed.NewLines,
	}
}

// ReadFile fetches file content at a ref via the repository files API.
func (c *Client) ReadFile(ctx context.Context, repo, ref, path string) (string, error) {
	url := fmt.Sprintf("/projects/%s/repository/files/%s?ref=%s",
		domain.EncodeProjectPath(repo), domain.EncodeFilePath(path), ref)
	res, err := c.call(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	doc := gjson.ParseBytes(res.Body)
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

// WriteFile updates a file on a branch, creating it when it does not exist.
func (c *Client) WriteFile(ctx context.Context, repo, branch, path, content, message string) error {
	url := fmt.Sprintf("/projects/%s/repository/files/%s",
		domain.EncodeProjectPath(repo), domain.EncodeFilePath(path))

	payload, _ := sjson.Set("", "branch", branch)
	payload, _ = sjson.Set(payload, "content", content)
	payload, _ = sjson.Set(payload, "commit_message", message)

	res, err := c.http.Do(ctx, httpx.Request{
		Method: http.MethodPut,
		URL:    c.baseURL + url,
		Header: c.headers(),
		Body:   []byte(payload),
	}, c.opts)
	if err != nil {
		return err
	}
	if res.IsSuccess() {
		return nil
	}
	if res.StatusCode == http.StatusBadRequest || res.StatusCode == http.StatusNotFound {
		// File does not exist yet on this branch.
		_, err = c.call(ctx, http.MethodPost, url, []byte(payload))
		return err
	}
	return fmt.Errorf("gitlab write file: status %d", res.StatusCode)
}

// CreateComment posts a plain note on the merge request.
func (c *Client) CreateComment(ctx context.Context, repo string, number int, body string) error {
	payload, _ := sjson.Set("", "body", body)
	path := fmt.Sprintf("/projects/%s/merge_requests/%d/notes", domain.EncodeProjectPath(repo), number)
	_, err := c.call(ctx, http.MethodPost, path, []byte(payload))
	return err
}

// UpsertComment scans a bounded number of note pages for the marker and
// updates in place, creating only when no managed note exists.
func (c *Client) UpsertComment(ctx context.Context, repo string, number int, marker, body string) error {
	full := forge.WithMarker(body, marker)
	project := domain.EncodeProjectPath(repo)

	for page := 1; page <= maxUpsertPages; page++ {
		path := fmt.Sprintf("/projects/%s/merge_requests/%d/notes?per_page=%d&page=%d", project, number, perPage, page)
		res, err := c.call(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		notes := gjson.ParseBytes(res.Body).Array()
		for _, n := range notes {
			if forge.HasMarker(n.Get("body").String(), marker) {
				payload, _ := sjson.Set("", "body", full)
				update := fmt.Sprintf("/projects/%s/merge_requests/%d/notes/%d", project, number, n.Get("id").Int())
				_, err := c.call(ctx, http.MethodPut, update, []byte(payload))
				return err
			}
		}
		if len(notes) < perPage {
			break
		}
	}
	return c.CreateComment(ctx, repo, number, full)
}

// CreateLineComments publishes positioned discussions. The position carries
// the three diff-ref SHAs and exactly one of new_line/old_line, matching the
// issue side. A 400 means the position is not on the current diff.
func (c *Client) CreateLineComments(ctx context.Context, repo string, pr *forge.PullRequest, comments []forge.LineComment) (int, int, error) {
	var mu sync.Mutex
	published, skipped := 0, 0
	project := domain.EncodeProjectPath(repo)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(noteFanout)

	for _, cm := range comments {
		g.Go(func() error {
			payload, _ := sjson.Set("", "body", cm.Body)
			payload, _ = sjson.Set(payload, "position.position_type", "text")
			payload, _ = sjson.Set(payload, "position.base_sha", pr.BaseSHA)
			payload, _ = sjson.Set(payload, "position.head_sha", pr.HeadSHA)
			payload, _ = sjson.Set(payload, "position.start_sha", pr.StartSHA)
			payload, _ = sjson.Set(payload, "position.new_path", cm.Path)
			old := cm.OldPath
			if old == "" {
				old = cm.Path
			}
			payload, _ = sjson.Set(payload, "position.old_path", old)
			if cm.Side == domain.SideOld {
				payload, _ = sjson.Set(payload, "position.old_line", cm.Line)
			} else {
				payload, _ = sjson.Set(payload, "position.new_line", cm.Line)
			}

			res, err := c.http.Do(gctx, httpx.Request{
				Method: http.MethodPost,
				URL:    fmt.Sprintf("%s/projects/%s/merge_requests/%d/discussions", c.baseURL, project, pr.Number),
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
			case res.StatusCode == http.StatusBadRequest:
				skipped++
				slog.Debug("discussion position rejected", "repo", repo, "mr", pr.Number, "path", cm.Path, "line", cm.Line)
			default:
				metrics.PublishFailures.WithLabelValues("line_comment").Inc()
				skipped++
				slog.Warn("discussion failed", "repo", repo, "mr", pr.Number, "status", res.StatusCode)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return published, skipped, err
	}
	return published, skipped, nil
}

// ListChecks maps the latest pipeline for the SHA and its jobs to CI checks.
func (c *Client) ListChecks(ctx context.Context, repo, ref string) ([]domain.CICheck, error) {
	project := domain.EncodeProjectPath(repo)
	path := fmt.Sprintf("/projects/%s/pipelines?sha=%s&per_page=1", project, ref)
	res, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	pipelines := gjson.ParseBytes(res.Body).Array()
	if len(pipelines) == 0 {
		return nil, nil
	}
	pipeline := pipelines[0]

	checks := []domain.CICheck{{
		Name:       "pipeline",
		Status:     pipeline.Get("status").String(),
		DetailsURL: pipeline.Get("web_url").String(),
	}}

	jobsPath := fmt.Sprintf("/projects/%s/pipelines/%d/jobs?per_page=%d", project, pipeline.Get("id").Int(), perPage)
	jobsRes, err := c.call(ctx, http.MethodGet, jobsPath, nil)
	if err != nil {
		slog.Warn("pipeline jobs fetch failed", "repo", repo, "error", err)
		return checks, nil
	}
	for _, job := range gjson.ParseBytes(jobsRes.Body).Array() {
		checks = append(checks, domain.CICheck{
			Name:       job.Get("name").String(),
			Status:     job.Get("status").String(),
			DetailsURL: job.Get("web_url").String(),
		})
		if len(checks) >= domain.MaxCIChecks {
			break
		}
	}
	return checks, nil
}

// AddLabels attaches labels to the merge request, keeping existing ones.
func (c *Client) AddLabels(ctx context.Context, repo string, number int, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	payload, _ := sjson.Set("", "add_labels", strings.Join(labels, ","))
	path := fmt.Sprintf("/projects/%s/merge_requests/%d", domain.EncodeProjectPath(repo), number)
	_, err := c.call(ctx, http.MethodPut, path, []byte(payload))
	return err
}
