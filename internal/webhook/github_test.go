package webhook

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mr-agent/internal/config"
)

func testHandler(secret string, skipSignature bool) *Handler {
	cfg := &config.Config{}
	cfg.GitHub.WebhookSecret = secret
	cfg.GitHub.SkipSignature = skipSignature
	cfg.GitHub.MaxBodyBytes = 1024
	cfg.GitLab.WebhookSecret = secret
	cfg.GitLab.MaxBodyBytes = 1024
	return New(cfg, nil, nil, nil, nil, nil)
}

func TestHandleGitHubMethodNotAllowed(t *testing.T) {
	h := testHandler("", true)
	req := httptest.NewRequest(http.MethodGet, "/webhook/github", nil)
	w := httptest.NewRecorder()

	h.HandleGitHub(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", w.Code)
	}
}

func TestHandleGitHubOversizedBody(t *testing.T) {
	h := testHandler("", true)
	body := bytes.Repeat([]byte("a"), 2048)
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.HandleGitHub(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestHandleGitHubInvalidSignature(t *testing.T) {
	h := testHandler("s3cret", false)
	body := []byte(`{"zen":"ok"}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	w := httptest.NewRecorder()

	h.HandleGitHub(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", w.Code)
	}
}

func TestHandleGitHubPing(t *testing.T) {
	h := testHandler("s3cret", false)
	body := []byte(`{"zen":"Design for failure."}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("s3cret", body))
	req.Header.Set("X-GitHub-Event", "ping")
	w := httptest.NewRecorder()

	h.HandleGitHub(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "pong" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}
}

func TestHandleGitHubUnknownEventIgnored(t *testing.T) {
	h := testHandler("", true)
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(`{}`))
	req.Header.Set("X-GitHub-Event", "workflow_dispatch")
	w := httptest.NewRecorder()

	h.HandleGitHub(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "ignored" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}
}

func TestHandleGitHubInvalidSchema(t *testing.T) {
	h := testHandler("", true)
	// The pull_request payload is missing pull_request.number.
	body := `{"action":"opened","repository":{"full_name":"org/repo"},"pull_request":{"base":{"ref":"main"}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", "pull_request")
	w := httptest.NewRecorder()

	h.HandleGitHub(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pull_request.number") {
		t.Errorf("response must name the failing field: %q", w.Body.String())
	}
}

func TestHandleGitLabMissingToken(t *testing.T) {
	h := testHandler("s3cret", false)
	req := httptest.NewRequest(http.MethodPost, "/webhook/gitlab", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	h.HandleGitLab(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", w.Code)
	}
}

func TestHandleGitLabRequireSecretUnconfigured(t *testing.T) {
	h := testHandler("", false)
	h.cfg.GitLab.RequireSecret = true
	req := httptest.NewRequest(http.MethodPost, "/webhook/gitlab", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	h.HandleGitLab(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", w.Code)
	}
}

func TestHandleGitLabUnknownEventIgnored(t *testing.T) {
	h := testHandler("s3cret", false)
	req := httptest.NewRequest(http.MethodPost, "/webhook/gitlab", strings.NewReader(`{}`))
	req.Header.Set("X-Gitlab-Token", "s3cret")
	req.Header.Set("X-Gitlab-Event", "Pipeline Hook")
	w := httptest.NewRecorder()

	h.HandleGitLab(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "ignored" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}
}

func TestHandleGitLabInvalidSchema(t *testing.T) {
	h := testHandler("s3cret", false)
	body := `{"project":{"path_with_namespace":"group/repo"},"object_attributes":{"action":"open"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/gitlab", strings.NewReader(body))
	req.Header.Set("X-Gitlab-Token", "s3cret")
	req.Header.Set("X-Gitlab-Event", "Merge Request Hook")
	w := httptest.NewRecorder()

	h.HandleGitLab(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "object_attributes.iid") {
		t.Errorf("response must name the failing field: %q", w.Body.String())
	}
}
