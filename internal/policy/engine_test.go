package policy

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockReader struct {
	ReadFileFunc func(ctx context.Context, repo, ref, path string) (string, error)
}

func (m *mockReader) ReadFile(ctx context.Context, repo, ref, path string) (string, error) {
	return m.ReadFileFunc(ctx, repo, ref, path)
}

func TestResolveMissingFileUsesDefaults(t *testing.T) {
	e := NewEngine(time.Minute)
	reader := &mockReader{ReadFileFunc: func(ctx context.Context, repo, ref, path string) (string, error) {
		return "", errors.New("404")
	}}

	cfg := e.Resolve(context.Background(), reader, "org/repo", "main")
	if cfg.Mode != ModeRemind {
		t.Errorf("expected defaults, got mode %q", cfg.Mode)
	}
}

func TestResolveInvalidFileFallsBack(t *testing.T) {
	e := NewEngine(time.Minute)
	reader := &mockReader{ReadFileFunc: func(ctx context.Context, repo, ref, path string) (string, error) {
		return "surprise: true", nil
	}}

	cfg := e.Resolve(context.Background(), reader, "org/repo", "main")
	if !cfg.ResolveAutoReview("opened").Enabled {
		t.Error("an invalid file must resolve to defaults, not disable everything")
	}
}

func TestResolveProbesFileNamesInOrder(t *testing.T) {
	var probed []string
	reader := &mockReader{ReadFileFunc: func(ctx context.Context, repo, ref, path string) (string, error) {
		probed = append(probed, path)
		if path == ".mr-agent.yaml" {
			return "mode: enforce", nil
		}
		return "", errors.New("404")
	}}

	e := NewEngine(time.Minute)
	cfg := e.Resolve(context.Background(), reader, "org/repo", "main")
	if cfg.Mode != ModeEnforce {
		t.Errorf("expected the second candidate to load, got %q", cfg.Mode)
	}
	if len(probed) != 2 || probed[0] != ".mr-agent.yml" {
		t.Errorf("probe order wrong: %v", probed)
	}
}

func TestResolveCaches(t *testing.T) {
	var calls int
	reader := &mockReader{ReadFileFunc: func(ctx context.Context, repo, ref, path string) (string, error) {
		calls++
		return "mode: enforce", nil
	}}

	e := NewEngine(time.Minute)
	e.Resolve(context.Background(), reader, "org/repo", "main")
	e.Resolve(context.Background(), reader, "org/repo", "main")
	if calls != 1 {
		t.Errorf("second resolve must come from cache, got %d reads", calls)
	}

	e.Invalidate("org/repo", "main")
	e.Resolve(context.Background(), reader, "org/repo", "main")
	if calls != 2 {
		t.Errorf("invalidate must force a reload, got %d reads", calls)
	}
}
