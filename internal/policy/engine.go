package policy

import (
	"context"
	"log/slog"
	"time"

	"mr-agent/internal/cache"
)

// Cache bounds for resolved policies.
const (
	DefaultTTL      = 5 * time.Minute
	cacheMaxEntries = 500
)

// FileReader is the forge capability the engine needs: read one file from a
// repository at a ref. A missing file returns an error.
type FileReader interface {
	ReadFile(ctx context.Context, repo, ref, path string) (string, error)
}

// Engine loads, validates, and caches repository policy files.
type Engine struct {
	ttl   time.Duration
	cache *cache.Cache[*Config]
	now   func() time.Time
}

// NewEngine creates an Engine with the given cache TTL.
func NewEngine(ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Engine{
		ttl:   ttl,
		cache: cache.New[*Config](),
		now:   time.Now,
	}
}

// Resolve returns the policy for repo@ref. Parse and schema errors fall back
// to the embedded defaults; Resolve never fails.
func (e *Engine) Resolve(ctx context.Context, reader FileReader, repo, ref string) *Config {
	key := repo + "@" + ref
	now := e.now()

	if cfg, ok := e.cache.GetFresh(key, now); ok {
		return cfg
	}
	e.cache.Prune(now)

	cfg := e.load(ctx, reader, repo, ref)
	e.cache.Set(key, cfg, now.Add(e.ttl))
	e.cache.Trim(cacheMaxEntries)
	return cfg
}

func (e *Engine) load(ctx context.Context, reader FileReader, repo, ref string) *Config {
	for _, name := range ConfigFileNames {
		body, err := reader.ReadFile(ctx, repo, ref, name)
		if err != nil {
			continue
		}
		cfg, err := Parse(body)
		if err != nil {
			slog.Warn("policy file invalid, using defaults",
				"repo", repo, "ref", ref, "file", name, "error", err)
			return Default()
		}
		slog.Debug("policy loaded", "repo", repo, "ref", ref, "file", name)
		return cfg
	}
	return Default()
}

// Invalidate drops the cached policy for repo@ref.
func (e *Engine) Invalidate(repo, ref string) {
	e.cache.Delete(repo + "@" + ref)
}

// Reset clears the cache; tests use this between cases.
func (e *Engine) Reset() {
	e.cache.Clear()
}
