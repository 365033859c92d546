package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mr-agent/internal/ailimit"
	"mr-agent/internal/config"
	"mr-agent/internal/domain"
	"mr-agent/internal/metrics"
)

// Stable sentinel messages. They are part of the operator-visible surface and
// are matched by the error sanitiser, so do not reword them.
var (
	ErrEmptyResponse = errors.New("Model returned empty")
	ErrNotJSON       = errors.New("Model response is not valid JSON")
)

// schemaMode is one rung of the structured-output ladder.
type schemaMode int

const (
	modeSchema schemaMode = iota
	modeObject
	modeFreeform
)

func (m schemaMode) String() string {
	switch m {
	case modeSchema:
		return "schema"
	case modeObject:
		return "json_object"
	default:
		return "freeform"
	}
}

// CallError carries the HTTP status and message of a failed provider call in
// a form the ladder can inspect without knowing which SDK produced it.
type CallError struct {
	Status  int
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("provider call failed (status %d): %s", e.Status, e.Message)
}

// family is one provider implementation behind the Adapter.
type family interface {
	// Complete runs one chat completion in the given structured-output mode.
	Complete(ctx context.Context, system, user string, mode schemaMode) (string, error)
	// Modes returns the structured-output ladder this family supports, most
	// structured first, ending with modeFreeform.
	Modes() []schemaMode
	// ModelName returns the resolved model identifier.
	ModelName() string
	// Ping issues a minimal request to verify credentials and reachability.
	Ping(ctx context.Context) error
}

// Adapter multiplexes the configured provider family behind one analyse and
// generate surface, with every call bounded by the shared limiter.
type Adapter struct {
	provider string
	model    string
	limiter  *ailimit.Limiter
	impl     family
}

// New builds the adapter for the configured AI_PROVIDER.
func New(ctx context.Context, cfg *config.Config, limiter *ailimit.Limiter) (*Adapter, error) {
	a := &Adapter{provider: cfg.AI.Provider, limiter: limiter}

	switch cfg.AI.Provider {
	case "openai", "openai-compatible":
		a.impl = newOpenAIFamily(cfg, newClientCache(cfg.AI.ClientCacheLimit))
	case "anthropic":
		a.impl = newAnthropicFamily(cfg)
	case "gemini":
		impl, err := newGeminiFamily(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		a.impl = impl
	default:
		return nil, fmt.Errorf("Unsupported AI_PROVIDER: %s", cfg.AI.Provider)
	}

	a.model = a.impl.ModelName()
	return a, nil
}

// Name returns the configured provider family name.
func (a *Adapter) Name() string { return a.provider }

// Model returns the resolved model identifier.
func (a *Adapter) Model() string { return a.model }

// Analyze runs a structured review completion, walking the ladder from the
// most structured mode the family supports down to freeform, and normalises
// whatever JSON comes back. Freeform text that still is not JSON becomes a
// fallback result rather than an error.
func (a *Adapter) Analyze(ctx context.Context, system, user string) (*domain.ReviewResult, error) {
	release, err := a.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	modes := a.impl.Modes()
	for i, mode := range modes {
		final := i == len(modes)-1

		text, err := a.impl.Complete(ctx, system, user, mode)
		if err != nil {
			if !final && isSchemaRejection(err) {
				slog.Warn("structured mode rejected, retrying",
					"provider", a.provider, "mode", mode.String(), "error", err)
				continue
			}
			metrics.ProviderCalls.WithLabelValues(a.provider, "error").Inc()
			return nil, err
		}

		if strings.TrimSpace(text) == "" {
			if !final {
				slog.Warn("empty completion, retrying",
					"provider", a.provider, "mode", mode.String())
				continue
			}
			metrics.ProviderCalls.WithLabelValues(a.provider, "error").Inc()
			return nil, ErrEmptyResponse
		}

		raw, ok := ExtractJSON(text)
		if !ok {
			if !final {
				slog.Warn("completion is not JSON, retrying",
					"provider", a.provider, "mode", mode.String(), "error", ErrNotJSON)
				continue
			}
			metrics.ProviderCalls.WithLabelValues(a.provider, "freeform_fallback").Inc()
			return FallbackResult(text), nil
		}

		metrics.ProviderCalls.WithLabelValues(a.provider, "ok").Inc()
		return Normalize(raw), nil
	}

	metrics.ProviderCalls.WithLabelValues(a.provider, "error").Inc()
	return nil, ErrEmptyResponse
}

// Generate runs a freeform completion for conversational modes (/ask,
// /describe, /changelog, /generate_tests).
func (a *Adapter) Generate(ctx context.Context, system, user string) (string, error) {
	release, err := a.limiter.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	text, err := a.impl.Complete(ctx, system, user, modeFreeform)
	if err != nil {
		metrics.ProviderCalls.WithLabelValues(a.provider, "error").Inc()
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		metrics.ProviderCalls.WithLabelValues(a.provider, "error").Inc()
		return "", ErrEmptyResponse
	}
	metrics.ProviderCalls.WithLabelValues(a.provider, "ok").Inc()
	return text, nil
}

// Health is the deep-probe result exposed on /health?deep=1.
type Health struct {
	OK         bool   `json:"ok"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	HTTPStatus int    `json:"http_status,omitempty"`
	LatencyMS  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
}

// CheckHealth pings the provider with a short deadline and reports the outcome.
func (a *Adapter) CheckHealth(ctx context.Context) Health {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	err := a.impl.Ping(probeCtx)
	h := Health{
		OK:        err == nil,
		Provider:  a.provider,
		Model:     a.model,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		h.Error = err.Error()
		var callErr *CallError
		if errors.As(err, &callErr) {
			h.HTTPStatus = callErr.Status
		}
	} else {
		h.HTTPStatus = 200
	}
	return h
}

// Ping verifies credentials and reachability at startup.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.impl.Ping(ctx)
}

// schemaRejectionHints are message fragments providers use when they refuse a
// structured-output request. Includes the Chinese variants some compatible
// gateways return.
var schemaRejectionHints = []string{
	"response_format",
	"json_schema",
	"json schema",
	"schema",
	"tool_choice",
	"tool use",
	"tools",
	"not supported",
	"unsupported",
	"不支持",
	"无效",
}

// isSchemaRejection reports whether the error looks like the provider
// refusing the structured request rather than a transport or auth failure.
func isSchemaRejection(err error) bool {
	var callErr *CallError
	if !errors.As(err, &callErr) {
		return false
	}
	if callErr.Status != 400 && callErr.Status != 422 {
		return false
	}
	msg := strings.ToLower(callErr.Message)
	for _, hint := range schemaRejectionHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// resolveModel applies the AI_MODEL override on top of the family default.
func resolveModel(override, familyModel string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return familyModel
}
