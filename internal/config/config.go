package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the runtime configuration of the review orchestration service.
// Everything is sourced from environment variables; defaults follow the
// documented surface.
type Config struct {
	Log struct {
		Level    string // DEBUG, INFO, WARN, ERROR
		Format   string // text, json
		Output   string // stdout, stderr, /path/to/file (comma separated)
		Rotation struct {
			MaxSize    int // Megabytes
			MaxBackups int
			MaxAge     int // Days
			Compress   bool
		}
	}

	Server struct {
		Port         int
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
		Environment  string // "production" enables hard security guards
	}

	GitHub struct {
		APIURL        string
		Token         string
		WebhookSecret string
		SkipSignature bool // forbidden when Environment == production
		MaxBodyBytes  int64
	}

	GitLab struct {
		BaseURL       string
		Token         string
		WebhookSecret string
		RequireSecret bool
		AllowHTTP     bool
		MaxBodyBytes  int64
	}

	AI struct {
		Provider         string // openai, openai-compatible, anthropic, gemini
		Model            string
		OpenAIAPIKey     string
		OpenAIBaseURL    string
		OpenAIModel      string
		AnthropicAPIKey  string
		AnthropicModel   string
		GeminiAPIKey     string
		GeminiModel      string
		HTTPTimeout      time.Duration
		HTTPRetries      int
		RetryBackoff     time.Duration
		MaxConcurrency   int
		DrainTimeout     time.Duration
		ClientCacheLimit int
	}

	Commands struct {
		RateLimitMax    int
		RateLimitWindow time.Duration
	}

	Cache struct {
		PolicyTTL     time.Duration
		GuidelineTTL  time.Duration
		HeadTTL       time.Duration
		FeedbackTTL   time.Duration
		AskSessionTTL time.Duration
	}

	Review struct {
		DedupeTTL       time.Duration
		MergedReportTTL time.Duration
		MaxFiles        int
		MaxPatchChars   int
		MaxTotalChars   int
		CodeExtensions  []string
	}

	Notify struct {
		WebhookURL string
		Format     string // wecom, slack, discord, generic
	}

	Replay struct {
		Enabled      bool
		Token        string
		File         string
		MaxEntries   int
		MaxBodyBytes int
	}

	Locale string // en, zh
}

// GetLogLevel returns the slog.Level for the configured log level string.
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration from the environment, applying documented defaults.
func Load() *Config {
	cfg := &Config{}

	cfg.Log.Level = getEnv("LOG_LEVEL", "INFO")
	cfg.Log.Format = getEnv("LOG_FORMAT", "text")
	cfg.Log.Output = getEnv("LOG_OUTPUT", "stdout")
	cfg.Log.Rotation.MaxSize = getEnvInt("LOG_MAX_SIZE", 100)
	cfg.Log.Rotation.MaxBackups = getEnvInt("LOG_MAX_BACKUPS", 10)
	cfg.Log.Rotation.MaxAge = getEnvInt("LOG_MAX_AGE", 7)
	cfg.Log.Rotation.Compress = getEnvBool("LOG_COMPRESS", true)

	cfg.Server.Port = getEnvInt("PORT", 3000)
	cfg.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT_MS", 10*time.Second)
	cfg.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT_MS", 30*time.Second)
	cfg.Server.Environment = getEnv("NODE_ENV", getEnv("APP_ENV", "development"))

	cfg.GitHub.APIURL = strings.TrimSuffix(getEnv("GITHUB_API_URL", "https://api.github.com"), "/")
	cfg.GitHub.Token = getEnv("GITHUB_TOKEN", "")
	cfg.GitHub.WebhookSecret = getEnv("GITHUB_WEBHOOK_SECRET", "")
	cfg.GitHub.SkipSignature = getEnvBool("GITHUB_WEBHOOK_SKIP_SIGNATURE", false)
	cfg.GitHub.MaxBodyBytes = int64(getEnvInt("GITHUB_WEBHOOK_MAX_BODY_BYTES", 10*1024*1024))

	cfg.GitLab.BaseURL = strings.TrimSuffix(getEnv("GITLAB_BASE_URL", "https://gitlab.com"), "/")
	cfg.GitLab.Token = getEnv("GITLAB_TOKEN", "")
	cfg.GitLab.WebhookSecret = getEnv("GITLAB_WEBHOOK_SECRET", "")
	cfg.GitLab.RequireSecret = getEnvBool("GITLAB_REQUIRE_WEBHOOK_SECRET", false)
	cfg.GitLab.AllowHTTP = getEnvBool("ALLOW_INSECURE_GITLAB_HTTP", false)
	cfg.GitLab.MaxBodyBytes = int64(getEnvInt("GITLAB_WEBHOOK_MAX_BODY_BYTES", 10*1024*1024))

	cfg.AI.Provider = getEnv("AI_PROVIDER", "openai")
	cfg.AI.Model = getEnv("AI_MODEL", "")
	cfg.AI.OpenAIAPIKey = getEnv("OPENAI_API_KEY", "")
	cfg.AI.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.AI.OpenAIModel = getEnv("OPENAI_MODEL", "gpt-4o-mini")
	cfg.AI.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", "")
	cfg.AI.AnthropicModel = getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514")
	cfg.AI.GeminiAPIKey = getEnv("GEMINI_API_KEY", "")
	cfg.AI.GeminiModel = getEnv("GEMINI_MODEL", "gemini-2.0-flash")
	cfg.AI.HTTPTimeout = getEnvDuration("AI_HTTP_TIMEOUT_MS", 30*time.Second)
	cfg.AI.HTTPRetries = getEnvInt("AI_HTTP_RETRIES", 2)
	cfg.AI.RetryBackoff = getEnvDuration("AI_HTTP_RETRY_BACKOFF_MS", 400*time.Millisecond)
	cfg.AI.MaxConcurrency = getEnvInt("AI_MAX_CONCURRENCY", 4)
	cfg.AI.DrainTimeout = getEnvDuration("AI_SHUTDOWN_DRAIN_TIMEOUT_MS", 15*time.Second)
	cfg.AI.ClientCacheLimit = getEnvInt("AI_CLIENT_CACHE_LIMIT", 200)

	cfg.Commands.RateLimitMax = getEnvInt("COMMAND_RATE_LIMIT_MAX", 10)
	cfg.Commands.RateLimitWindow = getEnvDuration("COMMAND_RATE_LIMIT_WINDOW_MS", time.Hour)

	cfg.Cache.PolicyTTL = getEnvDuration("POLICY_CACHE_TTL_MS", 5*time.Minute)
	cfg.Cache.GuidelineTTL = getEnvDuration("GUIDELINE_CACHE_TTL_MS", 10*time.Minute)
	cfg.Cache.HeadTTL = getEnvDuration("INCREMENTAL_HEAD_TTL_MS", 24*time.Hour)
	cfg.Cache.FeedbackTTL = getEnvDuration("FEEDBACK_SIGNAL_TTL_MS", 7*24*time.Hour)
	cfg.Cache.AskSessionTTL = getEnvDuration("ASK_SESSION_TTL_MS", time.Hour)

	cfg.Review.DedupeTTL = getEnvDuration("REVIEW_DEDUPE_TTL_MS", 5*time.Minute)
	cfg.Review.MergedReportTTL = getEnvDuration("MERGED_REPORT_DEDUPE_TTL_MS", 24*time.Hour)
	cfg.Review.MaxFiles = getEnvInt("REVIEW_MAX_FILES", 40)
	cfg.Review.MaxPatchChars = getEnvInt("REVIEW_MAX_PATCH_CHARS", 4000)
	cfg.Review.MaxTotalChars = getEnvInt("REVIEW_MAX_TOTAL_CHARS", 60000)
	cfg.Review.CodeExtensions = splitList(getEnv("REVIEW_CODE_EXTENSIONS", ""))

	cfg.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", "")
	cfg.Notify.Format = getEnv("NOTIFY_WEBHOOK_FORMAT", "generic")

	cfg.Replay.Enabled = getEnvBool("WEBHOOK_REPLAY_ENABLED", false)
	cfg.Replay.Token = getEnv("WEBHOOK_REPLAY_TOKEN", "")
	cfg.Replay.File = getEnv("WEBHOOK_EVENT_STORE_FILE", "webhook-events.ndjson")
	cfg.Replay.MaxEntries = getEnvInt("WEBHOOK_EVENT_STORE_MAX_ENTRIES", 2000)
	cfg.Replay.MaxBodyBytes = getEnvInt("WEBHOOK_EVENT_STORE_MAX_BODY_BYTES", 64*1024)

	cfg.Locale = getEnv("MR_AGENT_LOCALE", "en")

	return cfg
}

// IsProduction reports whether the environment marker says production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

// Validate checks invariants that must hold before the server starts.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}

	switch c.AI.Provider {
	case "openai", "openai-compatible":
		if c.AI.OpenAIAPIKey == "" {
			errs = append(errs, "Missing OPENAI_API_KEY")
		}
	case "anthropic":
		if c.AI.AnthropicAPIKey == "" {
			errs = append(errs, "Missing ANTHROPIC_API_KEY")
		}
	case "gemini":
		if c.AI.GeminiAPIKey == "" {
			errs = append(errs, "Missing GEMINI_API_KEY")
		}
	default:
		errs = append(errs, fmt.Sprintf("Unsupported AI_PROVIDER: %s", c.AI.Provider))
	}

	if c.GitHub.SkipSignature && c.IsProduction() {
		errs = append(errs, "GITHUB_WEBHOOK_SKIP_SIGNATURE is forbidden in production")
	}

	if !c.GitLab.AllowHTTP && strings.HasPrefix(c.GitLab.BaseURL, "http://") {
		errs = append(errs, "GITLAB_BASE_URL must be https unless ALLOW_INSECURE_GITLAB_HTTP is set")
	}

	if c.Replay.Enabled && c.Replay.Token == "" {
		errs = append(errs, "Missing WEBHOOK_REPLAY_TOKEN")
	}

	if c.Locale != "en" && c.Locale != "zh" {
		errs = append(errs, fmt.Sprintf("unsupported MR_AGENT_LOCALE: %s", c.Locale))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "."))
		if p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	valueStr := strings.ToLower(getEnv(key, ""))
	switch valueStr {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

// getEnvDuration reads a millisecond count from the environment.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(valueStr); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
