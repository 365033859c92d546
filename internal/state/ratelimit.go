package state

import (
	"regexp"
	"strings"
	"time"
)

const (
	rateLimitScope   = "ratelimit"
	rateLimitMaxKeys = 5000
	rateLimitIdleCap = 24 * time.Hour
	maxKeyLength     = 80
	fallbackKey      = "rate-limit-key"
)

var (
	invalidKeyChars = regexp.MustCompile(`[^a-z0-9._-]`)
	dashRuns        = regexp.MustCompile(`-+`)
)

// RateLimiter is a sliding-window counter keyed by canonicalised strings.
type RateLimiter struct {
	store *Store
	now   func() time.Time
}

// NewRateLimiter creates a RateLimiter over the given store.
func NewRateLimiter(store *Store) *RateLimiter {
	return &RateLimiter{store: store, now: time.Now}
}

// CanonicalKey lowercases, replaces invalid runes with dashes, collapses dash
// runs, and caps the length. An empty result becomes a stable fallback token.
func CanonicalKey(parts ...string) string {
	key := strings.ToLower(strings.Join(parts, ":"))
	key = invalidKeyChars.ReplaceAllString(key, "-")
	key = dashRuns.ReplaceAllString(key, "-")
	key = strings.Trim(key, "-")
	if len(key) > maxKeyLength {
		key = key[:maxKeyLength]
	}
	if key == "" {
		return fallbackKey
	}
	return key
}

// IsLimited trims samples older than the window, counts the remainder, and
// either records a new sample (allowed) or just touches the key (limited).
func (r *RateLimiter) IsLimited(key string, limit int, window time.Duration) bool {
	if limit <= 0 || window <= 0 {
		return false
	}
	key = CanonicalKey(key)
	now := r.now()
	cutoff := now.Add(-window)

	var samples []time.Time
	if v, ok := r.store.Load(rateLimitScope, key, now); ok {
		prior := v.([]time.Time)
		samples = make([]time.Time, 0, len(prior))
		for _, ts := range prior {
			if ts.After(cutoff) {
				samples = append(samples, ts)
			}
		}
	}

	if len(samples) >= limit {
		r.store.Save(rateLimitScope, key, samples, now.Add(rateLimitIdleCap), rateLimitMaxKeys)
		return true
	}

	samples = append(samples, now)
	r.store.Save(rateLimitScope, key, samples, now.Add(rateLimitIdleCap), rateLimitMaxKeys)
	return false
}
