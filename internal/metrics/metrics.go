package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequests counts incoming webhooks, labeled by platform and status.
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mr_agent_webhook_requests_total",
		Help: "The total number of received webhook requests",
	}, []string{"platform", "status"}) // status: accepted, invalid_signature, invalid_schema, oversized, ignored

	// ReviewsTotal counts review orchestrations, labeled by result.
	ReviewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mr_agent_reviews_total",
		Help: "The total number of review orchestrations",
	}, []string{"result"}) // result: success, failed, deduped, skipped

	// ProviderCalls counts AI provider calls, labeled by provider and outcome.
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mr_agent_provider_calls_total",
		Help: "The total number of AI provider calls",
	}, []string{"provider", "outcome"}) // outcome: ok, schema_fallback, freeform_fallback, error

	// PublishFailures counts failed comment/check publications to the forge.
	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mr_agent_publish_failures_total",
		Help: "Total number of failed publications to the forge",
	}, []string{"kind"}) // kind: line_comment, report, check_run, label, secret_warning

	// RateLimitHits counts command invocations rejected by the rate limiter.
	RateLimitHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mr_agent_rate_limit_hits_total",
		Help: "Total number of rate-limited command invocations",
	}, []string{"command"})

	// ProcessingDuration measures end-to-end orchestration time.
	ProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mr_agent_processing_duration_seconds",
		Help:    "Time taken to process one orchestration",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})
)
