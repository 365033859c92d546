package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// ErrShuttingDown is the stable sentinel returned once BeginShutdown has been
// called. Callers branch on it, so the message must not change.
var ErrShuttingDown = errors.New("http client is shutting down")

// DefaultRetryStatuses are the HTTP statuses retried by default.
var DefaultRetryStatuses = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusConflict:            true, // 409
	http.StatusTooEarly:            true, // 425
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// Options controls retry behaviour for one logical request.
type Options struct {
	Timeout       time.Duration // per attempt, not cumulative
	Retries       int
	Backoff       time.Duration
	RetryOnStatus map[int]bool // nil means DefaultRetryStatuses
}

// Request is one logical HTTP request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the buffered result of a request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client wraps http.Client with per-attempt timeouts, exponential backoff
// with jitter, a retry-on-status list, and a process-wide shutdown signal
// that aborts in-flight attempts and fails new calls fast.
type Client struct {
	hc     *http.Client
	jitter func() float64 // [0,1), pinned in tests

	mu           sync.Mutex
	shutdownCtx  context.Context
	beginShut    context.CancelFunc
	shutdownOnce sync.Once
}

// New creates a Client with the default transport.
func New() *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hc:          &http.Client{},
		jitter:      rand.Float64,
		shutdownCtx: ctx,
		beginShut:   cancel,
	}
}

// SetJitterSource replaces the jitter source; tests pin it.
func (c *Client) SetJitterSource(f func() float64) {
	c.jitter = f
}

// BeginShutdown aborts the shared signal. In-flight attempts are cancelled at
// their next I/O step; subsequent Do calls fail before attempting a request.
func (c *Client) BeginShutdown() {
	c.shutdownOnce.Do(c.beginShut)
}

// ShuttingDown reports whether BeginShutdown has been called.
func (c *Client) ShuttingDown() bool {
	select {
	case <-c.shutdownCtx.Done():
		return true
	default:
		return false
	}
}

// Do executes the request with retries. Non-retryable statuses return the
// buffered response without error; callers inspect StatusCode.
func (c *Client) Do(ctx context.Context, req Request, opts Options) (*Response, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 400 * time.Millisecond
	}
	retryOn := opts.RetryOnStatus
	if retryOn == nil {
		retryOn = DefaultRetryStatuses
	}

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if c.ShuttingDown() {
			return nil, ErrShuttingDown
		}
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoffFor(attempt-1, opts.Backoff)); err != nil {
				return nil, err
			}
		}

		res, err := c.attempt(ctx, req, opts.Timeout)
		if err != nil {
			if c.ShuttingDown() {
				return nil, ErrShuttingDown
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			slog.Debug("http attempt failed", "url", req.URL, "attempt", attempt, "error", err)
			continue
		}
		if retryOn[res.StatusCode] && attempt < opts.Retries {
			lastErr = fmt.Errorf("retryable status %d", res.StatusCode)
			slog.Debug("http retryable status", "url", req.URL, "attempt", attempt, "status", res.StatusCode)
			continue
		}
		return res, nil
	}
	return nil, fmt.Errorf("request to %s failed after %d attempts: %w", req.URL, opts.Retries+1, lastErr)
}

func (c *Client) attempt(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Merge the process shutdown signal into this attempt.
	stop := context.AfterFunc(c.shutdownCtx, cancel)
	defer stop()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpRes, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpRes.Body.Close()

	buf, err := io.ReadAll(httpRes.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{StatusCode: httpRes.StatusCode, Header: httpRes.Header, Body: buf}, nil
}

// backoffFor computes base*2^attempt plus jitter in [0, 0.2*base).
func (c *Client) backoffFor(attempt int, base time.Duration) time.Duration {
	d := base << uint(attempt)
	j := time.Duration(c.jitter() * 0.2 * float64(base))
	return d + j
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.shutdownCtx.Done():
		return ErrShuttingDown
	}
}
