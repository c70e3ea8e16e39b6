// Package ambassador wraps calls to an external HTTP dependency with the
// cross-cutting concerns the rest of the codebase should not care about:
// authentication headers, per-attempt timeouts, bounded retry with
// exponential backoff, and a dedicated circuit breaker so that exhausted
// retry storms fast-fail instead of paying full retry latency every time.
package ambassador

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/lingorelay/lingorelay/internal/build"
	"github.com/lingorelay/lingorelay/pkg/breaker"
	"github.com/lingorelay/lingorelay/pkg/logger"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 2 * time.Second
	DefaultMaxInterval     = 10 * time.Second
)

// Error is the failure type surfaced to callers. Transient reports whether
// the underlying cause was a retryable class; when the breaker rejected the
// call, Unwrap resolves to breaker.ErrCircuitOpen.
type Error struct {
	Op        string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ambassador: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client proxies requests to one external endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	breaker     *breaker.Breaker
	logger      logger.Logger
	maxAttempts uint64
	initial     time.Duration
	maxInterval time.Duration
	multiplier  float64
}

type Opt func(*Client)

// WithAPIKey sets the bearer token injected into every request.
func WithAPIKey(key string) Opt {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout bounds each individual attempt.
func WithTimeout(d time.Duration) Opt {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithMaxAttempts bounds the total number of attempts, first try included.
func WithMaxAttempts(n int) Opt {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = uint64(n)
		}
	}
}

// WithBackoff tunes the retry wait policy.
func WithBackoff(initial time.Duration, multiplier float64, maxInterval time.Duration) Opt {
	return func(c *Client) {
		c.initial = initial
		c.multiplier = multiplier
		c.maxInterval = maxInterval
	}
}

// WithHTTPClient replaces the underlying transport. Used by tests.
func WithHTTPClient(hc *http.Client) Opt {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithBreaker(b *breaker.Breaker) Opt {
	return func(c *Client) {
		c.breaker = b
	}
}

func WithLogger(l logger.Logger) Opt {
	return func(c *Client) {
		c.logger = l
	}
}

func NewClient(baseURL string, opts ...Opt) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		logger:      logger.NewNoopLogger(),
		maxAttempts: DefaultMaxAttempts,
		initial:     DefaultInitialInterval,
		maxInterval: DefaultMaxInterval,
		multiplier:  backoff.DefaultMultiplier,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = breaker.New("ambassador")
	}
	return c
}

// Post sends payload as JSON to endpoint and returns the raw response body.
// Transient failures are retried with exponential backoff up to the attempt
// budget; permanent failures propagate immediately. The whole call passes
// through the client's circuit breaker.
func (c *Client) Post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Op: "POST " + endpoint, Err: err}
	}
	return c.call(ctx, http.MethodPost, endpoint, body)
}

// Get issues a GET request against endpoint.
func (c *Client) Get(ctx context.Context, endpoint string) ([]byte, error) {
	return c.call(ctx, http.MethodGet, endpoint, nil)
}

// Healthy probes the dependency's health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.Get(ctx, "/health")
	return err == nil
}

func (c *Client) call(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	op := method + " " + endpoint

	var out []byte
	var lastRetryable bool
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = c.initial
		policy.Multiplier = c.multiplier
		policy.MaxInterval = c.maxInterval
		policy.MaxElapsedTime = 0

		attempt := 0
		return backoff.Retry(func() error {
			attempt++
			start := time.Now()

			respBody, retryable, err := c.attempt(ctx, method, endpoint, body)
			if err != nil {
				lastRetryable = retryable
				c.logger.WarnWithContext(ctx, "ambassador attempt failed",
					zap.String("op", op),
					zap.Int("attempt", attempt),
					zap.Bool("retryable", retryable),
					zap.Error(err),
				)
				if !retryable {
					return backoff.Permanent(err)
				}
				return err
			}

			c.logger.DebugWithContext(ctx, "ambassador call succeeded",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("duration", time.Since(start)),
			)
			out = respBody
			return nil
		}, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxAttempts-1), ctx))
	})
	if err != nil {
		return nil, &Error{Op: op, Transient: lastRetryable || isTransport(err), Err: err}
	}
	return out, nil
}

// attempt performs a single HTTP exchange. The second return value reports
// whether the failure class is worth retrying.
func (c *Client) attempt(ctx context.Context, method, endpoint string, body []byte) ([]byte, bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(endpoint, "/"), reader)
	if err != nil {
		return nil, false, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", build.ProjectName+"/"+build.Version)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, isTransport(err), err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(respBody, 200))
		return nil, retryableStatus(resp.StatusCode), err
	}
	return respBody, false, nil
}

// isTransport reports whether err is a network-level failure class worth
// retrying: timeouts, refused or reset connections.
func isTransport(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF)
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
