// Package httpx is the shared HTTP core for provider clients: request
// construction over resty, retry with exponential backoff and jitter, and
// HTTP status classification into the provider error taxonomy.
package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"resty.dev/v3"

	"github.com/chuxijin/pansync/internal/provider"
)

// Retry and backoff constants.
const (
	maxRetries     = 3
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// Client wraps a resty client with retry and classification. One Client per
// provider host; cheap enough to hold several per provider client.
type Client struct {
	rc        *resty.Client
	driveType provider.DriveType
	logger    *slog.Logger

	// sleepFunc waits between retries. Tests override it to avoid real
	// delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates a provider HTTP client rooted at baseURL. Headers set here
// (cookies, UA) apply to every request.
func New(dt provider.DriveType, baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)

	return &Client{
		rc:        rc,
		driveType: dt,
		logger:    logger,
		sleepFunc: timeSleep,
	}
}

// SetHeader sets a header on every request issued by this client.
func (c *Client) SetHeader(key, value string) *Client {
	c.rc.SetHeader(key, value)
	return c
}

// SetBaseURL replaces the base URL (Alist discovers it from credentials).
func (c *Client) SetBaseURL(u string) *Client {
	c.rc.SetBaseURL(u)
	return c
}

// SetSleepFunc overrides the retry sleep. Test hook.
func (c *Client) SetSleepFunc(f func(ctx context.Context, d time.Duration) error) {
	c.sleepFunc = f
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.rc.Close()
}

// Get executes a GET with retry. See Do.
func (c *Client) Get(ctx context.Context, path string, build func(r *resty.Request)) (*resty.Response, error) {
	return c.Do(ctx, http.MethodGet, path, build)
}

// Post executes a POST with retry. See Do.
func (c *Client) Post(ctx context.Context, path string, build func(r *resty.Request)) (*resty.Response, error) {
	return c.Do(ctx, http.MethodPost, path, build)
}

// Do executes a request, retrying transient failures (network errors, 408,
// 429, 5xx) up to maxRetries with exponential backoff and ±25% jitter. The
// build callback decorates a fresh request on every attempt so bodies and
// results never leak across retries. Non-2xx terminal responses are mapped
// into the provider taxonomy; 2xx responses are returned for the caller to
// interpret provider-level business codes.
func (c *Client) Do(ctx context.Context, method, path string, build func(r *resty.Request)) (*resty.Response, error) {
	var attempt int

	for {
		req := c.rc.R().WithContext(ctx)
		if build != nil {
			build(req)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("httpx: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("httpx: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, provider.NewError(c.driveType, method+" "+path, "",
				fmt.Sprintf("network failure after %d retries: %v", maxRetries, err), provider.ErrTransient)
		}

		code := resp.StatusCode()

		if code >= http.StatusOK && code < http.StatusMultipleChoices {
			return resp, nil
		}

		if isRetryable(code) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", code),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("httpx: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, c.classify(method+" "+path, resp)
	}
}

// classify maps a terminal non-2xx response into the provider taxonomy.
func (c *Client) classify(op string, resp *resty.Response) error {
	code := resp.StatusCode()
	codeStr := strconv.Itoa(code)
	body := truncate(resp.String(), 512)

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return provider.NewError(c.driveType, op, codeStr, body, provider.ErrAuth)
	case code == http.StatusNotFound || code == http.StatusGone:
		return provider.NewError(c.driveType, op, codeStr, body, provider.ErrNotFound)
	case isRetryable(code):
		// Retries exhausted.
		return provider.NewError(c.driveType, op, codeStr, body, provider.ErrTransient)
	default:
		return provider.NewError(c.driveType, op, codeStr, body, provider.ErrBusiness)
	}
}

// retryBackoff honors Retry-After on 429 responses, otherwise falls back to
// exponential backoff.
func (c *Client) retryBackoff(resp *resty.Response, attempt int) time.Duration {
	if resp.StatusCode() == http.StatusTooManyRequests {
		if ra := resp.Header().Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// isRetryable reports whether the HTTP status should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}

// timeSleep waits for d or until the context is canceled. Default sleepFunc.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
