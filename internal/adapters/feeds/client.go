// Package feeds fetches vulnerability intelligence from public sources.
package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lcalzada-xor/vulnintel/internal/retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// ErrUnexpectedStatus is returned for non-retryable HTTP statuses.
var ErrUnexpectedStatus = errors.New("unexpected status")

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 256 << 20
)

// ClientOptions configures a feed HTTP client.
type ClientOptions struct {
	Headers map[string]string
	// RequestsPerSecond limits outgoing requests. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	Retry             retry.Policy
	Transport         http.RoundTripper
}

// Client is a rate-limited, retrying JSON client.
type Client struct {
	http    *http.Client
	headers map[string]string
	limiter *rate.Limiter
	policy  retry.Policy
}

// NewClient builds a client whose transport is traced with otelhttp.
func NewClient(opts ClientOptions) *Client {
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	policy := opts.Retry
	if policy.Attempts == 0 {
		policy = retry.Default
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(opts.Burst, 1))
	}

	return &Client{
		http: &http.Client{
			Transport: otelhttp.NewTransport(base),
			Timeout:   timeout,
		},
		headers: opts.Headers,
		limiter: limiter,
		policy:  policy,
	}
}

// GetJSON fetches rawURL with query params and decodes the body into out.
// 429 and 5xx responses and transport errors are retried.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	target := rawURL
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	return retry.Do(ctx, c.policy, "GET "+rawURL, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("%s: %s", rawURL, resp.Status)
		case resp.StatusCode != http.StatusOK:
			io.Copy(io.Discard, resp.Body)
			return retry.Permanent(fmt.Errorf("%w: %s: %s", ErrUnexpectedStatus, rawURL, resp.Status))
		}

		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("decode %s: %w", rawURL, err))
		}
		return nil
	})
}
