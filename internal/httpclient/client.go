// Package httpclient is the shared outbound HTTP client: fixed user agent,
// timeouts, bounded retries with exponential backoff and charset decoding.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"
)

const maxBodyBytes = 10 << 20

// StatusError reports a non-2xx response that survived all retries.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Client struct {
	http      *http.Client
	userAgent string
	attempts  int
	minDelay  time.Duration
	maxDelay  time.Duration
	log       *slog.Logger
}

type Option func(*Client)

// WithBackoff bounds the delay between attempts.
func WithBackoff(lo, hi time.Duration) Option {
	return func(c *Client) {
		c.minDelay, c.maxDelay = lo, hi
	}
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(timeout time.Duration, userAgent string, attempts int, logger *slog.Logger, opts ...Option) *Client {
	if attempts <= 0 {
		attempts = 3
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Client{
		http:      &http.Client{Timeout: timeout},
		userAgent: userAgent,
		attempts:  attempts,
		minDelay:  time.Second,
		maxDelay:  8 * time.Second,
		log:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserAgent is the agent string sent with every request.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// Get performs a GET, retrying transport errors, 429 and 5xx responses. Other
// statuses are returned as-is without error.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		resp, err := c.do(ctx, url, header)
		switch {
		case err != nil:
			lastErr = err
		case retryable(resp.StatusCode):
			lastErr = &StatusError{URL: url, StatusCode: resp.StatusCode}
			if attempt == c.attempts {
				return resp, nil
			}
		default:
			return resp, nil
		}

		if attempt == c.attempts {
			break
		}
		delay := c.backoff(attempt)
		c.log.Debug("retrying request", "url", url, "attempt", attempt, "retry_in", delay, "err", lastErr)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", c.attempts, lastErr)
}

func (c *Client) do(ctx context.Context, url string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, text/*;q=0.9")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.minDelay << (attempt - 1)
	if d > c.maxDelay || d <= 0 {
		d = c.maxDelay
	}
	return d
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// GetText fetches url and decodes the body to UTF-8 using the declared or
// sniffed charset. Non-2xx responses are a *StatusError.
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	resp, err := c.Get(ctx, url, nil)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	r, err := charset.NewReader(bytes.NewReader(resp.Body), resp.Header.Get("Content-Type"))
	if err != nil {
		return string(resp.Body), nil
	}
	text, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", url, err)
	}
	return string(text), nil
}

// GetJSON fetches url and decodes a JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, out any) error {
	resp, err := c.Get(ctx, url, header)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
