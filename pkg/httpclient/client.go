// Package httpclient provides a retrying HTTP client for the external
// embedding and generation APIs. Retries honor Retry-After and back
// off exponentially otherwise.
package httpclient

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

type Client struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:     &http.Client{Timeout: 60 * time.Second},
		maxRetries: 3,
		baseDelay:  time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// retryableStatus reports whether the status is worth retrying.
func retryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return statusCode >= 500
}

// Do executes the request, retrying transport errors and retryable
// statuses. The request must carry GetBody so the body can be rebuilt
// per attempt; requests built from a bytes.Reader have it set.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
				}
				req.Body = body
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			lastStatus = 0
		} else if !retryableStatus(resp.StatusCode) {
			return resp, nil
		} else {
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			lastStatus = resp.StatusCode
		}

		if attempt >= c.maxRetries {
			break
		}

		delay := c.delay(attempt, resp)
		if resp != nil {
			resp.Body.Close()
		}
		c.logger.Warn("retrying HTTP request",
			"url", req.URL.String(), "status", lastStatus, "delay", delay,
			"attempt", attempt+1, "max_attempts", c.maxRetries+1)

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
	}

	return nil, &RetryableError{
		StatusCode: lastStatus,
		Message:    fmt.Sprintf("max HTTP retries (%d) exceeded", c.maxRetries),
		Err:        lastErr,
	}
}

// delay picks the wait before the next attempt: the server's
// Retry-After when present, exponential backoff otherwise.
func (c *Client) delay(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if after := parseRetryAfter(resp.Header); after > 0 {
			return after
		}
	}
	return c.baseDelay << attempt
}

// parseRetryAfter reads the Retry-After header, in either delta-seconds
// or HTTP-date form.
func parseRetryAfter(header http.Header) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if delay := time.Until(at); delay > 0 {
			return delay
		}
	}
	return 0
}
