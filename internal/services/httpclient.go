package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trobanga/rythmiq/internal/lib"
	"github.com/trobanga/rythmiq/internal/models"
)

// ErrDownloadTooLarge is returned when a response body exceeds the size limit
var ErrDownloadTooLarge = errors.New("download exceeds size limit")

// HTTPClient wraps the standard http.Client with retry logic for transient failures
type HTTPClient struct {
	client *http.Client
	retry  models.RetryConfig
	logger *lib.Logger
}

// NewHTTPClient creates an HTTP client with timeout and retry configuration
func NewHTTPClient(timeout time.Duration, retry models.RetryConfig, logger *lib.Logger) *HTTPClient {
	if logger == nil {
		logger = lib.NopLogger()
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &HTTPClient{
		client: &http.Client{Timeout: timeout},
		retry:  retry,
		logger: logger,
	}
}

// isTransientStatus reports whether a status code is worth another attempt
func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Get performs a GET request, retrying network errors and 429/5xx responses
// with exponential backoff. Other error statuses are returned to the caller.
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		case isTransientStatus(resp.StatusCode):
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			_ = resp.Body.Close()
		default:
			c.logger.Debug("HTTP response", "host", req.URL.Host, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
			return resp, nil
		}

		if attempt == c.retry.MaxAttempts {
			break
		}
		delay := lib.CalculateBackoff(attempt, c.retry.InitialBackoffMs, c.retry.MaxBackoffMs)
		lib.LogRetry(c.logger, req.URL.Host, attempt, c.retry.MaxAttempts, delay, lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

// Download streams the body of url into w and returns the number of bytes written.
// A positive maxBytes caps the body size.
func (c *HTTPClient) Download(ctx context.Context, url string, w io.Writer, maxBytes int64) (int64, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return 0, fmt.Errorf("%w: %d bytes", ErrDownloadTooLarge, resp.ContentLength)
	}

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}
	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("failed to download: %w", err)
	}
	if maxBytes > 0 && n > maxBytes {
		return n, fmt.Errorf("%w: more than %d bytes", ErrDownloadTooLarge, maxBytes)
	}
	return n, nil
}
