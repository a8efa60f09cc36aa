package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

const maxRetries = 3

// backoff is the wait before retry attempt n (n >= 1): n² seconds plus up to
// 50% jitter. Tests shrink it.
var backoff = func(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * time.Second
	return base + time.Duration(rand.Int64N(int64(base/2+1)))
}

// statusError is a non-2xx answer from an upstream API.
type statusError struct {
	statusCode int
	body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

func retryable(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// doWithRetry executes a request built by buildReq, retrying network
// failures, 5xx and 429 with backoff. buildReq runs once per attempt so
// request bodies are fresh.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt)
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			logger.Warn("request failed", "url", req.URL.Path, "err", err)
			continue
		}

		if retryable(resp.StatusCode) {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = &statusError{statusCode: resp.StatusCode, body: string(body)}
			logger.Warn("server error", "url", req.URL.Path, "status", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("giving up after %d retries: %w", maxRetries, lastErr)
}

// checkStatus turns a non-2xx response into a statusError and closes it.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return &statusError{statusCode: resp.StatusCode, body: string(body)}
}
