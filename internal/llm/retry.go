package llm

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// RetryConfig holds retry configuration. MaxRetries of zero sends every
// request exactly once.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (r RetryConfig) normalized() RetryConfig {
	if r.MaxRetries < 0 {
		r.MaxRetries = 0
	}
	if r.InitialBackoff <= 0 {
		r.InitialBackoff = initialBackoff
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = maxBackoff
	}
	return r
}

// shouldRetry determines if a status is retryable
func shouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	default:
		return false
	}
}

// calculateBackoff calculates exponential backoff duration
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	// Exponential backoff: initialBackoff * 2^attempt
	backoff := float64(config.InitialBackoff) * math.Pow(2, float64(attempt))

	if backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}

	return time.Duration(backoff)
}

// retryWithBackoff wraps an HTTP request with rate limiting and retry
// logic. The last response is returned as-is once retries run out, so the
// caller sees the real status.
func (c *Client) retryWithBackoff(ctx context.Context, reqFunc func() (*http.Response, error)) (*http.Response, error) {
	config := c.retry

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := reqFunc()
		last := attempt >= config.MaxRetries

		var lastErr error
		switch {
		case err != nil:
			if last || ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
		case !shouldRetry(resp.StatusCode) || last:
			return resp, nil
		default:
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			resp.Body.Close()
		}

		backoff := calculateBackoff(attempt, config)
		c.log.Warn().
			Err(lastErr).
			Int("attempt", attempt+1).
			Int("max_retries", config.MaxRetries).
			Dur("backoff", backoff).
			Msg("request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}
