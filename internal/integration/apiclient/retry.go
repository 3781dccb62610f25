package apiclient

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/tombee/areahub/internal/platform"
)

// RetryConfig configures retries of idempotent requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (default: 3)
	MaxAttempts int

	// InitialBackoff is the initial backoff duration (default: 500ms)
	InitialBackoff time.Duration

	// MaxBackoff caps every wait, including Retry-After hints (default: 10s)
	MaxBackoff time.Duration

	// BackoffFactor is the exponential backoff multiplier (default: 2.0)
	BackoffFactor float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Validate checks if the retry configuration is valid.
func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.InitialBackoff < 0 {
		return fmt.Errorf("initial_backoff must be non-negative, got %v", c.InitialBackoff)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff (%v) must be >= initial_backoff (%v)", c.MaxBackoff, c.InitialBackoff)
	}
	if c.BackoffFactor < 1.0 {
		return fmt.Errorf("backoff_factor must be >= 1.0, got %f", c.BackoffFactor)
	}
	return nil
}

// attemptFunc performs one attempt and returns the server's Retry-After hint
// alongside any error.
type attemptFunc func(ctx context.Context) (time.Duration, error)

// Execute runs fn until it succeeds, returns a non-retryable error, or
// attempts run out. Only *platform.Error values of a retryable kind are
// retried. Waits stop early when ctx is done.
func (c *RetryConfig) Execute(ctx context.Context, fn attemptFunc) error {
	var lastErr error
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		var retryAfter time.Duration
		retryAfter, lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= c.MaxAttempts || !retryable(lastErr) {
			return lastErr
		}

		select {
		case <-time.After(c.backoff(attempt, retryAfter)):
		case <-ctx.Done():
			return platform.Wrap(platform.KindTransport, ctx.Err(), "request cancelled during retry backoff")
		}
	}
	return lastErr
}

func retryable(err error) bool {
	pe, ok := err.(*platform.Error)
	return ok && pe.Kind == platform.KindTransport
}

// backoff returns min(InitialBackoff * BackoffFactor^(attempt-1), MaxBackoff),
// raised to retryAfter when the server asked for longer, plus 0-100ms jitter.
func (c *RetryConfig) backoff(attempt int, retryAfter time.Duration) time.Duration {
	delay := float64(c.InitialBackoff)
	for i := 1; i < attempt; i++ {
		delay *= c.BackoffFactor
	}
	if delay > float64(c.MaxBackoff) {
		delay = float64(c.MaxBackoff)
	}
	d := time.Duration(delay)
	if retryAfter > d {
		d = retryAfter
	}
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d + time.Duration(rand.Int63n(101))*time.Millisecond
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}
	at, err := http.ParseTime(v)
	if err != nil {
		return 0
	}
	if d := time.Until(at); d > 0 {
		return d
	}
	return 0
}
