// Package retry wraps a single provider call in exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy configures retry behavior with exponential backoff
type Policy struct {
	Name        string           // used in log lines
	MaxRetries  int              // retries after the first attempt
	BaseDelay   time.Duration    // delay before the first retry
	MaxDelay    time.Duration    // cap for any single delay
	Multiplier  float64          // growth factor per attempt
	Jitter      bool             // spread delays by up to 10%
	ShouldRetry func(error) bool // nil retries every error
}

// Outcome describes what happened across all attempts
type Outcome struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
	Success       bool
	Reasons       []string
}

// DefaultPolicy returns a policy with sensible defaults
func DefaultPolicy() Policy {
	return Policy{
		Name:        "operation",
		MaxRetries:  3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
		ShouldRetry: IsTransient,
	}
}

// CompletionPolicy is tuned for completion provider calls, which are slow
// and rate limited.
func CompletionPolicy() Policy {
	return Policy{
		Name:        "completion",
		MaxRetries:  3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.5,
		Jitter:      true,
		ShouldRetry: IsTransient,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, runs out of
// retries, or ctx is done.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) Outcome {
	start := time.Now()
	out := Outcome{}

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		out.Attempts = attempt + 1

		err := op(ctx)
		if err == nil {
			out.Success = true
			out.TotalDuration = time.Since(start)
			if attempt > 0 {
				log.Info().
					Str("operation", p.Name).
					Int("retries", attempt).
					Dur("elapsed", out.TotalDuration).
					Msg("Operation succeeded after retries")
			}
			return out
		}

		out.LastError = err
		out.Reasons = append(out.Reasons, err.Error())

		if attempt >= p.MaxRetries || (p.ShouldRetry != nil && !p.ShouldRetry(err)) {
			out.TotalDuration = time.Since(start)
			return out
		}

		if ctx.Err() != nil {
			out.LastError = ctx.Err()
			out.TotalDuration = time.Since(start)
			return out
		}

		delay := Backoff(p, attempt)
		log.Warn().
			Err(err).
			Str("operation", p.Name).
			Int("attempt", attempt+1).
			Int("max_attempts", p.MaxRetries+1).
			Dur("delay", delay).
			Msg("Operation failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			out.LastError = ctx.Err()
			out.TotalDuration = time.Since(start)
			return out
		case <-timer.C:
		}
	}

	out.TotalDuration = time.Since(start)
	return out
}

// Backoff is the delay before retry number attempt+1
func Backoff(p Policy, attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter {
		spread := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * spread
		if delay < 0 {
			delay = float64(p.BaseDelay)
		}
	}

	return time.Duration(delay)
}

var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"connection timeout",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"dns lookup failed",
	"no such host",
	"network unreachable",
	"broken pipe",
}

// IsTransient reports whether err looks like a network or capacity problem
// worth retrying. Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
