package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/marketcore/aggregator/internal/domain"
)

// RetryConfig implements spec.md §4.2's exponential-backoff-with-jitter
// formula: d_k = min(d_max, d_base * 2^(k-1) * (1 + U(-j, j))).
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction, e.g. 0.25
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.25,
	}
}

func (c RetryConfig) delay(attempt int, rng *rand.Rand) time.Duration {
	base := float64(c.BaseDelay) * math.Pow(2, float64(attempt-1))
	if base > float64(c.MaxDelay) {
		base = float64(c.MaxDelay)
	}
	jitterFactor := 1 + (rng.Float64()*2-1)*c.Jitter
	d := time.Duration(base * jitterFactor)
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Call executes fn through the provider's circuit breaker with retry on
// retryable AggregatorError kinds (spec.md §4.2). Each attempt passes
// through the breaker separately and reports its own success/failure to
// it, so consecutive-failure counting reflects real upstream behavior, not
// retry-loop bookkeeping.
func (m *CircuitManager) Call(ctx context.Context, provider string, retryCfg RetryConfig, fn func(ctx context.Context) (any, error)) (any, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= retryCfg.MaxAttempts; attempt++ {
		done, err := m.Allow(provider)
		if err != nil {
			return nil, domain.NewError(domain.ErrCircuitOpen, provider, "circuit open", err)
		}

		result, callErr := fn(ctx)
		done(callErr == nil)
		if callErr == nil {
			return result, nil
		}
		lastErr = callErr

		kind := domain.KindOf(callErr)
		if !kind.Retryable() {
			return nil, callErr
		}
		if attempt == retryCfg.MaxAttempts {
			break
		}

		d := retryCfg.delay(attempt, rng)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, domain.NewError(domain.ErrCancelled, provider, "context cancelled during backoff", ctx.Err())
		}
	}
	return nil, lastErr
}
