package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marketcore/aggregator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Jitter: 0.1}
}

func TestEngineDoRetriesRetryableErrors(t *testing.T) {
	e := NewEngine(fastRetryConfig())
	attempts := 0
	result, err := e.Do(context.Background(), "test-provider", func(ctx context.Context) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, domain.NewError(domain.ErrTransient, "test-provider", "flaky", nil)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestEngineDoDoesNotRetryPermanentErrors(t *testing.T) {
	e := NewEngine(fastRetryConfig())
	attempts := 0
	_, err := e.Do(context.Background(), "test-provider", func(ctx context.Context) (any, error) {
		attempts++
		return nil, domain.NewError(domain.ErrAuthInvalid, "test-provider", "bad key", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, domain.ErrAuthInvalid, domain.KindOf(err))
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	m := NewCircuitManager()
	m.Configure("flaky", CircuitConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             time.Minute,
		ErrorRateThreshold:  50,
		ConsecutiveFailures: 2,
		MinRequests:         100, // disable the rate-based trip for this test
	})

	for i := 0; i < 2; i++ {
		done, err := m.Allow("flaky")
		require.NoError(t, err)
		done(false)
	}

	assert.True(t, m.IsOpen("flaky"))
	_, err := m.Allow("flaky")
	assert.Error(t, err)
}

func TestEngineDoPropagatesCircuitOpen(t *testing.T) {
	e := NewEngine(fastRetryConfig())
	e.Configure("always-down", CircuitConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             time.Minute,
		ErrorRateThreshold:  50,
		ConsecutiveFailures: 1,
		MinRequests:         100,
	})

	_, err := e.Do(context.Background(), "always-down", func(ctx context.Context) (any, error) {
		return nil, domain.NewError(domain.ErrTransient, "always-down", "down", nil)
	})
	require.Error(t, err)
	assert.True(t, e.IsOpen("always-down"))

	_, err = e.Do(context.Background(), "always-down", func(ctx context.Context) (any, error) {
		return "should not run", nil
	})
	require.Error(t, err)
	assert.Equal(t, domain.ErrCircuitOpen, domain.KindOf(err))
}

func TestEngineDoRespectsContextCancellationDuringBackoff(t *testing.T) {
	e := NewEngine(RetryConfig{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Jitter: 0})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := e.Do(ctx, "slow-provider", func(ctx context.Context) (any, error) {
		return nil, domain.NewError(domain.ErrTransient, "slow-provider", "flaky", nil)
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || domain.KindOf(err) == domain.ErrCancelled)
}
