package resilience

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketcore/aggregator/internal/domain"
)

// Engine composes the circuit breaker, rate limiter, budget guard, retry
// loop, and metrics into the single call surface the orchestrator uses per
// provider attempt.
type Engine struct {
	circuits  *CircuitManager
	metrics   *MetricsRegistry
	limiter   *RateLimiterManager
	budget    *BudgetGuard
	retryCfg  RetryConfig
}

func NewEngine(retryCfg RetryConfig) *Engine {
	return &Engine{
		circuits: NewCircuitManager(),
		metrics:  NewMetricsRegistry(),
		limiter:  NewRateLimiterManager(),
		budget:   NewBudgetGuard(0.8, 0),
		retryCfg: retryCfg,
	}
}

func (e *Engine) Metrics() *MetricsRegistry    { return e.metrics }
func (e *Engine) Circuits() *CircuitManager    { return e.circuits }
func (e *Engine) Limiter() *RateLimiterManager { return e.limiter }
func (e *Engine) Budget() *BudgetGuard         { return e.budget }

// Configure applies a per-provider circuit configuration, used by
// internal/config when loading provider tunables.
func (e *Engine) Configure(provider string, cfg CircuitConfig) {
	e.circuits.Configure(provider, cfg)
}

// ConfigureRate installs a provider's token-bucket rate limit, used by
// internal/config when loading the rps/burst pair from providers.yaml.
func (e *Engine) ConfigureRate(provider string, rps float64, burst int) {
	e.limiter.Configure(provider, rps, burst)
}

// ConfigureBudget installs a provider's daily call budget, used by
// internal/config when loading daily_budget from providers.yaml.
func (e *Engine) ConfigureBudget(provider string, dailyLimit int) {
	e.budget.Configure(provider, dailyLimit)
}

// ConfigureBudgetPolicy replaces the warn threshold and UTC reset hour
// every provider's budget uses, from providers.yaml's global budget block.
// Existing per-provider limits are re-applied by the caller afterward.
func (e *Engine) ConfigureBudgetPolicy(warnThreshold float64, resetHour int) {
	e.budget = NewBudgetGuard(warnThreshold, resetHour)
}

// Do waits for rate-limit headroom, checks the daily budget, then executes
// fn under circuit-breaking and retry, recording latency and
// success/failure metrics around the whole attempt (including retries).
func (e *Engine) Do(ctx context.Context, provider string, fn func(ctx context.Context) (any, error)) (any, error) {
	if err := e.limiter.Wait(ctx, provider); err != nil {
		return nil, domain.NewError(domain.ErrCancelled, provider, "rate limit wait cancelled", err)
	}

	ok, crossedWarn := e.budget.Allow(provider)
	if crossedWarn {
		log.Warn().Str("provider", provider).Msg("daily call budget crossed warn threshold")
	}
	if !ok {
		err := domain.NewError(domain.ErrBudgetExceeded, provider, "daily call budget exhausted", nil)
		e.metrics.RecordFailure(provider, domain.ErrBudgetExceeded)
		return nil, err
	}

	start := time.Now()
	result, err := e.circuits.Call(ctx, provider, e.retryCfg, fn)
	latency := time.Since(start)

	if err != nil {
		e.metrics.RecordFailure(provider, domain.KindOf(err))
		return nil, err
	}
	e.metrics.RecordSuccess(provider, latency)
	return result, nil
}

// IsOpen reports whether the provider's circuit currently rejects calls,
// used by the router's eligibility filter.
func (e *Engine) IsOpen(provider string) bool {
	return e.circuits.IsOpen(provider)
}
