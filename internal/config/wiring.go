package config

import (
	"time"

	"github.com/marketcore/aggregator/internal/resilience"
)

// ToCircuitConfig translates this provider's YAML-sourced circuit
// settings into the resilience engine's CircuitConfig, the bridge between
// the config file format (teacher-grounded, providers.go) and the
// gobreaker-backed engine (internal/resilience/circuit.go).
func (p ProviderConfig) ToCircuitConfig() resilience.CircuitConfig {
	cfg := resilience.DefaultCircuitConfig()
	if p.Circuit.FailureThreshold > 0 {
		cfg.ConsecutiveFailures = uint32(p.Circuit.FailureThreshold)
	}
	if p.Circuit.TimeoutMS > 0 {
		cfg.Timeout = time.Duration(p.Circuit.TimeoutMS) * time.Millisecond
	}
	return cfg
}

// ToRetryConfig translates the backoff settings into resilience.RetryConfig.
func (p ProviderConfig) ToRetryConfig() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	if p.BackoffMS.Base > 0 {
		cfg.BaseDelay = time.Duration(p.BackoffMS.Base) * time.Millisecond
	}
	if p.BackoffMS.Max > 0 {
		cfg.MaxDelay = time.Duration(p.BackoffMS.Max) * time.Millisecond
	}
	return cfg
}

// ApplyTo configures every enabled provider's circuit breaker, rate limit,
// and daily budget on the engine in one pass; it is called once at startup.
func (c *ProvidersConfig) ApplyTo(engine *resilience.Engine) {
	engine.ConfigureBudgetPolicy(c.Budget.WarnThreshold, c.Budget.ResetHour)
	for name, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		engine.Configure(name, p.ToCircuitConfig())
		engine.ConfigureRate(name, float64(p.RPS), p.Burst)
		engine.ConfigureBudget(name, p.DailyBudget)
	}
}
