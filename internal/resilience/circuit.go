// Package resilience wraps every outbound provider call in a circuit
// breaker, retry-with-jitter loop, and latency/success metrics, grounded on
// the teacher's CircuitBreakerManager (internal/infrastructure/providers/circuitbreakers.go)
// and ProviderGuard (internal/providers/guards/guard.go).
package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// CircuitConfig mirrors the teacher's CircuitBreakerConfig, retargeted to
// spec.md §4.2's names: trip on error-rate threshold (sampled over a
// minimum request window) or consecutive-failure count, single-probe
// half-open recovery.
type CircuitConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ErrorRateThreshold  float64 // percent, e.g. 50.0
	ConsecutiveFailures uint32
	MinRequests         uint32
}

// DefaultCircuitConfig trips after 5 consecutive failures or a 50% error
// rate once 20 requests are counted in the 60s window, and waits 30s
// before half-opening. Half-open admits a single probe request, and one
// successful probe closes the circuit.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		MaxRequests:         1, // single probe request while half-open
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ErrorRateThreshold:  50.0,
		ConsecutiveFailures: 5,
		MinRequests:         20,
	}
}

// CircuitManager owns one gobreaker.TwoStepCircuitBreaker per provider.
// TwoStep is used instead of the one-shot breaker so the caller can report
// success/failure after the real HTTP round trip rather than from inside
// a closure, which keeps it composable with the retry loop in retry.go.
type CircuitManager struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.TwoStepCircuitBreaker
	configs  map[string]CircuitConfig
}

func NewCircuitManager() *CircuitManager {
	return &CircuitManager{
		breakers: make(map[string]*gobreaker.TwoStepCircuitBreaker),
		configs:  make(map[string]CircuitConfig),
	}
}

// Configure registers (or reconfigures) the breaker for a provider. Safe to
// call again after a hot config reload; in-flight calls keep using the
// breaker instance they already obtained.
func (m *CircuitManager) Configure(provider string, cfg CircuitConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.configs[provider] = cfg
	settings := gobreaker.Settings{
		Name:        provider,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: tripCondition(cfg),
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Str("provider", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit state change")
		},
	}
	m.breakers[provider] = gobreaker.NewTwoStepCircuitBreaker(settings)
}

func tripCondition(cfg CircuitConfig) func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
			return true
		}
		if counts.Requests >= cfg.MinRequests {
			errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			if errorRate >= cfg.ErrorRateThreshold {
				return true
			}
		}
		return false
	}
}

// breaker returns the provider's breaker, configuring it with defaults on
// first use so callers never have to sequence Configure before Allow.
func (m *CircuitManager) breaker(provider string) *gobreaker.TwoStepCircuitBreaker {
	m.mu.RLock()
	b, ok := m.breakers[provider]
	m.mu.RUnlock()
	if ok {
		return b
	}
	m.Configure(provider, DefaultCircuitConfig())
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[provider]
}

// Allow reports whether a call may proceed and returns the done callback
// to report its outcome, per gobreaker's two-step protocol. err is non-nil
// (ErrOpenState or ErrTooManyRequests) when the breaker rejects the call.
func (m *CircuitManager) Allow(provider string) (done func(success bool), err error) {
	return m.breaker(provider).Allow()
}

// State reports the current breaker state for a provider, used by the
// router's eligibility filter and the health report.
func (m *CircuitManager) State(provider string) gobreaker.State {
	return m.breaker(provider).State()
}

// IsOpen is a convenience wrapper for the router's eligibility check.
func (m *CircuitManager) IsOpen(provider string) bool {
	return m.State(provider) == gobreaker.StateOpen
}

// Counts exposes the breaker's rolling window counters for the admin
// surface and Prometheus exposition.
func (m *CircuitManager) Counts(provider string) gobreaker.Counts {
	return m.breaker(provider).Counts()
}

func (m *CircuitManager) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("CircuitManager{providers=%d}", len(m.breakers))
}
