package resilience

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterManager holds one token-bucket limiter per provider, adapted
// from the teacher's per-host rate limiter (internal/net/ratelimit/limiter.go)
// but keyed by provider name instead of host, matching the rps/burst pair
// spec.md §4.1 attaches to each provider's config.
type RateLimiterManager struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

func NewRateLimiterManager() *RateLimiterManager {
	return &RateLimiterManager{limiters: make(map[string]*rate.Limiter)}
}

// Configure installs or replaces a provider's limiter. rps <= 0 means
// unlimited (no limiter is created, Wait becomes a no-op).
func (m *RateLimiterManager) Configure(provider string, rps float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rps <= 0 {
		delete(m.limiters, provider)
		return
	}
	if burst <= 0 {
		burst = 1
	}
	m.limiters[provider] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Wait blocks until a token is available for provider, or ctx is cancelled.
// A provider with no configured limiter passes through immediately.
func (m *RateLimiterManager) Wait(ctx context.Context, provider string) error {
	m.mu.RLock()
	limiter, ok := m.limiters[provider]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}

// Stat is a point-in-time read of one provider's limiter, exposed for the
// admin/health surface.
type Stat struct {
	Provider        string
	RPS             float64
	Burst           int
	TokensAvailable float64
}

func (m *RateLimiterManager) Stats() []Stat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make([]Stat, 0, len(m.limiters))
	for provider, limiter := range m.limiters {
		stats = append(stats, Stat{
			Provider:        provider,
			RPS:             float64(limiter.Limit()),
			Burst:           limiter.Burst(),
			TokensAvailable: limiter.Tokens(),
		})
	}
	return stats
}
