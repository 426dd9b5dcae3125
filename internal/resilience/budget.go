package resilience

import (
	"sync"
	"time"
)

// BudgetGuard enforces each provider's daily call budget, adapted from the
// teacher's multi-window budget tracker
// (internal/infrastructure/providers/budgets.go) but collapsed to the
// single daily window spec.md §4.1's ProviderConfig.DailyBudget names,
// resetting at the configured UTC hour rather than a rolling three-window
// scheme the spec doesn't call for.
type BudgetGuard struct {
	mu            sync.Mutex
	budgets       map[string]*providerBudget
	warnThreshold float64
	resetHour     int
}

type providerBudget struct {
	limit     int
	used      int
	resetAt   time.Time
	warnedAt  time.Time
}

func NewBudgetGuard(warnThreshold float64, resetHour int) *BudgetGuard {
	if warnThreshold <= 0 {
		warnThreshold = 0.8
	}
	return &BudgetGuard{
		budgets:       make(map[string]*providerBudget),
		warnThreshold: warnThreshold,
		resetHour:     resetHour,
	}
}

// Configure sets or replaces a provider's daily limit. limit <= 0 means
// unbounded (no budget is tracked).
func (g *BudgetGuard) Configure(provider string, limit int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if limit <= 0 {
		delete(g.budgets, provider)
		return
	}
	g.budgets[provider] = &providerBudget{
		limit:   limit,
		resetAt: g.nextReset(time.Now()),
	}
}

func (g *BudgetGuard) nextReset(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	reset := time.Date(y, m, d, g.resetHour, 0, 0, 0, time.UTC)
	if !reset.After(now.UTC()) {
		reset = reset.Add(24 * time.Hour)
	}
	return reset
}

// Allow reports whether provider has budget remaining for one more call; if
// so it consumes one unit. A provider with no configured budget always
// passes. The second return value is true when usage just crossed the warn
// threshold, letting the caller raise a health alert exactly once per day.
func (g *BudgetGuard) Allow(provider string) (ok bool, crossedWarn bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, tracked := g.budgets[provider]
	if !tracked {
		return true, false
	}

	now := time.Now()
	if now.After(b.resetAt) {
		b.used = 0
		b.resetAt = g.nextReset(now)
		b.warnedAt = time.Time{}
	}

	if b.used >= b.limit {
		return false, false
	}
	b.used++

	ratio := float64(b.used) / float64(b.limit)
	if ratio >= g.warnThreshold && b.warnedAt.IsZero() {
		b.warnedAt = now
		return true, true
	}
	return true, false
}

// Status reports a provider's current usage for the health/admin surface.
type BudgetStatus struct {
	Provider   string
	Limit      int
	Used       int
	ResetAt    time.Time
	Exhausted  bool
}

func (g *BudgetGuard) Status(provider string) (BudgetStatus, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.budgets[provider]
	if !ok {
		return BudgetStatus{}, false
	}
	return BudgetStatus{
		Provider:  provider,
		Limit:     b.limit,
		Used:      b.used,
		ResetAt:   b.resetAt,
		Exhausted: b.used >= b.limit,
	}, true
}
