// Package health runs a background probe loop over registered adapters
// and builds the aggregate health report the admin surface exposes,
// grounded on the teacher's HealthHandler/HealthResponse shape
// (internal/interfaces/http/health.go) but driven by the resilience
// engine's real metrics rather than a static ProviderHealth struct.
package health

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketcore/aggregator/internal/domain"
	"github.com/marketcore/aggregator/internal/provider"
	"github.com/marketcore/aggregator/internal/resilience"
)

// Status is one provider's row in the aggregate report.
type Status struct {
	Provider     string    `json:"provider"`
	Healthy      bool      `json:"healthy"`
	CircuitOpen  bool      `json:"circuit_open"`
	SuccessRate  float64   `json:"success_rate"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	LastProbeAt  time.Time `json:"last_probe_at"`
	LastError    string    `json:"last_error,omitempty"`

	// Budget and rate-limit fields are zero-valued when the provider has
	// no configured budget/limiter.
	BudgetLimit     int       `json:"budget_limit,omitempty"`
	BudgetUsed      int       `json:"budget_used,omitempty"`
	BudgetResetAt   time.Time `json:"budget_reset_at,omitempty"`
	BudgetExhausted bool      `json:"budget_exhausted,omitempty"`
	RateLimitRPS    float64   `json:"rate_limit_rps,omitempty"`
	RateLimitTokens float64   `json:"rate_limit_tokens_available,omitempty"`
}

// Report is the full aggregate the admin /healthz route and the health
// CLI subcommand both serve.
type Report struct {
	Status       string            `json:"status"` // healthy, degraded, unhealthy
	Timestamp    time.Time         `json:"timestamp"`
	Uptime       time.Duration     `json:"uptime"`
	Providers    []Status          `json:"providers"`
	NumGoroutine int               `json:"num_goroutines"`
}

// AlertFunc is invoked on a circuit Open transition or a success-rate
// threshold breach, letting the caller wire in paging/Slack/webhooks
// without this package depending on any specific transport.
type AlertFunc func(provider string, reason string)

// Monitor runs the periodic probe loop.
type Monitor struct {
	registry *provider.Registry
	engine   *resilience.Engine
	interval time.Duration
	startedAt time.Time

	mu       sync.RWMutex
	lastErrs map[string]string
	alert    AlertFunc
	wasOpen  map[string]bool

	stop chan struct{}
	once sync.Once
}

// NewMonitor builds a Monitor with the given probe interval; a non-positive
// interval falls back to 60s. The HEALTH_PROBE_INTERVAL_SECS environment
// variable is not read.
func NewMonitor(registry *provider.Registry, engine *resilience.Engine, interval time.Duration, alert AlertFunc) *Monitor {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Monitor{
		registry: registry,
		engine:   engine,
		interval: interval,
		startedAt: time.Now(),
		lastErrs: make(map[string]string),
		wasOpen:  make(map[string]bool),
		alert:    alert,
		stop:     make(chan struct{}),
	}
}

// Start launches the background probe loop. It returns immediately; the
// loop runs until the context is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.probeOnce()
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop ends the probe loop.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Monitor) probeOnce() {
	for _, name := range m.registry.Names() {
		open := m.engine.IsOpen(name)
		m.mu.Lock()
		wasOpen := m.wasOpen[name]
		m.wasOpen[name] = open
		m.mu.Unlock()

		if open && !wasOpen && m.alert != nil {
			m.alert(name, "circuit opened")
		}

		snap := m.engine.Metrics().Snapshot(name)
		if snap.Total > 10 && snap.SuccessRate < 0.5 && m.alert != nil {
			m.alert(name, "success rate below 50%")
		}
	}
	log.Debug().Msg("health probe cycle complete")
}

// RecordError lets adapters report a specific last error for observability
// without coupling this package to the provider package's error type.
func (m *Monitor) RecordError(providerName string, err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErrs[providerName] = string(domain.KindOf(err))
}

// Report builds the current aggregate health snapshot.
func (m *Monitor) Report() Report {
	names := m.registry.Names()
	statuses := make([]Status, 0, len(names))

	rateStats := make(map[string]resilience.Stat, len(names))
	for _, s := range m.engine.Limiter().Stats() {
		rateStats[s.Provider] = s
	}

	healthyCount := 0
	for _, name := range names {
		snap := m.engine.Metrics().Snapshot(name)
		open := m.engine.IsOpen(name)
		healthy := !open && (snap.Total == 0 || snap.SuccessRate >= 0.5)
		if healthy {
			healthyCount++
		}

		m.mu.RLock()
		lastErr := m.lastErrs[name]
		m.mu.RUnlock()

		st := Status{
			Provider:     name,
			Healthy:      healthy,
			CircuitOpen:  open,
			SuccessRate:  snap.SuccessRate,
			AvgLatencyMS: snap.AvgLatencyMS,
			LastProbeAt:  time.Now(),
			LastError:    lastErr,
		}

		if bs, ok := m.engine.Budget().Status(name); ok {
			st.BudgetLimit = bs.Limit
			st.BudgetUsed = bs.Used
			st.BudgetResetAt = bs.ResetAt
			st.BudgetExhausted = bs.Exhausted
		}
		if rs, ok := rateStats[name]; ok {
			st.RateLimitRPS = rs.RPS
			st.RateLimitTokens = rs.TokensAvailable
		}

		statuses = append(statuses, st)
	}

	overall := "healthy"
	switch {
	case len(names) == 0:
		overall = "unhealthy"
	case healthyCount == 0:
		overall = "unhealthy"
	case healthyCount < len(names):
		overall = "degraded"
	}

	return Report{
		Status:       overall,
		Timestamp:    time.Now(),
		Uptime:       time.Since(m.startedAt),
		Providers:    statuses,
		NumGoroutine: runtime.NumGoroutine(),
	}
}
