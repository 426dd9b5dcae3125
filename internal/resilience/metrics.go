package resilience

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marketcore/aggregator/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const latencyRingSize = 256

// providerMetrics is the per-provider atomic counter set, grounded on the
// teacher's Telemetry (internal/providers/guards/telemetry.go) but
// widened with a bounded latency ring for real P95 computation instead of
// a fixed ten-bucket approximation.
type providerMetrics struct {
	total         int64
	successes     int64
	failures      int64
	lastSuccessNS int64
	lastFailureNS int64
	costPerCall   float64

	mu         sync.Mutex
	latencyRing [latencyRingSize]int64
	ringPos     int
	ringFilled  bool
}

// MetricsRegistry owns one providerMetrics per provider and exposes both a
// snapshot API (for the router and health report) and Prometheus
// collectors, which are registered only when a caller passes them to a
// Prometheus registry; the admin server exposes no /metrics route.
type MetricsRegistry struct {
	mu    sync.RWMutex
	byKey map[string]*providerMetrics

	requestsTotal  *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
	latencySeconds *prometheus.HistogramVec
}

func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		byKey: make(map[string]*providerMetrics),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aggregator",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total provider requests attempted.",
		}, []string{"provider"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aggregator",
			Subsystem: "provider",
			Name:      "failures_total",
			Help:      "Total provider request failures.",
		}, []string{"provider"}),
		latencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aggregator",
			Subsystem: "provider",
			Name:      "latency_seconds",
			Help:      "Provider round-trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
}

// MustRegister registers this registry's collectors with r.
func (m *MetricsRegistry) MustRegister(r prometheus.Registerer) {
	r.MustRegister(m.requestsTotal, m.failuresTotal, m.latencySeconds)
}

func (m *MetricsRegistry) entry(provider string) *providerMetrics {
	m.mu.RLock()
	pm, ok := m.byKey[provider]
	m.mu.RUnlock()
	if ok {
		return pm
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if pm, ok := m.byKey[provider]; ok {
		return pm
	}
	pm = &providerMetrics{}
	m.byKey[provider] = pm
	return pm
}

// RecordSuccess records a successful call and its latency.
func (m *MetricsRegistry) RecordSuccess(provider string, latency time.Duration) {
	pm := m.entry(provider)
	atomic.AddInt64(&pm.total, 1)
	atomic.AddInt64(&pm.successes, 1)
	atomic.StoreInt64(&pm.lastSuccessNS, time.Now().UnixNano())
	pm.recordLatency(latency)
	m.requestsTotal.WithLabelValues(provider).Inc()
	m.latencySeconds.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordFailure records a failed call.
func (m *MetricsRegistry) RecordFailure(provider string, kind domain.ErrorKind) {
	pm := m.entry(provider)
	atomic.AddInt64(&pm.total, 1)
	atomic.AddInt64(&pm.failures, 1)
	atomic.StoreInt64(&pm.lastFailureNS, time.Now().UnixNano())
	m.requestsTotal.WithLabelValues(provider).Inc()
	m.failuresTotal.WithLabelValues(provider).Inc()
}

func (pm *providerMetrics) recordLatency(d time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.latencyRing[pm.ringPos] = d.Milliseconds()
	pm.ringPos = (pm.ringPos + 1) % latencyRingSize
	if pm.ringPos == 0 {
		pm.ringFilled = true
	}
}

func (pm *providerMetrics) percentile(p float64) float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	n := pm.ringPos
	if pm.ringFilled {
		n = latencyRingSize
	}
	if n == 0 {
		return 0
	}
	samples := make([]int64, n)
	copy(samples, pm.latencyRing[:n])
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	idx := int(p * float64(n-1))
	return float64(samples[idx])
}

func (pm *providerMetrics) avgLatency() float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	n := pm.ringPos
	if pm.ringFilled {
		n = latencyRingSize
	}
	if n == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < n; i++ {
		sum += pm.latencyRing[i]
	}
	return float64(sum) / float64(n)
}

// Snapshot builds the read-only view consumed by the router and health
// report.
func (m *MetricsRegistry) Snapshot(provider string) domain.ProviderMetricsSnapshot {
	pm := m.entry(provider)
	total := atomic.LoadInt64(&pm.total)
	successes := atomic.LoadInt64(&pm.successes)
	failures := atomic.LoadInt64(&pm.failures)

	var successRate float64
	if total > 0 {
		successRate = float64(successes) / float64(total)
	}

	var lastSuccess, lastFailure time.Time
	if ns := atomic.LoadInt64(&pm.lastSuccessNS); ns > 0 {
		lastSuccess = time.Unix(0, ns)
	}
	if ns := atomic.LoadInt64(&pm.lastFailureNS); ns > 0 {
		lastFailure = time.Unix(0, ns)
	}

	return domain.ProviderMetricsSnapshot{
		Provider:      provider,
		Total:         total,
		Successes:     successes,
		Failures:      failures,
		AvgLatencyMS:  pm.avgLatency(),
		P95LatencyMS:  pm.percentile(0.95),
		LastSuccessAt: lastSuccess,
		LastFailureAt: lastFailure,
		CostPerCall:   pm.costPerCall,
		SuccessRate:   successRate,
	}
}

// SnapshotAll returns a snapshot per known provider. The health aggregate
// and the /admin/providers route build their views from per-provider
// Snapshot calls instead.
func (m *MetricsRegistry) SnapshotAll() []domain.ProviderMetricsSnapshot {
	m.mu.RLock()
	names := make([]string, 0, len(m.byKey))
	for name := range m.byKey {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	out := make([]domain.ProviderMetricsSnapshot, 0, len(names))
	for _, name := range names {
		out = append(out, m.Snapshot(name))
	}
	return out
}
