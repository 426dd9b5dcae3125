// Package router selects which provider adapter(s) to call for a request,
// grounded on the teacher's fallback-chain configuration
// (internal/providers/runtime/fallback_chains.go) but generalized into a
// pluggable Strategy interface per spec.md §4.4.
package router

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/marketcore/aggregator/internal/domain"
	"github.com/marketcore/aggregator/internal/provider"
)

// Candidate is a provider eligible for a given request, carrying the
// metrics snapshot a strategy ranks on.
type Candidate struct {
	Adapter provider.Adapter
	Metrics domain.ProviderMetricsSnapshot
}

// Strategy picks an ordered list of candidates to try, most-preferred
// first. GetPrice dispatches the first SelectionWidth candidates
// concurrently; GetHistorical tries the list in order until one succeeds.
type Strategy interface {
	Name() string
	Rank(candidates []Candidate) []Candidate
}

// ErrNoProvider is returned by the orchestrator when no registered
// adapter is eligible for a request (spec.md §4.4).
var ErrNoProvider = domain.NewError(domain.ErrNoProvider, "", "no eligible provider for request", nil)

// StrategyName identifies one of spec.md §4.4's named routing strategies,
// the type behind get_price's optional `strategy?` argument.
type StrategyName string

const (
	StrategyFastest      StrategyName = "fastest"
	StrategyCheapest     StrategyName = "cheapest"
	StrategyMostReliable StrategyName = "most_reliable"
	StrategyRace         StrategyName = "race"
	StrategyLoadBalanced StrategyName = "load_balanced"
	StrategyContextAware StrategyName = "context_aware"
)

// DefaultRaceWidth is Race's top-K default per spec.md §4.4.
const DefaultRaceWidth = 3

// Resolve maps a strategy name to its concrete implementation. An empty
// name is the caller's signal to fall back to the router's configured
// default rather than picking one here.
func Resolve(name StrategyName) (Strategy, error) {
	switch name {
	case StrategyFastest:
		return FastestStrategy{}, nil
	case StrategyCheapest:
		return CheapestStrategy{}, nil
	case StrategyMostReliable:
		return MostReliableStrategy{}, nil
	case StrategyRace:
		return NewRaceStrategy(time.Now().UnixNano()), nil
	case StrategyLoadBalanced:
		return LoadBalancedStrategy{}, nil
	case StrategyContextAware:
		return NewContextAwareStrategy(), nil
	default:
		return nil, domain.NewError(domain.ErrValidation, "", fmt.Sprintf("unknown routing strategy %q", name), nil)
	}
}

// SelectionWidth reports how many ranked candidates a strategy should be
// dispatched to: top-1 for point-selection strategies (Fastest, Cheapest,
// MostReliable, LoadBalanced), top-K (default 3) for Race and for
// ContextAware's current-price branch — get_price is always a
// current-price request, so ContextAware always takes the Race width
// here per spec.md §4.4.
func SelectionWidth(s Strategy) int {
	switch s.(type) {
	case *RaceStrategy:
		return DefaultRaceWidth
	case ContextAwareStrategy:
		return DefaultRaceWidth
	default:
		return 1
	}
}

// wilsonLowerBound is the 95%-confidence lower bound on a Bernoulli
// success rate, used by MostReliableStrategy so a provider with few
// samples isn't over-trusted relative to one with a long track record.
func wilsonLowerBound(successes, total int64) float64 {
	if total == 0 {
		return 0
	}
	const z = 1.96
	n := float64(total)
	p := float64(successes) / n
	denom := 1 + z*z/n
	center := p + z*z/(2*n)
	margin := z * math.Sqrt(p*(1-p)/n+z*z/(4*n*n))
	return (center - margin) / denom
}

// FastestStrategy ranks by average observed latency, ascending.
type FastestStrategy struct{}

func (FastestStrategy) Name() string { return "fastest" }

func (FastestStrategy) Rank(candidates []Candidate) []Candidate {
	out := append([]Candidate(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Metrics.AvgLatencyMS < out[j].Metrics.AvgLatencyMS
	})
	return out
}

// CheapestStrategy ranks by cost-per-call, ascending.
type CheapestStrategy struct{}

func (CheapestStrategy) Name() string { return "cheapest" }

func (CheapestStrategy) Rank(candidates []Candidate) []Candidate {
	out := append([]Candidate(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Adapter.CostPerCall() < out[j].Adapter.CostPerCall()
	})
	return out
}

// MostReliableStrategy ranks by the Wilson lower bound of each provider's
// success rate, descending, so noisy new providers don't outrank
// established ones on a handful of lucky calls.
type MostReliableStrategy struct{}

func (MostReliableStrategy) Name() string { return "most_reliable" }

func (MostReliableStrategy) Rank(candidates []Candidate) []Candidate {
	out := append([]Candidate(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		wi := wilsonLowerBound(out[i].Metrics.Successes, out[i].Metrics.Total)
		wj := wilsonLowerBound(out[j].Metrics.Successes, out[j].Metrics.Total)
		return wi > wj
	})
	return out
}

// LoadBalancedStrategy distributes calls round-robin weighted by inverse
// recent load (fewer total calls ranks first), so a cold provider catches
// up rather than a single provider absorbing all traffic.
type LoadBalancedStrategy struct{}

func (LoadBalancedStrategy) Name() string { return "load_balanced" }

func (LoadBalancedStrategy) Rank(candidates []Candidate) []Candidate {
	out := append([]Candidate(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Metrics.Total < out[j].Metrics.Total
	})
	return out
}

// RaceStrategy ranks randomly; the orchestrator fires the top-K candidates
// concurrently and fuses every response that arrives within its collection
// window. It does not stop at the first answer and does not cancel the
// other calls. Randomizing the order spreads load evenly when many
// candidates tie on other metrics.
type RaceStrategy struct {
	rng *rand.Rand
}

func NewRaceStrategy(seed int64) *RaceStrategy {
	return &RaceStrategy{rng: rand.New(rand.NewSource(seed))}
}

func (s *RaceStrategy) Name() string { return "race" }

func (s *RaceStrategy) Rank(candidates []Candidate) []Candidate {
	out := append([]Candidate(nil), candidates...)
	s.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// ContextAwareStrategy delegates to Cheap when the caller has flagged the
// request cost-sensitive, and to Reliable otherwise. It matches spec.md
// §4.4's "context-aware" routing mode without hardcoding a single metric.
type ContextAwareStrategy struct {
	CostSensitive Strategy
	Default       Strategy
}

func NewContextAwareStrategy() ContextAwareStrategy {
	return ContextAwareStrategy{CostSensitive: CheapestStrategy{}, Default: MostReliableStrategy{}}
}

func (ContextAwareStrategy) Name() string { return "context_aware" }

func (s ContextAwareStrategy) Rank(candidates []Candidate) []Candidate {
	return s.Default.Rank(candidates)
}

// RankCostSensitive is used by the orchestrator when the request carries a
// cost-sensitive hint, bypassing Rank's default delegate.
func (s ContextAwareStrategy) RankCostSensitive(candidates []Candidate) []Candidate {
	return s.CostSensitive.Rank(candidates)
}
