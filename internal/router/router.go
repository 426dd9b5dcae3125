package router

import (
	"github.com/marketcore/aggregator/internal/domain"
	"github.com/marketcore/aggregator/internal/provider"
	"github.com/marketcore/aggregator/internal/resilience"
)

// CircuitState is the subset of the resilience engine the router needs to
// filter ineligible providers; kept as an interface so router tests don't
// need a real gobreaker-backed engine.
type CircuitState interface {
	IsOpen(providerName string) bool
}

// Router filters the registry down to eligible adapters for a request and
// ranks them per a Strategy, either the router's configured default or a
// caller-named one per spec.md §4.4's `strategy?` argument.
type Router struct {
	registry *provider.Registry
	metrics  *resilience.MetricsRegistry
	circuits CircuitState
	strategy Strategy
}

func New(registry *provider.Registry, metrics *resilience.MetricsRegistry, circuits CircuitState, strategy Strategy) *Router {
	return &Router{registry: registry, metrics: metrics, circuits: circuits, strategy: strategy}
}

// SetStrategy swaps the router's default ranking strategy — the one
// Route and GetHistorical use, and the one RouteTopK falls back to
// when a request doesn't name one. Used by the admin surface's
// admin_set_strategy operation.
func (r *Router) SetStrategy(s Strategy) {
	r.strategy = s
}

// eligible lists adapters for symbol whose circuit is not open, with
// their live metrics snapshot attached; unranked. An adapter is eligible
// when: its symbol table maps the symbol, its circuit is not open, and
// (if AuthKind requires a key) one has been configured — the last
// condition is enforced by the caller never registering a keyless
// adapter that needs one, so it is implicit here rather than re-checked.
func (r *Router) eligible(symbol domain.Symbol) ([]Candidate, error) {
	supporting := r.registry.SupportingSymbol(symbol)
	candidates := make([]Candidate, 0, len(supporting))
	for _, a := range supporting {
		if r.circuits.IsOpen(a.Name()) {
			continue
		}
		candidates = append(candidates, Candidate{
			Adapter: a,
			Metrics: r.metrics.Snapshot(a.Name()),
		})
	}
	if len(candidates) == 0 {
		return nil, ErrNoProvider
	}
	return candidates, nil
}

// Route returns every eligible adapter for symbol, ranked by the router's
// default strategy. Used by get_historical, which walks the full ranked
// list as a sequential fallback chain rather than a fixed-width dispatch.
func (r *Router) Route(symbol domain.Symbol) ([]Candidate, error) {
	candidates, err := r.eligible(symbol)
	if err != nil {
		return nil, err
	}
	return r.strategy.Rank(candidates), nil
}

// RouteTopK ranks symbol's eligible candidates under the named strategy
// and cuts the list to that strategy's selection width: top-1 for
// point-selection strategies, top-K (default 3) for Race and the
// current-price branch of ContextAware. An empty name uses the router's
// configured default strategy. This is the call get_price makes so a
// Race strategy actually dispatches to at most K providers instead of
// every eligible one.
func (r *Router) RouteTopK(symbol domain.Symbol, name StrategyName, costSensitive bool) ([]Candidate, error) {
	candidates, err := r.eligible(symbol)
	if err != nil {
		return nil, err
	}

	strat := r.strategy
	if name != "" {
		strat, err = Resolve(name)
		if err != nil {
			return nil, err
		}
	}

	var ranked []Candidate
	if ctxAware, ok := strat.(ContextAwareStrategy); ok && costSensitive {
		ranked = ctxAware.RankCostSensitive(candidates)
	} else {
		ranked = strat.Rank(candidates)
	}

	k := SelectionWidth(strat)
	if k > len(ranked) {
		k = len(ranked)
	}
	return ranked[:k], nil
}
