package router

import (
	"context"
	"testing"
	"time"

	"github.com/marketcore/aggregator/internal/domain"
	"github.com/marketcore/aggregator/internal/provider"
	"github.com/marketcore/aggregator/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	name    string
	symbols map[domain.Symbol]bool
	cost    float64
}

func (s stubAdapter) Name() string { return s.name }
func (s stubAdapter) FetchCurrent(ctx context.Context, symbol domain.Symbol, currency string) (domain.RawProviderResponse, error) {
	return domain.RawProviderResponse{Provider: s.name, Symbol: symbol, PriceUSD: 1}, nil
}
func (s stubAdapter) FetchHistorical(ctx context.Context, symbol domain.Symbol, from, to time.Time, gran domain.Granularity) ([]domain.RawProviderResponse, error) {
	return nil, nil
}
func (s stubAdapter) SupportsSymbol(symbol domain.Symbol) bool  { return s.symbols[symbol] }
func (s stubAdapter) SymbolMap(symbol domain.Symbol) (string, error) { return string(symbol), nil }
func (s stubAdapter) AuthKind() domain.AuthKind                 { return domain.AuthNone }
func (s stubAdapter) RateCost() uint32                          { return 1 }
func (s stubAdapter) CostPerCall() float64                      { return s.cost }

type stubCircuits struct {
	open map[string]bool
}

func (s stubCircuits) IsOpen(name string) bool { return s.open[name] }

func TestRouteExcludesOpenCircuitsAndMissingSymbols(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(stubAdapter{name: "a", symbols: map[domain.Symbol]bool{"BTC": true}, cost: 0.01}))
	require.NoError(t, reg.Register(stubAdapter{name: "b", symbols: map[domain.Symbol]bool{"BTC": true}, cost: 0.02}))
	require.NoError(t, reg.Register(stubAdapter{name: "c", symbols: map[domain.Symbol]bool{"ETH": true}, cost: 0.01}))

	r := New(reg, resilience.NewMetricsRegistry(), stubCircuits{open: map[string]bool{"b": true}}, CheapestStrategy{})

	candidates, err := r.Route("BTC")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "a", candidates[0].Adapter.Name())
}

func TestRouteReturnsErrNoProviderWhenNoneEligible(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(stubAdapter{name: "a", symbols: map[domain.Symbol]bool{"ETH": true}}))

	r := New(reg, resilience.NewMetricsRegistry(), stubCircuits{}, CheapestStrategy{})
	_, err := r.Route("BTC")
	assert.Equal(t, domain.ErrNoProvider, domain.KindOf(err))
}

func TestCheapestStrategyOrdersByCost(t *testing.T) {
	candidates := []Candidate{
		{Adapter: stubAdapter{name: "expensive", cost: 1.0}},
		{Adapter: stubAdapter{name: "cheap", cost: 0.01}},
	}
	ranked := CheapestStrategy{}.Rank(candidates)
	assert.Equal(t, "cheap", ranked[0].Adapter.Name())
}

func TestMostReliableStrategyPrefersEstablishedProvider(t *testing.T) {
	candidates := []Candidate{
		{Adapter: stubAdapter{name: "lucky-newcomer"}, Metrics: domain.ProviderMetricsSnapshot{Successes: 2, Total: 2}},
		{Adapter: stubAdapter{name: "veteran"}, Metrics: domain.ProviderMetricsSnapshot{Successes: 950, Total: 1000}},
	}
	ranked := MostReliableStrategy{}.Rank(candidates)
	assert.Equal(t, "veteran", ranked[0].Adapter.Name())
}

func fiveEligibleRouter(t *testing.T) *Router {
	reg := provider.NewRegistry()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, reg.Register(stubAdapter{name: name, symbols: map[domain.Symbol]bool{"BTC": true}, cost: 0.01}))
	}
	return New(reg, resilience.NewMetricsRegistry(), stubCircuits{}, MostReliableStrategy{})
}

func TestRouteTopKCutsPointSelectionStrategiesToOne(t *testing.T) {
	r := fiveEligibleRouter(t)
	candidates, err := r.RouteTopK("BTC", StrategyCheapest, false)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestRouteTopKCutsRaceStrategyToDefaultWidth(t *testing.T) {
	r := fiveEligibleRouter(t)
	candidates, err := r.RouteTopK("BTC", StrategyRace, false)
	require.NoError(t, err)
	assert.Len(t, candidates, DefaultRaceWidth)
}

func TestRouteTopKEmptyNameUsesRouterDefaultStrategy(t *testing.T) {
	r := fiveEligibleRouter(t)
	candidates, err := r.RouteTopK("BTC", "", false)
	require.NoError(t, err)
	assert.Len(t, candidates, 1) // default strategy is MostReliableStrategy, a point-selection strategy
}

func TestRouteTopKRejectsUnknownStrategyName(t *testing.T) {
	r := fiveEligibleRouter(t)
	_, err := r.RouteTopK("BTC", StrategyName("bogus"), false)
	require.Error(t, err)
	assert.Equal(t, domain.ErrValidation, domain.KindOf(err))
}

func TestRouteTopKContextAwareCostSensitiveUsesCheapest(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(stubAdapter{name: "expensive", symbols: map[domain.Symbol]bool{"BTC": true}, cost: 1.0}))
	require.NoError(t, reg.Register(stubAdapter{name: "cheap", symbols: map[domain.Symbol]bool{"BTC": true}, cost: 0.01}))
	r := New(reg, resilience.NewMetricsRegistry(), stubCircuits{}, MostReliableStrategy{})

	candidates, err := r.RouteTopK("BTC", StrategyContextAware, true)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, "cheap", candidates[0].Adapter.Name())
}

func TestResolveRejectsUnknownName(t *testing.T) {
	_, err := Resolve(StrategyName("nope"))
	assert.Equal(t, domain.ErrValidation, domain.KindOf(err))
}

func TestSelectionWidthDistinguishesRaceAndContextAwareFromPointSelection(t *testing.T) {
	assert.Equal(t, DefaultRaceWidth, SelectionWidth(NewRaceStrategy(1)))
	assert.Equal(t, DefaultRaceWidth, SelectionWidth(NewContextAwareStrategy()))
	assert.Equal(t, 1, SelectionWidth(CheapestStrategy{}))
	assert.Equal(t, 1, SelectionWidth(FastestStrategy{}))
	assert.Equal(t, 1, SelectionWidth(LoadBalancedStrategy{}))
}
