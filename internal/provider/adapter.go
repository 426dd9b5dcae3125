// Package provider defines the uniform adapter capability set (spec.md
// §4.1) and the concrete adapters for each required upstream. An adapter is
// stateless with respect to business data: it holds only its configured
// key, base URL, and HTTP client handle, exactly as the teacher's
// ExchangeProvider implementations do (internal/provider/kraken_provider.go
// in the teacher repo).
package provider

import (
	"context"
	"time"

	"github.com/marketcore/aggregator/internal/domain"
)

// Adapter is the polymorphic unit the router and resilience engine depend
// on. No component depends on a concrete adapter type.
type Adapter interface {
	Name() string
	FetchCurrent(ctx context.Context, symbol domain.Symbol, currency string) (domain.RawProviderResponse, error)
	FetchHistorical(ctx context.Context, symbol domain.Symbol, from, to time.Time, gran domain.Granularity) ([]domain.RawProviderResponse, error)
	SupportsSymbol(symbol domain.Symbol) bool
	SymbolMap(symbol domain.Symbol) (string, error)
	AuthKind() domain.AuthKind
	RateCost() uint32
	CostPerCall() float64
}

// Config is the shared, per-adapter configuration: base URL, timeout,
// symbol table, and auth material. Concrete adapters embed this.
type Config struct {
	Name        string
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	SymbolTable map[domain.Symbol]string
	Auth        domain.AuthKind
	AuthHeader  string // header or query param name, per AuthKind
	RateCost    uint32
	CostPerCall float64
}

// DefaultTimeout matches spec.md §4.1's "default 10s, configurable".
const DefaultTimeout = 10 * time.Second

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// symbolMap implements the shared SupportsSymbol/SymbolMap behavior: the
// mapping is total for configured providers and fails fast on miss, before
// any network I/O, per the data-model invariant in spec.md §3.
func (c Config) symbolMap(symbol domain.Symbol) (string, error) {
	if mapped, ok := c.SymbolTable[symbol]; ok {
		return mapped, nil
	}
	return "", domain.NewError(domain.ErrSymbolUnknown, c.Name,
		"no symbol mapping for "+string(symbol), nil)
}

func (c Config) supportsSymbol(symbol domain.Symbol) bool {
	_, ok := c.SymbolTable[symbol]
	return ok
}
