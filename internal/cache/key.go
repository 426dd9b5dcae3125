package cache

import (
	"fmt"

	"github.com/marketcore/aggregator/internal/domain"
)

// Key builds the deterministic cache key for a priced request, grounded on
// the teacher's CacheKey helper (internal/infrastructure/datafacade/cache/ttl_cache.go).
func Key(kind domain.RequestKind, symbol domain.Symbol, currency string) string {
	return fmt.Sprintf("%s:%s:%s", kind, symbol, currency)
}

// HistoricalKey additionally buckets by granularity and the requested
// window's start/end, truncated to the hour, so near-identical historical
// requests made within the same hour share a cache entry.
func HistoricalKey(symbol domain.Symbol, currency string, gran domain.Granularity, fromUnix, toUnix int64) string {
	fromUnix -= fromUnix % 3600
	toUnix -= toUnix % 3600
	return fmt.Sprintf("historical:%s:%s:%s:%d:%d", symbol, currency, gran, fromUnix, toUnix)
}
