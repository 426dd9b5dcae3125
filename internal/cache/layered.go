package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// compressAbove is the entry-size threshold past which warm-tier payloads
// are zstd-compressed before storage; small entries aren't worth the
// frame overhead.
const compressAbove = 4 * 1024

// TTLDefaults mirrors spec.md §4.3's cache regime: 60s for current-price
// lookups, 1h for historical series.
const (
	TTLCurrent    = 60 * time.Second
	TTLHistorical = time.Hour
)

// DefaultHotCapacity bounds the in-process hot tier per spec.md §4.3's
// "map cardinality never exceeds the configured capacity" invariant.
// Overridable via CACHE_HOT_CAPACITY for deployments with a different
// memory budget.
const DefaultHotCapacity = 10000

func hotCapacityFromEnv() int {
	if v := os.Getenv("CACHE_HOT_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return DefaultHotCapacity
}

// Cache is the two-tier price cache: an in-process hot tier for the
// common case, and an optional Redis-backed warm tier so multiple
// aggregator instances can share cached results. Concurrent requests for
// the same key are deduplicated via singleflight so a cache-miss stampede
// results in exactly one upstream fetch.
type Cache struct {
	hot   *ttlCache
	warm  *redis.Client // nil if no warm tier configured
	group singleflight.Group

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New builds a Cache. redisClient may be nil, in which case the warm tier
// is simply absent and every miss falls through to the fetch function.
func New(redisClient *redis.Client) *Cache {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		log.Warn().Err(err).Msg("zstd encoder init failed, warm tier will store uncompressed")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		log.Warn().Err(err).Msg("zstd decoder init failed, warm tier reads may fail")
	}
	return &Cache{
		hot:     newTTLCache(30*time.Second, hotCapacityFromEnv()),
		warm:    redisClient,
		encoder: enc,
		decoder: dec,
	}
}

// Close stops the hot tier's janitor goroutine. The Redis client, if any,
// is owned by the caller.
func (c *Cache) Close() {
	c.hot.close()
}

// GetOrFetch returns the cached value for key, or calls fetch exactly once
// across concurrent callers and caches its result under ttl. dst must be a
// pointer; the cached bytes are JSON-decoded into it.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, dst any, fetch func() (any, error)) (fromCache bool, err error) {
	if raw, ok := c.hot.get(key); ok {
		return true, json.Unmarshal(raw, dst)
	}
	if c.warm != nil {
		if raw, ok := c.getWarm(ctx, key); ok {
			c.hot.set(key, raw, ttl)
			return true, json.Unmarshal(raw, dst)
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		result, ferr := fetch()
		if ferr != nil {
			return nil, ferr
		}
		raw, merr := json.Marshal(result)
		if merr != nil {
			return nil, merr
		}
		c.hot.set(key, raw, ttl)
		if c.warm != nil {
			c.setWarm(ctx, key, raw, ttl)
		}
		return raw, nil
	})
	if err != nil {
		return false, err
	}
	return false, json.Unmarshal(v.([]byte), dst)
}

func (c *Cache) getWarm(ctx context.Context, key string) ([]byte, bool) {
	raw, err := c.warm.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	if len(raw) > 4 && string(raw[:4]) == "zstd" && c.decoder != nil {
		decoded, derr := c.decoder.DecodeAll(raw[4:], nil)
		if derr != nil {
			return nil, false
		}
		return decoded, true
	}
	return raw, true
}

func (c *Cache) setWarm(ctx context.Context, key string, raw []byte, ttl time.Duration) {
	payload := raw
	if len(raw) > compressAbove && c.encoder != nil {
		var buf bytes.Buffer
		buf.WriteString("zstd")
		buf.Write(c.encoder.EncodeAll(raw, nil))
		payload = buf.Bytes()
	}
	if err := c.warm.Set(ctx, key, payload, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("warm cache set failed")
	}
}

// PurgeKey removes a single key from both tiers.
func (c *Cache) PurgeKey(ctx context.Context, key string) {
	c.hot.delete(key)
	if c.warm != nil {
		c.warm.Del(ctx, key)
	}
}

// PurgePrefix removes every key sharing a prefix, used by the admin
// cache-purge route; keys begin with the request kind and then the
// symbol, and carry no provider name.
func (c *Cache) PurgePrefix(ctx context.Context, prefix string) int {
	removed := c.hot.deletePrefix(prefix)
	if c.warm != nil {
		iter := c.warm.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			c.warm.Del(ctx, iter.Val())
			removed++
		}
	}
	return removed
}

// PurgeAll clears both tiers entirely.
func (c *Cache) PurgeAll(ctx context.Context) {
	c.hot.clear()
	if c.warm != nil {
		c.warm.FlushDB(ctx)
	}
}

// HotItemCount reports the in-process tier's size, used by the health
// report and /admin/providers route.
func (c *Cache) HotItemCount() int {
	return c.hot.itemCount()
}
