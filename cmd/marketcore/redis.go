package main

import (
	"github.com/redis/go-redis/v9"
)

// newRedisClient builds the optional warm-tier client. An empty addr means
// the cache runs hot-tier only, matching spec.md §5's "Redis optional".
func newRedisClient(addr string) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr})
}
