package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type priceFixture struct {
	Price float64 `json:"price"`
}

func TestGetOrFetchCachesAcrossCalls(t *testing.T) {
	c := New(nil)
	defer c.Close()

	var calls int32
	fetch := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return priceFixture{Price: 42.5}, nil
	}

	var first, second priceFixture
	fromCache, err := c.GetOrFetch(context.Background(), "btc:usd", time.Minute, &first, fetch)
	require.NoError(t, err)
	assert.False(t, fromCache)

	fromCache, err = c.GetOrFetch(context.Background(), "btc:usd", time.Minute, &second, fetch)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, first, second)
}

func TestGetOrFetchDedupsConcurrentMisses(t *testing.T) {
	c := New(nil)
	defer c.Close()

	var calls int32
	fetch := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return priceFixture{Price: 1}, nil
	}

	done := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		go func() {
			var dst priceFixture
			_, _ = c.GetOrFetch(context.Background(), "eth:usd", time.Minute, &dst, fetch)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPurgeKeyEvictsEntry(t *testing.T) {
	c := New(nil)
	defer c.Close()

	var dst priceFixture
	_, err := c.GetOrFetch(context.Background(), "ada:usd", time.Minute, &dst, func() (any, error) {
		return priceFixture{Price: 0.5}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, c.HotItemCount())

	c.PurgeKey(context.Background(), "ada:usd")
	assert.Equal(t, 0, c.HotItemCount())
}

func TestGetOrFetchExpiresAfterTTL(t *testing.T) {
	c := New(nil)
	defer c.Close()

	var calls int32
	fetch := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return priceFixture{Price: 7}, nil
	}

	var dst priceFixture
	_, err := c.GetOrFetch(context.Background(), "sol:usd", 5*time.Millisecond, &dst, fetch)
	require.NoError(t, err)

	time.Sleep(15 * time.Millisecond)
	_, err = c.GetOrFetch(context.Background(), "sol:usd", 5*time.Millisecond, &dst, fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
