package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	c := newTTLCache(time.Hour, 2)
	defer c.close()

	c.set("a", []byte("1"), time.Minute)
	c.set("b", []byte("2"), time.Minute)
	assert.Equal(t, 2, c.itemCount())

	c.set("c", []byte("3"), time.Minute)
	assert.Equal(t, 2, c.itemCount(), "inserting past capacity must evict, never grow past it")

	_, aOK := c.get("a")
	_, bOK := c.get("b")
	_, cOK := c.get("c")
	assert.False(t, aOK, "oldest entry should have been evicted")
	assert.True(t, bOK)
	assert.True(t, cOK)
}

func TestTTLCacheGetPromotesEntryAgainstEviction(t *testing.T) {
	c := newTTLCache(time.Hour, 2)
	defer c.close()

	c.set("a", []byte("1"), time.Minute)
	c.set("b", []byte("2"), time.Minute)

	// Touch "a" so it is no longer the least recently used entry.
	_, ok := c.get("a")
	assert.True(t, ok)

	c.set("c", []byte("3"), time.Minute)

	_, aOK := c.get("a")
	_, bOK := c.get("b")
	assert.True(t, aOK, "promoted entry should survive eviction")
	assert.False(t, bOK, "untouched entry should be evicted instead")
}

func TestTTLCacheOverwritingExistingKeyDoesNotEvict(t *testing.T) {
	c := newTTLCache(time.Hour, 2)
	defer c.close()

	c.set("a", []byte("1"), time.Minute)
	c.set("b", []byte("2"), time.Minute)
	c.set("a", []byte("updated"), time.Minute)

	assert.Equal(t, 2, c.itemCount())
	value, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "updated", string(value))
}

func TestTTLCacheDefaultsCapacityWhenUnset(t *testing.T) {
	c := newTTLCache(time.Hour, 0)
	defer c.close()
	assert.Equal(t, DefaultHotCapacity, c.capacity)
}
