// Package cache provides a sharded TTL cache for candle windows so
// prediction fetches inside one candle period skip the network.
package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"ladderbot/pkg/exchange"
)

const numShards = 16

// ShardedCandleCache caches OHLCV windows keyed by symbol and timeframe.
type ShardedCandleCache struct {
	ttl    time.Duration
	shards [numShards]*candleShard
}

type candleShard struct {
	mu    sync.RWMutex
	items map[string]candleEntry
}

type candleEntry struct {
	candles   []exchange.Candle
	updatedAt time.Time
}

// NewShardedCandleCache creates a cache whose entries expire after ttl.
func NewShardedCandleCache(ttl time.Duration) *ShardedCandleCache {
	c := &ShardedCandleCache{ttl: ttl}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &candleShard{
			items: make(map[string]candleEntry),
		}
	}
	return c
}

func (c *ShardedCandleCache) getShard(key string) *candleShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Key builds the cache key for a candle window request.
func Key(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

// Set stores a candle window.
func (c *ShardedCandleCache) Set(key string, candles []exchange.Candle) {
	shard := c.getShard(key)
	shard.mu.Lock()
	shard.items[key] = candleEntry{
		candles:   candles,
		updatedAt: time.Now(),
	}
	shard.mu.Unlock()
}

// Get returns a cached window, or false when absent or expired.
func (c *ShardedCandleCache) Get(key string) ([]exchange.Candle, bool) {
	shard := c.getShard(key)
	shard.mu.RLock()
	entry, ok := shard.items[key]
	shard.mu.RUnlock()
	if !ok || time.Since(entry.updatedAt) > c.ttl {
		return nil, false
	}
	return entry.candles, true
}

// Delete removes one key.
func (c *ShardedCandleCache) Delete(key string) {
	shard := c.getShard(key)
	shard.mu.Lock()
	delete(shard.items, key)
	shard.mu.Unlock()
}

// Purge drops expired entries from every shard.
func (c *ShardedCandleCache) Purge() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, entry := range shard.items {
			if time.Since(entry.updatedAt) > c.ttl {
				delete(shard.items, key)
			}
		}
		shard.mu.Unlock()
	}
}

// Len counts live entries across shards.
func (c *ShardedCandleCache) Len() int {
	n := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		n += len(shard.items)
		shard.mu.RUnlock()
	}
	return n
}
