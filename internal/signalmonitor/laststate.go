package signalmonitor

import (
	"fmt"
	"hash/fnv"
	"sync"

	"fxadvisor/internal/domain"
)

const stripeCount = 32

// LastStateCache is the per-key striped-lock cache of the most recently
// observed Signal for a (pair, timeframe), per spec.md §5 ("Signal-last-
// state cache is per-key with a striped lock (one lock per (pair, tf)
// key)"). A bounded number of real mutexes stripe the key space instead of
// allocating one lock per key or using a single global lock.
type LastStateCache struct {
	shards [stripeCount]struct {
		mu    sync.Mutex
		state map[string]domain.Signal
	}
}

// NewLastStateCache builds an empty cache.
func NewLastStateCache() *LastStateCache {
	c := &LastStateCache{}
	for i := range c.shards {
		c.shards[i].state = make(map[string]domain.Signal)
	}
	return c
}

func shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % stripeCount)
}

func keyString(pair string, tf domain.Timeframe) string {
	return fmt.Sprintf("%s:%s", pair, tf)
}

// Get returns the last observed signal for (pair, tf), if any.
func (c *LastStateCache) Get(pair string, tf domain.Timeframe) (domain.Signal, bool) {
	key := keyString(pair, tf)
	shard := &c.shards[shardFor(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	s, ok := shard.state[key]
	return s, ok
}

// Set records s as the last observed signal for its (pair, tf).
func (c *LastStateCache) Set(s domain.Signal) {
	key := keyString(s.Pair, s.Timeframe)
	shard := &c.shards[shardFor(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.state[key] = s
}
