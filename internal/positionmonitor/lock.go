package positionmonitor

import (
	"hash/fnv"
	"sync"
)

const positionStripeCount = 64

// positionLocks stripes per-position advisory locks (spec.md §5: "Position
// records: updates serialized per position via a per-position advisory
// lock") across a bounded number of real mutexes.
type positionLocks struct {
	shards [positionStripeCount]sync.Mutex
}

func (p *positionLocks) Lock(positionID string) {
	p.shards[shardForPosition(positionID)].Lock()
}

func (p *positionLocks) Unlock(positionID string) {
	p.shards[shardForPosition(positionID)].Unlock()
}

func shardForPosition(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % positionStripeCount)
}
