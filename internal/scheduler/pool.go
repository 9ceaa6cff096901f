// Package scheduler unifies the tick sources and bounded worker pools that
// the source mixed across wall-clock timers, setInterval loops and ad-hoc
// awaits (Design Notes). C3 and C5 drive their ticks through TickerDriver;
// C6 drives its daily/weekly timers through CronDriver (adapted from the
// teacher's internal/infra/scheduler.go); both dispatch check tasks through
// a KeyedWorkerPool that enforces the "at most one in-flight per key, drop
// not queue" ordering guarantee.
package scheduler

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"
)

// KeyedWorkerPool bounds total concurrent tasks to maxConcurrent while
// guaranteeing at most one in-flight task per key; a dispatch for a key
// that is already running is dropped, not queued.
type KeyedWorkerPool struct {
	sem *semaphore.Weighted

	mu       sync.Mutex
	inFlight map[string]bool
	wg       sync.WaitGroup
}

// NewKeyedWorkerPool builds a pool with the given total concurrency cap.
func NewKeyedWorkerPool(maxConcurrent int64) *KeyedWorkerPool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &KeyedWorkerPool{
		sem:      semaphore.NewWeighted(maxConcurrent),
		inFlight: make(map[string]bool),
	}
}

// TryDispatch runs task in its own goroutine if key has no task currently
// in flight, and returns false (dropped) if key is busy. It does not wait
// for a worker slot: if none is free, the dispatched goroutine blocks
// acquiring one before running task — the semaphore bounds how many tasks
// run at once across all keys, the per-key guard is what drops ticks.
func (p *KeyedWorkerPool) TryDispatch(ctx context.Context, key string, task func(ctx context.Context)) bool {
	p.mu.Lock()
	if p.inFlight[key] {
		p.mu.Unlock()
		return false
	}
	p.inFlight[key] = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.inFlight, key)
			p.mu.Unlock()
		}()

		if err := p.sem.Acquire(ctx, 1); err != nil {
			log.Printf("[WARN] scheduler: worker slot acquire cancelled for key=%s: %v", key, err)
			return
		}
		defer p.sem.Release(1)

		task(ctx)
	}()
	return true
}

// IsInFlight reports whether key currently has a task running. Exposed for
// tests and metrics; not load-bearing for dispatch correctness.
func (p *KeyedWorkerPool) IsInFlight(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight[key]
}

// Wait blocks until every dispatched task has returned. Used during
// shutdown to observe the grace period.
func (p *KeyedWorkerPool) Wait() {
	p.wg.Wait()
}
