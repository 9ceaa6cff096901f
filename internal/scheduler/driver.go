package scheduler

import (
	"context"
	"log"
	"time"
)

// TickerDriver fires fn every interval in wall-clock time until stopped,
// draining in-flight work within a bounded grace period on shutdown.
// Generalizes the teacher's dynamic-frequency cron jobs (bodyguard every
// 10s, virtual broker every 1min) into a single reusable fixed-interval
// driver; C3 and C5 each own one instance at their respective tick
// intervals.
type TickerDriver struct {
	name        string
	interval    time.Duration
	gracePeriod time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTickerDriver builds a driver that has not yet started.
func NewTickerDriver(name string, interval, gracePeriod time.Duration) *TickerDriver {
	return &TickerDriver{name: name, interval: interval, gracePeriod: gracePeriod}
}

// Start begins firing fn(ctx) every interval. fn runs on the driver's own
// goroutine, so the next tick is not taken until fn returns; ticks that
// fall due while fn is still running are dropped by time.Ticker, not
// queued. Callers dispatch fn's actual work through a KeyedWorkerPool so
// fn itself returns quickly.
func (d *TickerDriver) Start(parent context.Context, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		log.Printf("[CRON] %s: started, interval=%s", d.name, d.interval)
		for {
			select {
			case <-ctx.Done():
				log.Printf("[CRON] %s: stopping", d.name)
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// Stop cancels the driver and waits up to the grace period for the current
// dispatch call to return (not for dispatched worker-pool tasks, which
// callers drain separately via KeyedWorkerPool.Wait).
func (d *TickerDriver) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	select {
	case <-d.done:
	case <-time.After(d.gracePeriod):
		log.Printf("[WARN] %s: grace period elapsed before driver loop exited", d.name)
	}
}
