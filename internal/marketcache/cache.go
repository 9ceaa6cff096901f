// Package marketcache implements the Market Cache (C1): an ordered
// per-(pair,timeframe) candle store with TTL/real-time flags, backed by a
// durable Store (Postgres in production) and mirrored into Redis for fast
// reads, adapted from nofendian17-stockbit-haka-haki's cache/redis.go.
// Concurrent identical fetches are coalesced with golang.org/x/sync's
// singleflight so at most one outstanding external fetch runs per key.
package marketcache

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"fxadvisor/internal/domain"
)

// Result wraps a candle read with the Stale flag spec.md requires: an
// external fetch failure must not become an error if cached data exists.
type Result struct {
	Candles []domain.Candle
	Stale   bool
}

// Cache is C1. It is safe for concurrent use.
type Cache struct {
	store   domain.CandleStore
	fetcher domain.MarketDataFetcher
	mirror  *RedisMirror // optional; nil disables the Redis fast path

	group singleflight.Group
}

// New builds a Cache. mirror may be nil to run store-only (e.g. in tests).
func New(store domain.CandleStore, fetcher domain.MarketDataFetcher, mirror *RedisMirror) *Cache {
	return &Cache{store: store, fetcher: fetcher, mirror: mirror}
}

func keyString(pair string, tf domain.Timeframe) string {
	return fmt.Sprintf("%s:%s", pair, tf)
}

// Upsert bulk insert-or-updates on conflict of (pair,timeframe,ts);
// updates OHLCV/source but never mutates ts. The batch is committed or
// rolled back as a whole by the underlying Store. Successfully stored rows
// are mirrored into Redis with a timeframe-derived TTL for realtime rows.
func (c *Cache) Upsert(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	if err := c.store.Upsert(ctx, candles); err != nil {
		return domain.NewError("marketcache.Upsert", domain.KindTransient, err)
	}
	if c.mirror != nil {
		if err := c.mirror.Put(ctx, candles); err != nil {
			log.Printf("[WARN] marketcache: redis mirror write failed: %v", err)
		}
	}
	return nil
}

// GetLatest returns the newest <= n candles in chronological order. On
// partial coverage it asks the external fetcher (coalesced via
// singleflight); if that fetch fails, it falls back to whatever the store
// holds with Stale=true rather than erroring, per spec §4.1 failure
// semantics.
func (c *Cache) GetLatest(ctx context.Context, pair string, tf domain.Timeframe, n int) (Result, error) {
	if c.mirror != nil {
		if rows, ok := c.mirror.GetLatest(ctx, pair, tf, n); ok && len(rows) >= n {
			return Result{Candles: rows}, nil
		}
	}

	rows, err := c.store.GetLatest(ctx, pair, tf, n)
	if err != nil {
		return Result{}, domain.NewError("marketcache.GetLatest", domain.KindUnavailable, err)
	}
	if len(rows) >= n {
		return Result{Candles: rows}, nil
	}

	fetched, stale, ferr := c.coalescedFetch(ctx, pair, tf, n, rows)
	if ferr != nil {
		log.Printf("[WARN] marketcache: fetch miss for %s/%s served stale: %v", pair, tf, ferr)
		return Result{Candles: rows, Stale: true}, nil
	}
	return Result{Candles: fetched, Stale: stale}, nil
}

// GetRange returns the inclusive [from,to] range in ascending ts order, no
// duplicates.
func (c *Cache) GetRange(ctx context.Context, pair string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	rows, err := c.store.GetRange(ctx, pair, tf, from, to)
	if err != nil {
		return nil, domain.NewError("marketcache.GetRange", domain.KindUnavailable, err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Ts.Before(rows[j].Ts) })
	return dedupeByTs(rows), nil
}

// ExpireStale removes realtime rows past ExpiresAt; historical
// (RealTime=false) rows never expire.
func (c *Cache) ExpireStale(ctx context.Context) (int64, error) {
	n, err := c.store.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, domain.NewError("marketcache.ExpireStale", domain.KindTransient, err)
	}
	return n, nil
}

// coalescedFetch asks the external fetcher for the last n candles,
// deduping concurrent identical requests for (pair, tf, n) so at most one
// outstanding fetch is ever in flight for a given key.
func (c *Cache) coalescedFetch(ctx context.Context, pair string, tf domain.Timeframe, n int, cached []domain.Candle) ([]domain.Candle, bool, error) {
	sfKey := fmt.Sprintf("%s:%d", keyString(pair, tf), n)
	to := time.Now()
	from := to.Add(-time.Duration(n) * tf.Duration())

	v, err, _ := c.group.Do(sfKey, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		rows, ferr := c.fetcher.Fetch(fetchCtx, pair, tf, from, to)
		if ferr != nil {
			return nil, ferr
		}
		if uerr := c.store.Upsert(ctx, rows); uerr != nil {
			log.Printf("[WARN] marketcache: persisting fetched candles failed: %v", uerr)
		}
		if c.mirror != nil {
			if merr := c.mirror.Put(ctx, rows); merr != nil {
				log.Printf("[WARN] marketcache: redis mirror write failed: %v", merr)
			}
		}
		return rows, nil
	})
	if err != nil {
		return cached, true, err
	}
	rows := v.([]domain.Candle)
	if len(rows) < len(cached) {
		rows = cached
	}
	return rows, false, nil
}

func dedupeByTs(rows []domain.Candle) []domain.Candle {
	out := make([]domain.Candle, 0, len(rows))
	var lastTs time.Time
	first := true
	for _, r := range rows {
		if !first && r.Ts.Equal(lastTs) {
			continue
		}
		out = append(out, r)
		lastTs = r.Ts
		first = false
	}
	return out
}
