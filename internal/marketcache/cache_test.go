package marketcache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxadvisor/internal/domain"
)

type fakeStore struct {
	rows []domain.Candle
}

func (f *fakeStore) Upsert(ctx context.Context, candles []domain.Candle) error {
	for _, c := range candles {
		replaced := false
		for i, existing := range f.rows {
			if existing.Pair == c.Pair && existing.Timeframe == c.Timeframe && existing.Ts.Equal(c.Ts) {
				f.rows[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			f.rows = append(f.rows, c)
		}
	}
	return nil
}

func (f *fakeStore) GetLatest(ctx context.Context, pair string, tf domain.Timeframe, n int) ([]domain.Candle, error) {
	var matching []domain.Candle
	for _, c := range f.rows {
		if c.Pair == pair && c.Timeframe == tf {
			matching = append(matching, c)
		}
	}
	if len(matching) > n {
		matching = matching[len(matching)-n:]
	}
	return matching, nil
}

func (f *fakeStore) GetRange(ctx context.Context, pair string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	var out []domain.Candle
	for _, c := range f.rows {
		if c.Pair == pair && c.Timeframe == tf && !c.Ts.Before(from) && !c.Ts.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteExpired(ctx context.Context, asOf time.Time) (int64, error) {
	var kept []domain.Candle
	var removed int64
	for _, c := range f.rows {
		if c.RealTime && c.ExpiresAt.Before(asOf) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	f.rows = kept
	return removed, nil
}

type fakeFetcher struct {
	calls   int32
	candles []domain.Candle
	err     error
}

func (f *fakeFetcher) Fetch(ctx context.Context, pair string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return f.candles, nil
}

func makeCandles(pair string, tf domain.Timeframe, n int, start time.Time) []domain.Candle {
	out := make([]domain.Candle, 0, n)
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * tf.Duration())
		out = append(out, domain.Candle{
			Pair: pair, Timeframe: tf, Ts: ts,
			Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15,
			Source: "test", RealTime: true, ExpiresAt: ts.Add(tf.CacheTTL()),
		})
	}
	return out
}

func TestCacheUpsertThenGetRangeRoundTripsOrderedNoDuplicates(t *testing.T) {
	store := &fakeStore{}
	cache := New(store, &fakeFetcher{}, nil)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := makeCandles("EUR/USD", domain.Timeframe1Hour, 5, start)

	require.NoError(t, cache.Upsert(context.Background(), candles))
	require.NoError(t, cache.Upsert(context.Background(), candles)) // re-upsert, same batch

	got, err := cache.GetRange(context.Background(), "EUR/USD", domain.Timeframe1Hour, start, start.Add(10*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Ts.Before(got[i].Ts))
	}
}

func TestCacheGetLatestFetchesOnPartialCoverage(t *testing.T) {
	store := &fakeStore{}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{candles: makeCandles("EUR/USD", domain.Timeframe1Hour, 60, start)}
	cache := New(store, fetcher, nil)

	res, err := cache.GetLatest(context.Background(), "EUR/USD", domain.Timeframe1Hour, 60)
	require.NoError(t, err)
	assert.False(t, res.Stale)
	assert.Len(t, res.Candles, 60)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))
}

func TestCacheGetLatestServesStaleOnFetchFailure(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: makeCandles("EUR/USD", domain.Timeframe1Hour, 10, start)}
	fetcher := &fakeFetcher{err: assertErr{"predictor dependency down"}}
	cache := New(store, fetcher, nil)

	res, err := cache.GetLatest(context.Background(), "EUR/USD", domain.Timeframe1Hour, 60)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Len(t, res.Candles, 10)
}

func TestCacheExpireStaleRemovesOnlyExpiredRealtimeRows(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{rows: []domain.Candle{
		{Pair: "EUR/USD", Timeframe: domain.Timeframe1Hour, Ts: now.Add(-2 * time.Hour), RealTime: true, ExpiresAt: now.Add(-1 * time.Hour)},
		{Pair: "EUR/USD", Timeframe: domain.Timeframe1Hour, Ts: now, RealTime: true, ExpiresAt: now.Add(time.Hour)},
		{Pair: "EUR/USD", Timeframe: domain.Timeframe1Day, Ts: now.Add(-30 * 24 * time.Hour), RealTime: false},
	}}
	cache := New(store, &fakeFetcher{}, nil)

	n, err := cache.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, store.rows, 2)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
