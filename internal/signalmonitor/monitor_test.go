package signalmonitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxadvisor/internal/domain"
	"fxadvisor/internal/eventbus"
	"fxadvisor/internal/marketcache"
)

type fakeCandleStore struct {
	rows []domain.Candle
}

func (f *fakeCandleStore) Upsert(ctx context.Context, candles []domain.Candle) error { return nil }

func (f *fakeCandleStore) GetLatest(ctx context.Context, pair string, tf domain.Timeframe, n int) ([]domain.Candle, error) {
	var out []domain.Candle
	for _, c := range f.rows {
		if c.Pair == pair && c.Timeframe == tf {
			out = append(out, c)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (f *fakeCandleStore) GetRange(ctx context.Context, pair string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	return f.GetLatest(ctx, pair, tf, len(f.rows))
}

func (f *fakeCandleStore) DeleteExpired(ctx context.Context, asOf time.Time) (int64, error) {
	return 0, nil
}

type fakeFetcher struct{}

func (f *fakeFetcher) Fetch(ctx context.Context, pair string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	return nil, nil
}

type fakePredictor struct {
	mu   sync.Mutex
	pred domain.Prediction
	err  error
}

func (f *fakePredictor) Predict(ctx context.Context, pair string, tf domain.Timeframe, candles []domain.Candle, versionHint *string) (domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pred, f.err
}

type fakeSubStore struct {
	subs []domain.Subscription
}

func (f *fakeSubStore) Create(ctx context.Context, s domain.Subscription) error { return nil }
func (f *fakeSubStore) Delete(ctx context.Context, id string) error            { return nil }
func (f *fakeSubStore) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return nil, nil
}
func (f *fakeSubStore) ListAll(ctx context.Context) ([]domain.Subscription, error) {
	return f.subs, nil
}
func (f *fakeSubStore) CountByUser(ctx context.Context, userID string) (int, error) { return 0, nil }

type fakeSignalStore struct {
	mu      sync.Mutex
	signals []domain.Signal
	changes []domain.SignalChange
}

func (f *fakeSignalStore) SaveSignal(ctx context.Context, s domain.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, s)
	return nil
}
func (f *fakeSignalStore) LastSignal(ctx context.Context, pair string, tf domain.Timeframe) (*domain.Signal, error) {
	return nil, nil
}
func (f *fakeSignalStore) SaveSignalChange(ctx context.Context, c domain.SignalChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, c)
	return nil
}
func (f *fakeSignalStore) UpdateOutcome(ctx context.Context, signalID string, outcome domain.Outcome, pnl *float64) error {
	return nil
}
func (f *fakeSignalStore) SignalsWithOutcomesSince(ctx context.Context, since time.Time) ([]domain.Signal, error) {
	return nil, nil
}

func seedCandles(pair string, tf domain.Timeframe, n int) []domain.Candle {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = domain.Candle{Pair: pair, Timeframe: tf, Ts: start.Add(time.Duration(i) * tf.Duration()), Close: 1.1}
	}
	return out
}

func TestMonitorCheckPublishesSignalChangedOnColdStart(t *testing.T) {
	store := &fakeCandleStore{rows: seedCandles("EUR/USD", domain.Timeframe1Hour, 120)}
	cache := marketcache.New(store, &fakeFetcher{}, nil)
	pred := &fakePredictor{pred: domain.Prediction{Signal: domain.DirectionLong, Confidence: 0.72, ModelVersion: "v1.0"}}
	signals := &fakeSignalStore{}
	bus := eventbus.New()

	var published []eventbus.SignalChanged
	bus.OnSignalChanged(func(e eventbus.SignalChanged) { published = append(published, e) })

	m := New(cache, pred, &fakeSubStore{}, signals, bus, DefaultConfig())
	m.check(context.Background(), "EUR/USD", domain.Timeframe1Hour)

	require.Len(t, signals.signals, 1)
	require.Len(t, signals.changes, 1)
	assert.Nil(t, signals.changes[0].PrevDirection)
	require.Len(t, published, 1)
	assert.Equal(t, domain.DirectionLong, published[0].Signal.Direction)
}

func TestMonitorCheckSkipsOnInsufficientCandles(t *testing.T) {
	store := &fakeCandleStore{rows: seedCandles("EUR/USD", domain.Timeframe1Hour, 30)}
	cache := marketcache.New(store, &fakeFetcher{}, nil)
	pred := &fakePredictor{pred: domain.Prediction{Signal: domain.DirectionLong, Confidence: 0.72}}
	signals := &fakeSignalStore{}
	bus := eventbus.New()

	m := New(cache, pred, &fakeSubStore{}, signals, bus, DefaultConfig())
	m.check(context.Background(), "EUR/USD", domain.Timeframe1Hour)

	assert.Empty(t, signals.signals)
}

func TestMonitorCheckSuppressesSmallConfidenceDeltaSameDirection(t *testing.T) {
	store := &fakeCandleStore{rows: seedCandles("EUR/USD", domain.Timeframe1Hour, 120)}
	cache := marketcache.New(store, &fakeFetcher{}, nil)
	pred := &fakePredictor{pred: domain.Prediction{Signal: domain.DirectionLong, Confidence: 0.72, ModelVersion: "v1.0"}}
	signals := &fakeSignalStore{}
	bus := eventbus.New()

	m := New(cache, pred, &fakeSubStore{}, signals, bus, DefaultConfig())
	m.check(context.Background(), "EUR/USD", domain.Timeframe1Hour)
	require.Len(t, signals.signals, 1)

	pred.pred.Confidence = 0.74 // delta 0.02 < default 0.10
	m.check(context.Background(), "EUR/USD", domain.Timeframe1Hour)
	assert.Len(t, signals.signals, 1, "no new signal should be persisted below the confidence delta threshold")
}

func TestMonitorCheckEmitsOnDirectionFlipRegardlessOfConfidenceDelta(t *testing.T) {
	store := &fakeCandleStore{rows: seedCandles("EUR/USD", domain.Timeframe1Hour, 120)}
	cache := marketcache.New(store, &fakeFetcher{}, nil)
	pred := &fakePredictor{pred: domain.Prediction{Signal: domain.DirectionLong, Confidence: 0.72, ModelVersion: "v1.0"}}
	signals := &fakeSignalStore{}
	bus := eventbus.New()

	m := New(cache, pred, &fakeSubStore{}, signals, bus, DefaultConfig())
	m.check(context.Background(), "EUR/USD", domain.Timeframe1Hour)
	require.Len(t, signals.signals, 1)

	pred.pred = domain.Prediction{Signal: domain.DirectionShort, Confidence: 0.65, ModelVersion: "v1.0"}
	m.check(context.Background(), "EUR/USD", domain.Timeframe1Hour)
	require.Len(t, signals.signals, 2)
	assert.Equal(t, domain.DirectionLong, *signals.changes[1].PrevDirection)
	assert.Equal(t, domain.DirectionShort, signals.changes[1].NewDirection)
}

func TestMonitorTickDropsSecondFireWhileCheckInFlight(t *testing.T) {
	store := &fakeCandleStore{rows: seedCandles("EUR/USD", domain.Timeframe1Hour, 120)}
	cache := marketcache.New(store, &fakeFetcher{}, nil)
	pred := &fakePredictor{pred: domain.Prediction{Signal: domain.DirectionLong, Confidence: 0.72, ModelVersion: "v1.0"}}
	signals := &fakeSignalStore{}
	bus := eventbus.New()
	subs := &fakeSubStore{subs: []domain.Subscription{{UserID: "u1", Pair: "EUR/USD", Timeframe: domain.Timeframe1Hour}}}

	m := New(cache, pred, subs, signals, bus, DefaultConfig())

	blocking := make(chan struct{})
	released := make(chan struct{})
	key := "EUR/USD:1h"
	dispatched := m.pool.TryDispatch(context.Background(), key, func(ctx context.Context) {
		close(blocking)
		<-released
	})
	require.True(t, dispatched)
	<-blocking

	m.tick(context.Background())
	close(released)
	m.pool.Wait()

	assert.Empty(t, signals.signals, "tick for an in-flight key must be dropped, never queued")
}
