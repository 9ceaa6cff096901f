// Package signalmonitor implements the Signal Monitor (C3): a single
// wall-clock driver that fetches candles from the Market Cache, calls the
// Predictor Client, detects signal-change events against per-key last
// state, and publishes signal.changed. Adapted from the teacher's
// internal/infra/scheduler.go dynamic-frequency driver, generalized to a
// single fixed-interval TickerDriver plus a bounded KeyedWorkerPool.
package signalmonitor

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"fxadvisor/internal/domain"
	"fxadvisor/internal/eventbus"
	"fxadvisor/internal/marketcache"
	"fxadvisor/internal/metrics"
	"fxadvisor/internal/predictor"
	"fxadvisor/internal/scheduler"
)

// CandleWindow is the number of recent candles fetched per check task
// (spec.md §4.3 step 1: "candles <- C1.GetLatest(pair, tf, 250)").
const CandleWindow = 250

// Config tunes the monitor's tick interval, worker pool size, and
// change-detection threshold; defaults mirror spec.md §6.
type Config struct {
	TickInterval      time.Duration
	WorkerPoolSize    int64
	ConfidenceDelta   float64
	StopLossPct       float64
	TakeProfitPct     float64
	ShutdownGrace     time.Duration
}

// DefaultConfig returns spec.md's named defaults (T_s=60s, pool=8,
// Delta_c=0.10).
func DefaultConfig() Config {
	return Config{
		TickInterval:    60 * time.Second,
		WorkerPoolSize:  8,
		ConfidenceDelta: 0.10,
		StopLossPct:     0.005,
		TakeProfitPct:   0.01,
		ShutdownGrace:   10 * time.Second,
	}
}

// Monitor is C3.
type Monitor struct {
	cache     *marketcache.Cache
	predictor domain.Predictor
	subs      domain.SubscriptionStore
	signals   domain.SignalStore
	bus       *eventbus.Bus
	last      *LastStateCache
	pool      *scheduler.KeyedWorkerPool
	driver    *scheduler.TickerDriver
	cfg       Config
	metrics   *metrics.Metrics
}

// New builds a Monitor. subs.ListAll supplies the subscription set S each
// tick enumerates.
func New(cache *marketcache.Cache, pred domain.Predictor, subs domain.SubscriptionStore, signals domain.SignalStore, bus *eventbus.Bus, cfg Config) *Monitor {
	return &Monitor{
		cache:     cache,
		predictor: pred,
		subs:      subs,
		signals:   signals,
		bus:       bus,
		last:      NewLastStateCache(),
		pool:      scheduler.NewKeyedWorkerPool(cfg.WorkerPoolSize),
		driver:    scheduler.NewTickerDriver("signal-monitor", cfg.TickInterval, cfg.ShutdownGrace),
		cfg:       cfg,
		metrics:   metrics.Default(),
	}
}

// Start begins the tick loop.
func (m *Monitor) Start(ctx context.Context) {
	m.driver.Start(ctx, m.tick)
}

// Stop cancels the driver and drains in-flight check tasks within the
// configured grace period.
func (m *Monitor) Stop() {
	m.driver.Stop()
	m.pool.Wait()
}

// tick enumerates S = union of Subscription.(pair,timeframe) and dispatches
// one check task per element; a key already in flight is dropped, not
// queued.
func (m *Monitor) tick(ctx context.Context) {
	subs, err := m.subs.ListAll(ctx)
	if err != nil {
		log.Printf("ERROR: signalmonitor: list subscriptions: %v", err)
		return
	}

	seen := make(map[domain.CacheKey]bool)
	for _, s := range subs {
		key := s.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		keyStr := string(key.Pair) + ":" + string(key.Timeframe)
		dispatched := m.pool.TryDispatch(ctx, keyStr, func(ctx context.Context) {
			m.check(ctx, key.Pair, key.Timeframe)
		})
		if !dispatched {
			m.metrics.SignalTicksDropped.WithLabelValues(key.Pair, string(key.Timeframe)).Inc()
			log.Printf("[WARN] signalmonitor: dropped tick for %s/%s, previous check still in flight", key.Pair, key.Timeframe)
		}
	}
}

// check is the deterministic per-(pair,tf) check task of spec.md §4.3.
func (m *Monitor) check(ctx context.Context, pair string, tf domain.Timeframe) {
	res, err := m.cache.GetLatest(ctx, pair, tf, CandleWindow)
	if err != nil {
		log.Printf("ERROR: signalmonitor: candle fetch for %s/%s: %v", pair, tf, err)
		return
	}
	if len(res.Candles) < predictor.MinCandlesForPrediction {
		m.metrics.SignalChecksSkipped.WithLabelValues(pair, string(tf), "insufficient_data").Inc()
		log.Printf("[WARN] signalmonitor: %s/%s has %d candles, need %d, skipping", pair, tf, len(res.Candles), predictor.MinCandlesForPrediction)
		return
	}

	pred, err := m.predictor.Predict(ctx, pair, tf, res.Candles, nil)
	if err != nil {
		if domain.IsKind(err, domain.KindUnavailable) {
			m.metrics.PredictorTimeouts.WithLabelValues(pair, string(tf)).Inc()
		}
		m.metrics.SignalChecksSkipped.WithLabelValues(pair, string(tf), "predictor_unavailable").Inc()
		log.Printf("[WARN] signalmonitor: predictor unavailable for %s/%s: %v", pair, tf, err)
		return
	}

	last, hasLast := m.last.Get(pair, tf)
	var prevPtr *domain.Signal
	if hasLast {
		prevPtr = &last
	}

	if !domain.IsChange(prevPtr, pred.Signal, pred.Confidence, m.cfg.ConfidenceDelta) {
		return
	}

	entry := res.Candles[len(res.Candles)-1].Close
	newSignal := m.buildSignal(pair, tf, entry, pred)

	change := domain.SignalChange{
		Pair:            pair,
		Timeframe:       tf,
		NewDirection:    pred.Signal,
		NewConfidence:   pred.Confidence,
		Strength:        pred.Confidence,
		MarketCondition: marketCondition(res.Candles),
		DetectedAt:      time.Now(),
	}
	if hasLast {
		prevDir := last.Direction
		prevConf := last.Confidence
		change.PrevDirection = &prevDir
		change.PrevConfidence = &prevConf
	}

	if err := m.signals.SaveSignal(ctx, newSignal); err != nil {
		log.Printf("ERROR: signalmonitor: save signal for %s/%s: %v", pair, tf, err)
		return
	}
	if err := m.signals.SaveSignalChange(ctx, change); err != nil {
		log.Printf("ERROR: signalmonitor: save signal change for %s/%s: %v", pair, tf, err)
	}

	m.last.Set(newSignal)
	m.metrics.SignalChanges.WithLabelValues(pair, string(tf), string(pred.Signal)).Inc()
	m.bus.PublishSignalChanged(eventbus.SignalChanged{Signal: newSignal, Change: change})
}

// buildSignal derives entry/stopLoss/takeProfit from the latest close and
// configured percent distances: the predictor RPC contract (§4.2) returns
// signal/confidence/factors only, no price levels, so the monitor computes
// them the way a discretionary desk would size a fixed-risk entry.
func (m *Monitor) buildSignal(pair string, tf domain.Timeframe, entry float64, pred domain.Prediction) domain.Signal {
	sl, tp := entry, entry
	switch pred.Signal {
	case domain.DirectionLong:
		sl = entry * (1 - m.cfg.StopLossPct)
		tp = entry * (1 + m.cfg.TakeProfitPct)
	case domain.DirectionShort:
		sl = entry * (1 + m.cfg.StopLossPct)
		tp = entry * (1 - m.cfg.TakeProfitPct)
	}

	return domain.Signal{
		ID:            uuid.NewString(),
		Pair:          pair,
		Timeframe:     tf,
		Direction:     pred.Signal,
		Confidence:    pred.Confidence,
		Entry:         entry,
		StopLoss:      sl,
		TakeProfit:    tp,
		Factors:       pred.Factors,
		ModelVersion:  pred.ModelVersion,
		ABTestID:      pred.ABTestID,
		CreatedAt:     time.Now(),
		Status:        domain.SignalStatusActive,
		ActualOutcome: domain.OutcomePending,
	}
}

// marketCondition classifies recent price action as trending or ranging by
// comparing total displacement to the sum of absolute bar-to-bar moves
// over the trailing window.
func marketCondition(candles []domain.Candle) string {
	if len(candles) < 2 {
		return "unknown"
	}
	window := candles
	if len(window) > 20 {
		window = window[len(window)-20:]
	}
	displacement := window[len(window)-1].Close - window[0].Close
	if displacement < 0 {
		displacement = -displacement
	}
	var churn float64
	for i := 1; i < len(window); i++ {
		d := window[i].Close - window[i-1].Close
		if d < 0 {
			d = -d
		}
		churn += d
	}
	if churn == 0 {
		return "ranging"
	}
	if displacement/churn >= 0.5 {
		return "trending"
	}
	return "ranging"
}
