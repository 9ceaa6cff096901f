package positionmonitor

import (
	"context"
	"log"
	"time"

	"fxadvisor/internal/domain"
	"fxadvisor/internal/eventbus"
	"fxadvisor/internal/marketcache"
	"fxadvisor/internal/metrics"
	"fxadvisor/internal/scheduler"
)

// Config tunes the monitor's tick interval, batch size/spacing and
// trailing-stop thresholds; defaults mirror spec.md §4.5/§6.
type Config struct {
	TickInterval      time.Duration
	BatchSize         int
	InterBatchSpacing time.Duration
	BreakevenPct      float64
	LockPct           float64
	StaleHoldHours    float64
	ShutdownGrace     time.Duration
}

// DefaultConfig returns spec.md's named defaults (T_p=60s, batch=10,
// 1s spacing, breakeven 0.5, lock 0.8, stale hold 24h).
func DefaultConfig() Config {
	return Config{
		TickInterval:      60 * time.Second,
		BatchSize:         10,
		InterBatchSpacing: time.Second,
		BreakevenPct:      DefaultBreakevenPct,
		LockPct:           DefaultLockPct,
		StaleHoldHours:    DefaultStaleHoldHours,
		ShutdownGrace:     10 * time.Second,
	}
}

// Monitor is C5.
type Monitor struct {
	positions domain.PositionStore
	cache     *marketcache.Cache
	predictor domain.Predictor
	records   domain.PositionMonitoringStore
	receipts  domain.NotificationReceiptStore
	policies  domain.UserPolicyStore
	transport domain.Transport
	bus       *eventbus.Bus

	locks  positionLocks
	pool   *scheduler.KeyedWorkerPool
	driver *scheduler.TickerDriver
	cfg    Config

	metrics *metrics.Metrics
	now     func() time.Time
}

// New builds a Monitor.
func New(positions domain.PositionStore, cache *marketcache.Cache, pred domain.Predictor, records domain.PositionMonitoringStore, receipts domain.NotificationReceiptStore, policies domain.UserPolicyStore, transport domain.Transport, bus *eventbus.Bus, cfg Config) *Monitor {
	return &Monitor{
		positions: positions,
		cache:     cache,
		predictor: pred,
		records:   records,
		receipts:  receipts,
		policies:  policies,
		transport: transport,
		bus:       bus,
		pool:      scheduler.NewKeyedWorkerPool(int64(cfg.BatchSize)),
		driver:    scheduler.NewTickerDriver("position-monitor", cfg.TickInterval, cfg.ShutdownGrace),
		cfg:       cfg,
		metrics:   metrics.Default(),
		now:       time.Now,
	}
}

// Start begins the tick loop.
func (m *Monitor) Start(ctx context.Context) {
	m.driver.Start(ctx, m.tick)
}

// Stop cancels the driver and drains in-flight evaluations within the
// configured grace period.
func (m *Monitor) Stop() {
	m.driver.Stop()
	m.pool.Wait()
}

// tick loads every open position and processes them concurrently in
// batches of cfg.BatchSize, with cfg.InterBatchSpacing between batches to
// bound RPC rate against downstream dependencies.
func (m *Monitor) tick(ctx context.Context) {
	open, err := m.positions.GetOpenPositions(ctx)
	if err != nil {
		log.Printf("ERROR: positionmonitor: list open positions: %v", err)
		return
	}

	for start := 0; start < len(open); start += m.cfg.BatchSize {
		end := start + m.cfg.BatchSize
		if end > len(open) {
			end = len(open)
		}
		batch := open[start:end]
		for _, pos := range batch {
			pos := pos
			dispatched := m.pool.TryDispatch(ctx, pos.ID, func(ctx context.Context) {
				m.evaluate(ctx, pos)
			})
			if !dispatched {
				log.Printf("[WARN] positionmonitor: skipped position %s, prior evaluation still in flight", pos.ID)
			}
		}
		if end < len(open) {
			time.Sleep(m.cfg.InterBatchSpacing)
		}
	}
}

// evaluate is the per-position evaluation loop of spec.md §4.5.
func (m *Monitor) evaluate(ctx context.Context, pos domain.Position) {
	m.locks.Lock(pos.ID)
	defer m.locks.Unlock(pos.ID)

	res, err := m.cache.GetLatest(ctx, pos.Pair, pos.Timeframe, 1)
	if err != nil || len(res.Candles) == 0 {
		log.Printf("ERROR: positionmonitor: price fetch for position %s: %v", pos.ID, err)
		return
	}
	currentPrice := res.Candles[len(res.Candles)-1].Close

	if shouldClose, result := pos.CheckSLTP(currentPrice); shouldClose {
		m.closePosition(ctx, pos, currentPrice, result)
		return
	}

	unrealizedPips := pos.UnrealizedPips(currentPrice)
	unrealizedPct := pos.UnrealizedPct(currentPrice)
	holdMinutes := m.now().Sub(pos.OpenedAt).Minutes()

	var pred domain.Prediction
	predOK := true
	historyRes, herr := m.cache.GetLatest(ctx, pos.Pair, pos.Timeframe, 250)
	if herr != nil || len(historyRes.Candles) < 60 {
		predOK = false
	} else {
		p, perr := m.predictor.Predict(ctx, pos.Pair, pos.Timeframe, historyRes.Candles, nil)
		if perr != nil {
			predOK = false
		} else {
			pred = p
		}
	}

	var reversalProb float64
	var counter bool
	if predOK {
		counter = pos.Direction.Opposes(pred.Signal)
		reversalProb = ReversalProbability(pos.Direction, pred.Signal, pred.Confidence)
	}

	newSL, trailingMoved, stage := ComputeTrailingStop(pos, currentPrice, m.cfg.BreakevenPct, m.cfg.LockPct)
	if trailingMoved {
		pos.StopLoss = newSL
		if err := m.positions.Update(ctx, pos); err != nil {
			log.Printf("ERROR: positionmonitor: update SL for position %s: %v", pos.ID, err)
		} else {
			m.metrics.PositionTrailingMoves.WithLabelValues(string(stage)).Inc()
		}
	}

	rec := Decide(DecisionInput{
		UnrealizedPct:   unrealizedPct,
		HoldMinutes:     holdMinutes,
		ReversalProb:    reversalProb,
		CounterPosition: counter,
		TrailingFired:   trailingMoved,
		StaleHoldHours:  m.cfg.StaleHoldHours,
	})
	m.metrics.PositionRecommendations.WithLabelValues(string(rec)).Inc()

	record := domain.PositionMonitoringRecord{
		PositionID:     pos.ID,
		Ts:             m.now(),
		CurrentPrice:   currentPrice,
		UnrealizedPips: unrealizedPips,
		UnrealizedPct:  unrealizedPct,
		TrendDir:       pred.Signal,
		TrendStrength:  pred.Confidence,
		ReversalProb:   reversalProb,
		Recommendation: rec,
		Confidence:     pred.Confidence,
		Rationale:      rationale(rec, trailingMoved, stage, predOK),
	}

	level, notify := urgencyLevel(rec, pred.Confidence, trailingMoved)
	if notify && m.eligibleForNotification(ctx, pos, level) {
		payload := domain.DeliveryPayload{
			UserID: pos.UserID, Pair: pos.Pair, Timeframe: pos.Timeframe,
			Direction: pos.Direction, Entry: pos.Entry, StopLoss: pos.StopLoss, TakeProfit: pos.TakeProfit,
			Confidence: pred.Confidence, Level: level, Text: record.Rationale,
		}
		if result, err := m.transport.Send(ctx, payload); err == nil && result.Accepted {
			record.NotificationSent = true
			record.NotificationLevel = level
			m.metrics.PositionNotifications.WithLabelValues(levelLabel(level)).Inc()
			if rerr := m.receipts.Save(ctx, domain.NotificationReceipt{PositionID: &pos.ID, UserID: pos.UserID, Channel: payload.Channel, SentAt: m.now(), Level: level}); rerr != nil {
				log.Printf("ERROR: positionmonitor: save receipt for position %s: %v", pos.ID, rerr)
			}
		}
	}

	if err := m.records.Save(ctx, record); err != nil {
		log.Printf("ERROR: positionmonitor: save monitoring record for position %s: %v", pos.ID, err)
	}
	m.bus.PublishPositionEvaluated(eventbus.PositionEvaluated{Position: pos, Record: record})
}

func (m *Monitor) closePosition(ctx context.Context, pos domain.Position, exitPrice float64, result string) {
	pnl, pnlPct := pos.CalculateNetPnL(exitPrice)
	pips := pos.UnrealizedPips(exitPrice)
	now := m.now()

	pos.Status = domain.PositionClosed
	pos.ClosePrice = &exitPrice
	pos.ClosedAt = &now
	pos.Result = &result
	pos.PnL = &pnl
	pos.PnLPct = &pnlPct
	pos.Pips = &pips

	if err := m.positions.Update(ctx, pos); err != nil {
		log.Printf("ERROR: positionmonitor: close position %s: %v", pos.ID, err)
		return
	}

	record := domain.PositionMonitoringRecord{
		PositionID: pos.ID, Ts: now, CurrentPrice: exitPrice,
		UnrealizedPips: pips, UnrealizedPct: pnlPct,
		Recommendation: domain.RecExit, NotificationSent: false,
	}
	if payload := (domain.DeliveryPayload{UserID: pos.UserID, Pair: pos.Pair, Level: domain.LevelCritical, Text: "position closed: " + result}); true {
		if res, err := m.transport.Send(ctx, payload); err == nil && res.Accepted {
			record.NotificationSent = true
			record.NotificationLevel = domain.LevelCritical
			m.metrics.PositionNotifications.WithLabelValues(levelLabel(domain.LevelCritical)).Inc()
			_ = m.receipts.Save(ctx, domain.NotificationReceipt{PositionID: &pos.ID, UserID: pos.UserID, SentAt: now, Level: domain.LevelCritical})
		}
	}
	if err := m.records.Save(ctx, record); err != nil {
		log.Printf("ERROR: positionmonitor: save close record for position %s: %v", pos.ID, err)
	}
	m.bus.PublishPositionEvaluated(eventbus.PositionEvaluated{Position: pos, Record: record})
}

// eligibleForNotification applies spec.md §4.5 step 8: suppress if within
// the user's mute window (except L1), then the per-level cooldown (L1
// none, L2 5min, L3 30min, L4 24h per position).
func (m *Monitor) eligibleForNotification(ctx context.Context, pos domain.Position, level domain.NotificationLevel) bool {
	if level == domain.LevelCritical {
		return true
	}

	policy, err := m.policies.Get(ctx, pos.UserID)
	if err == nil && policy.IsMuted(m.now()) {
		return false
	}

	last, err := m.receipts.LastForPosition(ctx, pos.ID, level)
	if err != nil || last == nil {
		return true
	}
	return m.now().Sub(last.SentAt) >= level.CooldownFor()
}

// urgencyLevel maps a recommendation/confidence pair to a notification
// level per spec.md §4.5 step 7; returns notify=false for conditions that
// don't warrant interrupting the user this tick (plain hold).
func urgencyLevel(rec domain.Recommendation, confidence float64, trailingFired bool) (domain.NotificationLevel, bool) {
	switch {
	case (rec == domain.RecExit || rec == domain.RecTakePartial) && confidence >= 0.70:
		return domain.LevelImportant, true
	case trailingFired:
		return domain.LevelGeneral, true
	case confidence >= 0.55 && rec != domain.RecHold:
		return domain.LevelGeneral, true
	default:
		return domain.LevelSummary, false
	}
}

func levelLabel(l domain.NotificationLevel) string {
	switch l {
	case domain.LevelCritical:
		return "L1"
	case domain.LevelImportant:
		return "L2"
	case domain.LevelGeneral:
		return "L3"
	default:
		return "L4"
	}
}

func rationale(rec domain.Recommendation, trailingMoved bool, stage TrailingStage, predOK bool) string {
	switch {
	case trailingMoved:
		return "trailing stop moved to " + string(stage)
	case !predOK:
		return "rule-based only: predictor unavailable"
	default:
		return "recommendation: " + string(rec)
	}
}
