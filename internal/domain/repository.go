package domain

import (
	"context"
	"time"
)

// CandleStore is C1's persistence contract. Generalized from the teacher's
// PaperPositionRepository/PositionRepository pattern: small, synchronous,
// pgx-backed in production (internal/store/postgres).
type CandleStore interface {
	Upsert(ctx context.Context, candles []Candle) error
	GetLatest(ctx context.Context, pair string, tf Timeframe, n int) ([]Candle, error)
	GetRange(ctx context.Context, pair string, tf Timeframe, from, to time.Time) ([]Candle, error)
	DeleteExpired(ctx context.Context, asOf time.Time) (int64, error)
}

// SignalStore persists Signal and SignalChange rows, exclusively written by
// the Signal Monitor.
type SignalStore interface {
	SaveSignal(ctx context.Context, s Signal) error
	LastSignal(ctx context.Context, pair string, tf Timeframe) (*Signal, error)
	SaveSignalChange(ctx context.Context, c SignalChange) error
	UpdateOutcome(ctx context.Context, signalID string, outcome Outcome, pnl *float64) error
	SignalsWithOutcomesSince(ctx context.Context, since time.Time) ([]Signal, error)
}

// SubscriptionStore enforces the (userId,pair,tf) uniqueness constraint
// named in spec.md's Subscription CRUD and exposes CountByUser; the
// per-user cap is checked by the caller (the subscription HTTP handler).
type SubscriptionStore interface {
	Create(ctx context.Context, s Subscription) error
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]Subscription, error)
	ListAll(ctx context.Context) ([]Subscription, error)
	CountByUser(ctx context.Context, userID string) (int, error)
}

// UserPolicyStore reads/writes per-user delivery policy.
type UserPolicyStore interface {
	Get(ctx context.Context, userID string) (UserPolicy, error)
	Upsert(ctx context.Context, p UserPolicy) error
}

// PositionStore is C5's persistence contract, generalized from the
// teacher's PositionRepository (GetOpenPositions, GetTodayRealizedPnL,
// GetPnLBySignalIDs, GetClosedPositionsHistory).
type PositionStore interface {
	Save(ctx context.Context, p Position) error
	Update(ctx context.Context, p Position) error
	GetByID(ctx context.Context, id string) (*Position, error)
	GetOpenPositions(ctx context.Context) ([]Position, error)
	GetOpenPositionsByUser(ctx context.Context, userID string) ([]Position, error)
	GetClosedSince(ctx context.Context, since time.Time) ([]Position, error)
}

// PositionMonitoringStore persists per-tick evaluation rows.
type PositionMonitoringStore interface {
	Save(ctx context.Context, r PositionMonitoringRecord) error
	LastForPosition(ctx context.Context, positionID string) (*PositionMonitoringRecord, error)
}

// ModelStore persists registered model versions, exclusively written by
// the Learning Controller.
type ModelStore interface {
	Save(ctx context.Context, m ModelVersion) error
	Active(ctx context.Context) ([]ModelVersion, error)
	Get(ctx context.Context, version string) (*ModelVersion, error)
	SetActive(ctx context.Context, version string, active bool) error
}

// ABTestStore persists A/B test state.
type ABTestStore interface {
	Save(ctx context.Context, t ABTest) error
	Get(ctx context.Context, id string) (*ABTest, error)
	Running(ctx context.Context) ([]ABTest, error)
	Update(ctx context.Context, t ABTest) error
}

// TrainingLogStore records training run outcomes for operability.
type TrainingLogStore interface {
	Save(ctx context.Context, l TrainingLog) error
}

// NotificationReceiptStore persists sent-notification bookkeeping used for
// cooldown, dedup and daily-quota enforcement.
type NotificationReceiptStore interface {
	Save(ctx context.Context, r NotificationReceipt) error
	LastForKey(ctx context.Context, key NotificationKey) (*NotificationReceipt, error)
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	LastForSignalDirection(ctx context.Context, key NotificationKey, direction Direction, since time.Time) (*NotificationReceipt, error)
	LastForPosition(ctx context.Context, positionID string, level NotificationLevel) (*NotificationReceipt, error)
}

// MarketDataFetcher is the external quote/candle source C1 calls on read
// miss or partial coverage. Must preserve ordering.
type MarketDataFetcher interface {
	Fetch(ctx context.Context, pair string, tf Timeframe, from, to time.Time) ([]Candle, error)
}

// Transport delivers a formatted payload to an outbound channel (Telegram,
// etc). Must be idempotent on MessageID.
type Transport interface {
	Send(ctx context.Context, payload DeliveryPayload) (DeliveryResult, error)
}

// Predictor is C2's public contract, consumed by C3 and C5.
type Predictor interface {
	Predict(ctx context.Context, pair string, tf Timeframe, candles []Candle, versionHint *string) (Prediction, error)
}
