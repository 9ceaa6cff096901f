package domain

import "time"

// DeliveryPayload is the fixed-schema message the Delivery Engine hands to
// a transport adapter.
type DeliveryPayload struct {
	MessageID    string
	UserID       string
	Channel      string
	Pair         string
	Timeframe    Timeframe
	Direction    Direction
	Entry        float64
	StopLoss     float64
	TakeProfit   float64
	Confidence   float64
	Factors      Factors
	ModelVersion string
	Level        NotificationLevel
	Text         string
}

// DeliveryResult is the transport adapter's idempotent response.
type DeliveryResult struct {
	Accepted   bool
	MessageRef string
}

// NotificationReceipt is written on successful delivery. Either SignalID or
// PositionID identifies what was notified about.
type NotificationReceipt struct {
	SignalID   *string
	PositionID *string
	UserID     string
	Channel    string
	SentAt     time.Time
	Level      NotificationLevel
}

// NotificationKey identifies the (userId, pair, tf) tuple used for cooldown and quota
// bookkeeping in C4. Position-side receipts key on PositionID instead, see
// positionmonitor.
type NotificationKey struct {
	UserID    string
	Pair      string
	Timeframe Timeframe
}
