// Package delivery implements the Delivery Engine (C4): per-user
// eligibility filtering, cooldown/quota/dedup enforcement, payload
// formatting and transport dispatch with retry. Adapted from the teacher's
// internal/adapter/telegram/service.go notification call sites
// (TradingService.ProcessMarketScan's per-user send loop), generalized
// from a single hard-coded Telegram transport to the domain.Transport
// interface.
package delivery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"fxadvisor/internal/domain"
	"fxadvisor/internal/eventbus"
	"fxadvisor/internal/metrics"
)

// Config tunes dedup window, retry policy and defaults for policies that
// don't override them, per spec.md §4.4 and §6.
type Config struct {
	DedupWindow  time.Duration
	RetryBase    time.Duration
	RetryFactor  float64
	MaxAttempts  int
	DefaultQuota int
	DefaultCooldown time.Duration
}

// DefaultConfig returns spec.md's named defaults (30 min dedup, base 1s
// factor 2 max 3 attempts retry).
func DefaultConfig() Config {
	return Config{
		DedupWindow:     30 * time.Minute,
		RetryBase:       time.Second,
		RetryFactor:     2,
		MaxAttempts:     3,
		DefaultQuota:    20,
		DefaultCooldown: 15 * time.Minute,
	}
}

// Engine is C4.
type Engine struct {
	subs      domain.SubscriptionStore
	policies  domain.UserPolicyStore
	receipts  domain.NotificationReceiptStore
	transport domain.Transport
	cfg       Config
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New builds an Engine. Call Wire to subscribe it to a Bus's
// signal.changed topic.
func New(subs domain.SubscriptionStore, policies domain.UserPolicyStore, receipts domain.NotificationReceiptStore, transport domain.Transport, cfg Config) *Engine {
	return &Engine{subs: subs, policies: policies, receipts: receipts, transport: transport, cfg: cfg, metrics: metrics.Default(), now: time.Now}
}

// Wire subscribes the Engine to signal.changed events on bus.
func (e *Engine) Wire(bus *eventbus.Bus) {
	bus.OnSignalChanged(func(evt eventbus.SignalChanged) {
		e.HandleSignalChanged(context.Background(), evt)
	})
}

// HandleSignalChanged computes the eligible recipient set for evt and
// dispatches a formatted payload to each, independently — one recipient's
// transport failure never blocks another.
func (e *Engine) HandleSignalChanged(ctx context.Context, evt eventbus.SignalChanged) {
	subs, err := e.subs.ListAll(ctx)
	if err != nil {
		log.Printf("ERROR: delivery: list subscriptions: %v", err)
		return
	}

	for _, sub := range subs {
		if sub.Pair != evt.Change.Pair || sub.Timeframe != evt.Change.Timeframe {
			continue
		}
		e.deliverToSubscriber(ctx, sub, evt)
	}
}

func (e *Engine) deliverToSubscriber(ctx context.Context, sub domain.Subscription, evt eventbus.SignalChanged) {
	policy, err := e.policies.Get(ctx, sub.UserID)
	if err != nil {
		log.Printf("ERROR: delivery: load policy for user %s: %v", sub.UserID, err)
		return
	}

	reason, eligible := e.checkEligibility(ctx, sub, policy, evt)
	if !eligible {
		e.metrics.DeliverySuppressed.WithLabelValues(reason).Inc()
		return
	}

	payload := e.formatPayload(sub, policy, evt)
	if !e.send(ctx, payload) {
		e.metrics.DeliveryFailures.WithLabelValues(payload.Channel).Inc()
		return
	}

	receipt := domain.NotificationReceipt{
		SignalID: &evt.Signal.ID,
		UserID:   sub.UserID,
		Channel:  payload.Channel,
		SentAt:   e.now(),
		Level:    domain.LevelGeneral,
	}
	if err := e.receipts.Save(ctx, receipt); err != nil {
		log.Printf("ERROR: delivery: save receipt for user %s: %v", sub.UserID, err)
	}
	e.metrics.DeliveryAccepted.WithLabelValues(sub.Pair, string(sub.Timeframe)).Inc()
}

// checkEligibility implements the rule list of spec.md §4.4 in order,
// returning the first failing reason for metrics/logging.
func (e *Engine) checkEligibility(ctx context.Context, sub domain.Subscription, policy domain.UserPolicy, evt eventbus.SignalChanged) (reason string, ok bool) {
	if !policy.NotificationsEnabled {
		return "notifications_disabled", false
	}
	if !policy.AllowsTimeframe(sub.Timeframe) {
		return "timeframe_not_enabled", false
	}
	if evt.Change.NewConfidence < policy.MinConfidence {
		return "below_min_confidence", false
	}
	if policy.MLOnly && evt.Signal.ModelVersion == "" {
		return "ml_only_no_model_version", false
	}
	now := e.now()
	if policy.IsMuted(now) {
		return "mute_window", false
	}

	key := domain.NotificationKey{UserID: sub.UserID, Pair: sub.Pair, Timeframe: sub.Timeframe}

	cooldown := e.cfg.DefaultCooldown
	if policy.CooldownMinutes > 0 {
		cooldown = time.Duration(policy.CooldownMinutes) * time.Minute
	}
	last, err := e.receipts.LastForKey(ctx, key)
	if err == nil && last != nil && now.Sub(last.SentAt) < cooldown {
		return "cooldown", false
	}

	quota := e.cfg.DefaultQuota
	if policy.DailyQuota > 0 {
		quota = policy.DailyQuota
	}
	count, err := e.receipts.CountSince(ctx, sub.UserID, now.Add(-24*time.Hour))
	if err == nil && count >= quota {
		return "daily_quota_exhausted", false
	}

	dup, err := e.receipts.LastForSignalDirection(ctx, key, evt.Change.NewDirection, now.Add(-e.cfg.DedupWindow))
	if err == nil && dup != nil {
		return "dedup_window", false
	}

	return "", true
}

func (e *Engine) formatPayload(sub domain.Subscription, policy domain.UserPolicy, evt eventbus.SignalChanged) domain.DeliveryPayload {
	channel := "default"
	if sub.ChannelID != nil {
		channel = *sub.ChannelID
	}
	return domain.DeliveryPayload{
		MessageID:    uuid.NewString(),
		UserID:       sub.UserID,
		Channel:      channel,
		Pair:         evt.Signal.Pair,
		Timeframe:    evt.Signal.Timeframe,
		Direction:    evt.Signal.Direction,
		Entry:        evt.Signal.Entry,
		StopLoss:     evt.Signal.StopLoss,
		TakeProfit:   evt.Signal.TakeProfit,
		Confidence:   evt.Signal.Confidence,
		Factors:      evt.Signal.Factors,
		ModelVersion: evt.Signal.ModelVersion,
		Level:        domain.LevelGeneral,
		Text:         formatText(evt.Signal),
	}
}

func formatText(s domain.Signal) string {
	return fmt.Sprintf("%s %s %s | entry=%.5f sl=%.5f tp=%.5f confidence=%.2f model=%s",
		s.Pair, s.Timeframe, s.Direction, s.Entry, s.StopLoss, s.TakeProfit, s.Confidence, s.ModelVersion)
}

// send dispatches payload with exponential backoff (base 1s, factor 2, max
// 3 attempts); a permanent failure is surfaced to the caller via its
// return value but never panics or blocks other recipients.
func (e *Engine) send(ctx context.Context, payload domain.DeliveryPayload) bool {
	wait := e.cfg.RetryBase
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		result, err := e.transport.Send(sendCtx, payload)
		cancel()
		if err == nil && result.Accepted {
			return true
		}
		if attempt < e.cfg.MaxAttempts {
			e.metrics.DeliveryRetries.WithLabelValues(payload.Channel).Inc()
			log.Printf("[WARN] delivery: send attempt %d/%d failed for user %s: %v", attempt, e.cfg.MaxAttempts, payload.UserID, err)
			time.Sleep(wait)
			wait = time.Duration(float64(wait) * e.cfg.RetryFactor)
		} else {
			log.Printf("ERROR: delivery: permanent send failure for user %s after %d attempts: %v", payload.UserID, attempt, err)
		}
	}
	return false
}
