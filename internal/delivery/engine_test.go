package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxadvisor/internal/domain"
	"fxadvisor/internal/eventbus"
)

type fakeSubStore struct{ subs []domain.Subscription }

func (f *fakeSubStore) Create(ctx context.Context, s domain.Subscription) error { return nil }
func (f *fakeSubStore) Delete(ctx context.Context, id string) error            { return nil }
func (f *fakeSubStore) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return nil, nil
}
func (f *fakeSubStore) ListAll(ctx context.Context) ([]domain.Subscription, error) { return f.subs, nil }
func (f *fakeSubStore) CountByUser(ctx context.Context, userID string) (int, error) { return 0, nil }

type fakePolicyStore struct{ policies map[string]domain.UserPolicy }

func (f *fakePolicyStore) Get(ctx context.Context, userID string) (domain.UserPolicy, error) {
	return f.policies[userID], nil
}
func (f *fakePolicyStore) Upsert(ctx context.Context, p domain.UserPolicy) error {
	f.policies[p.UserID] = p
	return nil
}

type fakeReceiptStore struct {
	mu       sync.Mutex
	receipts []domain.NotificationReceipt
}

func (f *fakeReceiptStore) Save(ctx context.Context, r domain.NotificationReceipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, r)
	return nil
}
func (f *fakeReceiptStore) LastForKey(ctx context.Context, key domain.NotificationKey) (*domain.NotificationReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *domain.NotificationReceipt
	for i := range f.receipts {
		r := f.receipts[i]
		if r.UserID == key.UserID {
			if latest == nil || r.SentAt.After(latest.SentAt) {
				cp := r
				latest = &cp
			}
		}
	}
	return latest, nil
}
func (f *fakeReceiptStore) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.receipts {
		if r.UserID == userID && r.SentAt.After(since) {
			n++
		}
	}
	return n, nil
}
func (f *fakeReceiptStore) LastForSignalDirection(ctx context.Context, key domain.NotificationKey, direction domain.Direction, since time.Time) (*domain.NotificationReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.receipts {
		if r.UserID == key.UserID && r.SentAt.After(since) {
			return &r, nil
		}
	}
	return nil, nil
}
func (f *fakeReceiptStore) LastForPosition(ctx context.Context, positionID string, level domain.NotificationLevel) (*domain.NotificationReceipt, error) {
	return nil, nil
}

type fakeTransport struct {
	mu    sync.Mutex
	sent  []domain.DeliveryPayload
	fails int
}

func (f *fakeTransport) Send(ctx context.Context, payload domain.DeliveryPayload) (domain.DeliveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return domain.DeliveryResult{}, assertErr{"transport down"}
	}
	f.sent = append(f.sent, payload)
	return domain.DeliveryResult{Accepted: true, MessageRef: payload.MessageID}, nil
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func baseEvent() eventbus.SignalChanged {
	return eventbus.SignalChanged{
		Signal: domain.Signal{ID: "sig1", Pair: "EUR/USD", Timeframe: domain.Timeframe1Hour, Direction: domain.DirectionLong, Confidence: 0.72, ModelVersion: "v1.0"},
		Change: domain.SignalChange{Pair: "EUR/USD", Timeframe: domain.Timeframe1Hour, NewDirection: domain.DirectionLong, NewConfidence: 0.72, DetectedAt: time.Now()},
	}
}

func newEngine(transport *fakeTransport, subs []domain.Subscription, policies map[string]domain.UserPolicy) (*Engine, *fakeReceiptStore) {
	receipts := &fakeReceiptStore{}
	cfg := DefaultConfig()
	cfg.RetryBase = time.Millisecond
	// No cooldown, so the dedup-window and quota checks are the ones that
	// decide a second delivery in these tests.
	cfg.DefaultCooldown = 0
	e := New(&fakeSubStore{subs: subs}, &fakePolicyStore{policies: policies}, receipts, transport, cfg)
	return e, receipts
}

func TestEngineDeliversToEligibleSubscriberAndWritesReceipt(t *testing.T) {
	subs := []domain.Subscription{{UserID: "u1", Pair: "EUR/USD", Timeframe: domain.Timeframe1Hour}}
	policies := map[string]domain.UserPolicy{"u1": {UserID: "u1", NotificationsEnabled: true, MinConfidence: 0.6, DailyQuota: 5}}
	transport := &fakeTransport{}
	e, receipts := newEngine(transport, subs, policies)

	e.HandleSignalChanged(context.Background(), baseEvent())

	assert.Len(t, transport.sent, 1)
	assert.Len(t, receipts.receipts, 1)
}

func TestEngineSuppressesBelowMinConfidence(t *testing.T) {
	subs := []domain.Subscription{{UserID: "u1", Pair: "EUR/USD", Timeframe: domain.Timeframe1Hour}}
	policies := map[string]domain.UserPolicy{"u1": {UserID: "u1", NotificationsEnabled: true, MinConfidence: 0.9}}
	transport := &fakeTransport{}
	e, receipts := newEngine(transport, subs, policies)

	e.HandleSignalChanged(context.Background(), baseEvent())

	assert.Empty(t, transport.sent)
	assert.Empty(t, receipts.receipts)
}

func TestEngineSuppressesWithinDedupWindowRegardlessOfConfidence(t *testing.T) {
	subs := []domain.Subscription{{UserID: "u1", Pair: "EUR/USD", Timeframe: domain.Timeframe1Hour}}
	policies := map[string]domain.UserPolicy{"u1": {UserID: "u1", NotificationsEnabled: true, MinConfidence: 0.5, DailyQuota: 10}}
	transport := &fakeTransport{}
	e, receipts := newEngine(transport, subs, policies)

	e.HandleSignalChanged(context.Background(), baseEvent())
	require.Len(t, transport.sent, 1)

	evt2 := baseEvent()
	evt2.Change.NewConfidence = 0.95
	e.HandleSignalChanged(context.Background(), evt2)

	assert.Len(t, transport.sent, 1, "duplicate (user,pair,tf,direction) within dedup window must be suppressed")
	assert.Len(t, receipts.receipts, 1)
}

func TestEngineEnforcesDailyQuota(t *testing.T) {
	subs := []domain.Subscription{{UserID: "u1", Pair: "EUR/USD", Timeframe: domain.Timeframe1Hour}}
	policies := map[string]domain.UserPolicy{"u1": {UserID: "u1", NotificationsEnabled: true, MinConfidence: 0.5, DailyQuota: 1}}
	transport := &fakeTransport{}
	e, receipts := newEngine(transport, subs, policies)

	e.HandleSignalChanged(context.Background(), baseEvent())
	require.Len(t, receipts.receipts, 1)

	evt2 := baseEvent()
	evt2.Change.NewDirection = domain.DirectionShort // different direction bypasses dedup, not quota
	evt2.Signal.Direction = domain.DirectionShort
	e.HandleSignalChanged(context.Background(), evt2)

	assert.Len(t, receipts.receipts, 1, "count(NotificationReceipt) must not exceed dailyQuota in any 24h window")
}

func TestEngineRetriesTransportFailureThenSucceeds(t *testing.T) {
	subs := []domain.Subscription{{UserID: "u1", Pair: "EUR/USD", Timeframe: domain.Timeframe1Hour}}
	policies := map[string]domain.UserPolicy{"u1": {UserID: "u1", NotificationsEnabled: true, MinConfidence: 0.5, DailyQuota: 5}}
	transport := &fakeTransport{fails: 2}
	e, receipts := newEngine(transport, subs, policies)

	e.HandleSignalChanged(context.Background(), baseEvent())

	assert.Len(t, transport.sent, 1)
	assert.Len(t, receipts.receipts, 1)
}

func TestEngineGivesUpAfterMaxAttempts(t *testing.T) {
	subs := []domain.Subscription{{UserID: "u1", Pair: "EUR/USD", Timeframe: domain.Timeframe1Hour}}
	policies := map[string]domain.UserPolicy{"u1": {UserID: "u1", NotificationsEnabled: true, MinConfidence: 0.5, DailyQuota: 5}}
	transport := &fakeTransport{fails: 10}
	e, receipts := newEngine(transport, subs, policies)

	e.HandleSignalChanged(context.Background(), baseEvent())

	assert.Empty(t, transport.sent)
	assert.Empty(t, receipts.receipts)
}
