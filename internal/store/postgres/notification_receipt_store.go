package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fxadvisor/internal/domain"
)

// NotificationReceiptStore implements domain.NotificationReceiptStore.
type NotificationReceiptStore struct {
	db *pgxpool.Pool
}

// NewNotificationReceiptStore builds a NotificationReceiptStore.
func NewNotificationReceiptStore(db *pgxpool.Pool) *NotificationReceiptStore {
	return &NotificationReceiptStore{db: db}
}

// Save records a successfully delivered notification.
func (s *NotificationReceiptStore) Save(ctx context.Context, r domain.NotificationReceipt) error {
	query := `
		INSERT INTO notification_receipts (signal_id, position_id, user_id, channel, sent_at, level)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	_, err := s.db.Exec(ctx, query, r.SignalID, r.PositionID, r.UserID, r.Channel, r.SentAt, int(r.Level))
	if err != nil {
		return fmt.Errorf("failed to save notification receipt: %w", err)
	}
	return nil
}

// LastForKey returns the most recent receipt for a (userId, pair, tf) key,
// used for C4's cooldown/dedup-window checks.
func (s *NotificationReceiptStore) LastForKey(ctx context.Context, key domain.NotificationKey) (*domain.NotificationReceipt, error) {
	query := `
		SELECT nr.signal_id, nr.position_id, nr.user_id, nr.channel, nr.sent_at, nr.level
		FROM notification_receipts nr
		JOIN signals s ON s.id = nr.signal_id
		WHERE nr.user_id = $1 AND s.pair = $2 AND s.timeframe = $3
		ORDER BY nr.sent_at DESC LIMIT 1
	`
	row := s.db.QueryRow(ctx, query, key.UserID, key.Pair, string(key.Timeframe))
	return scanReceiptOrNil(row)
}

// CountSince counts how many notifications userID has received since a
// given time, enforcing the daily quota rule.
func (s *NotificationReceiptStore) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM notification_receipts WHERE user_id = $1 AND sent_at >= $2`, userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications since: %w", err)
	}
	return n, nil
}

// LastForSignalDirection returns the most recent receipt for a
// (userId,pair,tf) key where the delivered signal had the given direction,
// since the given time — used for C4's direction-aware dedup window.
func (s *NotificationReceiptStore) LastForSignalDirection(ctx context.Context, key domain.NotificationKey, direction domain.Direction, since time.Time) (*domain.NotificationReceipt, error) {
	query := `
		SELECT nr.signal_id, nr.position_id, nr.user_id, nr.channel, nr.sent_at, nr.level
		FROM notification_receipts nr
		JOIN signals s ON s.id = nr.signal_id
		WHERE nr.user_id = $1 AND s.pair = $2 AND s.timeframe = $3 AND s.direction = $4 AND nr.sent_at >= $5
		ORDER BY nr.sent_at DESC LIMIT 1
	`
	row := s.db.QueryRow(ctx, query, key.UserID, key.Pair, string(key.Timeframe), string(direction), since)
	return scanReceiptOrNil(row)
}

// LastForPosition returns the most recent receipt of the given urgency
// level for a position, enforcing C5's per-level cooldown.
func (s *NotificationReceiptStore) LastForPosition(ctx context.Context, positionID string, level domain.NotificationLevel) (*domain.NotificationReceipt, error) {
	query := `
		SELECT signal_id, position_id, user_id, channel, sent_at, level
		FROM notification_receipts
		WHERE position_id = $1 AND level = $2
		ORDER BY sent_at DESC LIMIT 1
	`
	row := s.db.QueryRow(ctx, query, positionID, int(level))
	return scanReceiptOrNil(row)
}

func scanReceiptOrNil(row pgx.Row) (*domain.NotificationReceipt, error) {
	var r domain.NotificationReceipt
	var level int
	err := row.Scan(&r.SignalID, &r.PositionID, &r.UserID, &r.Channel, &r.SentAt, &level)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get notification receipt: %w", err)
	}
	r.Level = domain.NotificationLevel(level)
	return &r, nil
}
