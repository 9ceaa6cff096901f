package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fxadvisor/internal/domain"
)

// uniqueViolation is Postgres' unique_violation SQLSTATE code.
const uniqueViolation = "23505"

// SubscriptionStore implements domain.SubscriptionStore.
type SubscriptionStore struct {
	db *pgxpool.Pool
}

// NewSubscriptionStore builds a SubscriptionStore.
func NewSubscriptionStore(db *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// Create inserts a subscription. The per-user cap is enforced at the call
// site (subscription CRUD handler) via CountByUser; the (user_id, pair,
// timeframe) uniqueness constraint is enforced by the schema's UNIQUE
// index and translated here to domain.ErrDuplicateSubscription.
func (s *SubscriptionStore) Create(ctx context.Context, sub domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, user_id, discord_id, pair, timeframe, channel_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`
	_, err := s.db.Exec(ctx, query, sub.ID, sub.UserID, sub.DiscordID, sub.Pair, string(sub.Timeframe), sub.ChannelID, sub.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateSubscription
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// Delete removes a subscription by id.
func (s *SubscriptionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// ListByUser returns every subscription owned by userID.
func (s *SubscriptionStore) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return s.list(ctx, `
		SELECT id, user_id, discord_id, pair, timeframe, channel_id, created_at
		FROM subscriptions WHERE user_id = $1 ORDER BY created_at ASC
	`, userID)
}

// ListAll returns every subscription, driving the Signal Monitor's tick
// enumeration.
func (s *SubscriptionStore) ListAll(ctx context.Context) ([]domain.Subscription, error) {
	return s.list(ctx, `
		SELECT id, user_id, discord_id, pair, timeframe, channel_id, created_at
		FROM subscriptions ORDER BY created_at ASC
	`)
}

// CountByUser counts subscriptions for enforcing MaxSubscriptionsPerUser.
func (s *SubscriptionStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM subscriptions WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return n, nil
}

func (s *SubscriptionStore) list(ctx context.Context, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		var tf string
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.DiscordID, &sub.Pair, &tf, &sub.ChannelID, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		sub.Timeframe = domain.Timeframe(tf)
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}
	return out, nil
}
