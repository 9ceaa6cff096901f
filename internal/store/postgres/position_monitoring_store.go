package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fxadvisor/internal/domain"
)

// PositionMonitoringStore implements domain.PositionMonitoringStore.
type PositionMonitoringStore struct {
	db *pgxpool.Pool
}

// NewPositionMonitoringStore builds a PositionMonitoringStore.
func NewPositionMonitoringStore(db *pgxpool.Pool) *PositionMonitoringStore {
	return &PositionMonitoringStore{db: db}
}

// Save persists one per-tick evaluation row.
func (s *PositionMonitoringStore) Save(ctx context.Context, r domain.PositionMonitoringRecord) error {
	query := `
		INSERT INTO position_monitoring (
			position_id, ts, current_price, unrealized_pips, unrealized_pct,
			trend_dir, trend_strength, reversal_prob, recommendation, confidence,
			rationale, notification_sent, notification_level
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`
	_, err := s.db.Exec(ctx, query,
		r.PositionID, r.Ts, r.CurrentPrice, r.UnrealizedPips, r.UnrealizedPct,
		string(r.TrendDir), r.TrendStrength, r.ReversalProb, string(r.Recommendation), r.Confidence,
		r.Rationale, r.NotificationSent, int(r.NotificationLevel),
	)
	if err != nil {
		return fmt.Errorf("failed to save position monitoring record: %w", err)
	}
	return nil
}

// LastForPosition returns the most recent evaluation row for positionID, or nil.
func (s *PositionMonitoringStore) LastForPosition(ctx context.Context, positionID string) (*domain.PositionMonitoringRecord, error) {
	query := `
		SELECT position_id, ts, current_price, unrealized_pips, unrealized_pct,
		       trend_dir, trend_strength, reversal_prob, recommendation, confidence,
		       rationale, notification_sent, notification_level
		FROM position_monitoring WHERE position_id = $1 ORDER BY ts DESC LIMIT 1
	`
	var r domain.PositionMonitoringRecord
	var trendDir, recommendation string
	var level int
	err := s.db.QueryRow(ctx, query, positionID).Scan(
		&r.PositionID, &r.Ts, &r.CurrentPrice, &r.UnrealizedPips, &r.UnrealizedPct,
		&trendDir, &r.TrendStrength, &r.ReversalProb, &recommendation, &r.Confidence,
		&r.Rationale, &r.NotificationSent, &level,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last monitoring record: %w", err)
	}
	r.TrendDir = domain.Direction(trendDir)
	r.Recommendation = domain.Recommendation(recommendation)
	r.NotificationLevel = domain.NotificationLevel(level)
	return &r, nil
}
