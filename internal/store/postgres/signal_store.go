package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fxadvisor/internal/domain"
)

// SignalStore implements domain.SignalStore.
type SignalStore struct {
	db *pgxpool.Pool
}

// NewSignalStore builds a SignalStore.
func NewSignalStore(db *pgxpool.Pool) *SignalStore {
	return &SignalStore{db: db}
}

// SaveSignal inserts one Signal row, exclusively written by the Signal Monitor.
func (s *SignalStore) SaveSignal(ctx context.Context, sig domain.Signal) error {
	query := `
		INSERT INTO signals (
			id, pair, timeframe, direction, confidence, entry, stop_loss, take_profit,
			technical_factor, sentiment_factor, pattern_factor, model_version, ab_test_id,
			created_at, status, actual_outcome, actual_pnl
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`
	_, err := s.db.Exec(ctx, query,
		sig.ID, sig.Pair, string(sig.Timeframe), string(sig.Direction), sig.Confidence,
		sig.Entry, sig.StopLoss, sig.TakeProfit,
		sig.Factors.Technical, sig.Factors.Sentiment, sig.Factors.Pattern,
		sig.ModelVersion, sig.ABTestID, sig.CreatedAt, string(sig.Status), string(sig.ActualOutcome), sig.ActualPnL,
	)
	if err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}
	return nil
}

// LastSignal returns the most recent signal for (pair, tf), or nil.
func (s *SignalStore) LastSignal(ctx context.Context, pair string, tf domain.Timeframe) (*domain.Signal, error) {
	query := `
		SELECT id, pair, timeframe, direction, confidence, entry, stop_loss, take_profit,
		       technical_factor, sentiment_factor, pattern_factor, model_version, ab_test_id,
		       created_at, status, actual_outcome, actual_pnl
		FROM signals
		WHERE pair = $1 AND timeframe = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	row := s.db.QueryRow(ctx, query, pair, string(tf))
	sig, err := scanSignal(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last signal: %w", err)
	}
	return &sig, nil
}

// SaveSignalChange inserts a detected transition row.
func (s *SignalStore) SaveSignalChange(ctx context.Context, c domain.SignalChange) error {
	query := `
		INSERT INTO signal_changes (
			pair, timeframe, prev_direction, new_direction, prev_confidence, new_confidence,
			strength, market_condition, detected_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`
	var prevDir *string
	if c.PrevDirection != nil {
		v := string(*c.PrevDirection)
		prevDir = &v
	}
	_, err := s.db.Exec(ctx, query,
		c.Pair, string(c.Timeframe), prevDir, string(c.NewDirection), c.PrevConfidence, c.NewConfidence,
		c.Strength, c.MarketCondition, c.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save signal change: %w", err)
	}
	return nil
}

// UpdateOutcome records the realized outcome once a signal's horizon plays out.
func (s *SignalStore) UpdateOutcome(ctx context.Context, signalID string, outcome domain.Outcome, pnl *float64) error {
	_, err := s.db.Exec(ctx, `UPDATE signals SET actual_outcome = $1, actual_pnl = $2 WHERE id = $3`, string(outcome), pnl, signalID)
	if err != nil {
		return fmt.Errorf("failed to update signal outcome: %w", err)
	}
	return nil
}

// SignalsWithOutcomesSince returns realized (non-pending) signals since the
// given time, feeding the Learning Controller's training/validation and
// A/B-test significance calculations.
func (s *SignalStore) SignalsWithOutcomesSince(ctx context.Context, since time.Time) ([]domain.Signal, error) {
	query := `
		SELECT id, pair, timeframe, direction, confidence, entry, stop_loss, take_profit,
		       technical_factor, sentiment_factor, pattern_factor, model_version, ab_test_id,
		       created_at, status, actual_outcome, actual_pnl
		FROM signals
		WHERE created_at >= $1 AND actual_outcome != 'pending'
		ORDER BY created_at ASC
	`
	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals with outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signals: %w", err)
	}
	return out, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSignal(row scannable) (domain.Signal, error) {
	var sig domain.Signal
	var tf, direction, status, outcome string
	err := row.Scan(
		&sig.ID, &sig.Pair, &tf, &direction, &sig.Confidence, &sig.Entry, &sig.StopLoss, &sig.TakeProfit,
		&sig.Factors.Technical, &sig.Factors.Sentiment, &sig.Factors.Pattern,
		&sig.ModelVersion, &sig.ABTestID, &sig.CreatedAt, &status, &outcome, &sig.ActualPnL,
	)
	if err != nil {
		return domain.Signal{}, err
	}
	sig.Timeframe = domain.Timeframe(tf)
	sig.Direction = domain.Direction(direction)
	sig.Status = domain.SignalStatus(status)
	sig.ActualOutcome = domain.Outcome(outcome)
	return sig, nil
}
