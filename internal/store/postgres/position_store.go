package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fxadvisor/internal/domain"
)

// PositionStore implements domain.PositionStore, generalized from the
// teacher's PositionRepositoryImpl to the advisory Position shape.
type PositionStore struct {
	db *pgxpool.Pool
}

// NewPositionStore builds a PositionStore.
func NewPositionStore(db *pgxpool.Pool) *PositionStore {
	return &PositionStore{db: db}
}

// Save inserts a new position.
func (s *PositionStore) Save(ctx context.Context, p domain.Position) error {
	query := `
		INSERT INTO positions (
			id, user_id, signal_id, pair, timeframe, direction, entry, opened_at, size,
			stop_loss, take_profit, close_price, closed_at, status, result, pips, pnl, pnl_pct
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`
	_, err := s.db.Exec(ctx, query,
		p.ID, p.UserID, p.Origin.SignalID, p.Pair, string(p.Timeframe), string(p.Direction), p.Entry, p.OpenedAt, p.Size,
		p.StopLoss, p.TakeProfit, p.ClosePrice, p.ClosedAt, string(p.Status), p.Result, p.Pips, p.PnL, p.PnLPct,
	)
	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// Update persists status/close/SL changes for an existing position,
// covering both full closes and in-place trailing-stop moves.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	query := `
		UPDATE positions SET
			stop_loss = $1, close_price = $2, closed_at = $3, status = $4,
			result = $5, pips = $6, pnl = $7, pnl_pct = $8, size = $9
		WHERE id = $10
	`
	_, err := s.db.Exec(ctx, query, p.StopLoss, p.ClosePrice, p.ClosedAt, string(p.Status), p.Result, p.Pips, p.PnL, p.PnLPct, p.Size, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}
	return nil
}

// GetByID returns one position by id.
func (s *PositionStore) GetByID(ctx context.Context, id string) (*domain.Position, error) {
	query := positionSelect + ` WHERE id = $1`
	row := s.db.QueryRow(ctx, query, id)
	p, err := scanPosition(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get position by id: %w", err)
	}
	return &p, nil
}

// GetOpenPositions returns every open position across all users, driving
// C5's per-tick evaluation.
func (s *PositionStore) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.Query(ctx, positionSelect+` WHERE status = 'open' ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// GetOpenPositionsByUser returns userID's open positions.
func (s *PositionStore) GetOpenPositionsByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	rows, err := s.db.Query(ctx, positionSelect+` WHERE status = 'open' AND user_id = $1 ORDER BY opened_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user open positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// GetClosedSince returns positions closed at or after since.
func (s *PositionStore) GetClosedSince(ctx context.Context, since time.Time) ([]domain.Position, error) {
	rows, err := s.db.Query(ctx, positionSelect+` WHERE status = 'closed' AND closed_at >= $1 ORDER BY closed_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

const positionSelect = `
	SELECT id, user_id, signal_id, pair, timeframe, direction, entry, opened_at, size,
	       stop_loss, take_profit, close_price, closed_at, status, result, pips, pnl, pnl_pct
	FROM positions
`

func scanPosition(row scannable) (domain.Position, error) {
	var p domain.Position
	var tf, direction, status string
	if err := row.Scan(
		&p.ID, &p.UserID, &p.Origin.SignalID, &p.Pair, &tf, &direction, &p.Entry, &p.OpenedAt, &p.Size,
		&p.StopLoss, &p.TakeProfit, &p.ClosePrice, &p.ClosedAt, &status, &p.Result, &p.Pips, &p.PnL, &p.PnLPct,
	); err != nil {
		return domain.Position{}, err
	}
	p.Timeframe = domain.Timeframe(tf)
	p.Direction = domain.Direction(direction)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return out, nil
}
