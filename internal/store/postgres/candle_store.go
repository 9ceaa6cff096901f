// Package postgres implements every domain.*Store interface against
// Postgres via pgx, adapted from the teacher's internal/repository package:
// raw SQL, *pgxpool.Pool, fmt.Errorf("...: %w", err) wrapping throughout.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fxadvisor/internal/domain"
)

// CandleStore implements domain.CandleStore.
type CandleStore struct {
	db *pgxpool.Pool
}

// NewCandleStore builds a CandleStore.
func NewCandleStore(db *pgxpool.Pool) *CandleStore {
	return &CandleStore{db: db}
}

// Upsert inserts candles, overwriting any existing row for the same
// (pair, timeframe, ts) — realtime bars are mutable until they close.
func (s *CandleStore) Upsert(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	query := `
		INSERT INTO candles (pair, timeframe, ts, open, high, low, close, volume, source, realtime, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (pair, timeframe, ts) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low, close = EXCLUDED.close,
			volume = EXCLUDED.volume, source = EXCLUDED.source, realtime = EXCLUDED.realtime,
			expires_at = EXCLUDED.expires_at
	`
	for _, c := range candles {
		batch.Queue(query, c.Pair, string(c.Timeframe), c.Ts, c.Open, c.High, c.Low, c.Close, c.Volume, c.Source, c.RealTime, c.ExpiresAt)
	}

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()
	for range candles {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert candle: %w", err)
		}
	}
	return nil
}

// GetLatest returns the n most recent candles for (pair, tf), oldest first.
func (s *CandleStore) GetLatest(ctx context.Context, pair string, tf domain.Timeframe, n int) ([]domain.Candle, error) {
	query := `
		SELECT pair, timeframe, ts, open, high, low, close, volume, source, realtime, expires_at
		FROM (
			SELECT pair, timeframe, ts, open, high, low, close, volume, source, realtime, expires_at
			FROM candles
			WHERE pair = $1 AND timeframe = $2
			ORDER BY ts DESC
			LIMIT $3
		) recent
		ORDER BY ts ASC
	`
	rows, err := s.db.Query(ctx, query, pair, string(tf), n)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest candles: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

// GetRange returns candles for (pair, tf) in [from, to], ordered by ts.
func (s *CandleStore) GetRange(ctx context.Context, pair string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	query := `
		SELECT pair, timeframe, ts, open, high, low, close, volume, source, realtime, expires_at
		FROM candles
		WHERE pair = $1 AND timeframe = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts ASC
	`
	rows, err := s.db.Query(ctx, query, pair, string(tf), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query candle range: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

// CandlesSince implements domain.TrainingDataSource: cross-pair,
// cross-timeframe candle history for the Learning Controller, unlike
// GetLatest/GetRange which are scoped to one (pair, timeframe) per call.
func (s *CandleStore) CandlesSince(ctx context.Context, since time.Time) ([]domain.Candle, error) {
	query := `
		SELECT pair, timeframe, ts, open, high, low, close, volume, source, realtime, expires_at
		FROM candles
		WHERE ts >= $1
		ORDER BY pair, timeframe, ts ASC
	`
	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles since %s: %w", since, err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

// DeleteExpired removes realtime candles whose expires_at has passed.
func (s *CandleStore) DeleteExpired(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM candles WHERE realtime = true AND expires_at <= $1`, asOf)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired candles: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanCandles(rows pgx.Rows) ([]domain.Candle, error) {
	var out []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var tf string
		if err := rows.Scan(&c.Pair, &tf, &c.Ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Source, &c.RealTime, &c.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Timeframe = domain.Timeframe(tf)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}
	return out, nil
}
