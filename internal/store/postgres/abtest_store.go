package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fxadvisor/internal/domain"
)

// ABTestStore implements domain.ABTestStore.
type ABTestStore struct {
	db *pgxpool.Pool
}

// NewABTestStore builds an ABTestStore.
func NewABTestStore(db *pgxpool.Pool) *ABTestStore {
	return &ABTestStore{db: db}
}

// Save inserts a new A/B test.
func (s *ABTestStore) Save(ctx context.Context, t domain.ABTest) error {
	query := `
		INSERT INTO ab_tests (
			id, model_a, model_b, traffic_split, status, a_wins, a_total, b_wins, b_total,
			started_at, p_value, winner
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`
	_, err := s.db.Exec(ctx, query,
		t.ID, t.A, t.B, t.TrafficSplit, string(t.Status), t.AStats.Wins, t.AStats.Total, t.BStats.Wins, t.BStats.Total,
		t.StartedAt, t.PValue, t.Winner,
	)
	if err != nil {
		return fmt.Errorf("failed to save ab test: %w", err)
	}
	return nil
}

// Get returns one A/B test by id.
func (s *ABTestStore) Get(ctx context.Context, id string) (*domain.ABTest, error) {
	row := s.db.QueryRow(ctx, abtestSelect+` WHERE id = $1`, id)
	t, err := scanABTest(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ab test: %w", err)
	}
	return &t, nil
}

// Running returns every A/B test still in progress.
func (s *ABTestStore) Running(ctx context.Context) ([]domain.ABTest, error) {
	rows, err := s.db.Query(ctx, abtestSelect+` WHERE status = 'running'`)
	if err != nil {
		return nil, fmt.Errorf("failed to query running ab tests: %w", err)
	}
	defer rows.Close()

	var out []domain.ABTest
	for rows.Next() {
		t, err := scanABTest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ab test: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ab tests: %w", err)
	}
	return out, nil
}

// Update persists a resolved/updated A/B test.
func (s *ABTestStore) Update(ctx context.Context, t domain.ABTest) error {
	query := `
		UPDATE ab_tests SET
			status = $1, a_wins = $2, a_total = $3, b_wins = $4, b_total = $5, p_value = $6, winner = $7
		WHERE id = $8
	`
	_, err := s.db.Exec(ctx, query, string(t.Status), t.AStats.Wins, t.AStats.Total, t.BStats.Wins, t.BStats.Total, t.PValue, t.Winner, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update ab test: %w", err)
	}
	return nil
}

const abtestSelect = `
	SELECT id, model_a, model_b, traffic_split, status, a_wins, a_total, b_wins, b_total,
	       started_at, p_value, winner
	FROM ab_tests
`

func scanABTest(row scannable) (domain.ABTest, error) {
	var t domain.ABTest
	var status string
	if err := row.Scan(&t.ID, &t.A, &t.B, &t.TrafficSplit, &status, &t.AStats.Wins, &t.AStats.Total, &t.BStats.Wins, &t.BStats.Total,
		&t.StartedAt, &t.PValue, &t.Winner); err != nil {
		return domain.ABTest{}, err
	}
	t.Status = domain.ABTestStatus(status)
	return t, nil
}
