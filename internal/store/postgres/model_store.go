package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fxadvisor/internal/domain"
)

// ModelStore implements domain.ModelStore.
type ModelStore struct {
	db *pgxpool.Pool
}

// NewModelStore builds a ModelStore.
func NewModelStore(db *pgxpool.Pool) *ModelStore {
	return &ModelStore{db: db}
}

// Save upserts a registered model version.
func (s *ModelStore) Save(ctx context.Context, m domain.ModelVersion) error {
	artifacts, err := json.Marshal(m.ArtifactPaths)
	if err != nil {
		return fmt.Errorf("failed to encode artifact paths: %w", err)
	}
	query := `
		INSERT INTO model_versions (
			version, parent, type, trained_at, active, win_rate, sharpe, avg_pnl, max_drawdown, artifact_paths
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (version) DO UPDATE SET
			active = EXCLUDED.active, win_rate = EXCLUDED.win_rate, sharpe = EXCLUDED.sharpe,
			avg_pnl = EXCLUDED.avg_pnl, max_drawdown = EXCLUDED.max_drawdown, artifact_paths = EXCLUDED.artifact_paths
	`
	_, err = s.db.Exec(ctx, query,
		m.Version, m.Parent, string(m.Type), m.TrainedAt, m.Active,
		m.Metrics.WinRate, m.Metrics.Sharpe, m.Metrics.AvgPnL, m.Metrics.MaxDrawdown, artifacts,
	)
	if err != nil {
		return fmt.Errorf("failed to save model version: %w", err)
	}
	return nil
}

// Active returns every currently active model version (one normally, two
// momentarily during a promotion transaction).
func (s *ModelStore) Active(ctx context.Context) ([]domain.ModelVersion, error) {
	rows, err := s.db.Query(ctx, modelSelect+` WHERE active = true`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active model versions: %w", err)
	}
	defer rows.Close()
	return scanModels(rows)
}

// Get returns one model version by its version string.
func (s *ModelStore) Get(ctx context.Context, version string) (*domain.ModelVersion, error) {
	row := s.db.QueryRow(ctx, modelSelect+` WHERE version = $1`, version)
	m, err := scanModel(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get model version: %w", err)
	}
	return &m, nil
}

// SetActive flips the active flag for one version.
func (s *ModelStore) SetActive(ctx context.Context, version string, active bool) error {
	_, err := s.db.Exec(ctx, `UPDATE model_versions SET active = $1 WHERE version = $2`, active, version)
	if err != nil {
		return fmt.Errorf("failed to set model active: %w", err)
	}
	return nil
}

const modelSelect = `
	SELECT version, parent, type, trained_at, active, win_rate, sharpe, avg_pnl, max_drawdown, artifact_paths
	FROM model_versions
`

func scanModel(row scannable) (domain.ModelVersion, error) {
	var m domain.ModelVersion
	var modelType string
	var artifacts []byte
	if err := row.Scan(&m.Version, &m.Parent, &modelType, &m.TrainedAt, &m.Active,
		&m.Metrics.WinRate, &m.Metrics.Sharpe, &m.Metrics.AvgPnL, &m.Metrics.MaxDrawdown, &artifacts); err != nil {
		return domain.ModelVersion{}, err
	}
	m.Type = domain.ModelType(modelType)
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &m.ArtifactPaths); err != nil {
			return domain.ModelVersion{}, fmt.Errorf("failed to decode artifact_paths: %w", err)
		}
	}
	return m, nil
}

func scanModels(rows pgx.Rows) ([]domain.ModelVersion, error) {
	var out []domain.ModelVersion
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model version: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating model versions: %w", err)
	}
	return out, nil
}
