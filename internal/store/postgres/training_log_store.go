package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"fxadvisor/internal/domain"
)

// TrainingLogStore implements domain.TrainingLogStore.
type TrainingLogStore struct {
	db *pgxpool.Pool
}

// NewTrainingLogStore builds a TrainingLogStore.
func NewTrainingLogStore(db *pgxpool.Pool) *TrainingLogStore {
	return &TrainingLogStore{db: db}
}

// Save records one training run outcome.
func (s *TrainingLogStore) Save(ctx context.Context, l domain.TrainingLog) error {
	query := `
		INSERT INTO training_logs (id, run_at, type, succeeded, result_note, model_version)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	_, err := s.db.Exec(ctx, query, l.ID, l.RunAt, string(l.Type), l.Succeeded, l.ResultNote, l.ModelVersion)
	if err != nil {
		return fmt.Errorf("failed to save training log: %w", err)
	}
	return nil
}
