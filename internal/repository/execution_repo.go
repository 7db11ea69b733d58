// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adiadia/execstream/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ExecutionRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewExecutionRepository(pool *pgxpool.Pool, logger *slog.Logger) *ExecutionRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &ExecutionRepository{
		pool:   pool,
		logger: logger,
	}
}

// GetExecution loads the durable execution record. A missing execution
// matches both domain.ErrExecutionNotFound and pgx.ErrNoRows.
func (r *ExecutionRepository) GetExecution(ctx context.Context, id uuid.UUID) (domain.ExecutionRecord, error) {
	rec := domain.ExecutionRecord{ID: id}
	var (
		status string
		result []byte
		errMsg *string
	)

	err := r.pool.QueryRow(ctx, `
		SELECT status, result, error, updated_at
		FROM executions
		WHERE id=$1
	`, id).Scan(&status, &result, &errMsg, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Warn("execution not found", "execution_id", id)
			return domain.ExecutionRecord{}, fmt.Errorf("%w: %w", domain.ErrExecutionNotFound, err)
		}
		r.logger.Error("get execution failed", "execution_id", id, "error", err)
		return domain.ExecutionRecord{}, err
	}

	rec.Status = domain.ExecutionStatus(status)
	rec.Result = result
	if errMsg != nil {
		rec.Error = *errMsg
	}
	return rec, nil
}
