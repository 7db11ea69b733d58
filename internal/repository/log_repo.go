// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"

	"github.com/adiadia/execstream/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LogRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewLogRepository(pool *pgxpool.Pool, logger *slog.Logger) *LogRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &LogRepository{
		pool:   pool,
		logger: logger,
	}
}

// ListLogsAfter returns stored log events of an execution with seq > afterSeq.
func (r *LogRepository) ListLogsAfter(ctx context.Context, executionID uuid.UUID, afterSeq int64) ([]domain.LogEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT seq, level, message, logged_at
		FROM execution_logs
		WHERE execution_id=$1
		  AND seq > $2
		ORDER BY seq ASC
	`,
		executionID,
		afterSeq,
	)
	if err != nil {
		r.logger.Error("list logs query failed",
			"execution_id", executionID,
			"after_seq", afterSeq,
			"error", err,
		)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LogEvent, 0, 16)
	for rows.Next() {
		var (
			seq int64
			ev  domain.LogEvent
		)
		if err := rows.Scan(&seq, &ev.Level, &ev.Message, &ev.Timestamp); err != nil {
			r.logger.Error("scan log row failed", "execution_id", executionID, "error", err)
			return nil, err
		}
		ev.Sequence = domain.Seq(seq)
		out = append(out, ev)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("log rows iteration failed", "execution_id", executionID, "error", err)
		return nil, err
	}

	return out, nil
}
