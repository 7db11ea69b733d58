// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestNewLogRepository(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var pool *pgxpool.Pool

	repo := NewLogRepository(pool, logger)
	if repo == nil {
		t.Fatal("expected log repository instance")
	}
	if repo.pool != pool {
		t.Fatal("expected pool reference to be preserved")
	}
	if repo.logger != logger {
		t.Fatal("expected logger reference to be preserved")
	}
}

func TestNewExecutionRepositoryDefaultsLogger(t *testing.T) {
	repo := NewExecutionRepository(nil, nil)
	if repo.logger == nil {
		t.Fatal("expected default logger")
	}
}
