// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	embeddedmigrations "github.com/adiadia/execstream/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationLockID int64 = 0x4558535f4d494752 // "EXS_MIGR"

var errNilPool = errors.New("nil database pool")

// requiredSchema maps each table the follower reads to the columns it needs.
var requiredSchema = map[string][]string{
	"executions":     {"status", "result", "error"},
	"execution_logs": {"seq", "level", "message", "logged_at"},
}

// SchemaChecker reports whether the execution store schema is usable.
type SchemaChecker struct {
	pool *pgxpool.Pool
}

func NewSchemaChecker(pool *pgxpool.Pool) *SchemaChecker {
	return &SchemaChecker{pool: pool}
}

func (c *SchemaChecker) Check(ctx context.Context) error {
	return SchemaReady(ctx, c.pool)
}

// Migrate applies embedded migrations that are not yet recorded in
// schema_migrations. Concurrent callers serialise on an advisory lock.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return errNilPool
	}
	if logger == nil {
		logger = slog.Default()
	}

	started := time.Now()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, migrationLockID); err != nil {
			logger.Error("migration unlock failed", "error", err)
		}
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := embeddedmigrations.Ordered()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return err
	}

	count := 0
	for _, file := range files {
		if applied[file.Name] {
			continue
		}
		if err := applyMigration(ctx, conn, file); err != nil {
			return fmt.Errorf("apply migration %s: %w", file.Name, err)
		}
		logger.Info("migration applied", "file", file.Name)
		count++
	}

	logger.Info("migrations complete",
		"applied", count,
		"total", len(files),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return SchemaReady(ctx, pool)
}

func appliedMigrations(ctx context.Context, conn *pgxpool.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan applied migrations: %w", err)
	}

	out := make(map[string]bool, len(names))
	for _, name := range names {
		out[name] = true
	}
	return out, nil
}

func applyMigration(ctx context.Context, conn *pgxpool.Conn, file embeddedmigrations.File) error {
	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, file.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file.Name)
		return err
	})
}

// SchemaReady verifies that every table and column in requiredSchema exists.
func SchemaReady(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errNilPool
	}

	var missing []string
	for table, columns := range requiredSchema {
		rows, err := pool.Query(ctx, `
			SELECT column_name
			FROM information_schema.columns
			WHERE table_schema = 'public'
			  AND table_name = $1
		`, table)
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", table, err)
		}

		existing, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("scan columns of %s: %w", table, err)
		}
		if len(existing) == 0 {
			missing = append(missing, table)
			continue
		}

		have := make(map[string]bool, len(existing))
		for _, c := range existing {
			have[c] = true
		}
		for _, c := range columns {
			if !have[c] {
				missing = append(missing, table+"."+c)
			}
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("schema incomplete, missing: %s", strings.Join(missing, ", "))
	}
	return nil
}
