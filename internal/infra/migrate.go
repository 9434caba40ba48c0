package infra

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

//go:embed migrations/*.up.sql
var migrationFiles embed.FS

const migrationLockID = 7261001

// Migration is one schema change, identified by its file name without the
// .up.sql suffix.
type Migration struct {
	ID  string
	SQL string
}

// Migrations returns the embedded migrations in apply order.
func Migrations() ([]Migration, error) {
	names, err := fs.Glob(migrationFiles, "migrations/*.up.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		body, err := migrationFiles.ReadFile(name)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", name)
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "migrations/"), ".up.sql")
		out = append(out, Migration{ID: id, SQL: strings.TrimSpace(string(body))})
	}
	return out, nil
}

// Migrate applies pending migrations, each in its own transaction, and records
// them in schema_migrations. Concurrent callers serialize on an advisory lock.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	migrations, err := Migrations()
	if err != nil {
		return err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "acquire connection")
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return errors.Wrap(err, "take migration lock")
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	const ensure = `
        CREATE TABLE IF NOT EXISTS schema_migrations (
            id         VARCHAR(255) PRIMARY KEY,
            applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`
	if _, err := conn.Exec(ctx, ensure); err != nil {
		return errors.Wrap(err, "create schema_migrations")
	}

	applied := map[string]bool{}
	rows, err := conn.Query(ctx, `SELECT id FROM schema_migrations`)
	if err != nil {
		return errors.Wrap(err, "list applied migrations")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return errors.Wrap(err, "scan applied migrations")
	}
	for _, id := range ids {
		applied[id] = true
	}

	for _, m := range migrations {
		if applied[m.ID] {
			continue
		}
		err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (id) VALUES ($1)`, m.ID)
			return err
		})
		if err != nil {
			return errors.Wrapf(err, "apply migration %s", m.ID)
		}
		if logger != nil {
			logger.Info("migration applied", slog.String("id", m.ID))
		}
	}
	return nil
}
