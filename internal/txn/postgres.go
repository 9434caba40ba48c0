package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 20 * time.Millisecond
)

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// Conn returns the transaction carried by ctx, or the pool when there is none.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// Atomic runs fn on the transaction carried by ctx or, when there is none, on
// a short transaction of its own. Stores use it for writes touching more than
// one row.
func Atomic(ctx context.Context, pool *pgxpool.Pool, fn func(q Querier) error) error {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(tx)
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return fn(tx)
	})
}

// PostgresRunner runs units of work on a pgx pool and retries them on
// serialization failures, deadlocks and lock timeouts.
type PostgresRunner struct {
	pool        *pgxpool.Pool
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
	lockTimeout time.Duration
}

// Option customises a PostgresRunner.
type Option func(*PostgresRunner)

// WithMaxAttempts bounds how many times a conflicting unit of work is run.
func WithMaxAttempts(n int) Option {
	return func(r *PostgresRunner) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithLockTimeout sets lock_timeout for every transaction. Zero keeps the
// server default.
func WithLockTimeout(d time.Duration) Option {
	return func(r *PostgresRunner) { r.lockTimeout = d }
}

// WithLogger attaches a logger used to report retries.
func WithLogger(l *slog.Logger) Option {
	return func(r *PostgresRunner) { r.logger = l }
}

// NewPostgresRunner builds a Runner backed by pool.
func NewPostgresRunner(pool *pgxpool.Pool, opts ...Option) *PostgresRunner {
	r := &PostgresRunner{
		pool:        pool,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithinTx implements Runner.
func (r *PostgresRunner) WithinTx(ctx context.Context, iso Isolation, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err = r.attempt(ctx, iso, fn)
		if err == nil || !Retryable(err) {
			return err
		}
		if attempt == r.maxAttempts {
			break
		}
		if r.logger != nil {
			r.logger.Warn("transaction conflict, retrying",
				slog.Int("attempt", attempt),
				slog.String("isolation", iso.String()),
				slog.Any("error", err),
			)
		}
		if waitErr := sleep(ctx, backoff(r.baseDelay, attempt)); waitErr != nil {
			return waitErr
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %w", ErrStoreBusy, r.maxAttempts, err)
}

func (r *PostgresRunner) attempt(ctx context.Context, iso Isolation, fn func(ctx context.Context) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	if iso == Serializable {
		opts.IsoLevel = pgx.Serializable
	}

	tx, err := r.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if r.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Retryable reports whether err is a transient conflict that a fresh attempt
// of the same unit of work may not hit again.
func Retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available
		return true
	}
	return false
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	return d/2 + rand.N(d/2+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
