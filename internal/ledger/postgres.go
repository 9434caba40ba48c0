package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/tradeflow/brokerage/internal/txn"
)

var _ Ledger = (*PostgresLedger)(nil)

// PostgresLedger keeps balances in the asset_balances table. Every mutation
// takes the affected rows with SELECT ... FOR UPDATE before checking them.
type PostgresLedger struct {
	db   *pgxpool.Pool
	opts options
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool, opts ...Option) *PostgresLedger {
	return &PostgresLedger{db: db, opts: buildOptions(opts)}
}

const (
	lockBalanceSQL = `
        SELECT total::text, usable::text, updated_at
        FROM asset_balances
        WHERE customer_id = $1 AND asset = $2
        FOR UPDATE`

	lockPairSQL = `
        SELECT asset, total::text, usable::text, updated_at
        FROM asset_balances
        WHERE customer_id = $1 AND asset = ANY($2)
        ORDER BY asset
        FOR UPDATE`

	adjustSQL = `
        UPDATE asset_balances
        SET total = total + $3::numeric, usable = usable + $4::numeric, updated_at = now()
        WHERE customer_id = $1 AND asset = $2`

	upsertSQL = `
        INSERT INTO asset_balances (customer_id, asset, total, usable, updated_at)
        VALUES ($1, $2, $3::numeric, $3::numeric, now())
        ON CONFLICT (customer_id, asset) DO UPDATE
        SET total = asset_balances.total + EXCLUDED.total,
            usable = asset_balances.usable + EXCLUDED.usable,
            updated_at = now()
        RETURNING total::text, usable::text, updated_at`
)

// HasUsable reports whether usable >= amount without taking a lock.
func (l *PostgresLedger) HasUsable(ctx context.Context, accountID, asset string, amount decimal.Decimal) (bool, error) {
	bal, err := l.Balance(ctx, accountID, asset)
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			return false, nil
		}
		return false, err
	}
	return bal.Usable.GreaterThanOrEqual(amount), nil
}

// Reserve moves amount from usable into the reserved part of total.
func (l *PostgresLedger) Reserve(ctx context.Context, accountID, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	id, err := uuid.Parse(accountID)
	if err != nil {
		return ErrAssetNotFound
	}
	asset = NormalizeSymbol(asset)

	return txn.Atomic(ctx, l.db, func(q txn.Querier) error {
		rec, err := lockRecord(ctx, q, id, asset)
		if err != nil {
			return err
		}
		if rec.usable.LessThan(amount) {
			return ErrInsufficientBalance
		}
		_, err = q.Exec(ctx, adjustSQL, id, asset, decimal.Zero.String(), amount.Neg().String())
		return errors.Wrap(err, "reserve balance")
	})
}

// Release returns amount from reserved to usable.
func (l *PostgresLedger) Release(ctx context.Context, accountID, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	asset = NormalizeSymbol(asset)
	id, err := uuid.Parse(accountID)
	if err != nil {
		l.missingOnRelease(accountID, asset, amount)
		return nil
	}

	return txn.Atomic(ctx, l.db, func(q txn.Querier) error {
		rec, err := lockRecord(ctx, q, id, asset)
		if errors.Is(err, ErrAssetNotFound) {
			l.missingOnRelease(accountID, asset, amount)
			return nil
		}
		if err != nil {
			return err
		}
		if rec.usable.Add(amount).GreaterThan(rec.total) {
			return ErrReservationMismatch
		}
		_, err = q.Exec(ctx, adjustSQL, id, asset, decimal.Zero.String(), amount.String())
		return errors.Wrap(err, "release balance")
	})
}

func (l *PostgresLedger) missingOnRelease(accountID, asset string, amount decimal.Decimal) {
	l.opts.logger.Warn("release skipped, no balance record",
		slog.String("customer_id", accountID),
		slog.String("asset", asset),
		slog.String("amount", amount.String()),
	)
}

// Settle realises a reserved trade. Both rows are locked in symbol order so
// concurrent settlements on one account cannot deadlock each other.
func (l *PostgresLedger) Settle(ctx context.Context, trade Trade) error {
	trade.Asset = NormalizeSymbol(trade.Asset)
	if err := trade.validate(l.opts.base); err != nil {
		return err
	}
	id, err := uuid.Parse(trade.AccountID)
	if err != nil {
		return ErrAssetNotFound
	}

	debitAsset, debit := l.opts.base, trade.Notional()
	creditAsset, credit := trade.Asset, trade.Size
	if trade.Side == SideSell {
		debitAsset, debit = trade.Asset, trade.Size
		creditAsset, credit = l.opts.base, trade.Notional()
	}

	return txn.Atomic(ctx, l.db, func(q txn.Querier) error {
		locked, err := lockRecords(ctx, q, id, []string{debitAsset, creditAsset})
		if err != nil {
			return err
		}
		src, ok := locked[debitAsset]
		if !ok {
			return ErrAssetNotFound
		}
		if src.total.Sub(debit).LessThan(src.usable) {
			return ErrReservationMismatch
		}

		if _, err := q.Exec(ctx, adjustSQL, id, debitAsset, debit.Neg().String(), decimal.Zero.String()); err != nil {
			return errors.Wrapf(err, "debit %s", debitAsset)
		}
		if _, err := q.Exec(ctx, upsertSQL, id, creditAsset, credit.String()); err != nil {
			return errors.Wrapf(err, "credit %s", creditAsset)
		}
		return nil
	})
}

// Credit deposits amount, creating the record when it does not exist.
func (l *PostgresLedger) Credit(ctx context.Context, accountID, asset string, amount decimal.Decimal) (Balance, error) {
	if !amount.IsPositive() {
		return Balance{}, ErrInvalidAmount
	}
	id, err := uuid.Parse(accountID)
	if err != nil {
		return Balance{}, errors.Wrap(err, "parse customer id")
	}
	asset = NormalizeSymbol(asset)

	var (
		total, usable string
		updatedAt     time.Time
	)
	row := txn.Conn(ctx, l.db).QueryRow(ctx, upsertSQL, id, asset, amount.String())
	if err := row.Scan(&total, &usable, &updatedAt); err != nil {
		return Balance{}, errors.Wrap(err, "credit balance")
	}
	rec, err := parseRecord(total, usable, updatedAt)
	if err != nil {
		return Balance{}, err
	}
	return snapshot(accountID, asset, &rec), nil
}

// Balance reads one record.
func (l *PostgresLedger) Balance(ctx context.Context, accountID, asset string) (Balance, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return Balance{}, ErrAssetNotFound
	}
	asset = NormalizeSymbol(asset)

	const query = `
        SELECT total::text, usable::text, updated_at
        FROM asset_balances
        WHERE customer_id = $1 AND asset = $2`
	rec, err := scanRecord(txn.Conn(ctx, l.db).QueryRow(ctx, query, id, asset))
	if err != nil {
		return Balance{}, err
	}
	return snapshot(accountID, asset, &rec), nil
}

// Balances lists every record of the account ordered by asset.
func (l *PostgresLedger) Balances(ctx context.Context, accountID string) ([]Balance, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return []Balance{}, nil
	}

	const query = `
        SELECT asset, total::text, usable::text, updated_at
        FROM asset_balances
        WHERE customer_id = $1
        ORDER BY asset`
	rows, err := txn.Conn(ctx, l.db).Query(ctx, query, id)
	if err != nil {
		return nil, errors.Wrap(err, "query balances")
	}
	defer rows.Close()

	out := []Balance{}
	for rows.Next() {
		var (
			asset, total, usable string
			updatedAt            time.Time
		)
		if err := rows.Scan(&asset, &total, &usable, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "scan balance")
		}
		rec, err := parseRecord(total, usable, updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, snapshot(accountID, asset, &rec))
	}
	return out, errors.Wrap(rows.Err(), "iterate balances")
}

func lockRecord(ctx context.Context, q txn.Querier, id uuid.UUID, asset string) (record, error) {
	return scanRecord(q.QueryRow(ctx, lockBalanceSQL, id, asset))
}

func lockRecords(ctx context.Context, q txn.Querier, id uuid.UUID, assets []string) (map[string]record, error) {
	rows, err := q.Query(ctx, lockPairSQL, id, assets)
	if err != nil {
		return nil, errors.Wrap(err, "lock balances")
	}
	defer rows.Close()

	out := make(map[string]record, len(assets))
	for rows.Next() {
		var (
			asset, total, usable string
			updatedAt            time.Time
		)
		if err := rows.Scan(&asset, &total, &usable, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "scan locked balance")
		}
		rec, err := parseRecord(total, usable, updatedAt)
		if err != nil {
			return nil, err
		}
		out[asset] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "lock balances")
	}
	return out, nil
}

func scanRecord(row pgx.Row) (record, error) {
	var (
		total, usable string
		updatedAt     time.Time
	)
	if err := row.Scan(&total, &usable, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return record{}, ErrAssetNotFound
		}
		return record{}, errors.Wrap(err, "scan balance")
	}
	return parseRecord(total, usable, updatedAt)
}

func parseRecord(total, usable string, updatedAt time.Time) (record, error) {
	t, err := decimal.NewFromString(total)
	if err != nil {
		return record{}, errors.Wrap(err, "parse total")
	}
	u, err := decimal.NewFromString(usable)
	if err != nil {
		return record{}, errors.Wrap(err, "parse usable")
	}
	return record{total: t, usable: u, updatedAt: updatedAt.UTC()}, nil
}
