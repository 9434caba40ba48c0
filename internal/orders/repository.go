package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/tradeflow/brokerage/internal/ledger"
	"github.com/tradeflow/brokerage/internal/txn"
)

// Repository persists orders. GetForUpdate keeps the order locked until the
// surrounding unit of work ends; UpdateStatus is a compare-and-swap on the
// current status and fails with ErrInvalidTransition when it does not match.
type Repository interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id string) (Order, error)
	GetForUpdate(ctx context.Context, id string) (Order, error)
	UpdateStatus(ctx context.Context, id string, from, to Status) error
	List(ctx context.Context, filter Filter) ([]Order, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository builds a Postgres-backed order repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectOrderSQL = `
        SELECT id, customer_id, asset, side, size::text, price::text, status, created_at
        FROM orders`

// Create inserts a new order.
func (r *PostgresRepository) Create(ctx context.Context, o Order) error {
	id, err := uuid.Parse(o.ID)
	if err != nil {
		return errors.Wrap(err, "parse order id")
	}
	customerID, err := uuid.Parse(o.CustomerID)
	if err != nil {
		return errors.Wrap(err, "parse customer id")
	}

	const query = `
        INSERT INTO orders (id, customer_id, asset, side, size, price, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $8)`
	_, err = txn.Conn(ctx, r.db).Exec(ctx, query,
		id,
		customerID,
		o.Asset,
		string(o.Side),
		o.Size.String(),
		o.Price.String(),
		string(o.Status),
		o.CreatedAt.UTC(),
	)
	return errors.Wrap(err, "insert order")
}

// Get fetches an order by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Order, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate fetches an order and locks its row until the transaction ends.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (Order, error) {
	return r.get(ctx, id, true)
}

func (r *PostgresRepository) get(ctx context.Context, id string, lock bool) (Order, error) {
	orderID, err := uuid.Parse(id)
	if err != nil {
		return Order{}, ErrOrderNotFound
	}
	query := selectOrderSQL + ` WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(txn.Conn(ctx, r.db).QueryRow(ctx, query, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

// UpdateStatus moves the order from one status to another.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	orderID, err := uuid.Parse(id)
	if err != nil {
		return ErrOrderNotFound
	}
	q := txn.Conn(ctx, r.db)

	const query = `UPDATE orders SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`
	cmd, err := q.Exec(ctx, query, orderID, string(from), string(to))
	if err != nil {
		return errors.Wrap(err, "update order status")
	}
	if cmd.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = q.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return errors.Wrap(err, "read order status")
	}
	return fmt.Errorf("%w: order is %s", ErrInvalidTransition, current)
}

// List returns orders matching the filter, oldest first.
func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]Order, error) {
	query := selectOrderSQL + ` WHERE 1=1`
	args := []any{}
	argIndex := 1

	if f.CustomerID != "" {
		customerID, err := uuid.Parse(f.CustomerID)
		if err != nil {
			return []Order{}, nil
		}
		query += fmt.Sprintf(" AND customer_id = $%d", argIndex)
		args = append(args, customerID)
		argIndex++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, string(f.Status))
		argIndex++
	}
	if !f.From.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIndex)
		args = append(args, f.From.UTC())
		argIndex++
	}
	if !f.To.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIndex)
		args = append(args, f.To.UTC())
		argIndex++
	}
	query += " ORDER BY created_at ASC, id ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, f.Limit)
		argIndex++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, f.Offset)
	}

	rows, err := txn.Conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate orders")
	}
	return out, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		id, customerID      uuid.UUID
		asset, side, status string
		size, price         string
		createdAt           time.Time
	)
	if err := row.Scan(&id, &customerID, &asset, &side, &size, &price, &status, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, err
		}
		return Order{}, errors.Wrap(err, "scan order")
	}
	sz, err := decimal.NewFromString(size)
	if err != nil {
		return Order{}, errors.Wrap(err, "parse size")
	}
	px, err := decimal.NewFromString(price)
	if err != nil {
		return Order{}, errors.Wrap(err, "parse price")
	}
	return Order{
		ID:         id.String(),
		CustomerID: customerID.String(),
		Asset:      asset,
		Side:       ledger.Side(side),
		Size:       sz,
		Price:      px,
		Status:     Status(status),
		CreatedAt:  createdAt.UTC(),
	}, nil
}
