package customer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Repository persists customers.
type Repository interface {
	Create(ctx context.Context, c Customer) error
	FindByUsername(ctx context.Context, username string) (Customer, error)
	FindByID(ctx context.Context, id string) (Customer, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed customer repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new customer.
func (r *PostgresRepository) Create(ctx context.Context, c Customer) error {
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return errors.Wrap(err, "parse customer id")
	}
	_, err = r.db.Exec(ctx, `INSERT INTO customers (id, username, password_hash, is_admin, created_at)
        VALUES ($1, $2, $3, $4, $5)`, id, c.Username, c.PasswordHash, c.Admin, c.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrCustomerExists
	}
	return errors.Wrap(err, "insert customer")
}

// FindByUsername fetches a customer by login name.
func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (Customer, error) {
	return r.findOne(ctx, `SELECT id, username, password_hash, is_admin, created_at FROM customers WHERE username = $1`, username)
}

// FindByID fetches a customer by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Customer, error) {
	customerID, err := uuid.Parse(id)
	if err != nil {
		return Customer{}, ErrCustomerNotFound
	}
	return r.findOne(ctx, `SELECT id, username, password_hash, is_admin, created_at FROM customers WHERE id = $1`, customerID)
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg any) (Customer, error) {
	var (
		id        uuid.UUID
		createdAt time.Time
		c         Customer
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(&id, &c.Username, &c.PasswordHash, &c.Admin, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrCustomerNotFound
	}
	if err != nil {
		return Customer{}, errors.Wrap(err, "query customer")
	}
	c.ID = id.String()
	c.CreatedAt = createdAt.UTC()
	return c, nil
}
