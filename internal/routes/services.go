package routes

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradeflow/brokerage/internal/assets"
	"github.com/tradeflow/brokerage/internal/auth"
	"github.com/tradeflow/brokerage/internal/config"
	"github.com/tradeflow/brokerage/internal/customer"
	"github.com/tradeflow/brokerage/internal/ledger"
	"github.com/tradeflow/brokerage/internal/notification"
	"github.com/tradeflow/brokerage/internal/orders"
	"github.com/tradeflow/brokerage/internal/txn"
)

// Services holds the domain services behind the HTTP API.
type Services struct {
	Catalog   ledger.Catalog
	Ledger    ledger.Ledger
	Customers *customer.Service
	Tokens    *auth.Service
	Orders    *orders.Service
	Assets    *assets.Service
}

// NewServices builds the domain services. With a database pool every store
// is Postgres-backed and the engine runs on database transactions; without
// one everything lives in memory.
func NewServices(cfg config.Config, db *pgxpool.Pool, notifier notification.Notifier, logger *slog.Logger) *Services {
	catalog := ledger.NewCatalog(cfg.BaseCurrency, cfg.TradeableAssets)
	ledgerOpts := []ledger.Option{ledger.WithBaseCurrency(catalog.Base()), ledger.WithLogger(logger)}

	var (
		led          ledger.Ledger
		runner       txn.Runner
		orderRepo    orders.Repository
		customerRepo customer.Repository
	)
	if db != nil {
		led = ledger.NewPostgresLedger(db, ledgerOpts...)
		runner = txn.NewPostgresRunner(db,
			txn.WithMaxAttempts(cfg.TxMaxAttempts),
			txn.WithLockTimeout(cfg.LockTimeout),
			txn.WithLogger(logger),
		)
		orderRepo = orders.NewPostgresRepository(db)
		customerRepo = customer.NewPostgresRepository(db)
	} else {
		led = ledger.NewInMemory(ledgerOpts...)
		runner = txn.NewMemoryRunner()
		orderRepo = orders.NewMemoryRepository()
		customerRepo = customer.NewMemoryRepository()
	}

	if notifier == nil {
		notifier = notification.NewLoggerNotifier(logger)
	}
	customers := customer.NewService(customerRepo)
	return &Services{
		Catalog:   catalog,
		Ledger:    led,
		Customers: customers,
		Tokens:    auth.NewService(cfg, customers),
		Orders: orders.NewService(orders.Deps{
			Repo:     orderRepo,
			Ledger:   led,
			Runner:   runner,
			Catalog:  catalog,
			Notifier: notifier,
			Logger:   logger,
		}),
		Assets: assets.NewService(led, catalog, customers, logger),
	}
}
