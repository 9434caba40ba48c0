package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradeflow/brokerage/internal/customer"
	"github.com/tradeflow/brokerage/internal/ledger"
	"github.com/tradeflow/brokerage/internal/logging"
)

// ErrInvalidDeposit rejects deposits with an unknown asset or a non-positive amount.
var ErrInvalidDeposit = errors.New("invalid deposit")

// Customers resolves account holders before funds are credited.
type Customers interface {
	Get(ctx context.Context, id string) (customer.Customer, error)
}

// Service exposes customer holdings backed by the ledger.
type Service struct {
	ledger    ledger.Ledger
	catalog   ledger.Catalog
	customers Customers
	logger    *slog.Logger
}

// NewService builds an asset service instance.
func NewService(l ledger.Ledger, catalog ledger.Catalog, customers Customers, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{ledger: l, catalog: catalog, customers: customers, logger: logger}
}

// DepositInput captures data required to fund an account.
type DepositInput struct {
	CustomerID string
	Asset      string
	Amount     decimal.Decimal
}

// Deposit credits amount of asset to the customer's holdings.
func (s *Service) Deposit(ctx context.Context, in DepositInput) (ledger.Balance, error) {
	if _, err := uuid.Parse(in.CustomerID); err != nil {
		return ledger.Balance{}, fmt.Errorf("%w: customer_id must be a UUID", ErrInvalidDeposit)
	}
	asset := ledger.NormalizeSymbol(in.Asset)
	if !s.catalog.IsKnown(asset) {
		return ledger.Balance{}, fmt.Errorf("%w: unknown asset %q", ErrInvalidDeposit, in.Asset)
	}
	if !in.Amount.IsPositive() {
		return ledger.Balance{}, fmt.Errorf("%w: amount must be positive", ErrInvalidDeposit)
	}
	if s.customers != nil {
		if _, err := s.customers.Get(ctx, in.CustomerID); err != nil {
			return ledger.Balance{}, err
		}
	}

	bal, err := s.ledger.Credit(ctx, in.CustomerID, asset, in.Amount)
	if err != nil {
		return ledger.Balance{}, err
	}
	logging.With(ctx, s.logger).Info("deposit credited",
		slog.String("customer_id", in.CustomerID),
		slog.String("asset", asset),
		slog.String("amount", in.Amount.String()),
	)
	return bal, nil
}

// Balances lists every holding of the customer ordered by asset.
func (s *Service) Balances(ctx context.Context, customerID string) ([]ledger.Balance, error) {
	return s.ledger.Balances(ctx, customerID)
}

// Balance returns a single holding.
func (s *Service) Balance(ctx context.Context, customerID, asset string) (ledger.Balance, error) {
	return s.ledger.Balance(ctx, customerID, ledger.NormalizeSymbol(asset))
}
