// Package seed loads the demo customers and holdings used in development.
package seed

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/tradeflow/brokerage/internal/customer"
	"github.com/tradeflow/brokerage/internal/ledger"
)

// Holding is an opening balance.
type Holding struct {
	Asset  string
	Amount decimal.Decimal
}

// Account is a demo customer with its opening balances.
type Account struct {
	Username string
	Password string
	Admin    bool
	Holdings []Holding
}

// Demo returns the default demo data set.
func Demo() []Account {
	return []Account{
		{Username: "admin", Password: "admin123", Admin: true},
		{Username: "customer1", Password: "pass123", Holdings: []Holding{
			{Asset: "TRY", Amount: decimal.NewFromInt(10000)},
			{Asset: "AAPL", Amount: decimal.NewFromInt(10)},
		}},
		{Username: "customer2", Password: "pass123", Holdings: []Holding{
			{Asset: "TRY", Amount: decimal.NewFromInt(15000)},
			{Asset: "GOOGL", Amount: decimal.NewFromInt(5)},
		}},
	}
}

// Load registers each account and credits the holdings it does not have yet.
// Existing customers are looked up instead of registered, so Load can run on
// every start and completes a previous run that stopped half way.
func Load(ctx context.Context, customers *customer.Service, l ledger.Ledger, accounts []Account, logger *slog.Logger) error {
	for _, a := range accounts {
		c, err := customers.Register(ctx, customer.Registration{Username: a.Username, Password: a.Password, Admin: a.Admin})
		if errors.Is(err, customer.ErrCustomerExists) {
			c, err = customers.GetByUsername(ctx, a.Username)
		}
		if err != nil {
			return err
		}
		for _, h := range a.Holdings {
			_, err := l.Balance(ctx, c.ID, h.Asset)
			if err == nil {
				continue
			}
			if !errors.Is(err, ledger.ErrAssetNotFound) {
				return err
			}
			if _, err := l.Credit(ctx, c.ID, h.Asset, h.Amount); err != nil {
				return err
			}
		}
		if logger != nil {
			logger.Info("seeded demo customer", slog.String("username", a.Username), slog.String("customer_id", c.ID))
		}
	}
	return nil
}
