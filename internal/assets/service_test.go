package assets

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeflow/brokerage/internal/customer"
	"github.com/tradeflow/brokerage/internal/ledger"
)

func newTestService(t *testing.T) (*Service, customer.Customer) {
	t.Helper()
	customers := customer.NewService(customer.NewMemoryRepository())
	cust, err := customers.Register(context.Background(), customer.Registration{Username: "alice", Password: "secret1"})
	require.NoError(t, err)

	catalog := ledger.NewCatalog(ledger.DefaultBaseCurrency, []string{"AAPL", "GOOGL"})
	return NewService(ledger.NewInMemory(), catalog, customers, nil), cust
}

func TestDepositAndBalances(t *testing.T) {
	svc, cust := newTestService(t)
	ctx := context.Background()

	bal, err := svc.Deposit(ctx, DepositInput{CustomerID: cust.ID, Asset: "try", Amount: decimal.RequireFromString("1000")})
	require.NoError(t, err)
	assert.Equal(t, "TRY", bal.Asset)
	assert.True(t, bal.Total.Equal(decimal.RequireFromString("1000")))
	assert.True(t, bal.Usable.Equal(bal.Total))

	_, err = svc.Deposit(ctx, DepositInput{CustomerID: cust.ID, Asset: "AAPL", Amount: decimal.RequireFromString("2.5")})
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, DepositInput{CustomerID: cust.ID, Asset: "TRY", Amount: decimal.RequireFromString("250.75")})
	require.NoError(t, err)

	balances, err := svc.Balances(ctx, cust.ID)
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "AAPL", balances[0].Asset)
	assert.Equal(t, "TRY", balances[1].Asset)
	assert.True(t, balances[1].Total.Equal(decimal.RequireFromString("1250.75")))

	one, err := svc.Balance(ctx, cust.ID, "aapl")
	require.NoError(t, err)
	assert.True(t, one.Total.Equal(decimal.RequireFromString("2.5")))
}

func TestDepositValidation(t *testing.T) {
	svc, cust := newTestService(t)
	ctx := context.Background()
	amount := decimal.NewFromInt(10)

	cases := []struct {
		name string
		in   DepositInput
		want error
	}{
		{"bad customer id", DepositInput{CustomerID: "nope", Asset: "TRY", Amount: amount}, ErrInvalidDeposit},
		{"unknown asset", DepositInput{CustomerID: cust.ID, Asset: "XYZ", Amount: amount}, ErrInvalidDeposit},
		{"zero amount", DepositInput{CustomerID: cust.ID, Asset: "TRY", Amount: decimal.Zero}, ErrInvalidDeposit},
		{"negative amount", DepositInput{CustomerID: cust.ID, Asset: "TRY", Amount: amount.Neg()}, ErrInvalidDeposit},
		{"unknown customer", DepositInput{CustomerID: "7b0c1f5e-8a9d-4c7e-9f3b-2d6a1e4c8b90", Asset: "TRY", Amount: amount}, customer.ErrCustomerNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Deposit(ctx, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	balances, err := svc.Balances(ctx, cust.ID)
	require.NoError(t, err)
	assert.Empty(t, balances)
}

func TestBalanceMissingAsset(t *testing.T) {
	svc, cust := newTestService(t)
	_, err := svc.Balance(context.Background(), cust.ID, "GOOGL")
	assert.ErrorIs(t, err, ledger.ErrAssetNotFound)
}
