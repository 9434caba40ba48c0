package orders

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradeflow/brokerage/internal/ledger"
)

const quantityScale = 2

var minQuantity = decimal.New(1, -quantityScale)

// CreateInput carries the parameters of a new order.
type CreateInput struct {
	CustomerID string
	Asset      string
	Side       string
	Size       decimal.Decimal
	Price      decimal.Decimal
}

func (in CreateInput) validate(catalog ledger.Catalog) (Order, error) {
	if _, err := uuid.Parse(in.CustomerID); err != nil {
		return Order{}, fmt.Errorf("%w: customer id must be a UUID", ErrInvalidOrder)
	}

	asset := ledger.NormalizeSymbol(in.Asset)
	switch {
	case asset == "":
		return Order{}, fmt.Errorf("%w: asset is required", ErrInvalidAsset)
	case asset == catalog.Base():
		return Order{}, fmt.Errorf("%w: %s is the base currency", ErrInvalidAsset, asset)
	case !catalog.IsTradeable(asset):
		return Order{}, fmt.Errorf("%w: %s is not tradeable", ErrInvalidAsset, asset)
	}

	side, ok := ledger.ParseSide(in.Side)
	if !ok {
		return Order{}, fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidOrder, strings.TrimSpace(in.Side))
	}
	if err := checkQuantity("size", in.Size); err != nil {
		return Order{}, err
	}
	if err := checkQuantity("price", in.Price); err != nil {
		return Order{}, err
	}

	return Order{
		CustomerID: in.CustomerID,
		Asset:      asset,
		Side:       side,
		Size:       in.Size,
		Price:      in.Price,
		Status:     StatusPending,
	}, nil
}

func checkQuantity(name string, v decimal.Decimal) error {
	if v.LessThan(minQuantity) {
		return fmt.Errorf("%w: %s must be at least %s", ErrInvalidOrder, name, minQuantity)
	}
	if !v.Equal(v.Round(quantityScale)) {
		return fmt.Errorf("%w: %s allows at most %d decimal places", ErrInvalidOrder, name, quantityScale)
	}
	return nil
}
