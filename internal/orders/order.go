package orders

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeflow/brokerage/internal/ledger"
)

var (
	// ErrInvalidOrder covers malformed order parameters.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrInvalidAsset indicates the symbol is unknown or not tradeable.
	ErrInvalidAsset = errors.New("invalid asset")
	// ErrOrderNotFound indicates no order has the given identifier.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidTransition rejects changes to an order that is no longer PENDING.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrUnauthorizedAccess rejects a non-privileged caller acting on another
	// customer's order.
	ErrUnauthorizedAccess = errors.New("unauthorized access to order")
)

// Side aliases ledger.Side so callers need not import both packages.
type Side = ledger.Side

const (
	SideBuy  = ledger.SideBuy
	SideSell = ledger.SideSell
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusMatched   Status = "MATCHED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusMatched || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// Order is a request by a customer to buy or sell an asset at a fixed price.
// Only Status changes after creation.
type Order struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	Asset      string          `json:"asset"`
	Side       Side            `json:"side"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Notional is Size x Price.
func (o Order) Notional() decimal.Decimal {
	return o.Size.Mul(o.Price)
}

// Funding returns the asset and amount reserved while the order is pending:
// the notional in base currency for BUY, the size in the traded asset for SELL.
func (o Order) Funding(base string) (string, decimal.Decimal) {
	if o.Side == SideSell {
		return o.Asset, o.Size
	}
	return base, o.Notional()
}

func (o Order) trade() ledger.Trade {
	return ledger.Trade{
		AccountID: o.CustomerID,
		Asset:     o.Asset,
		Side:      o.Side,
		Size:      o.Size,
		Price:     o.Price,
	}
}

// Filter narrows order listings. Zero values are ignored.
type Filter struct {
	CustomerID string
	Status     Status
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}
