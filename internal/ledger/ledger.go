package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBaseCurrency is the asset BUY orders are paid in and SELL orders
// are paid out in.
const DefaultBaseCurrency = "TRY"

var (
	// ErrInsufficientBalance occurs when the usable balance cannot cover a
	// reservation at the moment it is applied.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAssetNotFound indicates the account holds no record for the asset.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrInvalidAmount rejects zero or negative quantities.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidTrade rejects a malformed settlement instruction.
	ErrInvalidTrade = errors.New("invalid trade")

	// ErrReservationMismatch is returned when a release or settlement exceeds
	// what is currently reserved; applying it would break 0 <= usable <= total.
	ErrReservationMismatch = errors.New("amount exceeds reserved balance")
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide accepts the side in any letter case.
func ParseSide(v string) (Side, bool) {
	s := Side(strings.ToUpper(strings.TrimSpace(v)))
	return s, s.Valid()
}

// Balance is the holding of one asset by one account.
// Total - Usable is the amount reserved by pending orders.
type Balance struct {
	AccountID string          `json:"customer_id"`
	Asset     string          `json:"asset"`
	Total     decimal.Decimal `json:"size"`
	Usable    decimal.Decimal `json:"usable_size"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Reserved returns the part of Total locked by pending orders.
func (b Balance) Reserved() decimal.Decimal {
	return b.Total.Sub(b.Usable)
}

// Trade is a settlement instruction for a single account.
type Trade struct {
	AccountID string
	Asset     string
	Side      Side
	Size      decimal.Decimal
	Price     decimal.Decimal
}

// Notional is Size x Price, expressed in the base currency.
func (t Trade) Notional() decimal.Decimal {
	return t.Size.Mul(t.Price)
}

func (t Trade) validate(base string) error {
	switch {
	case !t.Side.Valid():
		return errors.Join(ErrInvalidTrade, errors.New("unknown side"))
	case t.Asset == base:
		return errors.Join(ErrInvalidTrade, errors.New("cannot trade the base currency"))
	case !t.Size.IsPositive() || !t.Price.IsPositive():
		return ErrInvalidAmount
	}
	return nil
}

// Ledger holds per-(account, asset) balances. Every method leaves
// 0 <= usable <= total intact for every record and applies nothing when it
// fails. Methods join a unit of work carried by ctx (see package txn).
type Ledger interface {
	// HasUsable is an advisory read; only Reserve is authoritative.
	HasUsable(ctx context.Context, accountID, asset string, amount decimal.Decimal) (bool, error)
	Reserve(ctx context.Context, accountID, asset string, amount decimal.Decimal) error
	// Release returns reserved funds. A missing record is logged and ignored.
	Release(ctx context.Context, accountID, asset string, amount decimal.Decimal) error
	Settle(ctx context.Context, trade Trade) error
	// Credit adds funds to both total and usable, creating the record.
	Credit(ctx context.Context, accountID, asset string, amount decimal.Decimal) (Balance, error)
	Balance(ctx context.Context, accountID, asset string) (Balance, error)
	Balances(ctx context.Context, accountID string) ([]Balance, error)
}

type options struct {
	base   string
	logger *slog.Logger
}

// Option configures a Ledger implementation.
type Option func(*options)

// WithBaseCurrency overrides DefaultBaseCurrency.
func WithBaseCurrency(code string) Option {
	return func(o *options) {
		if code = NormalizeSymbol(code); code != "" {
			o.base = code
		}
	}
}

// WithLogger sets the logger used for releases against missing records.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{base: DefaultBaseCurrency, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NormalizeSymbol upper-cases and trims an asset symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
