package ledger

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeflow/brokerage/internal/txn"
)

type record struct {
	total     decimal.Decimal
	usable    decimal.Decimal
	updatedAt time.Time
}

// book holds every record of one account behind a single lock, the
// in-memory counterpart of the row locks taken by the Postgres ledger. Inside
// a unit of work the lock is held until it commits or rolls back.
type book struct {
	lock   *txn.Lock
	assets map[string]*record
}

type inMemoryLedger struct {
	opts options

	mu    sync.RWMutex
	books map[string]*book
}

// NewInMemory creates a concurrency-safe in-memory ledger. Inside a
// txn.MemoryRunner unit of work every mutation registers its inverse, so a
// failed unit of work leaves balances as they were.
func NewInMemory(opts ...Option) Ledger {
	return &inMemoryLedger{
		opts:  buildOptions(opts),
		books: make(map[string]*book),
	}
}

func (l *inMemoryLedger) book(accountID string, create bool) *book {
	l.mu.RLock()
	b, ok := l.books[accountID]
	l.mu.RUnlock()
	if ok || !create {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.books[accountID]; !ok {
		b = &book{lock: txn.NewLock(), assets: make(map[string]*record)}
		l.books[accountID] = b
	}
	return b
}

// apply adds the deltas to the record and registers the inverse with the
// surrounding unit of work. The caller holds the book lock, which the unit
// of work keeps until after the inverse has run.
func (b *book) apply(ctx context.Context, rec *record, dTotal, dUsable decimal.Decimal) {
	rec.total = rec.total.Add(dTotal)
	rec.usable = rec.usable.Add(dUsable)
	prev := rec.updatedAt
	rec.updatedAt = time.Now().UTC()
	txn.OnRollback(ctx, func() {
		rec.total = rec.total.Sub(dTotal)
		rec.usable = rec.usable.Sub(dUsable)
		rec.updatedAt = prev
	})
}

// upsertTx is upsert whose insertion is undone with the unit of work.
func (b *book) upsertTx(ctx context.Context, asset string) *record {
	if rec, ok := b.assets[asset]; ok {
		return rec
	}
	rec := b.upsert(asset)
	txn.OnRollback(ctx, func() { delete(b.assets, asset) })
	return rec
}

func (b *book) upsert(asset string) *record {
	rec, ok := b.assets[asset]
	if !ok {
		rec = &record{total: decimal.Zero, usable: decimal.Zero}
		b.assets[asset] = rec
	}
	return rec
}

func (l *inMemoryLedger) HasUsable(ctx context.Context, accountID, asset string, amount decimal.Decimal) (bool, error) {
	bal, err := l.Balance(ctx, accountID, asset)
	if err != nil {
		if err == ErrAssetNotFound {
			return false, nil
		}
		return false, err
	}
	return bal.Usable.GreaterThanOrEqual(amount), nil
}

func (l *inMemoryLedger) Reserve(ctx context.Context, accountID, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	asset = NormalizeSymbol(asset)

	b := l.book(accountID, false)
	if b == nil {
		return ErrAssetNotFound
	}
	unlock, err := b.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	rec, ok := b.assets[asset]
	if !ok {
		return ErrAssetNotFound
	}
	if rec.usable.LessThan(amount) {
		return ErrInsufficientBalance
	}
	b.apply(ctx, rec, decimal.Zero, amount.Neg())
	return nil
}

func (l *inMemoryLedger) Release(ctx context.Context, accountID, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	asset = NormalizeSymbol(asset)

	b := l.book(accountID, false)
	if b == nil {
		l.missingOnRelease(accountID, asset, amount)
		return nil
	}
	unlock, err := b.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	rec, ok := b.assets[asset]
	if !ok {
		l.missingOnRelease(accountID, asset, amount)
		return nil
	}
	if rec.usable.Add(amount).GreaterThan(rec.total) {
		return ErrReservationMismatch
	}
	b.apply(ctx, rec, decimal.Zero, amount)
	return nil
}

func (l *inMemoryLedger) missingOnRelease(accountID, asset string, amount decimal.Decimal) {
	l.opts.logger.Warn("release skipped, no balance record",
		slog.String("customer_id", accountID),
		slog.String("asset", asset),
		slog.String("amount", amount.String()),
	)
}

func (l *inMemoryLedger) Settle(ctx context.Context, trade Trade) error {
	trade.Asset = NormalizeSymbol(trade.Asset)
	if err := trade.validate(l.opts.base); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	debitAsset, debit := l.opts.base, trade.Notional()
	creditAsset, credit := trade.Asset, trade.Size
	if trade.Side == SideSell {
		debitAsset, debit = trade.Asset, trade.Size
		creditAsset, credit = l.opts.base, trade.Notional()
	}

	b := l.book(trade.AccountID, false)
	if b == nil {
		return ErrAssetNotFound
	}
	unlock, err := b.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	src, ok := b.assets[debitAsset]
	if !ok {
		return ErrAssetNotFound
	}
	// The debited amount must already be reserved: total - debit >= usable.
	if src.total.Sub(debit).LessThan(src.usable) {
		return ErrReservationMismatch
	}

	b.apply(ctx, src, debit.Neg(), decimal.Zero)
	b.apply(ctx, b.upsertTx(ctx, creditAsset), credit, credit)
	return nil
}

func (l *inMemoryLedger) Credit(ctx context.Context, accountID, asset string, amount decimal.Decimal) (Balance, error) {
	if !amount.IsPositive() {
		return Balance{}, ErrInvalidAmount
	}
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}
	asset = NormalizeSymbol(asset)

	b := l.book(accountID, true)
	unlock, err := b.lock.Acquire(ctx)
	if err != nil {
		return Balance{}, err
	}
	defer unlock()

	rec := b.upsertTx(ctx, asset)
	b.apply(ctx, rec, amount, amount)
	return snapshot(accountID, asset, rec), nil
}

func (l *inMemoryLedger) Balance(ctx context.Context, accountID, asset string) (Balance, error) {
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}
	asset = NormalizeSymbol(asset)

	b := l.book(accountID, false)
	if b == nil {
		return Balance{}, ErrAssetNotFound
	}
	unlock, err := b.lock.Acquire(ctx)
	if err != nil {
		return Balance{}, err
	}
	defer unlock()

	rec, ok := b.assets[asset]
	if !ok {
		return Balance{}, ErrAssetNotFound
	}
	return snapshot(accountID, asset, rec), nil
}

func (l *inMemoryLedger) Balances(ctx context.Context, accountID string) ([]Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := l.book(accountID, false)
	if b == nil {
		return []Balance{}, nil
	}
	unlock, err := b.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]Balance, 0, len(b.assets))
	for asset, rec := range b.assets {
		out = append(out, snapshot(accountID, asset, rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func snapshot(accountID, asset string, rec *record) Balance {
	return Balance{
		AccountID: accountID,
		Asset:     asset,
		Total:     rec.total,
		Usable:    rec.usable,
		UpdatedAt: rec.updatedAt,
	}
}
