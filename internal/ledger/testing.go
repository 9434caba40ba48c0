package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// SeedBalance is a test helper that sets total and usable for a record when
// using the in-memory ledger, bypassing the invariants checked by Credit.
func SeedBalance(l Ledger, accountID, asset string, total, usable decimal.Decimal) {
	mem, ok := l.(*inMemoryLedger)
	if !ok {
		return
	}
	b := mem.book(accountID, true)
	unlock, err := b.lock.Acquire(context.Background())
	if err != nil {
		return
	}
	defer unlock()
	rec := b.upsert(NormalizeSymbol(asset))
	rec.total = total
	rec.usable = usable
}
