// Package txn provides the unit of work shared by the ledger and order stores.
//
// A Runner executes a function inside one transaction. Stores discover the
// active transaction through the context passed to that function, so a ledger
// reservation and an order insert either both commit or both roll back.
package txn

import (
	"context"
	"errors"
)

// Isolation selects the isolation level of a unit of work.
type Isolation int

const (
	// ReadCommitted relies on explicit row locks for correctness.
	ReadCommitted Isolation = iota
	// Serializable is used where two or more rows must move together.
	Serializable
)

func (i Isolation) String() string {
	switch i {
	case Serializable:
		return "serializable"
	default:
		return "read_committed"
	}
}

// ErrStoreBusy is returned when a unit of work kept losing lock or
// serialization conflicts and the retry budget ran out.
var ErrStoreBusy = errors.New("store busy, retry later")

// Runner executes fn inside a transaction. If ctx already carries a
// transaction from the same runner, fn joins it instead of opening a new one.
type Runner interface {
	WithinTx(ctx context.Context, iso Isolation, fn func(ctx context.Context) error) error
}
