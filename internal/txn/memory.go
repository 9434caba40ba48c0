package txn

import (
	"context"
	"sync"
)

type journalKey struct{}

// journal records compensating actions for in-memory stores.
type journal struct {
	mu     sync.Mutex
	undo   []func()
	finish []func()
	held   map[*Lock]struct{}
}

func (j *journal) rollback() {
	j.mu.Lock()
	undo := j.undo
	j.undo = nil
	j.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

func (j *journal) close() {
	j.mu.Lock()
	finish := j.finish
	j.finish = nil
	j.mu.Unlock()
	for i := len(finish) - 1; i >= 0; i-- {
		finish[i]()
	}
}

// MemoryRunner is the Runner used with the in-memory stores. Writes are
// applied immediately and undone in reverse order when fn fails.
type MemoryRunner struct{}

// NewMemoryRunner returns a runner for in-memory stores.
func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

// WithinTx runs fn with an undo journal attached to ctx.
func (r *MemoryRunner) WithinTx(ctx context.Context, _ Isolation, fn func(ctx context.Context) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := ctx.Value(journalKey{}).(*journal); ok {
		return fn(ctx)
	}

	j := &journal{}
	defer func() {
		if p := recover(); p != nil {
			j.rollback()
			j.close()
			panic(p)
		}
		if err != nil {
			j.rollback()
		}
		j.close()
	}()

	return fn(context.WithValue(ctx, journalKey{}, j))
}

// OnRollback registers undo to run if the surrounding in-memory unit of work
// fails. It reports false when ctx carries no unit of work, in which case the
// write is final.
func OnRollback(ctx context.Context, undo func()) bool {
	j, ok := ctx.Value(journalKey{}).(*journal)
	if !ok {
		return false
	}
	j.mu.Lock()
	j.undo = append(j.undo, undo)
	j.mu.Unlock()
	return true
}

// OnFinish registers fn to run when the surrounding in-memory unit of work
// ends, after any rollback. Stores use it to hold row locks until the end of
// the transaction. It reports false when ctx carries no unit of work.
func OnFinish(ctx context.Context, fn func()) bool {
	j, ok := ctx.Value(journalKey{}).(*journal)
	if !ok {
		return false
	}
	j.mu.Lock()
	j.finish = append(j.finish, fn)
	j.mu.Unlock()
	return true
}
