package txn

import "context"

// Lock is the in-memory counterpart of a row lock. Taken inside a
// MemoryRunner unit of work it stays held until the unit of work ends, after
// any rollback, and taking it again in the same unit of work does not block.
type Lock struct {
	ch chan struct{}
}

// NewLock returns an unlocked Lock.
func NewLock() *Lock {
	return &Lock{ch: make(chan struct{}, 1)}
}

// Acquire waits for the lock or for ctx to be done. The returned func must be
// called when the caller is finished; inside a unit of work it is a no-op and
// the lock is released when the unit of work ends.
func (l *Lock) Acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j, inTx := ctx.Value(journalKey{}).(*journal)
	if inTx && j.holds(l) {
		return func() {}, nil
	}

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if inTx {
		j.hold(l)
		return func() {}, nil
	}
	return l.release, nil
}

func (l *Lock) release() {
	<-l.ch
}

func (j *journal) holds(l *Lock) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.held[l]
	return ok
}

func (j *journal) hold(l *Lock) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.held == nil {
		j.held = make(map[*Lock]struct{})
	}
	j.held[l] = struct{}{}
	j.finish = append(j.finish, l.release)
}
