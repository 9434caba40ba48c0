package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tradeflow/brokerage/internal/txn"
)

type memoryRepository struct {
	mu     sync.RWMutex
	orders map[string]Order
	locks  map[string]*txn.Lock
}

// NewMemoryRepository builds an in-memory order store. Use it with
// txn.MemoryRunner so row locks and rollbacks follow the unit of work.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		orders: make(map[string]Order),
		locks:  make(map[string]*txn.Lock),
	}
}

func (r *memoryRepository) Create(ctx context.Context, o Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[o.ID]; exists {
		return errors.New("order exists")
	}
	r.orders[o.ID] = o
	r.locks[o.ID] = txn.NewLock()

	txn.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.orders, o.ID)
		delete(r.locks, o.ID)
	})
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, id string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (r *memoryRepository) GetForUpdate(ctx context.Context, id string) (Order, error) {
	r.mu.RLock()
	lock, ok := r.locks[id]
	r.mu.RUnlock()
	if !ok {
		return Order{}, ErrOrderNotFound
	}

	unlock, err := lock.Acquire(ctx)
	if err != nil {
		return Order{}, err
	}
	defer unlock()
	return r.Get(ctx, id)
}

func (r *memoryRepository) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != from {
		return fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
	}
	o.Status = to
	r.orders[id] = o

	txn.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.orders[id]; ok && cur.Status == to {
			cur.Status = from
			r.orders[id] = cur
		}
	})
	return nil
}

func (r *memoryRepository) List(ctx context.Context, f Filter) ([]Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Order, 0, len(r.orders))
	for _, o := range r.orders {
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && o.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && o.CreatedAt.After(f.To) {
			continue
		}
		out = append(out, o)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []Order{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
