package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tradeflow/brokerage/internal/ledger"
	"github.com/tradeflow/brokerage/internal/logging"
	"github.com/tradeflow/brokerage/internal/notification"
	"github.com/tradeflow/brokerage/internal/txn"
)

// Service drives the order lifecycle. Every state change first moves funds
// in the ledger and then writes the order, both inside one unit of work, so a
// failure on either side leaves neither applied.
type Service struct {
	repo     Repository
	ledger   ledger.Ledger
	runner   txn.Runner
	catalog  ledger.Catalog
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// Deps groups the collaborators of the engine.
type Deps struct {
	Repo     Repository
	Ledger   ledger.Ledger
	Runner   txn.Runner
	Catalog  ledger.Catalog
	Notifier notification.Notifier
	Logger   *slog.Logger
}

// NewService builds the order engine.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		repo:     d.Repo,
		ledger:   d.Ledger,
		runner:   d.Runner,
		catalog:  d.Catalog,
		notifier: d.Notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the order, reserves its funding asset and stores it as PENDING.
func (s *Service) Create(ctx context.Context, in CreateInput) (Order, error) {
	order, err := in.validate(s.catalog)
	if err != nil {
		return Order{}, err
	}
	order.ID = uuid.NewString()
	order.CreatedAt = s.now()
	asset, amount := order.Funding(s.catalog.Base())

	err = s.runner.WithinTx(ctx, txn.ReadCommitted, func(ctx context.Context) error {
		if err := s.ledger.Reserve(ctx, order.CustomerID, asset, amount); err != nil {
			return err
		}
		return s.repo.Create(ctx, order)
	})
	if err != nil {
		return Order{}, err
	}

	logging.With(ctx, s.logger).Info("order created",
		slog.String("order_id", order.ID),
		slog.String("customer_id", order.CustomerID),
		slog.String("asset", order.Asset),
		slog.String("side", string(order.Side)),
		slog.String("reserved_asset", asset),
		slog.String("reserved_amount", amount.String()),
	)
	s.publish(ctx, notification.KindOrderCreated, order)
	return order, nil
}

// Cancel releases the reservation of a PENDING order and marks it CANCELLED.
// Non-privileged requesters may only cancel their own orders.
func (s *Service) Cancel(ctx context.Context, orderID, requesterID string, privileged bool) (Order, error) {
	var cancelled Order
	err := s.runner.WithinTx(ctx, txn.ReadCommitted, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !privileged && o.CustomerID != requesterID {
			return ErrUnauthorizedAccess
		}
		if o.Status != StatusPending {
			return fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
		}

		asset, amount := o.Funding(s.catalog.Base())
		if err := s.ledger.Release(ctx, o.CustomerID, asset, amount); err != nil {
			return fmt.Errorf("release %s reservation: %w", asset, err)
		}
		if err := s.repo.UpdateStatus(ctx, o.ID, StatusPending, StatusCancelled); err != nil {
			return err
		}
		o.Status = StatusCancelled
		cancelled = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	logging.With(ctx, s.logger).Info("order cancelled",
		slog.String("order_id", cancelled.ID),
		slog.String("customer_id", cancelled.CustomerID),
		slog.Bool("privileged", privileged),
	)
	s.publish(ctx, notification.KindOrderCancelled, cancelled)
	return cancelled, nil
}

// Match settles a PENDING order against its reservation and marks it MATCHED.
// It runs serializable so the two balance rows and the order row change together.
func (s *Service) Match(ctx context.Context, orderID string) (Order, error) {
	var matched Order
	err := s.runner.WithinTx(ctx, txn.Serializable, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusPending {
			return fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
		}
		if err := s.ledger.Settle(ctx, o.trade()); err != nil {
			return fmt.Errorf("settle order: %w", err)
		}
		if err := s.repo.UpdateStatus(ctx, o.ID, StatusPending, StatusMatched); err != nil {
			return err
		}
		o.Status = StatusMatched
		matched = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	logging.With(ctx, s.logger).Info("order matched",
		slog.String("order_id", matched.ID),
		slog.String("customer_id", matched.CustomerID),
		slog.String("notional", matched.Notional().String()),
	)
	s.publish(ctx, notification.KindOrderMatched, matched)
	return matched, nil
}

// Get returns an order visible to the requester.
func (s *Service) Get(ctx context.Context, orderID, requesterID string, privileged bool) (Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !privileged && o.CustomerID != requesterID {
		return Order{}, ErrUnauthorizedAccess
	}
	return o, nil
}

// List returns orders matching f, oldest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidOrder, f.Status)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, fmt.Errorf("%w: end date is before start date", ErrInvalidOrder)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidOrder)
	}
	return s.repo.List(ctx, f)
}

// Pending lists every PENDING order, the queue operators match from.
func (s *Service) Pending(ctx context.Context) ([]Order, error) {
	return s.repo.List(ctx, Filter{Status: StatusPending})
}

// publish runs after commit; a delivery failure is logged and never undoes
// the state change.
func (s *Service) publish(ctx context.Context, kind string, o Order) {
	if s.notifier == nil {
		return
	}
	msg, err := notification.NewOrderMessage(notification.OrderEvent{
		Kind:       kind,
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Asset:      o.Asset,
		Side:       string(o.Side),
		Size:       o.Size.String(),
		Price:      o.Price.String(),
		Status:     string(o.Status),
		OccurredAt: s.now(),
	})
	if err == nil {
		err = s.notifier.Send(context.WithoutCancel(ctx), msg)
	}
	if err != nil {
		logging.With(ctx, s.logger).Warn("order event not delivered",
			slog.String("kind", kind),
			slog.String("order_id", o.ID),
			slog.Any("error", err),
		)
	}
}
