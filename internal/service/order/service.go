package order

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/nightowl/internal/cache"
	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/entity"
	"github.com/Additional-Code/nightowl/internal/event"
	"github.com/Additional-Code/nightowl/internal/lifecycle"
	repo "github.com/Additional-Code/nightowl/internal/repository/order"
	"github.com/Additional-Code/nightowl/internal/repository/uow"
	"github.com/Additional-Code/nightowl/internal/service/dispatch"
	"github.com/Additional-Code/nightowl/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/nightowl/service/order")

// Service encapsulates business logic around orders after checkout.
type Service struct {
	uow      *uow.UnitOfWork
	repo     *repo.Repository
	cache    *cache.OrderCache
	dispatch *dispatch.Service
	bus      *event.Bus
	rushFee  float64
	retry    uow.RetryPolicy
	logger   *zap.Logger
	now      func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	UnitOfWork *uow.UnitOfWork
	Repository *repo.Repository
	Cache      *cache.OrderCache
	Dispatch   *dispatch.Service
	Bus        *event.Bus
	Config     config.Config
	Logger     *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		uow:      p.UnitOfWork,
		repo:     p.Repository,
		cache:    p.Cache,
		dispatch: p.Dispatch,
		bus:      p.Bus,
		rushFee:  p.Config.Shop.RushFee,
		retry: uow.RetryPolicy{
			MaxRetries: p.Config.Checkout.MaxRetries,
			Backoff:    p.Config.Checkout.RetryBackoff,
		},
		logger: logger,
		now:    time.Now,
	}
}

// Get retrieves an order by id, consulting cache when available. A miss is
// filled from the writer so a lagging replica cannot repopulate the cache
// with a row a mutation just invalidated.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if order, err := s.cache.Get(ctx, id); err == nil {
		return order, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("orders cache read failed", zap.Int64("id", id), zap.Error(err))
	}

	order, err := s.repo.GetPrimary(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("order not found")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}

	s.cache.Put(ctx, order)
	return order, nil
}

// UpdateStatus moves an order along the lifecycle. Asking for the status the
// order already has is a no-op. Terminal orders never move.
func (s *Service) UpdateStatus(ctx context.Context, id int64, to entity.OrderStatus, actor string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.UpdateStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.status.to", string(to)),
	))
	defer span.End()

	var (
		result  *entity.Order
		from    entity.OrderStatus
		changed bool
	)
	now := s.now().UTC()
	err := s.uow.Retry(ctx, s.retry, func(ctx context.Context, tx *uow.Tx) error {
		changed = false
		o, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		write, err := lifecycle.Check(o.Status, to)
		if err != nil {
			return err
		}
		result = o
		if !write {
			return nil
		}
		if o.Fulfillment == entity.FulfillmentDelivery && o.Unassigned() &&
			(to == entity.StatusInProgress || to == entity.StatusDelivered) {
			return errorbank.IllegalTransition("delivery orders need an assigned driver first")
		}

		change := repo.StatusChange{From: o.Status, To: to, At: now}
		if to == entity.StatusDelivered {
			change.DeliveredAt = &now
		}
		ok, err := tx.Orders.UpdateStatus(ctx, id, change)
		if err != nil {
			return err
		}
		if !ok {
			return uow.ErrConflict
		}
		if err := tx.Orders.AppendEvent(ctx, &entity.OrderEvent{
			OrderID:    id,
			Type:       entity.EventStatusChanged,
			FromStatus: o.Status,
			ToStatus:   to,
			Actor:      actor,
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		from = o.Status
		o.Status = to
		o.UpdatedAt = now
		o.DeliveredAt = change.DeliveredAt
		changed = true
		return nil
	})
	if err != nil {
		return nil, s.fail(span, err, "failed to update order status")
	}
	if !changed {
		return result, nil
	}

	s.cache.Invalidate(ctx, id)
	if to.IsTerminal() && !result.Unassigned() {
		s.dispatch.Release(ctx, *result.AssignedDriverID)
	}
	s.logger.Info("order status changed",
		zap.Int64("order_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	env := event.New(event.OrderStatusChanged, result, now)
	env.PreviousStatus = from
	env.Actor = actor
	s.bus.Publish(ctx, env)
	return result, nil
}

// ToggleRush flips the rush flag of a non-terminal order, setting or clearing
// the rush fee.
func (s *Service) ToggleRush(ctx context.Context, id int64, actor string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ToggleRush", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	var result *entity.Order
	now := s.now().UTC()
	err := s.uow.Retry(ctx, s.retry, func(ctx context.Context, tx *uow.Tx) error {
		o, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := lifecycle.Mutable(o.Status); err != nil {
			return err
		}

		rush := !o.IsRush
		fee := 0.0
		if rush {
			fee = s.rushFee
		}
		ok, err := tx.Orders.SetRush(ctx, id, o.IsRush, rush, fee, now)
		if err != nil {
			return err
		}
		if !ok {
			return uow.ErrConflict
		}
		note := "cleared"
		if rush {
			note = "set"
		}
		if err := tx.Orders.AppendEvent(ctx, &entity.OrderEvent{
			OrderID:    id,
			Type:       entity.EventRushToggled,
			FromStatus: o.Status,
			ToStatus:   o.Status,
			Actor:      actor,
			Note:       note,
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		o.IsRush = rush
		o.RushFee = fee
		o.RushMarkedAt = nil
		if rush {
			o.RushMarkedAt = &now
		}
		o.UpdatedAt = now
		result = o
		return nil
	})
	if err != nil {
		return nil, s.fail(span, err, "failed to toggle rush")
	}

	s.cache.Invalidate(ctx, id)
	env := event.New(event.OrderRushToggled, result, now)
	env.Actor = actor
	s.bus.Publish(ctx, env)
	return result, nil
}

// Confirm releases an order held in pending_confirmation when code matches
// the one sent to the customer.
func (s *Service) Confirm(ctx context.Context, id int64, code string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Confirm", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, s.fail(span, errorbank.Validation("confirmation code is required"), "")
	}

	var result *entity.Order
	now := s.now().UTC()
	err := s.uow.Retry(ctx, s.retry, func(ctx context.Context, tx *uow.Tx) error {
		o, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		if o.Status != entity.StatusPendingConfirmation {
			return errorbank.IllegalTransition(fmt.Sprintf("order is %s, not awaiting confirmation", o.Status))
		}
		if subtle.ConstantTimeCompare([]byte(o.ConfirmationCode), []byte(code)) != 1 {
			return errorbank.Validation("confirmation code does not match")
		}

		ok, err := tx.Orders.UpdateStatus(ctx, id, repo.StatusChange{
			From: entity.StatusPendingConfirmation,
			To:   entity.StatusNew,
			At:   now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return uow.ErrConflict
		}
		if err := tx.Orders.AppendEvent(ctx, &entity.OrderEvent{
			OrderID:    id,
			Type:       entity.EventConfirmed,
			FromStatus: entity.StatusPendingConfirmation,
			ToStatus:   entity.StatusNew,
			Actor:      "customer",
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		o.Status = entity.StatusNew
		o.UpdatedAt = now
		result = o
		return nil
	})
	if err != nil {
		return nil, s.fail(span, err, "failed to confirm order")
	}

	s.cache.Invalidate(ctx, id)
	env := event.New(event.OrderStatusChanged, result, now)
	env.PreviousStatus = entity.StatusPendingConfirmation
	env.Actor = "customer"
	s.bus.Publish(ctx, env)
	return result, nil
}

// View selects a canned order listing.
type View string

const (
	ViewAll       View = ""
	ViewAvailable View = "available"
	ViewMine      View = "mine"
	ViewDelivered View = "delivered"
)

// ListQuery narrows List.
type ListQuery struct {
	View     View
	DriverID string
	Statuses []entity.OrderStatus
	Limit    int
}

// List returns orders for a driver or dispatcher view, newest first.
func (s *Service) List(ctx context.Context, q ListQuery) ([]entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.List", trace.WithAttributes(attribute.String("order.view", string(q.View))))
	defer span.End()

	f := repo.Filter{Limit: q.Limit}
	switch q.View {
	case ViewAll:
		for _, st := range q.Statuses {
			if !st.Valid() {
				return nil, errorbank.Validation(fmt.Sprintf("unknown status %q", st))
			}
		}
		f.Statuses = q.Statuses
		f.DriverID = q.DriverID
	case ViewAvailable:
		f.Statuses = []entity.OrderStatus{entity.StatusNew, entity.StatusInProgress}
		f.Fulfillment = entity.FulfillmentDelivery
		f.UnassignedOnly = true
	case ViewMine, ViewDelivered:
		if q.DriverID == "" {
			return nil, errorbank.Validation("driver_id is required for this view")
		}
		f.DriverID = q.DriverID
		f.Statuses = []entity.OrderStatus{entity.StatusNew, entity.StatusInProgress}
		if q.View == ViewDelivered {
			f.Statuses = []entity.OrderStatus{entity.StatusDelivered}
		}
	default:
		return nil, errorbank.Validation(fmt.Sprintf("unknown view %q", q.View))
	}

	orders, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, s.fail(span, err, "failed to list orders")
	}
	return orders, nil
}

// Events returns the audit trail of an order.
func (s *Service) Events(ctx context.Context, id int64) ([]entity.OrderEvent, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Events", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.repo.Events(ctx, id)
	if err != nil {
		return nil, s.fail(span, err, "failed to load order events")
	}
	return events, nil
}

// PurgeTerminal deletes delivered and cancelled orders created more than
// olderThan ago. It returns the number of orders removed.
func (s *Service) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.PurgeTerminal")
	defer span.End()

	if olderThan <= 0 {
		return 0, errorbank.Validation("purge age must be positive")
	}
	cutoff := s.now().UTC().Add(-olderThan)

	var purged []int64
	err := s.uow.Do(ctx, func(ctx context.Context, tx *uow.Tx) error {
		ids, err := tx.Orders.PurgeTerminal(ctx, cutoff)
		purged = ids
		return err
	})
	if err != nil {
		return 0, s.fail(span, err, "failed to purge orders")
	}
	s.cache.Invalidate(ctx, purged...)
	s.logger.Info("terminal orders purged", zap.Int("count", len(purged)), zap.Time("cutoff", cutoff))
	return int64(len(purged)), nil
}

func load(ctx context.Context, tx *uow.Tx, id int64) (*entity.Order, error) {
	o, err := tx.Orders.GetPrimary(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errorbank.NotFound("order not found")
	}
	return o, err
}

func (s *Service) fail(span trace.Span, err error, msg string) error {
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		span.SetStatus(codes.Error, appErr.Message())
		return appErr
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return errorbank.Internal(msg, errorbank.WithCause(err))
}
