// Package dispatch matches unassigned delivery orders with drivers. Every
// assignment is a conditional write on the order still being unassigned, so
// of several racing claims exactly one wins.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Additional-Code/nightowl/internal/cache"
	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/entity"
	"github.com/Additional-Code/nightowl/internal/event"
	"github.com/Additional-Code/nightowl/internal/presence"
	"github.com/Additional-Code/nightowl/internal/pricing"
	repo "github.com/Additional-Code/nightowl/internal/repository/order"
	"github.com/Additional-Code/nightowl/internal/repository/uow"
	"github.com/Additional-Code/nightowl/pkg/errorbank"
)

var (
	dispatchTracer = otel.Tracer("github.com/Additional-Code/nightowl/service/dispatch")
	dispatchMeter  = otel.Meter("github.com/Additional-Code/nightowl/service/dispatch")
)

const sweepConcurrency = 4

// Module provides the dispatch service to Fx.
var Module = fx.Provide(NewService)

// Mode records how an assignment was made.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
	ModeSweep  Mode = "sweep"
)

// errDriverBusy rejects an automatic claim for a driver who still has an
// open order.
var errDriverBusy = errors.New("driver has an open order")

// Service assigns drivers to orders.
type Service struct {
	uow         *uow.UnitOfWork
	orders      *repo.Repository
	presence    presence.Registry
	bus         *event.Bus
	cache       *cache.OrderCache
	shop        pricing.Point
	cfg         config.Dispatch
	retry       uow.RetryPolicy
	logger      *zap.Logger
	assignments metric.Int64Counter
	now         func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	UnitOfWork *uow.UnitOfWork
	Orders     *repo.Repository
	Presence   presence.Registry
	Bus        *event.Bus
	Cache      *cache.OrderCache
	Config     config.Config
	Logger     *zap.Logger
}

// NewService wires a dispatch Service.
func NewService(p Params) (*Service, error) {
	assignments, err := dispatchMeter.Int64Counter("dispatch.assignments",
		metric.WithDescription("Driver assignments by mode"))
	if err != nil {
		return nil, err
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		uow:      p.UnitOfWork,
		orders:   p.Orders,
		presence: p.Presence,
		bus:      p.Bus,
		cache:    p.Cache,
		shop:     pricing.Point{Lat: p.Config.Shop.Latitude, Lng: p.Config.Shop.Longitude},
		cfg:      p.Config.Dispatch,
		retry: uow.RetryPolicy{
			MaxRetries: p.Config.Checkout.MaxRetries,
			Backoff:    p.Config.Checkout.RetryBackoff,
		},
		logger:      logger,
		assignments: assignments,
		now:         time.Now,
	}, nil
}

// Assign lets a dispatcher or a driver claim an order for driverID.
func (s *Service) Assign(ctx context.Context, orderID int64, driverID, driverName string) (*entity.Order, error) {
	ctx, span := dispatchTracer.Start(ctx, "DispatchService.Assign", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("driver.id", driverID),
	))
	defer span.End()

	order, err := s.claim(ctx, orderID, driverID, driverName, ModeManual)
	if err != nil {
		return nil, s.fail(span, err, "failed to assign driver")
	}
	return order, nil
}

// claim performs the conditional assignment. Claiming an order already held
// by the same driver succeeds without writing.
func (s *Service) claim(ctx context.Context, orderID int64, driverID, driverName string, mode Mode) (*entity.Order, error) {
	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		return nil, errorbank.Validation("driver id is required")
	}
	driverName = strings.TrimSpace(driverName)
	if driverName == "" {
		driverName = s.driverName(ctx, driverID)
	}

	var (
		claimed *entity.Order
		written bool
	)
	now := s.now().UTC()
	err := s.uow.Do(ctx, func(ctx context.Context, tx *uow.Tx) error {
		o, err := tx.Orders.GetPrimary(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return errorbank.NotFound("order not found")
		}
		if err != nil {
			return err
		}
		if o.Fulfillment != entity.FulfillmentDelivery {
			return errorbank.Validation("pickup orders are not dispatched")
		}
		if !o.Unassigned() {
			if *o.AssignedDriverID == driverID {
				claimed = o
				return nil
			}
			return errorbank.AlreadyAssigned(errorbank.WithDetail("order_id", orderID))
		}
		if o.Status != entity.StatusNew && o.Status != entity.StatusInProgress {
			return errorbank.IllegalTransition(fmt.Sprintf("order is %s and cannot be assigned", o.Status))
		}
		if mode != ModeManual {
			active, err := tx.Orders.Count(ctx, repo.Filter{
				Statuses: []entity.OrderStatus{entity.StatusNew, entity.StatusInProgress},
				DriverID: driverID,
			})
			if err != nil {
				return err
			}
			if active > 0 {
				return errDriverBusy
			}
		}

		ok, err := tx.Orders.Claim(ctx, orderID, driverID, driverName, now)
		if err != nil {
			return err
		}
		if !ok {
			return errorbank.AlreadyAssigned(errorbank.WithDetail("order_id", orderID))
		}
		if err := tx.Orders.AppendEvent(ctx, &entity.OrderEvent{
			OrderID:    orderID,
			Type:       entity.EventAssigned,
			FromStatus: o.Status,
			ToStatus:   entity.StatusInProgress,
			Actor:      driverID,
			Note:       string(mode),
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		o.AssignedDriverID = &driverID
		o.AssignedDriverName = &driverName
		o.Status = entity.StatusInProgress
		o.UpdatedAt = now
		claimed = o
		written = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !written {
		return claimed, nil
	}

	s.cache.Invalidate(ctx, orderID)
	if err := s.presence.SetStatus(ctx, driverID, presence.StatusBusy); err != nil && !errors.Is(err, presence.ErrNotFound) {
		s.logger.Warn("mark driver busy failed", zap.String("driver_id", driverID), zap.Error(err))
	}
	s.assignments.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(mode))))
	s.logger.Info("driver assigned",
		zap.Int64("order_id", orderID),
		zap.String("driver_id", driverID),
		zap.String("mode", string(mode)),
	)

	env := event.New(event.OrderAssigned, claimed, now)
	env.Actor = driverID
	s.bus.Publish(ctx, env)
	return claimed, nil
}

func (s *Service) driverName(ctx context.Context, driverID string) string {
	if d, err := s.presence.Get(ctx, driverID); err == nil && d.Name != "" {
		return d.Name
	}
	return driverID
}

// Unassign returns an order to the unassigned pool without changing its
// status and frees the driver.
func (s *Service) Unassign(ctx context.Context, orderID int64, actor string) (*entity.Order, error) {
	ctx, span := dispatchTracer.Start(ctx, "DispatchService.Unassign", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	var (
		result   *entity.Order
		previous string
	)
	now := s.now().UTC()
	err := s.uow.Retry(ctx, s.retry, func(ctx context.Context, tx *uow.Tx) error {
		previous = ""
		o, err := tx.Orders.GetPrimary(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return errorbank.NotFound("order not found")
		}
		if err != nil {
			return err
		}
		if o.Status.IsTerminal() {
			return errorbank.IllegalTransition(fmt.Sprintf("order is %s and can no longer change", o.Status))
		}
		result = o
		if o.Unassigned() {
			return nil
		}

		ok, err := tx.Orders.Unassign(ctx, orderID, now)
		if err != nil {
			return err
		}
		if !ok {
			return uow.ErrConflict
		}
		previous = *o.AssignedDriverID
		if err := tx.Orders.AppendEvent(ctx, &entity.OrderEvent{
			OrderID:    orderID,
			Type:       entity.EventUnassigned,
			FromStatus: o.Status,
			ToStatus:   o.Status,
			Actor:      actor,
			Note:       previous,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		o.AssignedDriverID = nil
		o.AssignedDriverName = nil
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, s.fail(span, err, "failed to unassign driver")
	}
	if previous == "" {
		return result, nil
	}

	s.cache.Invalidate(ctx, orderID)
	s.Release(ctx, previous)

	env := event.New(event.OrderUnassigned, result, now)
	env.Actor = actor
	s.bus.Publish(ctx, env)
	return result, nil
}

// Release puts a driver back into the available pool.
func (s *Service) Release(ctx context.Context, driverID string) {
	if driverID == "" {
		return
	}
	if err := s.presence.SetStatus(ctx, driverID, presence.StatusOnline); err != nil && !errors.Is(err, presence.ErrNotFound) {
		s.logger.Warn("release driver failed", zap.String("driver_id", driverID), zap.Error(err))
	}
}

// AutoAssign offers the order to available drivers, best ranked first,
// skipping drivers already carrying an open order. It returns a nil order
// when nobody could take it; the order then stays in the pool.
//
// Presence only flips a driver to busy after the claim commits, so the
// open-order check inside the claim is what keeps two concurrent reactions
// from handing one driver two orders. On databases that run the claim below
// serializable isolation that check is best-effort.
func (s *Service) AutoAssign(ctx context.Context, orderID int64) (*entity.Order, error) {
	ctx, span := dispatchTracer.Start(ctx, "DispatchService.AutoAssign", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	o, err := s.orders.GetPrimary(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errorbank.NotFound("order not found")
	}
	if err != nil {
		return nil, s.fail(span, err, "failed to load order")
	}
	if !dispatchable(o) {
		return nil, nil
	}

	drivers, err := s.presence.Available(ctx)
	if err != nil {
		return nil, s.fail(span, err, "failed to list drivers")
	}
	for _, d := range Rank(drivers, s.shop, s.cfg.Strategy) {
		assigned, err := s.claim(ctx, orderID, d.ID, d.Name, ModeAuto)
		switch {
		case err == nil:
			return assigned, nil
		case errors.Is(err, errDriverBusy):
			continue
		case errorbank.HasCode(err, errorbank.CodeAlreadyAssigned),
			errorbank.HasCode(err, errorbank.CodeIllegalTransition):
			return nil, nil
		default:
			return nil, s.fail(span, err, "failed to assign driver")
		}
	}
	s.logger.Info("no driver available", zap.Int64("order_id", orderID))
	return nil, nil
}

// Sweep retries auto-assignment for the oldest unassigned delivery orders,
// giving each available driver at most one order. It returns how many
// orders were assigned.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	ctx, span := dispatchTracer.Start(ctx, "DispatchService.Sweep")
	defer span.End()

	pending, err := s.orders.List(ctx, repo.Filter{
		Statuses:       []entity.OrderStatus{entity.StatusNew, entity.StatusInProgress},
		UnassignedOnly: true,
		Fulfillment:    entity.FulfillmentDelivery,
		Limit:          s.cfg.SweepBatchSize,
		OldestFirst:    true,
	})
	if err != nil {
		return 0, s.fail(span, err, "failed to list pending orders")
	}
	if len(pending) == 0 {
		return 0, nil
	}
	drivers, err := s.presence.Available(ctx)
	if err != nil {
		return 0, s.fail(span, err, "failed to list drivers")
	}
	pool := &driverPool{queue: Rank(drivers, s.shop, s.cfg.Strategy)}

	var assigned atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, o := range pending {
		orderID := o.ID
		g.Go(func() error {
			for {
				d, ok := pool.take()
				if !ok {
					return nil
				}
				_, err := s.claim(gctx, orderID, d.ID, d.Name, ModeSweep)
				switch {
				case err == nil:
					assigned.Add(1)
					return nil
				case errors.Is(err, errDriverBusy):
					continue
				case errorbank.HasCode(err, errorbank.CodeAlreadyAssigned),
					errorbank.HasCode(err, errorbank.CodeIllegalTransition):
					pool.giveBack(d)
					return nil
				default:
					pool.giveBack(d)
					return err
				}
			}
		})
	}
	err = g.Wait()
	n := int(assigned.Load())
	span.SetAttributes(attribute.Int("dispatch.assigned", n))
	if err != nil {
		return n, s.fail(span, err, "dispatch sweep failed")
	}
	return n, nil
}

func dispatchable(o *entity.Order) bool {
	return o.Fulfillment == entity.FulfillmentDelivery &&
		o.Unassigned() &&
		(o.Status == entity.StatusNew || o.Status == entity.StatusInProgress)
}

type driverPool struct {
	mu    sync.Mutex
	queue []presence.Driver
}

func (p *driverPool) take() (presence.Driver, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return presence.Driver{}, false
	}
	d := p.queue[0]
	p.queue = p.queue[1:]
	return d, true
}

func (p *driverPool) giveBack(d presence.Driver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append([]presence.Driver{d}, p.queue...)
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
