package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/entity"
	"github.com/Additional-Code/nightowl/internal/event"
	"github.com/Additional-Code/nightowl/internal/notify"
	repo "github.com/Additional-Code/nightowl/internal/repository/order"
	"github.com/Additional-Code/nightowl/internal/service/dispatch"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/nightowl/worker/order")

// Dispatcher is the part of the dispatch service the reactor drives.
type Dispatcher interface {
	AutoAssign(ctx context.Context, orderID int64) (*entity.Order, error)
}

// Reactor runs the best-effort follow-ups of committed order changes:
// customer notifications and automatic driver assignment. It is fed by the
// Kafka consumer or, without messaging, by the in-process event bus.
type Reactor struct {
	dispatch   Dispatcher
	orders     *repo.Repository
	notifier   notify.Notifier
	autoAssign bool
	logger     *zap.Logger
	now        func() time.Time
}

// ReactorParams defines dependencies for constructing Reactor.
type ReactorParams struct {
	fx.In

	Dispatch *dispatch.Service
	Orders   *repo.Repository
	Notifier notify.Notifier
	Config   config.Config
	Logger   *zap.Logger
}

// NewReactor wires a Reactor.
func NewReactor(p ReactorParams) *Reactor {
	return newReactor(p.Dispatch, p.Orders, p.Notifier, p.Config.Dispatch.AutoAssign, p.Logger)
}

func newReactor(d Dispatcher, orders *repo.Repository, n notify.Notifier, autoAssign bool, logger *zap.Logger) *Reactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reactor{
		dispatch:   d,
		orders:     orders,
		notifier:   n,
		autoAssign: autoAssign,
		logger:     logger,
		now:        time.Now,
	}
}

// Handle reacts to one event. Notification failures are logged and
// swallowed; an auto-assignment failure is returned.
func (r *Reactor) Handle(ctx context.Context, env event.Envelope) error {
	ctx, span := workerTracer.Start(ctx, "worker.orders.handle", trace.WithAttributes(
		attribute.String("event.type", string(env.Type)),
		attribute.String("event.id", env.EventID),
		attribute.Int64("order.id", env.Order.ID),
	))
	defer span.End()

	o := env.Order
	var err error
	switch env.Type {
	case event.OrderCreated:
		if o.Status == entity.StatusPendingConfirmation {
			r.sendConfirmationCode(ctx, o.ID)
			return nil
		}
		r.notify(ctx, notify.KindOrderPlaced, o)
		err = r.assign(ctx, o)
	case event.OrderStatusChanged:
		r.notify(ctx, notify.KindOrderStatusChange, o)
		if env.PreviousStatus == entity.StatusPendingConfirmation {
			err = r.assign(ctx, o)
		}
	case event.OrderAssigned:
		r.notify(ctx, notify.KindDriverAssigned, o)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "auto assign failed")
	}
	return err
}

func (r *Reactor) assign(ctx context.Context, o *entity.Order) error {
	if !r.autoAssign || o.Fulfillment != entity.FulfillmentDelivery || !o.Unassigned() {
		return nil
	}
	if o.Status != entity.StatusNew && o.Status != entity.StatusInProgress {
		return nil
	}
	assigned, err := r.dispatch.AutoAssign(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("auto assign order %d: %w", o.ID, err)
	}
	if assigned == nil {
		r.logger.Info("order left in dispatch pool", zap.Int64("order_id", o.ID))
	}
	return nil
}

// sendConfirmationCode reloads the order because the code never travels on
// the bus.
func (r *Reactor) sendConfirmationCode(ctx context.Context, id int64) {
	o, err := r.orders.GetPrimary(ctx, id)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			r.logger.Warn("load order for confirmation failed", zap.Int64("order_id", id), zap.Error(err))
		}
		return
	}
	msg := message(notify.KindConfirmationCode, o, r.now())
	msg.ConfirmationCode = o.ConfirmationCode
	r.send(ctx, msg)
}

func (r *Reactor) notify(ctx context.Context, kind notify.Kind, o *entity.Order) {
	r.send(ctx, message(kind, o, r.now()))
}

func (r *Reactor) send(ctx context.Context, msg notify.Message) {
	if err := r.notifier.Notify(ctx, msg); err != nil {
		r.logger.Warn("notification failed",
			zap.String("kind", string(msg.Kind)),
			zap.Int64("order_id", msg.OrderID),
			zap.Error(err),
		)
	}
}

func message(kind notify.Kind, o *entity.Order, at time.Time) notify.Message {
	msg := notify.Message{
		Kind:          kind,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        string(o.Status),
		CustomerName:  o.CustomerName,
		CustomerPhone: o.CustomerPhone,
		CustomerEmail: o.CustomerEmail,
		Total:         o.GrandTotal(),
		ETAMinutes:    o.ETAMinutes,
		SentAt:        at.UTC(),
	}
	if o.AssignedDriverName != nil {
		msg.DriverName = *o.AssignedDriverName
	}
	return msg
}
