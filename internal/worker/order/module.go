package order

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/event"
	"github.com/Additional-Code/nightowl/internal/messaging"
	"github.com/Additional-Code/nightowl/internal/worker"
)

// Module provides the reactor and subscribes it to the in-process bus. The
// bus only delivers locally when messaging is off, so processes that also
// consume Kafka never handle an event twice.
var Module = fx.Module("worker_order",
	fx.Provide(NewReactor),
	fx.Invoke(func(bus *event.Bus, r *Reactor) {
		bus.Subscribe(r.Handle)
	}),
)

// ConsumerModule registers the Kafka handler for order events.
var ConsumerModule = fx.Provide(
	fx.Annotate(
		NewOrderEventsHandler,
		fx.ResultTags(`group:"worker.handlers"`),
	),
)

// NewOrderEventsHandler decodes envelopes from the order topic and hands
// them to the reactor.
func NewOrderEventsHandler(r *Reactor, logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.orders.process")
		defer span.End()

		env, err := event.Decode(msg.Value)
		if err != nil {
			logger.Error("failed to decode order event", zap.Error(err), zap.Int64("offset", msg.Offset))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}
		logger.Debug("order event received",
			zap.String("type", string(env.Type)),
			zap.Int64("order_id", env.Order.ID),
		)
		return r.Handle(ctx, env)
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Kafka.Topic,
		Handler: handler,
	}
}
