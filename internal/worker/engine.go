package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/event"
	"github.com/Additional-Code/nightowl/internal/messaging"
	"github.com/Additional-Code/nightowl/internal/service/dispatch"
)

const (
	restartBackoff    = time.Second
	maxRestartBackoff = 30 * time.Second
)

var engineMeter = otel.Meter("github.com/Additional-Code/nightowl/worker")

// HandlerRegistration binds a topic, optionally narrowed to one event type,
// to a handler. An empty EventType receives every event on the topic.
type HandlerRegistration struct {
	Topic     string
	EventType event.Type
	Handler   messaging.Handler
}

type route struct {
	topic     string
	eventType string
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Client        messaging.Client
	Logger        *zap.Logger
	Config        config.Config
	Registrations []HandlerRegistration `group:"worker.handlers"`
}

// Engine consumes the order topic and routes each message to the handler
// registered for its topic and event type.
type Engine struct {
	client    messaging.Client
	logger    *zap.Logger
	cfg       config.Config
	routes    map[route]messaging.Handler
	processed metric.Int64Counter
	cancel    context.CancelFunc
	group     *errgroup.Group
}

// NewEngine constructs the worker Engine.
func NewEngine(p Params) (*Engine, error) {
	routes := make(map[route]messaging.Handler, len(p.Registrations))
	for _, r := range p.Registrations {
		if r.Topic == "" || r.Handler == nil {
			continue
		}
		routes[route{topic: r.Topic, eventType: string(r.EventType)}] = r.Handler
	}

	processed, err := engineMeter.Int64Counter("worker.messages",
		metric.WithDescription("Consumed messages by topic and outcome"))
	if err != nil {
		return nil, err
	}

	return &Engine{
		client:    p.Client,
		logger:    p.Logger,
		cfg:       p.Config,
		routes:    routes,
		processed: processed,
	}, nil
}

// Module wires the engine and the dispatch sweeper into Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Provide(func(d *dispatch.Service, cfg config.Config, logger *zap.Logger) *Sweeper {
		return NewSweeper(d.Sweep, cfg, logger)
	}),
	fx.Invoke(func(lc fx.Lifecycle, engine *Engine, sweeper *Sweeper) {
		lc.Append(fx.Hook{
			OnStart: engine.start,
			OnStop:  engine.stop,
		})
		lc.Append(fx.Hook{
			OnStart: sweeper.start,
			OnStop:  sweeper.stop,
		})
	}),
)

func (e *Engine) start(context.Context) error {
	if !e.cfg.Messaging.Enabled || !e.cfg.Messaging.Workers.Enabled {
		e.logger.Info("worker engine disabled")

		return nil
	}
	if len(e.routes) == 0 {
		e.logger.Info("worker engine has no handlers; skipping")

		return nil
	}

	concurrency := e.cfg.Messaging.Workers.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.group, runCtx = errgroup.WithContext(runCtx)

	for i := 0; i < concurrency; i++ {
		workerID := i
		e.group.Go(func() error {
			e.consumeLoop(runCtx, workerID)
			return nil
		})
	}

	e.logger.Info("worker engine started", zap.Int("workers", concurrency), zap.Int("routes", len(e.routes)))

	return nil
}

func (e *Engine) stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	done := make(chan error, 1)
	go func() { done <- e.group.Wait() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		e.logger.Info("worker engine stopped")

		return err
	}
}

// dispatch picks the most specific route for msg: topic and event type
// first, then the topic-wide handler.
func (e *Engine) dispatch(ctx context.Context, workerID int, msg messaging.Message) error {
	eventType := msg.Headers[event.HeaderEventType]
	handler, ok := e.routes[route{topic: msg.Topic, eventType: eventType}]
	if !ok {
		handler, ok = e.routes[route{topic: msg.Topic}]
	}
	if !ok {
		e.logger.Warn("no handler for message",
			zap.String("topic", msg.Topic),
			zap.String("event_type", eventType),
		)
		e.record(ctx, msg.Topic, eventType, "unrouted")

		return nil
	}

	e.logger.Debug("processing message",
		zap.String("topic", msg.Topic),
		zap.String("event_type", eventType),
		zap.Int64("offset", msg.Offset),
		zap.Int("worker", workerID),
	)
	err := handler(ctx, msg)
	if err != nil {
		e.record(ctx, msg.Topic, eventType, "error")
	} else {
		e.record(ctx, msg.Topic, eventType, "ok")
	}

	return err
}

func (e *Engine) record(ctx context.Context, topic, eventType, result string) {
	e.processed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("event_type", eventType),
		attribute.String("result", result),
	))
}

// consumeLoop keeps a consumer attached to the bus, restarting it with
// capped exponential backoff whenever the client gives up.
func (e *Engine) consumeLoop(ctx context.Context, workerID int) {
	backoff := retry.WithCappedDuration(maxRestartBackoff, retry.NewExponential(restartBackoff))

	_ = retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := e.client.Consume(ctx, func(msgCtx context.Context, msg messaging.Message) error {
			return e.dispatch(msgCtx, workerID, msg)
		})
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}

		e.logger.Error("consume loop error", zap.Error(err), zap.Int("worker", workerID))

		return retry.RetryableError(err)
	})
}
