package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/messaging"
)

var busTracer = otel.Tracer("github.com/Additional-Code/nightowl/event")

const localHandlerTimeout = 30 * time.Second

// Headers attached to every published event.
const (
	HeaderEventType = "event-type"
	HeaderEventID   = "event-id"
)

// Handler reacts to an event.
type Handler func(ctx context.Context, env Envelope) error

// Bus publishes events to Kafka when messaging is enabled and runs local
// subscribers in detached goroutines otherwise.
type Bus struct {
	client   messaging.Client
	remote   bool
	logger   *zap.Logger
	mu       sync.RWMutex
	handlers []Handler
	inflight sync.WaitGroup
}

// Module provides the event bus to Fx.
var Module = fx.Provide(NewBus)

// NewBus wires a Bus on the messaging client and drains local work on stop.
func NewBus(lc fx.Lifecycle, client messaging.Client, cfg config.Config, logger *zap.Logger) *Bus {
	bus := &Bus{
		client: client,
		remote: cfg.Messaging.Enabled && cfg.Messaging.Driver == "kafka",
		logger: logger,
	}
	lc.Append(fx.Hook{OnStop: bus.Drain})
	return bus
}

// NewLocalBus builds a Bus that only delivers to local subscribers.
func NewLocalBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Remote reports whether events leave the process.
func (b *Bus) Remote() bool {
	return b.remote
}

// Subscribe registers a local handler. Local handlers only run when the bus
// is not remote.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish emits env. Failures are logged; the caller's work is already
// committed.
func (b *Bus) Publish(ctx context.Context, env Envelope) {
	ctx, span := busTracer.Start(ctx, "EventBus.Publish", trace.WithAttributes(
		attribute.String("event.type", string(env.Type)),
		attribute.String("event.id", env.EventID),
	))
	defer span.End()

	if b.remote {
		payload, err := json.Marshal(env)
		if err != nil {
			b.logger.Error("marshal order event", zap.Error(err))
			return
		}
		msg := messaging.Outbound{
			Key:   env.Key(),
			Value: payload,
			Headers: map[string]string{
				HeaderEventType: string(env.Type),
				HeaderEventID:   env.EventID,
			},
		}
		if err := b.client.Publish(ctx, msg); err != nil {
			span.RecordError(err)
			b.logger.Error("publish order event", zap.String("type", string(env.Type)), zap.Error(err))
		}
		return
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.inflight.Add(1)
		go func(h Handler) {
			defer b.inflight.Done()
			hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), localHandlerTimeout)
			defer cancel()
			if err := h(hctx, env); err != nil {
				b.logger.Warn("local event handler failed",
					zap.String("type", string(env.Type)),
					zap.String("event_id", env.EventID),
					zap.Error(err),
				)
			}
		}(h)
	}
}

// Drain waits for running local handlers.
func (b *Bus) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
