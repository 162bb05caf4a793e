package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderConversion(t *testing.T) {
	assert.Nil(t, toKafkaHeaders(nil))
	assert.Nil(t, fromKafkaHeaders(nil))

	in := map[string]string{"event-type": "order.created", "event-id": "abc"}
	assert.Equal(t, in, fromKafkaHeaders(toKafkaHeaders(in)))

	got := fromKafkaHeaders([]kafka.Header{{Key: "k", Value: []byte("v")}})
	assert.Equal(t, map[string]string{"k": "v"}, got)
}

func TestTraceContextRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTrace(ctx, map[string]string{"event-type": "order.created"})
	assert.Equal(t, "order.created", headers["event-type"])
	assert.NotEmpty(t, headers["traceparent"])

	restored := trace.SpanContextFromContext(ExtractTrace(context.Background(), headers))
	assert.Equal(t, sc.TraceID(), restored.TraceID())
	assert.True(t, restored.IsRemote())
}

func TestHandleWithRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := handleWithRetry(ctx, func(context.Context, Message) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	}, Message{})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = handleWithRetry(ctx, func(context.Context, Message) error {
		calls++
		return errors.New("poisoned")
	}, Message{})
	require.Error(t, err)
	assert.Equal(t, handlerAttempts, calls)
}

func TestNoopClientBlocksUntilCancelled(t *testing.T) {
	c := noopClient{topic: "orders.events"}
	require.NoError(t, c.Publish(context.Background(), Outbound{Value: []byte("x")}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.Consume(ctx, func(context.Context, Message) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "orders.events", c.Topic())
}

func TestKafkaPublishLeavesTopicToWriter(t *testing.T) {
	writer := &kafka.Writer{
		Addr:        kafka.TCP("127.0.0.1:1"),
		Topic:       "orders.events",
		MaxAttempts: 1,
	}
	t.Cleanup(func() { _ = writer.Close() })
	c := &kafkaClient{writer: writer, topic: "orders.events"}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := c.Publish(ctx, Outbound{Key: []byte("42"), Value: []byte(`{}`)})

	require.Error(t, err, "nothing listens on the broker address")
	assert.NotContains(t, err.Error(), "Topic must not be specified")
}
