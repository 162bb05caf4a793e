package event

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/nightowl/internal/entity"
	"github.com/Additional-Code/nightowl/internal/messaging"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	order := &entity.Order{ID: 12, OrderNumber: 1001, Status: entity.StatusNew, ConfirmationCode: "123456"}
	env := New(OrderCreated, order, time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC))

	payload, err := json.Marshal(env)
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "123456")

	got, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, OrderCreated, got.Type)
	assert.Equal(t, int64(1001), got.Order.OrderNumber)
	assert.Equal(t, []byte("order-12"), env.Key())

	_, err = Decode([]byte(`{"type":"order.created"}`))
	assert.Error(t, err)
}

func TestLocalBusDeliversToSubscribers(t *testing.T) {
	bus := NewLocalBus(nil)
	var calls atomic.Int32
	bus.Subscribe(func(ctx context.Context, env Envelope) error {
		calls.Add(1)
		return nil
	})
	bus.Subscribe(func(ctx context.Context, env Envelope) error {
		calls.Add(1)
		return assert.AnError
	})

	ctx, cancel := context.WithCancel(context.Background())
	bus.Publish(ctx, New(OrderCreated, &entity.Order{ID: 1}, time.Now()))
	cancel()

	require.NoError(t, bus.Drain(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
	assert.False(t, bus.Remote())
}

type captureClient struct {
	sent []messaging.Outbound
}

func (c *captureClient) Publish(_ context.Context, msg messaging.Outbound) error {
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureClient) Consume(ctx context.Context, _ messaging.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (c *captureClient) Topic() string { return "orders.events" }

func TestRemoteBusPublishesKeyedMessages(t *testing.T) {
	client := &captureClient{}
	bus := &Bus{client: client, remote: true, logger: zap.NewNop()}
	var local atomic.Int32
	bus.Subscribe(func(context.Context, Envelope) error {
		local.Add(1)
		return nil
	})

	env := New(OrderStatusChanged, &entity.Order{ID: 9, Status: entity.StatusInProgress}, time.Now())
	bus.Publish(context.Background(), env)
	require.NoError(t, bus.Drain(context.Background()))

	require.Len(t, client.sent, 1)
	msg := client.sent[0]
	assert.Equal(t, []byte("order-9"), msg.Key)
	assert.Equal(t, string(OrderStatusChanged), msg.Headers[HeaderEventType])
	assert.Equal(t, env.EventID, msg.Headers[HeaderEventID])

	got, err := Decode(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusInProgress, got.Order.Status)
	assert.Zero(t, local.Load())
}
