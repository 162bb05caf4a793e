package order

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/database/dbtest"
	"github.com/Additional-Code/nightowl/internal/entity"
	"github.com/Additional-Code/nightowl/internal/event"
	"github.com/Additional-Code/nightowl/internal/messaging"
	"github.com/Additional-Code/nightowl/internal/notify"
	repo "github.com/Additional-Code/nightowl/internal/repository/order"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (f *fakeDispatcher) AutoAssign(_ context.Context, id int64) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	return nil, f.err
}

type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (r *recorder) Notify(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func newOrder(fulfillment entity.FulfillmentType, status entity.OrderStatus) *entity.Order {
	return &entity.Order{
		ID:            7,
		OrderNumber:   41,
		Status:        status,
		CustomerName:  "Ada",
		CustomerPhone: "+33600000000",
		CustomerEmail: "ada@example.com",
		Fulfillment:   fulfillment,
		Total:         20,
		ETAMinutes:    25,
	}
}

func TestReactorCreatedDeliveryNotifiesAndAssigns(t *testing.T) {
	d := &fakeDispatcher{}
	n := &recorder{}
	r := newReactor(d, nil, n, true, nil)

	o := newOrder(entity.FulfillmentDelivery, entity.StatusNew)
	require.NoError(t, r.Handle(context.Background(), event.New(event.OrderCreated, o, time.Now())))

	require.Len(t, n.msgs, 1)
	assert.Equal(t, notify.KindOrderPlaced, n.msgs[0].Kind)
	assert.Equal(t, int64(41), n.msgs[0].OrderNumber)
	assert.Equal(t, []int64{7}, d.calls)
}

func TestReactorSkipsAssignmentWhenNotApplicable(t *testing.T) {
	d := &fakeDispatcher{}
	r := newReactor(d, nil, notify.Noop{}, true, nil)
	ctx := context.Background()

	require.NoError(t, r.Handle(ctx, event.New(event.OrderCreated, newOrder(entity.FulfillmentPickup, entity.StatusNew), time.Now())))

	driver := "A"
	taken := newOrder(entity.FulfillmentDelivery, entity.StatusInProgress)
	taken.AssignedDriverID = &driver
	require.NoError(t, r.Handle(ctx, event.New(event.OrderCreated, taken, time.Now())))

	off := newReactor(d, nil, notify.Noop{}, false, nil)
	require.NoError(t, off.Handle(ctx, event.New(event.OrderCreated, newOrder(entity.FulfillmentDelivery, entity.StatusNew), time.Now())))

	assert.Empty(t, d.calls)
}

func TestReactorSwallowsNotificationFailures(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("db down")}
	n := &recorder{err: errors.New("webhook down")}
	r := newReactor(d, nil, n, true, nil)
	ctx := context.Background()

	driver := "Bob"
	assigned := newOrder(entity.FulfillmentDelivery, entity.StatusInProgress)
	assigned.AssignedDriverName = &driver
	require.NoError(t, r.Handle(ctx, event.New(event.OrderAssigned, assigned, time.Now())))
	require.Len(t, n.msgs, 1)
	assert.Equal(t, notify.KindDriverAssigned, n.msgs[0].Kind)
	assert.Equal(t, "Bob", n.msgs[0].DriverName)

	err := r.Handle(ctx, event.New(event.OrderCreated, newOrder(entity.FulfillmentDelivery, entity.StatusNew), time.Now()))
	assert.Error(t, err)
}

func TestReactorSendsConfirmationCodeFromStore(t *testing.T) {
	ctx := context.Background()
	conns := dbtest.New(t)
	orders := repo.NewRepository(conns)
	o := newOrder(entity.FulfillmentDelivery, entity.StatusPendingConfirmation)
	o.ID = 0
	o.Items = []entity.OrderItem{{ProductID: 1, Name: "Chips", UnitPrice: 20, Quantity: 1}}
	o.PaymentMethod = entity.PaymentCash
	o.ConfirmationCode = "042042"
	require.NoError(t, orders.Create(ctx, o))

	d := &fakeDispatcher{}
	n := &recorder{}
	r := newReactor(d, orders, n, true, nil)

	wire := *o
	wire.ConfirmationCode = ""
	require.NoError(t, r.Handle(ctx, event.New(event.OrderCreated, &wire, time.Now())))
	require.Len(t, n.msgs, 1)
	assert.Equal(t, notify.KindConfirmationCode, n.msgs[0].Kind)
	assert.Equal(t, "042042", n.msgs[0].ConfirmationCode)
	assert.Empty(t, d.calls)

	confirmed := *o
	confirmed.Status = entity.StatusNew
	env := event.New(event.OrderStatusChanged, &confirmed, time.Now())
	env.PreviousStatus = entity.StatusPendingConfirmation
	require.NoError(t, r.Handle(ctx, env))
	assert.Equal(t, []int64{o.ID}, d.calls)
}

func TestOrderEventsHandlerDecodesEnvelopes(t *testing.T) {
	d := &fakeDispatcher{}
	n := &recorder{}
	r := newReactor(d, nil, n, true, nil)
	cfg := config.Config{Messaging: config.Messaging{Kafka: config.Kafka{Topic: "orders.events"}}}

	reg := NewOrderEventsHandler(r, zap.NewNop(), cfg)
	assert.Equal(t, "orders.events", reg.Topic)

	env := event.New(event.OrderCreated, newOrder(entity.FulfillmentPickup, entity.StatusNew), time.Now())
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, reg.Handler(context.Background(), messaging.Message{Topic: "orders.events", Value: payload}))
	require.Len(t, n.msgs, 1)

	assert.Error(t, reg.Handler(context.Background(), messaging.Message{Topic: "orders.events", Value: []byte("{")}))
}
