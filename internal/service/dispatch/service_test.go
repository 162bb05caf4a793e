package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/nightowl/internal/cache"
	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/database/dbtest"
	"github.com/Additional-Code/nightowl/internal/entity"
	"github.com/Additional-Code/nightowl/internal/event"
	"github.com/Additional-Code/nightowl/internal/presence"
	"github.com/Additional-Code/nightowl/internal/pricing"
	"github.com/Additional-Code/nightowl/internal/repository/catalog"
	"github.com/Additional-Code/nightowl/internal/repository/counter"
	repo "github.com/Additional-Code/nightowl/internal/repository/order"
	"github.com/Additional-Code/nightowl/internal/repository/promotion"
	"github.com/Additional-Code/nightowl/internal/repository/uow"
	"github.com/Additional-Code/nightowl/pkg/errorbank"
)

type fixture struct {
	svc      *Service
	orders   *repo.Repository
	presence *presence.MemoryRegistry
	next     int64
}

func newFixture(t *testing.T, strategy string) *fixture {
	t.Helper()
	conns := dbtest.New(t)
	orders := repo.NewRepository(conns)
	registry := presence.NewMemoryRegistry(time.Minute)

	cfg := config.Config{
		Shop:     config.Shop{Latitude: 48.8566, Longitude: 2.3522},
		Checkout: config.Checkout{MaxRetries: 3, RetryBackoff: time.Millisecond},
		Dispatch: config.Dispatch{Strategy: strategy, SweepBatchSize: 10, FreshnessWindow: time.Minute},
		Cache:    config.Cache{DefaultTTL: time.Minute},
	}
	svc, err := NewService(Params{
		UnitOfWork: uow.New(uow.Params{
			Connections: conns,
			Orders:      orders,
			Catalog:     catalog.NewRepository(conns),
			Promotions:  promotion.NewRepository(conns),
			Counters:    counter.NewRepository(conns),
		}),
		Orders:   orders,
		Presence: registry,
		Bus:      event.NewLocalBus(nil),
		Cache:    cache.NewOrderCache(cache.NewMemoryStore(time.Minute), cfg, nil),
		Config:   cfg,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, orders: orders, presence: registry}
}

func (f *fixture) order(t *testing.T, fulfillment entity.FulfillmentType, status entity.OrderStatus) *entity.Order {
	t.Helper()
	f.next++
	o := &entity.Order{
		OrderNumber:   f.next,
		Status:        status,
		Channel:       "web",
		CustomerName:  "Ada",
		CustomerPhone: "+33600000000",
		CustomerEmail: "ada@example.com",
		Items:         []entity.OrderItem{{ProductID: 1, Name: "Chips", UnitPrice: 2.5, Quantity: 1}},
		Fulfillment:   fulfillment,
		Subtotal:      2.5,
		Total:         2.5,
		PaymentMethod: entity.PaymentCash,
		CreatedAt:     time.Now().UTC().Add(time.Duration(f.next) * time.Second),
	}
	require.NoError(t, f.orders.Create(context.Background(), o))
	return o
}

func (f *fixture) driver(t *testing.T, id string, lat, lng, score float64) {
	t.Helper()
	require.NoError(t, f.presence.Heartbeat(context.Background(), presence.Driver{
		ID:        id,
		Name:      "Driver " + id,
		Latitude:  &lat,
		Longitude: &lng,
		Score:     score,
	}))
}

func TestClaimRaceHasExactlyOneWinner(t *testing.T) {
	f := newFixture(t, StrategyNearest)
	o := f.order(t, entity.FulfillmentDelivery, entity.StatusNew)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, driver := range []string{"A", "B"} {
		wg.Add(1)
		go func(i int, driver string) {
			defer wg.Done()
			_, errs[i] = f.svc.Assign(context.Background(), o.ID, driver, "")
		}(i, driver)
	}
	wg.Wait()

	wins, lost := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errorbank.HasCode(err, errorbank.CodeAlreadyAssigned):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, lost)

	stored, err := f.orders.GetPrimary(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusInProgress, stored.Status)
	require.NotNil(t, stored.AssignedDriverID)

	events, err := f.orders.Events(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, entity.EventAssigned, events[0].Type)
	assert.Equal(t, string(ModeManual), events[0].Note)
}

func TestAssignIsIdempotentForSameDriver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, StrategyNearest)
	o := f.order(t, entity.FulfillmentDelivery, entity.StatusNew)

	_, err := f.svc.Assign(ctx, o.ID, "A", "Alice")
	require.NoError(t, err)
	again, err := f.svc.Assign(ctx, o.ID, "A", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "A", *again.AssignedDriverID)

	events, err := f.orders.Events(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAssignRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, StrategyNearest)

	pickup := f.order(t, entity.FulfillmentPickup, entity.StatusNew)
	_, err := f.svc.Assign(ctx, pickup.ID, "A", "")
	assert.True(t, errorbank.HasCode(err, errorbank.CodeValidation))

	done := f.order(t, entity.FulfillmentDelivery, entity.StatusDelivered)
	_, err = f.svc.Assign(ctx, done.ID, "A", "")
	assert.True(t, errorbank.HasCode(err, errorbank.CodeIllegalTransition))

	pending := f.order(t, entity.FulfillmentDelivery, entity.StatusPendingConfirmation)
	_, err = f.svc.Assign(ctx, pending.ID, "A", "")
	assert.True(t, errorbank.HasCode(err, errorbank.CodeIllegalTransition))

	_, err = f.svc.Assign(ctx, 9999, "A", "")
	assert.True(t, errorbank.HasCode(err, errorbank.CodeNotFound))

	_, err = f.svc.Assign(ctx, pickup.ID, " ", "")
	assert.True(t, errorbank.HasCode(err, errorbank.CodeValidation))
}

func TestAutoAssignPicksNearestAndMarksBusy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, StrategyNearest)
	f.driver(t, "far", 48.90, 2.45, 5)
	f.driver(t, "near", 48.857, 2.353, 1)
	o := f.order(t, entity.FulfillmentDelivery, entity.StatusNew)

	assigned, err := f.svc.AutoAssign(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, assigned)
	assert.Equal(t, "near", *assigned.AssignedDriverID)
	assert.Equal(t, "Driver near", *assigned.AssignedDriverName)

	d, err := f.presence.Get(ctx, "near")
	require.NoError(t, err)
	assert.Equal(t, presence.StatusBusy, d.Status)

	available, err := f.presence.Available(ctx)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, "far", available[0].ID)
}

func TestAutoAssignSkipsDriverWithOpenOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, StrategyNearest)
	f.driver(t, "far", 48.90, 2.45, 5)
	f.driver(t, "near", 48.857, 2.353, 1)
	first := f.order(t, entity.FulfillmentDelivery, entity.StatusNew)
	second := f.order(t, entity.FulfillmentDelivery, entity.StatusNew)

	got, err := f.svc.AutoAssign(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, "near", *got.AssignedDriverID)
	// Presence still reports the driver online, as it does between a
	// concurrent claim committing and its busy flag landing.
	require.NoError(t, f.presence.SetStatus(ctx, "near", presence.StatusOnline))

	got, err = f.svc.AutoAssign(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "far", *got.AssignedDriverID)

	mine, err := f.orders.List(ctx, repo.Filter{DriverID: "near"})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestAutoAssignWithoutDriversLeavesOrderInPool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, StrategyScore)
	o := f.order(t, entity.FulfillmentDelivery, entity.StatusNew)

	assigned, err := f.svc.AutoAssign(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, assigned)

	stored, err := f.orders.GetPrimary(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, stored.Unassigned())
	assert.Equal(t, entity.StatusNew, stored.Status)
}

func TestAutoAssignSkipsAlreadyAssignedOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, StrategyScore)
	f.driver(t, "A", 48.86, 2.35, 1)
	o := f.order(t, entity.FulfillmentDelivery, entity.StatusNew)
	_, err := f.svc.Assign(ctx, o.ID, "manual", "Manual")
	require.NoError(t, err)

	assigned, err := f.svc.AutoAssign(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, assigned)
}

func TestUnassignReturnsOrderToPool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, StrategyNearest)
	f.driver(t, "A", 48.86, 2.35, 1)
	o := f.order(t, entity.FulfillmentDelivery, entity.StatusNew)

	_, err := f.svc.Assign(ctx, o.ID, "A", "")
	require.NoError(t, err)

	got, err := f.svc.Unassign(ctx, o.ID, "dispatcher")
	require.NoError(t, err)
	assert.True(t, got.Unassigned())
	assert.Equal(t, entity.StatusInProgress, got.Status)

	d, err := f.presence.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, presence.StatusOnline, d.Status)

	events, err := f.orders.Events(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, entity.EventUnassigned, events[1].Type)
	assert.Equal(t, "A", events[1].Note)

	again, err := f.svc.Unassign(ctx, o.ID, "dispatcher")
	require.NoError(t, err)
	assert.True(t, again.Unassigned())

	_, err = f.svc.Assign(ctx, o.ID, "B", "")
	require.NoError(t, err)
}

func TestUnassignRejectsTerminalOrders(t *testing.T) {
	f := newFixture(t, StrategyNearest)
	o := f.order(t, entity.FulfillmentDelivery, entity.StatusCancelled)

	_, err := f.svc.Unassign(context.Background(), o.ID, "dispatcher")
	assert.True(t, errorbank.HasCode(err, errorbank.CodeIllegalTransition))
}

func TestSweepGivesEachDriverOneOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, StrategyNearest)
	f.driver(t, "A", 48.86, 2.35, 1)
	f.driver(t, "B", 48.87, 2.36, 1)
	for i := 0; i < 3; i++ {
		f.order(t, entity.FulfillmentDelivery, entity.StatusNew)
	}
	f.order(t, entity.FulfillmentPickup, entity.StatusNew)

	n, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := f.orders.List(ctx, repo.Filter{UnassignedOnly: true, Fulfillment: entity.FulfillmentDelivery})
	require.NoError(t, err)
	assert.Len(t, left, 1)

	seen := map[string]bool{}
	for _, driver := range []string{"A", "B"} {
		mine, err := f.orders.List(ctx, repo.Filter{DriverID: driver})
		require.NoError(t, err)
		require.Len(t, mine, 1)
		seen[driver] = true
	}
	assert.Len(t, seen, 2)

	n, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRank(t *testing.T) {
	shop := pricing.Point{Lat: 48.8566, Lng: 2.3522}
	lat1, lng1 := 48.857, 2.353
	lat2, lng2 := 48.95, 2.50
	drivers := []presence.Driver{
		{ID: "nofix", Score: 9},
		{ID: "far", Latitude: &lat2, Longitude: &lng2, Score: 5},
		{ID: "near", Latitude: &lat1, Longitude: &lng1, Score: 1},
		{ID: "alsonofix", Score: 9},
	}

	ids := func(ds []presence.Driver) []string {
		out := make([]string, len(ds))
		for i, d := range ds {
			out[i] = d.ID
		}
		return out
	}

	assert.Equal(t, []string{"near", "far", "alsonofix", "nofix"}, ids(Rank(drivers, shop, StrategyNearest)))
	assert.Equal(t, []string{"alsonofix", "nofix", "far", "near"}, ids(Rank(drivers, shop, StrategyScore)))
	assert.Equal(t, "nofix", drivers[0].ID)
}
