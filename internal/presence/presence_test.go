package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func registries(t *testing.T, c *clock) map[string]Registry {
	t.Helper()

	mem := NewMemoryRegistry(time.Minute)
	mem.now = c.now

	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rds := NewRedisRegistry(client, time.Minute)
	rds.now = c.now

	return map[string]Registry{"memory": mem, "redis": rds}
}

func TestRegistryFreshnessAndStatus(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)}

	for name, reg := range registries(t, c) {
		t.Run(name, func(t *testing.T) {
			c.t = time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

			require.NoError(t, reg.Heartbeat(ctx, Driver{ID: "d-stale", Name: "Stale"}))
			c.t = c.t.Add(90 * time.Second)
			require.NoError(t, reg.Heartbeat(ctx, Driver{ID: "d-b", Name: "Bea", Latitude: ptr(48.86), Longitude: ptr(2.35)}))
			require.NoError(t, reg.Heartbeat(ctx, Driver{ID: "d-a", Name: "Ali"}))
			require.NoError(t, reg.Heartbeat(ctx, Driver{ID: "d-off", Status: StatusOffline}))

			available, err := reg.Available(ctx)
			require.NoError(t, err)
			require.Len(t, available, 2)
			assert.Equal(t, "d-a", available[0].ID)
			assert.Equal(t, "d-b", available[1].ID)

			require.NoError(t, reg.SetStatus(ctx, "d-a", StatusBusy))
			available, err = reg.Available(ctx)
			require.NoError(t, err)
			require.Len(t, available, 1)
			assert.Equal(t, "d-b", available[0].ID)

			// A bare heartbeat keeps the busy status and the last fix.
			require.NoError(t, reg.Heartbeat(ctx, Driver{ID: "d-a"}))
			got, err := reg.Get(ctx, "d-a")
			require.NoError(t, err)
			assert.Equal(t, StatusBusy, got.Status)
			assert.Equal(t, "Ali", got.Name)

			require.NoError(t, reg.Heartbeat(ctx, Driver{ID: "d-b"}))
			got, err = reg.Get(ctx, "d-b")
			require.NoError(t, err)
			pos, ok := got.Position()
			require.True(t, ok)
			assert.InDelta(t, 48.86, pos.Lat, 1e-9)

			require.NoError(t, reg.SetStatus(ctx, "d-a", StatusOnline))
			available, err = reg.Available(ctx)
			require.NoError(t, err)
			assert.Len(t, available, 2)

			assert.ErrorIs(t, reg.SetStatus(ctx, "nobody", StatusBusy), ErrNotFound)
		})
	}
}

func TestDriverFresh(t *testing.T) {
	now := time.Now()
	d := Driver{LastSeen: now.Add(-30 * time.Second)}
	assert.True(t, d.Fresh(now, time.Minute))
	assert.False(t, d.Fresh(now, 10*time.Second))
	assert.False(t, Driver{}.Fresh(now, time.Hour))
}

func redisRegistry(t *testing.T) (*RedisRegistry, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRegistry(client, time.Minute), srv
}

func TestRedisSetStatusKeepsExpiry(t *testing.T) {
	ctx := context.Background()
	reg, srv := redisRegistry(t)

	require.NoError(t, reg.Heartbeat(ctx, Driver{ID: "d-a", Name: "Ali"}))
	srv.FastForward(30 * time.Second)
	require.NoError(t, reg.SetStatus(ctx, "d-a", StatusBusy))

	ttl := srv.TTL(driverKey("d-a"))
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 90*time.Second)

	srv.FastForward(ttl)
	assert.ErrorIs(t, reg.SetStatus(ctx, "d-a", StatusOnline), ErrNotFound)
	assert.False(t, srv.Exists(driverKey("d-a")))
}

func TestRedisHeartbeatDoesNotUndoConcurrentStatus(t *testing.T) {
	ctx := context.Background()
	reg, _ := redisRegistry(t)
	require.NoError(t, reg.Heartbeat(ctx, Driver{ID: "d-a", Name: "Ali"}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				// A heartbeat that loses the race is retried or reported, never
				// applied over a newer status.
				_ = reg.Heartbeat(ctx, Driver{ID: "d-a", Latitude: ptr(48.86), Longitude: ptr(2.35)})
			}
		}()
	}
	require.NoError(t, reg.SetStatus(ctx, "d-a", StatusBusy))
	wg.Wait()

	got, err := reg.Get(ctx, "d-a")
	require.NoError(t, err)
	assert.Equal(t, StatusBusy, got.Status)
}
