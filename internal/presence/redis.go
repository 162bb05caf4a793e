package presence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	driverKeyPrefix  = "presence:driver:"
	driverIndexKey   = "presence:drivers"
	maxWatchAttempts = 16
)

// RedisRegistry shares presence across API and worker processes. Entries
// expire after twice the freshness window.
type RedisRegistry struct {
	client goredis.UniversalClient
	window time.Duration
	now    func() time.Time
}

// NewRedisRegistry builds a registry on client.
func NewRedisRegistry(client goredis.UniversalClient, window time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, window: window, now: time.Now}
}

func driverKey(id string) string {
	return driverKeyPrefix + id
}

func (r *RedisRegistry) Heartbeat(ctx context.Context, d Driver) error {
	key := driverKey(d.ID)
	return r.watch(ctx, key, func(tx *goredis.Tx) error {
		var prev *Driver
		if old, err := decode(tx.Get(ctx, key)); err == nil {
			prev = &old
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		next := merge(prev, d, r.now())
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 2*r.window)
			pipe.SAdd(ctx, driverIndexKey, next.ID)
			return nil
		})
		return err
	})
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (Driver, error) {
	return r.load(ctx, id)
}

func (r *RedisRegistry) Available(ctx context.Context) ([]Driver, error) {
	ids, err := r.client.SMembers(ctx, driverIndexKey).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = driverKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	now := r.now()
	var (
		out   []Driver
		stale []any
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var d Driver
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		if d.Status == StatusOnline && d.Fresh(now, r.window) {
			out = append(out, d)
		}
	}
	if len(stale) > 0 {
		_ = r.client.SRem(ctx, driverIndexKey, stale...).Err()
	}
	sortByID(out)
	return out, nil
}

// SetStatus rewrites the status of a live entry, carrying its remaining TTL
// over explicitly so an entry that expires mid-update is never recreated
// without one.
func (r *RedisRegistry) SetStatus(ctx context.Context, id string, status Status) error {
	key := driverKey(id)
	return r.watch(ctx, key, func(tx *goredis.Tx) error {
		d, err := decode(tx.Get(ctx, key))
		if err != nil {
			return err
		}
		ttl, err := tx.PTTL(ctx, key).Result()
		if err != nil {
			return err
		}
		if ttl <= 0 {
			return ErrNotFound
		}
		d.Status = status
		payload, err := json.Marshal(d)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		return err
	})
}

// watch runs fn under WATCH on key, re-running it while a concurrent writer
// invalidates the transaction.
func (r *RedisRegistry) watch(ctx context.Context, key string, fn func(tx *goredis.Tx) error) error {
	var err error
	for i := 0; i < maxWatchAttempts; i++ {
		err = r.client.Watch(ctx, fn, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (r *RedisRegistry) load(ctx context.Context, id string) (Driver, error) {
	return decode(r.client.Get(ctx, driverKey(id)))
}

func decode(cmd *goredis.StringCmd) (Driver, error) {
	raw, err := cmd.Bytes()
	if errors.Is(err, goredis.Nil) {
		return Driver{}, ErrNotFound
	}
	if err != nil {
		return Driver{}, err
	}
	var d Driver
	if err := json.Unmarshal(raw, &d); err != nil {
		return Driver{}, err
	}
	return d, nil
}
