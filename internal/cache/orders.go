package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/entity"
)

// OrderCache keeps read-side copies of orders. Every mutation invalidates
// the entry; failures are logged and never surface to callers.
type OrderCache struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewOrderCache wraps store for orders.
func NewOrderCache(store Store, cfg config.Config, logger *zap.Logger) *OrderCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderCache{store: store, ttl: cfg.Cache.DefaultTTL, logger: logger}
}

func orderKey(id int64) string {
	return fmt.Sprintf("orders:%d", id)
}

// Get returns the cached order or ErrCacheMiss.
func (c *OrderCache) Get(ctx context.Context, id int64) (*entity.Order, error) {
	if c == nil || c.store == nil {
		return nil, ErrCacheMiss
	}
	raw, err := c.store.Get(ctx, orderKey(id))
	if err != nil {
		return nil, err
	}
	var order entity.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// Put stores order.
func (c *OrderCache) Put(ctx context.Context, order *entity.Order) {
	if c == nil || c.store == nil || order == nil {
		return
	}
	raw, err := json.Marshal(order)
	if err != nil {
		c.logger.Warn("orders cache encode failed", zap.Int64("id", order.ID), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, orderKey(order.ID), raw, c.ttl); err != nil {
		c.logger.Warn("orders cache write failed", zap.Int64("id", order.ID), zap.Error(err))
	}
}

// Invalidate drops the entries for ids.
func (c *OrderCache) Invalidate(ctx context.Context, ids ...int64) {
	if c == nil || c.store == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = orderKey(id)
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		c.logger.Warn("orders cache invalidate failed", zap.Int64s("ids", ids), zap.Error(err))
	}
}
