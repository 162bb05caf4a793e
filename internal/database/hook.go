package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// queryHook logs failed statements and statements slower than the
// configured threshold.
type queryHook struct {
	logger *zap.Logger
	pool   string
	slow   time.Duration
}

func newQueryHook(logger *zap.Logger, pool string, slow time.Duration) *queryHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &queryHook{logger: logger.Named("sql"), pool: pool, slow: slow}
}

func (h *queryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	elapsed := time.Since(event.StartTime)

	switch {
	case event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows):
		h.logger.Debug("query failed",
			zap.String("pool", h.pool),
			zap.String("operation", event.Operation()),
			zap.Duration("elapsed", elapsed),
			zap.Error(event.Err),
		)
	case h.slow > 0 && elapsed >= h.slow:
		h.logger.Warn("slow query",
			zap.String("pool", h.pool),
			zap.String("operation", event.Operation()),
			zap.Duration("elapsed", elapsed),
			zap.String("query", event.Query),
		)
	}
}
