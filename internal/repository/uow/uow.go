package uow

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/Additional-Code/nightowl/internal/database"
	"github.com/Additional-Code/nightowl/internal/repository/catalog"
	"github.com/Additional-Code/nightowl/internal/repository/counter"
	"github.com/Additional-Code/nightowl/internal/repository/order"
	"github.com/Additional-Code/nightowl/internal/repository/promotion"
	"github.com/Additional-Code/nightowl/pkg/errorbank"
)

// ErrConflict marks a conditional write that lost to a concurrent writer.
// Returning it from a Retry callback rolls back and runs the callback again.
var ErrConflict = errors.New("concurrent modification")

// Module provides the unit of work to Fx.
var Module = fx.Provide(New)

// Tx exposes the repositories bound to one database transaction.
type Tx struct {
	Orders     *order.Repository
	Catalog    *catalog.Repository
	Promotions *promotion.Repository
	Counters   *counter.Repository
}

// UnitOfWork runs a callback inside a single writer transaction.
type UnitOfWork struct {
	db         *bun.DB
	orders     *order.Repository
	catalog    *catalog.Repository
	promotions *promotion.Repository
	counters   *counter.Repository
}

// Params defines dependencies for constructing UnitOfWork.
type Params struct {
	fx.In

	Connections *database.Connections
	Orders      *order.Repository
	Catalog     *catalog.Repository
	Promotions  *promotion.Repository
	Counters    *counter.Repository
}

// New wires a UnitOfWork on the writer connection.
func New(p Params) *UnitOfWork {
	return &UnitOfWork{
		db:         p.Connections.Writer,
		orders:     p.Orders,
		catalog:    p.Catalog,
		promotions: p.Promotions,
		counters:   p.Counters,
	}
}

// Do commits when fn returns nil and rolls back otherwise. The error fn
// returned is passed through unchanged.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	return u.db.RunInTx(ctx, nil, func(ctx context.Context, btx bun.Tx) error {
		return fn(ctx, &Tx{
			Orders:     u.orders.WithTx(btx),
			Catalog:    u.catalog.WithTx(btx),
			Promotions: u.promotions.WithTx(btx),
			Counters:   u.counters.WithTx(btx),
		})
	})
}

// RetryPolicy bounds how often a conflicting transaction is re-run.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	// OnConflict is called for every conflicting attempt.
	OnConflict func()
}

// Retry runs fn in a transaction, re-running it from scratch while it fails
// with ErrConflict or the database aborts it as a deadlock victim. Once retries are exhausted the conflict surfaces as a
// ConcurrencyConflict application error.
func (u *UnitOfWork) Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context, tx *Tx) error) error {
	base := p.Backoff
	if base <= 0 {
		base = 10 * time.Millisecond
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := retry.WithMaxRetries(uint64(maxRetries), retry.WithJitterPercent(20, retry.NewExponential(base)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := asConflict(u.Do(ctx, fn))
		if errors.Is(err, ErrConflict) {
			if p.OnConflict != nil {
				p.OnConflict()
			}
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, ErrConflict) {
		return errorbank.ConcurrencyConflict("", errorbank.WithCause(err))
	}
	return err
}
