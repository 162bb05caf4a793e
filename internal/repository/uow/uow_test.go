package uow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/nightowl/internal/database/dbtest"
	"github.com/Additional-Code/nightowl/internal/entity"
	"github.com/Additional-Code/nightowl/internal/repository/catalog"
	"github.com/Additional-Code/nightowl/internal/repository/counter"
	"github.com/Additional-Code/nightowl/internal/repository/order"
	"github.com/Additional-Code/nightowl/internal/repository/promotion"
	"github.com/Additional-Code/nightowl/pkg/errorbank"
)

func newUnitOfWork(t *testing.T) (*UnitOfWork, *counter.Repository) {
	conns := dbtest.New(t)
	counters := counter.NewRepository(conns)
	return New(Params{
		Connections: conns,
		Orders:      order.NewRepository(conns),
		Catalog:     catalog.NewRepository(conns),
		Promotions:  promotion.NewRepository(conns),
		Counters:    counters,
	}), counters
}

func TestDoRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	u, counters := newUnitOfWork(t)

	boom := errors.New("boom")
	err := u.Do(ctx, func(ctx context.Context, tx *Tx) error {
		ok, err := tx.Counters.Advance(ctx, entity.OrderNumberSequence, 0)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	v, err := counters.Current(ctx, entity.OrderNumberSequence)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestRetryRerunsConflicts(t *testing.T) {
	ctx := context.Background()
	u, counters := newUnitOfWork(t)

	attempts, conflicts := 0, 0
	err := u.Retry(ctx, RetryPolicy{MaxRetries: 3, OnConflict: func() { conflicts++ }}, func(ctx context.Context, tx *Tx) error {
		attempts++
		if attempts < 3 {
			return ErrConflict
		}
		seen, err := tx.Counters.Current(ctx, entity.OrderNumberSequence)
		if err != nil {
			return err
		}
		_, err = tx.Counters.Advance(ctx, entity.OrderNumberSequence, seen)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, conflicts)

	v, err := counters.Current(ctx, entity.OrderNumberSequence)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestRetryExhaustionIsConcurrencyConflict(t *testing.T) {
	u, _ := newUnitOfWork(t)

	attempts := 0
	err := u.Retry(context.Background(), RetryPolicy{MaxRetries: 2}, func(ctx context.Context, tx *Tx) error {
		attempts++
		return ErrConflict
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeConcurrencyConflict))
	assert.ErrorIs(t, err, ErrConflict)
}

type serverError struct{ code string }

func (e serverError) Error() string       { return "ERROR #" + e.code }
func (e serverError) Field(k byte) string { return map[byte]string{'C': e.code}[k] }

func TestAsConflictClassifiesLockFailures(t *testing.T) {
	cases := map[string]struct {
		err      error
		conflict bool
	}{
		"nil":                {nil, false},
		"plain":              {errors.New("boom"), false},
		"already a conflict": {ErrConflict, true},
		"postgres deadlock":  {serverError{"40P01"}, true},
		"postgres serialize": {fmt.Errorf("exec: %w", serverError{"40001"}), true},
		"postgres unique":    {serverError{"23505"}, false},
		"mysql deadlock":     {&mysql.MySQLError{Number: 1213}, true},
		"mysql lock wait":    {&mysql.MySQLError{Number: 1205}, true},
		"mysql duplicate":    {&mysql.MySQLError{Number: 1062}, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := asConflict(tc.err)
			assert.Equal(t, tc.conflict, errors.Is(got, ErrConflict))
			if tc.err != nil {
				assert.ErrorIs(t, got, tc.err)
			}
		})
	}
}

func TestRetryTreatsDeadlockAsConflict(t *testing.T) {
	u, _ := newUnitOfWork(t)

	attempts := 0
	err := u.Retry(context.Background(), RetryPolicy{MaxRetries: 1}, func(ctx context.Context, tx *Tx) error {
		attempts++
		return &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeConcurrencyConflict))
}
