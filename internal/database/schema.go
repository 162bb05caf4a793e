package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/Additional-Code/nightowl/internal/entity"
)

// Models lists every table the service owns, in creation order.
func Models() []any {
	return []any{
		(*entity.Product)(nil),
		(*entity.PickupLocation)(nil),
		(*entity.SequenceCounter)(nil),
		(*entity.Promotion)(nil),
		(*entity.Coupon)(nil),
		(*entity.Order)(nil),
		(*entity.OrderEvent)(nil),
		(*entity.Customer)(nil),
	}
}

// CreateSchema creates missing tables straight from the models. SQL
// migrations remain the source of truth for postgres and mysql; this path
// serves sqlite deployments and tests.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range Models() {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	_, err := db.NewInsert().
		Model(&entity.SequenceCounter{Name: entity.OrderNumberSequence}).
		Ignore().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("seed order counter: %w", err)
	}
	return nil
}
