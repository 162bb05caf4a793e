package seeder

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/nightowl/internal/database"
	"github.com/Additional-Code/nightowl/internal/entity"
)

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db     *bun.DB
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{db: conns.Writer, logger: logger, now: time.Now}
}

// Summary counts what a seed run inserted.
type Summary struct {
	Products  int
	Locations int
	Promotion bool
	Coupons   int
}

// Catalog seeds products, pickup relays, a running promotion and coupons.
// Tables that already hold rows are left untouched, so the run is safe to
// repeat.
func (s *Seeder) Catalog(ctx context.Context) (Summary, error) {
	var sum Summary
	now := s.now().UTC()

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		products := []entity.Product{
			{Name: "Chips Paprika", Price: 2.50, Stock: 40, Active: true, CreatedAt: now},
			{Name: "Cola 33cl", Price: 1.80, Stock: 60, Active: true, CreatedAt: now},
			{Name: "Chocolate Bar", Price: 1.20, Stock: 80, Active: true, CreatedAt: now},
			{Name: "Instant Noodles", Price: 3.10, Stock: 25, Active: true, CreatedAt: now},
			{Name: "Ice Cream Tub", Price: 5.90, Stock: 12, Active: true, CreatedAt: now},
		}
		n, err := insertIfEmpty(ctx, tx, (*entity.Product)(nil), &products)
		if err != nil {
			return err
		}
		sum.Products = n

		locations := []entity.PickupLocation{
			{Name: "Night Kiosk Bastille", Address: "4 Place de la Bastille, 75011 Paris", Instructions: "Ask at the counter", Active: true},
			{Name: "Relay Gare de Lyon", Address: "Place Louis-Armand, 75012 Paris", Active: true},
		}
		if sum.Locations, err = insertIfEmpty(ctx, tx, (*entity.PickupLocation)(nil), &locations); err != nil {
			return err
		}

		var ids []int64
		if err := tx.NewSelect().Model((*entity.Product)(nil)).Column("id").Order("id ASC").Limit(2).Scan(ctx, &ids); err != nil {
			return err
		}
		maxUses := 100
		promos := []entity.Promotion{{
			Name:            "Midnight snacks",
			ProductIDs:      ids,
			DiscountPercent: 15,
			StartAt:         now.Add(-time.Hour),
			EndAt:           now.Add(7 * 24 * time.Hour),
			IsActive:        true,
			MaxUses:         &maxUses,
		}}
		n, err = insertIfEmpty(ctx, tx, (*entity.Promotion)(nil), &promos)
		if err != nil {
			return err
		}
		sum.Promotion = n > 0

		coupons := []entity.Coupon{
			{Code: "NIGHT10", Type: entity.CouponPercent, Value: 10, Active: true},
			{Code: "WELCOME5", Type: entity.CouponFixed, Value: 5, Active: true},
		}
		sum.Coupons, err = insertIfEmpty(ctx, tx, (*entity.Coupon)(nil), &coupons)
		return err
	})
	if err != nil {
		return Summary{}, err
	}

	s.logger.Info("seeded catalog",
		zap.Int("products", sum.Products),
		zap.Int("pickup_locations", sum.Locations),
		zap.Bool("promotion", sum.Promotion),
		zap.Int("coupons", sum.Coupons),
	)
	return sum, nil
}

// insertIfEmpty inserts rows when the model's table has none and returns
// how many were written.
func insertIfEmpty[T any](ctx context.Context, tx bun.Tx, model any, rows *[]T) (int, error) {
	n, err := tx.NewSelect().Model(model).Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 || len(*rows) == 0 {
		return 0, nil
	}
	if _, err := tx.NewInsert().Model(rows).Exec(ctx); err != nil {
		return 0, err
	}
	return len(*rows), nil
}
