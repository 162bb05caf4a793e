package promotion

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/nightowl/internal/database"
	"github.com/Additional-Code/nightowl/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/nightowl/repository/promotion")

// ErrNotFound is returned when a promotion or coupon is missing.
var ErrNotFound = errors.New("promotion not found")

// Repository gives access to flash promotions and coupons.
type Repository struct {
	writer bun.IDB
	reader bun.IDB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer, reader: conns.Reader}
}

// WithTx returns a copy bound to tx for both reads and writes.
func (r *Repository) WithTx(tx bun.IDB) *Repository {
	return &Repository{writer: tx, reader: tx}
}

// Promotion loads a promotion by id.
func (r *Repository) Promotion(ctx context.Context, id int64) (*entity.Promotion, error) {
	ctx, span := repoTracer.Start(ctx, "PromotionRepository.Promotion", trace.WithAttributes(attribute.Int64("promotion.id", id)))
	defer span.End()

	promo := new(entity.Promotion)
	err := r.reader.NewSelect().Model(promo).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return promo, nil
}

// Redeem counts one use of the promotion, conditioned on uses_count still
// being the value the caller validated against.
func (r *Repository) Redeem(ctx context.Context, id int64, seenUses int) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "PromotionRepository.Redeem", trace.WithAttributes(
		attribute.Int64("promotion.id", id),
		attribute.Int("promotion.uses", seenUses),
	))
	defer span.End()

	res, err := r.writer.NewUpdate().Model((*entity.Promotion)(nil)).
		Set("uses_count = uses_count + 1").
		Where("id = ?", id).
		Where("uses_count = ?", seenUses).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CouponByCode looks a coupon up case-insensitively.
func (r *Repository) CouponByCode(ctx context.Context, code string) (*entity.Coupon, error) {
	coupon := new(entity.Coupon)
	err := r.reader.NewSelect().Model(coupon).
		Where("code = ?", entity.NormalizeCouponCode(code)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return coupon, nil
}
