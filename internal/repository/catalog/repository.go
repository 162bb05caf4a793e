package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/nightowl/internal/database"
	"github.com/Additional-Code/nightowl/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/nightowl/repository/catalog")

// ErrNotFound is returned when a product or pickup location is missing.
var ErrNotFound = errors.New("catalog entry not found")

// Repository reads the catalog and owns stock decrements.
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

// Products loads the given products keyed by id. Missing ids are absent
// from the map.
func (r *Repository) Products(ctx context.Context, ids []int64) (map[int64]entity.Product, error) {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.Products", trace.WithAttributes(attribute.Int("products.count", len(ids))))
	defer span.End()

	out := make(map[int64]entity.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var products []entity.Product
	if err := r.reader.NewSelect().Model(&products).Where("id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// Product loads a single product.
func (r *Repository) Product(ctx context.Context, id int64) (*entity.Product, error) {
	product := new(entity.Product)
	err := r.reader.NewSelect().Model(product).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return product, nil
}

// DecrementStock removes qty units only if at least qty remain. It reports
// whether the decrement happened.
func (r *Repository) DecrementStock(ctx context.Context, productID int64, qty int, at time.Time) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.DecrementStock", trace.WithAttributes(
		attribute.Int64("product.id", productID),
		attribute.Int("product.qty", qty),
	))
	defer span.End()

	res, err := r.writer.NewUpdate().Model((*entity.Product)(nil)).
		Set("stock = stock - ?", qty).
		Set("updated_at = ?", at).
		Where("id = ?", productID).
		Where("stock >= ?", qty).
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

// PickupLocation loads an active relay point.
func (r *Repository) PickupLocation(ctx context.Context, id int64) (*entity.PickupLocation, error) {
	loc := new(entity.PickupLocation)
	err := r.reader.NewSelect().Model(loc).Where("id = ?", id).Where("active = ?", true).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return loc, nil
}
