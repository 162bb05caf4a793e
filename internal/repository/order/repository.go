package order

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

var repoTracer = otel.Tracer("github.com/Additional-Code/nightowl/repository/order")

// ErrNotFound is returned when an order is missing.
var ErrNotFound = errors.New("order not found")

// Repository encapsulates read/write access for orders.
type Repository struct {
	writer bun.IDB
	reader bun.IDB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// WithTx returns a copy bound to tx for both reads and writes.
func (r *Repository) WithTx(tx bun.IDB) *Repository {
	return &Repository{writer: tx, reader: tx}
}

// Create persists a new order using the write connection.
func (r *Repository) Create(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Create", trace.WithAttributes(attribute.Int64("order.number", order.OrderNumber)))
	defer span.End()

	_, err := r.writer.NewInsert().Model(order).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// GetPrimary fetches an order from the writer, for read-your-writes paths.
func (r *Repository) GetPrimary(ctx context.Context, id int64) (*entity.Order, error) {
	return r.get(ctx, r.writer, id)
}

func (r *Repository) get(ctx context.Context, db bun.IDB, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetPrimary", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order := new(entity.Order)
	err := db.NewSelect().Model(order).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return order, nil
}

// StatusChange describes a compare-and-swap status update.
type StatusChange struct {
	From        entity.OrderStatus
	To          entity.OrderStatus
	At          time.Time
	DeliveredAt *time.Time
}

// UpdateStatus moves the order only if it is still in change.From. It
// reports whether the row was updated.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, change StatusChange) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.UpdateStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.status.from", string(change.From)),
		attribute.String("order.status.to", string(change.To)),
	))
	defer span.End()

	q := r.writer.NewUpdate().Model((*entity.Order)(nil)).
		Set("status = ?", change.To).
		Set("updated_at = ?", change.At).
		Where("id = ?", id).
		Where("status = ?", change.From)
	if change.DeliveredAt != nil {
		q = q.Set("delivered_at = ?", *change.DeliveredAt)
	}
	return affected(ctx, span, q)
}

// Claim assigns a driver if nobody holds the order and it is still open for
// dispatch, moving it to en_cours.
func (r *Repository) Claim(ctx context.Context, id int64, driverID, driverName string, at time.Time) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Claim", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("driver.id", driverID),
	))
	defer span.End()

	q := r.writer.NewUpdate().Model((*entity.Order)(nil)).
		Set("assigned_driver_id = ?", driverID).
		Set("assigned_driver_name = ?", driverName).
		Set("status = ?", entity.StatusInProgress).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("fulfillment_type = ?", entity.FulfillmentDelivery).
		Where("assigned_driver_id IS NULL").
		Where("status IN (?)", bun.In([]entity.OrderStatus{entity.StatusNew, entity.StatusInProgress}))
	return affected(ctx, span, q)
}

// Unassign clears the driver of a non-terminal order. It reports false if
// no driver was assigned or the order is terminal.
func (r *Repository) Unassign(ctx context.Context, id int64, at time.Time) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Unassign", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	q := r.writer.NewUpdate().Model((*entity.Order)(nil)).
		Set("assigned_driver_id = NULL").
		Set("assigned_driver_name = NULL").
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("assigned_driver_id IS NOT NULL").
		Where("status NOT IN (?)", bun.In(entity.TerminalStatuses))
	return affected(ctx, span, q)
}

// SetRush flips the rush flag when it still holds the value the caller read.
func (r *Repository) SetRush(ctx context.Context, id int64, was, rush bool, fee float64, at time.Time) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.SetRush", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.Bool("order.rush", rush),
	))
	defer span.End()

	q := r.writer.NewUpdate().Model((*entity.Order)(nil)).
		Set("is_rush = ?", rush).
		Set("rush_fee = ?", fee).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("is_rush = ?", was).
		Where("status NOT IN (?)", bun.In(entity.TerminalStatuses))
	if rush {
		q = q.Set("rush_marked_at = ?", at)
	} else {
		q = q.Set("rush_marked_at = NULL")
	}
	return affected(ctx, span, q)
}

// AppendEvent records an audit row.
func (r *Repository) AppendEvent(ctx context.Context, event *entity.OrderEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := r.writer.NewInsert().Model(event).Exec(ctx)
	return err
}

// Events lists the audit trail of an order, oldest first.
func (r *Repository) Events(ctx context.Context, orderID int64) ([]entity.OrderEvent, error) {
	var events []entity.OrderEvent
	err := r.reader.NewSelect().Model(&events).
		Where("order_id = ?", orderID).
		OrderExpr("id ASC").
		Scan(ctx)
	return events, err
}

// Filter narrows order listings. Zero values are ignored.
type Filter struct {
	Statuses       []entity.OrderStatus
	DriverID       string
	UnassignedOnly bool
	Fulfillment    entity.FulfillmentType
	Limit          int
	OldestFirst    bool
}

// List returns orders matching f, newest first unless f.OldestFirst is set.
func (r *Repository) List(ctx context.Context, f Filter) ([]entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.List")
	defer span.End()

	var orders []entity.Order
	q := r.reader.NewSelect().Model(&orders)
	applyFilter(q, f)
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	if f.OldestFirst {
		q.OrderExpr("created_at ASC, id ASC")
	} else {
		q.OrderExpr("created_at DESC, id DESC")
	}
	err := q.Limit(limit).Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return orders, nil
}

// Count returns the number of orders matching f.
func (r *Repository) Count(ctx context.Context, f Filter) (int, error) {
	q := r.reader.NewSelect().Model((*entity.Order)(nil))
	applyFilter(q, f)
	return q.Count(ctx)
}

func applyFilter(q *bun.SelectQuery, f Filter) {
	if len(f.Statuses) > 0 {
		q.Where("status IN (?)", bun.In(f.Statuses))
	}
	if f.DriverID != "" {
		q.Where("assigned_driver_id = ?", f.DriverID)
	}
	if f.UnassignedOnly {
		q.Where("assigned_driver_id IS NULL")
	}
	if f.Fulfillment != "" {
		q.Where("fulfillment_type = ?", f.Fulfillment)
	}
}

// PurgeTerminal deletes delivered and cancelled orders created before the
// cutoff along with their audit rows.
func (r *Repository) PurgeTerminal(ctx context.Context, before time.Time) ([]int64, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.PurgeTerminal")
	defer span.End()

	var ids []int64
	if err := r.writer.NewSelect().Model((*entity.Order)(nil)).
		Column("id").
		Where("status IN (?)", bun.In(entity.TerminalStatuses)).
		Where("created_at < ?", before).
		Scan(ctx, &ids); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := r.writer.NewDelete().Model((*entity.OrderEvent)(nil)).
		Where("order_id IN (?)", bun.In(ids)).
		Exec(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if _, err := r.writer.NewDelete().Model((*entity.Order)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("orders.purged", len(ids)))
	return ids, nil
}

func affected(ctx context.Context, span trace.Span, q *bun.UpdateQuery) (bool, error) {
	res, err := q.Exec(ctx)
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
