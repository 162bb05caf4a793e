package counter

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

var repoTracer = otel.Tracer("github.com/Additional-Code/nightowl/repository/counter")

// Repository reads and advances named sequence counters.
type Repository struct {
	writer bun.IDB
}

// NewRepository wires a repository backed by the writer connection.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer}
}

// WithTx returns a copy bound to tx.
func (r *Repository) WithTx(tx bun.IDB) *Repository {
	return &Repository{writer: tx}
}

// Current returns the counter value, creating the counter at zero if it does
// not exist yet.
func (r *Repository) Current(ctx context.Context, name string) (int64, error) {
	ctx, span := repoTracer.Start(ctx, "CounterRepository.Current", trace.WithAttributes(attribute.String("counter.name", name)))
	defer span.End()

	c := new(entity.SequenceCounter)
	err := r.writer.NewSelect().Model(c).Where("name = ?", name).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := r.writer.NewInsert().Model(&entity.SequenceCounter{Name: name}).Exec(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "insert failed")
			return 0, err
		}
		return 0, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return 0, err
	}
	return c.Value, nil
}

// Advance moves the counter from seen to seen+1. It reports false when
// another writer moved it first.
func (r *Repository) Advance(ctx context.Context, name string, seen int64) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "CounterRepository.Advance", trace.WithAttributes(
		attribute.String("counter.name", name),
		attribute.Int64("counter.seen", seen),
	))
	defer span.End()

	res, err := r.writer.NewUpdate().Model((*entity.SequenceCounter)(nil)).
		Set("value = ?", seen+1).
		Where("name = ?", name).
		Where("value = ?", seen).
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
