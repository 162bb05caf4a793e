package customer

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/Additional-Code/nightowl/internal/database"
	"github.com/Additional-Code/nightowl/internal/entity"
)

// ErrNotFound is returned when no profile exists for an email.
var ErrNotFound = errors.New("customer not found")

// Repository stores checkout prefill profiles.
type Repository struct {
	writer bun.IDB
	reader bun.IDB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer, reader: conns.Reader}
}

// Save inserts or refreshes the profile keyed by email.
func (r *Repository) Save(ctx context.Context, c *entity.Customer) error {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	q := r.writer.NewInsert().Model(c)
	if r.writer.Dialect().Name() == dialect.MySQL {
		q = q.On("DUPLICATE KEY UPDATE")
		for _, col := range upsertColumns {
			q = q.Set(col + " = VALUES(" + col + ")")
		}
	} else {
		q = q.On("CONFLICT (email) DO UPDATE")
		for _, col := range upsertColumns {
			q = q.Set(col + " = EXCLUDED." + col)
		}
	}
	_, err := q.Exec(ctx)
	return err
}

var upsertColumns = []string{"name", "phone", "address", "latitude", "longitude", "updated_at"}

// ByEmail loads a profile.
func (r *Repository) ByEmail(ctx context.Context, email string) (*entity.Customer, error) {
	c := new(entity.Customer)
	err := r.reader.NewSelect().Model(c).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}
