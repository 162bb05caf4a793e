package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Product is a catalog entry with its available stock.
type Product struct {
	bun.BaseModel `bun:"table:products"`

	ID        int64     `bun:",pk,autoincrement" json:"id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Price     float64   `bun:"price,notnull" json:"price"`
	Stock     int       `bun:"stock,notnull" json:"stock"`
	Active    bool      `bun:"active,notnull" json:"active"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero" json:"updated_at"`
}

// PickupLocation is a relay point customers can collect orders from.
type PickupLocation struct {
	bun.BaseModel `bun:"table:pickup_locations"`

	ID           int64  `bun:",pk,autoincrement" json:"id"`
	Name         string `bun:"name,notnull" json:"name"`
	Address      string `bun:"address,notnull" json:"address"`
	Instructions string `bun:"instructions" json:"instructions,omitempty"`
	Active       bool   `bun:"active,notnull" json:"active"`
}

// Snapshot copies the location into an order-owned value.
func (l *PickupLocation) Snapshot() *PickupSnapshot {
	return &PickupSnapshot{
		LocationID:   l.ID,
		Name:         l.Name,
		Address:      l.Address,
		Instructions: l.Instructions,
	}
}

// SequenceCounter hands out order numbers.
type SequenceCounter struct {
	bun.BaseModel `bun:"table:sequence_counters"`

	Name  string `bun:"name,pk" json:"name"`
	Value int64  `bun:"value,notnull" json:"value"`
}

// OrderNumberSequence is the counter used for order numbers.
const OrderNumberSequence = "orders"
