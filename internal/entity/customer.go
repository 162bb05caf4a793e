package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Customer keeps the last details a customer checked out with, used to
// prefill the next order.
type Customer struct {
	bun.BaseModel `bun:"table:customers"`

	Email     string    `bun:"email,pk" json:"email"`
	Name      string    `bun:"name,notnull" json:"name"`
	Phone     string    `bun:"phone,notnull" json:"phone"`
	Address   string    `bun:"address" json:"address,omitempty"`
	Latitude  *float64  `bun:"latitude" json:"latitude,omitempty"`
	Longitude *float64  `bun:"longitude" json:"longitude,omitempty"`
	UpdatedAt time.Time `bun:"updated_at,nullzero" json:"updated_at"`
}

// OrderEventType names an audited order mutation.
type OrderEventType string

const (
	EventCreated       OrderEventType = "created"
	EventStatusChanged OrderEventType = "status_changed"
	EventAssigned      OrderEventType = "assigned"
	EventUnassigned    OrderEventType = "unassigned"
	EventRushToggled   OrderEventType = "rush_toggled"
	EventConfirmed     OrderEventType = "confirmed"
)

// OrderEvent is an append-only audit row written with each order mutation.
type OrderEvent struct {
	bun.BaseModel `bun:"table:order_events"`

	ID         int64          `bun:",pk,autoincrement" json:"id"`
	OrderID    int64          `bun:"order_id,notnull" json:"order_id"`
	Type       OrderEventType `bun:"type,notnull" json:"type"`
	FromStatus OrderStatus    `bun:"from_status" json:"from_status,omitempty"`
	ToStatus   OrderStatus    `bun:"to_status" json:"to_status,omitempty"`
	Actor      string         `bun:"actor" json:"actor,omitempty"`
	Note       string         `bun:"note" json:"note,omitempty"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}
