// Package event carries order lifecycle events to Kafka or, when messaging
// is disabled, to in-process subscribers.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Additional-Code/nightowl/internal/entity"
)

// Type names an order event.
type Type string

const (
	OrderCreated       Type = "order.created"
	OrderStatusChanged Type = "order.status_changed"
	OrderAssigned      Type = "order.assigned"
	OrderUnassigned    Type = "order.unassigned"
	OrderRushToggled   Type = "order.rush_toggled"
)

// Envelope is the wire format of every order event.
type Envelope struct {
	EventID        string             `json:"event_id"`
	Type           Type               `json:"type"`
	OccurredAt     time.Time          `json:"occurred_at"`
	PreviousStatus entity.OrderStatus `json:"previous_status,omitempty"`
	Actor          string             `json:"actor,omitempty"`
	Order          *entity.Order      `json:"order"`
}

// New stamps an envelope for order.
func New(t Type, order *entity.Order, at time.Time) Envelope {
	return Envelope{
		EventID:    uuid.NewString(),
		Type:       t,
		OccurredAt: at.UTC(),
		Order:      order,
	}
}

// Key partitions events by order so one order's events stay ordered.
func (e Envelope) Key() []byte {
	if e.Order == nil {
		return nil
	}
	return []byte(fmt.Sprintf("order-%d", e.Order.ID))
}

// Decode parses an envelope received from the bus.
func Decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode order event: %w", err)
	}
	if env.Type == "" || env.Order == nil {
		return Envelope{}, fmt.Errorf("decode order event: missing type or order")
	}
	return env, nil
}
