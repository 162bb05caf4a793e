package entity

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/Additional-Code/nightowl/internal/money"
)

// OrderStatus is the lifecycle position of an order.
type OrderStatus string

const (
	StatusPendingConfirmation OrderStatus = "pending_confirmation"
	StatusNew                 OrderStatus = "nouveau"
	StatusInProgress          OrderStatus = "en_cours"
	StatusDelivered           OrderStatus = "livre"
	StatusCancelled           OrderStatus = "annule"
)

// IsTerminal reports whether no further transition is permitted.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPendingConfirmation, StatusNew, StatusInProgress, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// TerminalStatuses lists the statuses an order can end in.
var TerminalStatuses = []OrderStatus{StatusDelivered, StatusCancelled}

// FulfillmentType selects between courier delivery and relay pickup.
type FulfillmentType string

const (
	FulfillmentDelivery FulfillmentType = "delivery"
	FulfillmentPickup   FulfillmentType = "pickup"
)

// PaymentMethod records how the customer pays.
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

// OrderItem is a line item frozen at checkout time.
type OrderItem struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

// PickupSnapshot freezes the relay point a pickup order was placed against.
type PickupSnapshot struct {
	LocationID   int64  `json:"location_id"`
	Name         string `json:"name"`
	Address      string `json:"address"`
	Instructions string `json:"instructions,omitempty"`
}

// Order is a placed order with its pricing, fulfillment and dispatch state.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID          int64       `bun:",pk,autoincrement" json:"id"`
	OrderNumber int64       `bun:"order_number,notnull,unique" json:"order_number"`
	Status      OrderStatus `bun:"status,notnull" json:"status"`
	Channel     string      `bun:"channel" json:"channel"`

	CustomerName  string   `bun:"customer_name,notnull" json:"customer_name"`
	CustomerPhone string   `bun:"customer_phone,notnull" json:"customer_phone"`
	CustomerEmail string   `bun:"customer_email,notnull" json:"customer_email"`
	Address       string   `bun:"address" json:"address,omitempty"`
	Latitude      *float64 `bun:"latitude" json:"latitude,omitempty"`
	Longitude     *float64 `bun:"longitude" json:"longitude,omitempty"`

	Items          []OrderItem     `bun:"items,type:json" json:"items"`
	Fulfillment    FulfillmentType `bun:"fulfillment_type,notnull" json:"fulfillment_type"`
	PickupSnapshot *PickupSnapshot `bun:"pickup_snapshot,type:json" json:"pickup_snapshot,omitempty"`

	Subtotal      float64 `bun:"subtotal,notnull" json:"subtotal"`
	Discount      float64 `bun:"discount,notnull" json:"discount"`
	PromoDiscount float64 `bun:"promo_discount,notnull" json:"promo_discount"`
	DeliveryFee   float64 `bun:"delivery_fee,notnull" json:"delivery_fee"`
	Total         float64 `bun:"total,notnull" json:"total"`
	CouponCode    string  `bun:"coupon_code" json:"coupon_code,omitempty"`
	PromotionID   *int64  `bun:"promotion_id" json:"promotion_id,omitempty"`
	DistanceKm    float64 `bun:"distance_km,notnull" json:"distance_km"`
	ETAMinutes    int     `bun:"eta_minutes,notnull" json:"eta_minutes"`

	PaymentMethod    PaymentMethod `bun:"payment_method,notnull" json:"payment_method"`
	PaymentReference string        `bun:"payment_reference" json:"payment_reference,omitempty"`
	ConfirmationCode string        `bun:"confirmation_code" json:"-"`

	AssignedDriverID   *string `bun:"assigned_driver_id" json:"assigned_driver_id,omitempty"`
	AssignedDriverName *string `bun:"assigned_driver_name" json:"assigned_driver_name,omitempty"`

	IsRush       bool       `bun:"is_rush,notnull" json:"is_rush"`
	RushFee      float64    `bun:"rush_fee,notnull" json:"rush_fee"`
	RushMarkedAt *time.Time `bun:"rush_marked_at" json:"rush_marked_at,omitempty"`

	CreatedAt   time.Time  `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at,nullzero" json:"updated_at"`
	DeliveredAt *time.Time `bun:"delivered_at" json:"delivered_at,omitempty"`
}

// GrandTotal is the amount due including a rush surcharge.
func (o *Order) GrandTotal() float64 {
	if !o.IsRush {
		return o.Total
	}
	return money.Sum(o.Total, o.RushFee)
}

// Unassigned reports whether no driver holds the order.
func (o *Order) Unassigned() bool {
	return o.AssignedDriverID == nil || *o.AssignedDriverID == ""
}
