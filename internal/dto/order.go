package dto

import (
	"time"

	"github.com/Additional-Code/nightowl/internal/entity"
)

// OrderItemResponse is one frozen order line.
type OrderItemResponse struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

// PickupResponse is the relay snapshot of a pickup order.
type PickupResponse struct {
	LocationID   int64  `json:"location_id"`
	Name         string `json:"name"`
	Address      string `json:"address"`
	Instructions string `json:"instructions,omitempty"`
}

// OrderResponse represents an order as exposed via transport layers.
type OrderResponse struct {
	ID                 int64               `json:"id"`
	OrderNumber        int64               `json:"order_number"`
	Status             string              `json:"status"`
	Channel            string              `json:"channel"`
	CustomerName       string              `json:"customer_name"`
	CustomerPhone      string              `json:"customer_phone"`
	Address            string              `json:"address,omitempty"`
	Latitude           *float64            `json:"latitude,omitempty"`
	Longitude          *float64            `json:"longitude,omitempty"`
	Items              []OrderItemResponse `json:"items"`
	FulfillmentType    string              `json:"fulfillment_type"`
	Pickup             *PickupResponse     `json:"pickup,omitempty"`
	Subtotal           float64             `json:"subtotal"`
	Discount           float64             `json:"discount"`
	PromoDiscount      float64             `json:"promo_discount"`
	DeliveryFee        float64             `json:"delivery_fee"`
	Total              float64             `json:"total"`
	RushFee            float64             `json:"rush_fee"`
	GrandTotal         float64             `json:"grand_total"`
	IsRush             bool                `json:"is_rush"`
	CouponCode         string              `json:"coupon_code,omitempty"`
	DistanceKm         float64             `json:"distance_km"`
	ETAMinutes         int                 `json:"eta_minutes"`
	PaymentMethod      string              `json:"payment_method"`
	AssignedDriverID   *string             `json:"assigned_driver_id,omitempty"`
	AssignedDriverName *string             `json:"assigned_driver_name,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	DeliveredAt        *time.Time          `json:"delivered_at,omitempty"`
	RushMarkedAt       *time.Time          `json:"rush_marked_at,omitempty"`
}

// NewOrderResponse maps an order entity.
func NewOrderResponse(o *entity.Order) OrderResponse {
	items := make([]OrderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemResponse(it)
	}
	resp := OrderResponse{
		ID:                 o.ID,
		OrderNumber:        o.OrderNumber,
		Status:             string(o.Status),
		Channel:            o.Channel,
		CustomerName:       o.CustomerName,
		CustomerPhone:      o.CustomerPhone,
		Address:            o.Address,
		Latitude:           o.Latitude,
		Longitude:          o.Longitude,
		Items:              items,
		FulfillmentType:    string(o.Fulfillment),
		Subtotal:           o.Subtotal,
		Discount:           o.Discount,
		PromoDiscount:      o.PromoDiscount,
		DeliveryFee:        o.DeliveryFee,
		Total:              o.Total,
		RushFee:            o.RushFee,
		GrandTotal:         o.GrandTotal(),
		IsRush:             o.IsRush,
		CouponCode:         o.CouponCode,
		DistanceKm:         o.DistanceKm,
		ETAMinutes:         o.ETAMinutes,
		PaymentMethod:      string(o.PaymentMethod),
		AssignedDriverID:   o.AssignedDriverID,
		AssignedDriverName: o.AssignedDriverName,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
		DeliveredAt:        o.DeliveredAt,
		RushMarkedAt:       o.RushMarkedAt,
	}
	if o.PickupSnapshot != nil {
		p := PickupResponse(*o.PickupSnapshot)
		resp.Pickup = &p
	}
	return resp
}

// NewOrderResponses maps a listing.
func NewOrderResponses(orders []entity.Order) []OrderResponse {
	out := make([]OrderResponse, len(orders))
	for i := range orders {
		out[i] = NewOrderResponse(&orders[i])
	}
	return out
}

// OrderEventResponse is one audit row.
type OrderEventResponse struct {
	Type       string    `json:"type"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewOrderEventResponses maps an audit trail.
func NewOrderEventResponses(events []entity.OrderEvent) []OrderEventResponse {
	out := make([]OrderEventResponse, len(events))
	for i, ev := range events {
		out[i] = OrderEventResponse{
			Type:       string(ev.Type),
			FromStatus: string(ev.FromStatus),
			ToStatus:   string(ev.ToStatus),
			Actor:      ev.Actor,
			Note:       ev.Note,
			CreatedAt:  ev.CreatedAt,
		}
	}
	return out
}

// StatusRequest asks for a status transition.
type StatusRequest struct {
	Status string `json:"status"`
}

// ConfirmRequest carries the code the customer received.
type ConfirmRequest struct {
	Code string `json:"code"`
}

// AssignRequest claims an order for a driver.
type AssignRequest struct {
	DriverID   string `json:"driver_id"`
	DriverName string `json:"driver_name"`
}
