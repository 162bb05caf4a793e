package dto

// CheckoutLine is one cart line.
type CheckoutLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// CheckoutCustomer identifies the buyer and delivery destination.
type CheckoutCustomer struct {
	Name      string   `json:"name"`
	Phone     string   `json:"phone"`
	Email     string   `json:"email"`
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// CheckoutRequest is the submitted cart.
type CheckoutRequest struct {
	Items            []CheckoutLine   `json:"items"`
	FulfillmentType  string           `json:"fulfillment_type"`
	PickupLocationID int64            `json:"pickup_location_id"`
	Customer         CheckoutCustomer `json:"customer"`
	CouponCode       string           `json:"coupon_code"`
	PromotionID      *int64           `json:"promotion_id"`
	PaymentMethod    string           `json:"payment_method"`
	PaymentReference string           `json:"payment_reference"`
	Channel          string           `json:"channel"`
}

// CheckoutResponse acknowledges a placed order.
type CheckoutResponse struct {
	OrderID     int64   `json:"order_id"`
	OrderNumber int64   `json:"order_number"`
	Status      string  `json:"status"`
	Total       float64 `json:"total"`
	ETAMinutes  int     `json:"eta_minutes"`
}
