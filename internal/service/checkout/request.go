package checkout

import (
	"cmp"
	"fmt"
	"net/mail"
	"slices"
	"strings"

	"github.com/Additional-Code/nightowl/internal/entity"
	"github.com/Additional-Code/nightowl/internal/pricing"
	"github.com/Additional-Code/nightowl/pkg/errorbank"
)

// Line is one requested cart line.
type Line struct {
	ProductID int64
	Quantity  int
}

// Customer identifies who the order is for and, for deliveries, where to.
type Customer struct {
	Name      string
	Phone     string
	Email     string
	Address   string
	Latitude  *float64
	Longitude *float64
}

// Request is a cart submitted for checkout.
type Request struct {
	Items            []Line
	Fulfillment      entity.FulfillmentType
	PickupLocationID int64
	Customer         Customer
	CouponCode       string
	PromotionID      *int64
	PaymentMethod    entity.PaymentMethod
	PaymentReference string
	Channel          string
}

// normalize trims input, applies defaults and rejects incomplete requests.
// Duplicate product lines are merged and the result is ordered by product id
// so concurrent checkouts lock stock rows in the same order.
func (r *Request) normalize() error {
	r.Customer.Name = strings.TrimSpace(r.Customer.Name)
	r.Customer.Phone = strings.TrimSpace(r.Customer.Phone)
	r.Customer.Email = strings.ToLower(strings.TrimSpace(r.Customer.Email))
	r.Customer.Address = strings.TrimSpace(r.Customer.Address)
	r.CouponCode = entity.NormalizeCouponCode(r.CouponCode)
	r.PaymentReference = strings.TrimSpace(r.PaymentReference)
	r.Channel = strings.ToLower(strings.TrimSpace(r.Channel))
	if r.Channel == "" {
		r.Channel = "web"
	}
	if r.Fulfillment == "" {
		r.Fulfillment = entity.FulfillmentDelivery
	}
	if r.PaymentMethod == "" {
		r.PaymentMethod = entity.PaymentCash
	}

	if len(r.Items) == 0 {
		return errorbank.Validation("cart is empty")
	}
	merged := make([]Line, 0, len(r.Items))
	index := make(map[int64]int, len(r.Items))
	for _, l := range r.Items {
		if l.ProductID <= 0 {
			return errorbank.Validation("invalid product id", errorbank.WithDetail("product_id", l.ProductID))
		}
		if l.Quantity <= 0 {
			return errorbank.Validation("quantity must be positive", errorbank.WithDetail("product_id", l.ProductID))
		}
		if i, ok := index[l.ProductID]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(merged)
		merged = append(merged, l)
	}
	slices.SortFunc(merged, func(a, b Line) int { return cmp.Compare(a.ProductID, b.ProductID) })
	r.Items = merged

	if r.Customer.Name == "" || r.Customer.Phone == "" {
		return errorbank.Validation("name and phone are required")
	}
	if r.Customer.Email == "" {
		return errorbank.Validation("email is required")
	}
	if _, err := mail.ParseAddress(r.Customer.Email); err != nil {
		return errorbank.Validation("email is invalid", errorbank.WithCause(err))
	}

	switch r.Fulfillment {
	case entity.FulfillmentDelivery:
		if r.Customer.Address == "" {
			return errorbank.Validation("delivery address is required")
		}
		if r.Customer.Latitude == nil || r.Customer.Longitude == nil {
			return errorbank.Validation("delivery address must be resolved to coordinates")
		}
		if dest := (pricing.Point{Lat: *r.Customer.Latitude, Lng: *r.Customer.Longitude}); !dest.Valid() {
			return errorbank.Validation(fmt.Sprintf("invalid coordinate %f,%f", dest.Lat, dest.Lng))
		}
	case entity.FulfillmentPickup:
		if r.PickupLocationID <= 0 {
			return errorbank.Validation("a pickup location must be selected")
		}
	default:
		return errorbank.Validation(fmt.Sprintf("unknown fulfillment type %q", r.Fulfillment))
	}

	switch r.PaymentMethod {
	case entity.PaymentCash:
	case entity.PaymentCard:
		if r.PaymentReference == "" {
			return errorbank.Validation("card payments need a payment reference")
		}
	default:
		return errorbank.Validation(fmt.Sprintf("unknown payment method %q", r.PaymentMethod))
	}
	return nil
}

func (r *Request) productIDs() []int64 {
	ids := make([]int64, len(r.Items))
	for i, l := range r.Items {
		ids[i] = l.ProductID
	}
	return ids
}
