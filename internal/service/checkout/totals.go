package checkout

import (
	"fmt"

	"github.com/Additional-Code/nightowl/internal/entity"
	"github.com/Additional-Code/nightowl/internal/money"
	"github.com/Additional-Code/nightowl/internal/pricing"
	"github.com/Additional-Code/nightowl/pkg/errorbank"
)

// snapshot freezes the cart lines against the product rows read for them.
func snapshot(lines []Line, products map[int64]entity.Product) ([]entity.OrderItem, float64, error) {
	items := make([]entity.OrderItem, 0, len(lines))
	amounts := make([]float64, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			return nil, 0, errorbank.Validation(fmt.Sprintf("product %d does not exist", l.ProductID),
				errorbank.WithDetail("product_id", l.ProductID))
		}
		if !p.Active {
			return nil, 0, errorbank.Validation(fmt.Sprintf("%s is no longer available", p.Name),
				errorbank.WithDetail("product_id", p.ID))
		}
		items = append(items, entity.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  l.Quantity,
		})
		amounts = append(amounts, money.Mul(p.Price, l.Quantity))
	}
	return items, money.Sum(amounts...), nil
}

// promoDiscount applies the promotion percentage to the lines it covers.
func promoDiscount(items []entity.OrderItem, promo *entity.Promotion) float64 {
	if promo == nil {
		return 0
	}
	var covered []float64
	for _, it := range items {
		if promo.Covers(it.ProductID) {
			covered = append(covered, money.Mul(it.UnitPrice, it.Quantity))
		}
	}
	return money.Percent(money.Sum(covered...), promo.DiscountPercent)
}

func couponDiscount(subtotal float64, coupon *entity.Coupon) float64 {
	if coupon == nil || !coupon.Active {
		return 0
	}
	switch coupon.Type {
	case entity.CouponPercent:
		return money.Percent(subtotal, coupon.Value)
	case entity.CouponFixed:
		return money.Round2(coupon.Value)
	default:
		return 0
	}
}

type totals struct {
	Subtotal      float64
	PromoDiscount float64
	Discount      float64
	DeliveryFee   float64
	Total         float64
}

// computeTotals prices the order. Discounts never take the subtotal below
// zero; the delivery fee is waived for pickup or above the free threshold.
func computeTotals(subtotal, promo, coupon float64, price pricing.DeliveryPrice, freeThreshold float64, fulfillment entity.FulfillmentType) totals {
	t := totals{Subtotal: subtotal}
	t.PromoDiscount = money.Min(promo, subtotal)
	t.Discount = money.Min(coupon, money.Sub(subtotal, t.PromoDiscount))
	discounted := money.Sub(money.Sub(subtotal, t.PromoDiscount), t.Discount)
	t.DeliveryFee = pricing.DeliveryFee(price, discounted, freeThreshold, pricing.Fulfillment(fulfillment))
	t.Total = money.Sum(discounted, t.DeliveryFee)
	return t
}
