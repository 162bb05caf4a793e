package entity

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Promotion is a time-boxed, usage-capped discount on a set of products.
type Promotion struct {
	bun.BaseModel `bun:"table:promotions"`

	ID              int64     `bun:",pk,autoincrement" json:"id"`
	Name            string    `bun:"name,notnull" json:"name"`
	ProductIDs      []int64   `bun:"product_ids,type:json" json:"product_ids"`
	DiscountPercent float64   `bun:"discount_percent,notnull" json:"discount_percent"`
	StartAt         time.Time `bun:"start_at,notnull" json:"start_at"`
	EndAt           time.Time `bun:"end_at,notnull" json:"end_at"`
	IsActive        bool      `bun:"is_active,notnull" json:"is_active"`
	MaxUses         *int      `bun:"max_uses" json:"max_uses,omitempty"`
	UsesCount       int       `bun:"uses_count,notnull" json:"uses_count"`
}

// Eligible reports whether the promotion can be redeemed at now.
func (p *Promotion) Eligible(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if now.Before(p.StartAt) || now.After(p.EndAt) {
		return false
	}
	return p.MaxUses == nil || p.UsesCount < *p.MaxUses
}

// Covers reports whether productID is part of the promotion.
func (p *Promotion) Covers(productID int64) bool {
	for _, id := range p.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// CouponType selects how a coupon value is applied.
type CouponType string

const (
	CouponPercent CouponType = "percent"
	CouponFixed   CouponType = "fixed"
)

// Coupon is a customer-entered discount code.
type Coupon struct {
	bun.BaseModel `bun:"table:coupons"`

	ID     int64      `bun:",pk,autoincrement" json:"id"`
	Code   string     `bun:"code,notnull,unique" json:"code"`
	Type   CouponType `bun:"type,notnull" json:"type"`
	Value  float64    `bun:"value,notnull" json:"value"`
	Active bool       `bun:"active,notnull" json:"active"`
}

// NormalizeCouponCode canonicalises a code for case-insensitive lookup.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
