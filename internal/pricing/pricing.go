// Package pricing computes delivery fees from distance, live demand and the
// hour of the day.
package pricing

import (
	"github.com/Additional-Code/nightowl/internal/money"
)

const (
	// BaseFee is charged on every delivery.
	BaseFee = 2.50
	// PerKm is the distance component rate.
	PerKm = 0.50
	// SurgeFee applies when demand exceeds SurgeRatio orders per driver.
	SurgeFee   = 1.50
	SurgeRatio = 2.0
	// NightFee applies from NightStartHour until midnight.
	NightFee       = 1.00
	NightStartHour = 22
)

// DeliveryPrice is the itemised delivery fee.
type DeliveryPrice struct {
	Base        float64 `json:"base"`
	DistanceFee float64 `json:"distance_fee"`
	SurgeFee    float64 `json:"surge_fee"`
	NightFee    float64 `json:"night_fee"`
	Total       float64 `json:"total"`
	IsSurge     bool    `json:"is_surge"`
	IsNight     bool    `json:"is_night"`
}

// ComputeDeliveryPrice prices a delivery. hour is the local hour (0-23).
// Negative or non-finite distances price as zero.
func ComputeDeliveryPrice(distanceKm float64, activeOrders, availableDrivers, hour int) DeliveryPrice {
	if distanceKm < 0 || !finite(distanceKm) {
		distanceKm = 0
	}
	drivers := availableDrivers
	if drivers < 1 {
		drivers = 1
	}
	demandFactor := float64(activeOrders) / float64(drivers)

	p := DeliveryPrice{
		Base:        BaseFee,
		DistanceFee: money.Round2(distanceKm * PerKm),
		IsSurge:     demandFactor > SurgeRatio,
		IsNight:     hour >= NightStartHour,
	}
	if p.IsSurge {
		p.SurgeFee = SurgeFee
	}
	if p.IsNight {
		p.NightFee = NightFee
	}
	p.Total = money.Sum(p.Base, p.DistanceFee, p.SurgeFee, p.NightFee)
	return p
}

// Fulfillment mirrors the order fulfillment types relevant to fee waivers.
type Fulfillment string

const (
	FulfillmentDelivery Fulfillment = "delivery"
	FulfillmentPickup   Fulfillment = "pickup"
)

// DeliveryFee returns the fee actually charged: zero for pickup or when the
// discounted subtotal reaches the free-delivery threshold.
func DeliveryFee(price DeliveryPrice, discountedSubtotal, freeThreshold float64, fulfillment Fulfillment) float64 {
	if fulfillment == FulfillmentPickup {
		return 0
	}
	if freeThreshold > 0 && discountedSubtotal >= freeThreshold {
		return 0
	}
	return price.Total
}
