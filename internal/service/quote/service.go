// Package quote prices a delivery from live shop load.
package quote

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"

	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/entity"
	"github.com/Additional-Code/nightowl/internal/eta"
	"github.com/Additional-Code/nightowl/internal/presence"
	"github.com/Additional-Code/nightowl/internal/pricing"
	repo "github.com/Additional-Code/nightowl/internal/repository/order"
)

var quoteTracer = otel.Tracer("github.com/Additional-Code/nightowl/service/quote")

// Module provides the quote service to Fx.
var Module = fx.Provide(NewService)

// Load is the live demand snapshot a quote is computed from.
type Load struct {
	ActiveOrders     int `json:"active_orders"`
	AvailableDrivers int `json:"available_drivers"`
	PendingOrders    int `json:"pending_orders"`
}

// Quote is the price and ETA for delivering to one point right now.
type Quote struct {
	DistanceKm float64               `json:"distance_km"`
	Hour       int                   `json:"hour"`
	Load       Load                  `json:"load"`
	Price      pricing.DeliveryPrice `json:"price"`
	ETA        eta.Estimate          `json:"eta"`
}

// Service computes quotes.
type Service struct {
	orders   *repo.Repository
	presence presence.Registry
	shop     pricing.Point
	location *time.Location
	now      func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Orders   *repo.Repository
	Presence presence.Registry
	Config   config.Config
}

// NewService wires a quote Service.
func NewService(p Params) *Service {
	return &Service{
		orders:   p.Orders,
		presence: p.Presence,
		shop:     pricing.Point{Lat: p.Config.Shop.Latitude, Lng: p.Config.Shop.Longitude},
		location: p.Config.Shop.Location(),
		now:      time.Now,
	}
}

// Shop returns the coordinate every delivery starts from.
func (s *Service) Shop() pricing.Point {
	return s.shop
}

// Hour is the current hour in the shop timezone.
func (s *Service) Hour() int {
	return s.now().In(s.location).Hour()
}

// Load counts active and pending orders and available drivers.
func (s *Service) Load(ctx context.Context) (Load, error) {
	active, err := s.orders.Count(ctx, repo.Filter{
		Statuses: []entity.OrderStatus{entity.StatusNew, entity.StatusInProgress},
	})
	if err != nil {
		return Load{}, err
	}
	pending, err := s.orders.Count(ctx, repo.Filter{
		Statuses:       []entity.OrderStatus{entity.StatusNew},
		UnassignedOnly: true,
		Fulfillment:    entity.FulfillmentDelivery,
	})
	if err != nil {
		return Load{}, err
	}
	drivers, err := s.presence.Available(ctx)
	if err != nil {
		return Load{}, err
	}
	return Load{ActiveOrders: active, AvailableDrivers: len(drivers), PendingOrders: pending}, nil
}

// Quote prices a delivery to dest.
func (s *Service) Quote(ctx context.Context, dest pricing.Point) (Quote, error) {
	ctx, span := quoteTracer.Start(ctx, "QuoteService.Quote")
	defer span.End()

	load, err := s.Load(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return Quote{}, err
	}
	q := Compute(pricing.DistanceKm(s.shop, dest), load, s.Hour())
	span.SetAttributes(
		attribute.Float64("quote.distance_km", q.DistanceKm),
		attribute.Float64("quote.total", q.Price.Total),
		attribute.Int("quote.eta_minutes", q.ETA.Minutes),
	)
	return q, nil
}

// Compute combines the pricing and ETA engines for a known load.
func Compute(distanceKm float64, load Load, hour int) Quote {
	return Quote{
		DistanceKm: distanceKm,
		Hour:       hour,
		Load:       load,
		Price:      pricing.ComputeDeliveryPrice(distanceKm, load.ActiveOrders, load.AvailableDrivers, hour),
		ETA:        eta.ComputeETA(distanceKm, load.PendingOrders, load.AvailableDrivers),
	}
}
