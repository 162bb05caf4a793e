package pricing

import (
	"math"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/nightowl/internal/eta"
	"github.com/Additional-Code/nightowl/internal/geocode"
	"github.com/Additional-Code/nightowl/internal/presentation/http/response"
	"github.com/Additional-Code/nightowl/internal/pricing"
	"github.com/Additional-Code/nightowl/internal/service/quote"
	"github.com/Additional-Code/nightowl/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/nightowl/transport/http/pricing")

// Handler exposes the pricing and ETA engines and address lookup.
type Handler struct {
	quotes   *quote.Service
	geocoder *geocode.Client
}

// NewHandler constructs a pricing Handler.
func NewHandler(quotes *quote.Service, geocoder *geocode.Client) *Handler {
	return &Handler{quotes: quotes, geocoder: geocoder}
}

// Register mounts pricing and geocoding routes.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/pricing")
	g.GET("/quote", h.quote)
	g.GET("/delivery", h.delivery)
	g.GET("/eta", h.eta)

	e.GET("/geocode", h.geocode)
}

func (h *Handler) quote(c echo.Context) error {
	b := response.New(c)

	var lat, lng float64
	err := echo.QueryParamsBinder(c).
		MustFloat64("lat", &lat).
		MustFloat64("lng", &lng).
		BindError()
	if err != nil {
		return b.WithError(errorbank.Validation("lat and lng are required", errorbank.WithCause(err))).Build()
	}
	dest := pricing.Point{Lat: lat, Lng: lng}
	if !dest.Valid() {
		return b.WithError(errorbank.Validation("coordinates out of range")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "pricing.quote")
	defer span.End()

	q, err := h.quotes.Quote(ctx, dest)
	if err != nil {
		return b.WithError(errorbank.Internal("failed to compute quote", errorbank.WithCause(err))).Build()
	}
	return b.WithData(q).Build()
}

// delivery prices a hypothetical delivery. Load and hour default to the
// live values when omitted.
func (h *Handler) delivery(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "pricing.delivery")
	defer span.End()

	load, err := h.quotes.Load(ctx)
	if err != nil {
		return b.WithError(errorbank.Internal("failed to read shop load", errorbank.WithCause(err))).Build()
	}
	var distance float64
	hour := h.quotes.Hour()
	err = echo.QueryParamsBinder(c).
		MustFloat64("distance_km", &distance).
		Int("active_orders", &load.ActiveOrders).
		Int("available_drivers", &load.AvailableDrivers).
		Int("hour", &hour).
		BindError()
	if err != nil {
		return b.WithError(errorbank.Validation("invalid pricing parameters", errorbank.WithCause(err))).Build()
	}
	if !validDistance(distance) {
		return b.WithError(errorbank.Validation("distance_km must be a finite non-negative number")).Build()
	}
	if hour < 0 || hour > 23 {
		return b.WithError(errorbank.Validation("hour must be between 0 and 23")).Build()
	}
	span.SetAttributes(attribute.Float64("quote.distance_km", distance))

	return b.WithData(pricing.ComputeDeliveryPrice(distance, load.ActiveOrders, load.AvailableDrivers, hour)).Build()
}

func (h *Handler) eta(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "pricing.eta")
	defer span.End()

	load, err := h.quotes.Load(ctx)
	if err != nil {
		return b.WithError(errorbank.Internal("failed to read shop load", errorbank.WithCause(err))).Build()
	}
	var distance float64
	err = echo.QueryParamsBinder(c).
		MustFloat64("distance_km", &distance).
		Int("pending_orders", &load.PendingOrders).
		Int("active_drivers", &load.AvailableDrivers).
		BindError()
	if err != nil {
		return b.WithError(errorbank.Validation("invalid eta parameters", errorbank.WithCause(err))).Build()
	}
	if !validDistance(distance) {
		return b.WithError(errorbank.Validation("distance_km must be a finite non-negative number")).Build()
	}

	return b.WithData(eta.ComputeETA(distance, load.PendingOrders, load.AvailableDrivers)).Build()
}

func (h *Handler) geocode(c echo.Context) error {
	b := response.New(c)

	q := c.QueryParam("q")
	if len(q) < 3 {
		return b.WithData([]geocode.Result{}).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "geocode.search", trace.WithAttributes(attribute.Int("query.length", len(q))))
	defer span.End()

	results, err := h.geocoder.Search(ctx, q)
	if err != nil {
		return b.WithError(errorbank.Unavailable("address lookup unavailable", errorbank.WithCause(err))).Build()
	}
	if results == nil {
		results = []geocode.Result{}
	}
	return b.WithData(results).WithMeta("count", len(results)).Build()
}

func validDistance(km float64) bool {
	return km >= 0 && !math.IsInf(km, 0)
}
