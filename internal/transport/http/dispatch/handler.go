package dispatch

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/nightowl/internal/dto"
	"github.com/Additional-Code/nightowl/internal/presence"
	"github.com/Additional-Code/nightowl/internal/presentation/http/response"
	service "github.com/Additional-Code/nightowl/internal/service/dispatch"
	ordertransport "github.com/Additional-Code/nightowl/internal/transport/http/order"
	"github.com/Additional-Code/nightowl/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/nightowl/transport/http/dispatch")

// Handler exposes driver presence and order assignment.
type Handler struct {
	svc      *service.Service
	presence presence.Registry
}

// NewHandler constructs a dispatch Handler.
func NewHandler(svc *service.Service, registry presence.Registry) *Handler {
	return &Handler{svc: svc, presence: registry}
}

// Register mounts assignment and presence routes.
func Register(e *echo.Echo, h *Handler) {
	e.POST("/orders/:id/assign", h.assign)
	e.DELETE("/orders/:id/assign", h.unassign)

	g := e.Group("/drivers")
	g.GET("/available", h.available)
	g.POST("/:id/presence", h.heartbeat)
}

func (h *Handler) assign(c echo.Context) error {
	b := response.New(c)

	id, err := ordertransport.ParseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var payload dto.AssignRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "dispatch.assign", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("driver.id", payload.DriverID),
	))
	defer span.End()

	order, err := h.svc.Assign(ctx, id, strings.TrimSpace(payload.DriverID), strings.TrimSpace(payload.DriverName))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) unassign(c echo.Context) error {
	b := response.New(c)

	id, err := ordertransport.ParseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "dispatch.unassign", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Unassign(ctx, id, ordertransport.Actor(c, "staff"))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) heartbeat(c echo.Context) error {
	b := response.New(c)

	driverID := strings.TrimSpace(c.Param("id"))
	if driverID == "" {
		return b.WithError(errorbank.Validation("driver id is required")).Build()
	}
	var payload dto.PresenceRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	status := presence.Status(strings.ToLower(strings.TrimSpace(payload.Status)))
	if status != "" && !status.Valid() {
		return b.WithError(errorbank.Validation("unknown driver status", errorbank.WithDetail("status", payload.Status))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "dispatch.heartbeat", trace.WithAttributes(attribute.String("driver.id", driverID)))
	defer span.End()

	d := presence.Driver{
		ID:        driverID,
		Name:      strings.TrimSpace(payload.Name),
		Status:    status,
		Latitude:  payload.Latitude,
		Longitude: payload.Longitude,
		Score:     payload.Score,
	}
	if err := h.presence.Heartbeat(ctx, d); err != nil {
		return b.WithError(errorbank.Unavailable("presence store unavailable", errorbank.WithCause(err))).Build()
	}
	stored, err := h.presence.Get(ctx, driverID)
	if err != nil {
		return b.WithError(errorbank.Unavailable("presence store unavailable", errorbank.WithCause(err))).Build()
	}
	return b.WithStatus(http.StatusAccepted).WithData(toResponse(stored)).Build()
}

func (h *Handler) available(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "dispatch.available")
	defer span.End()

	drivers, err := h.presence.Available(ctx)
	if err != nil {
		return b.WithError(errorbank.Unavailable("presence store unavailable", errorbank.WithCause(err))).Build()
	}
	out := make([]dto.DriverResponse, len(drivers))
	for i, d := range drivers {
		out[i] = toResponse(d)
	}
	return b.WithData(out).WithMeta("count", len(out)).Build()
}

func toResponse(d presence.Driver) dto.DriverResponse {
	return dto.DriverResponse{
		ID:        d.ID,
		Name:      d.Name,
		Status:    string(d.Status),
		Latitude:  d.Latitude,
		Longitude: d.Longitude,
		Score:     d.Score,
		LastSeen:  d.LastSeen,
	}
}
