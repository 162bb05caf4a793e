package order

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/nightowl/internal/dto"
	"github.com/Additional-Code/nightowl/internal/entity"
	"github.com/Additional-Code/nightowl/internal/presentation/http/response"
	service "github.com/Additional-Code/nightowl/internal/service/order"
	"github.com/Additional-Code/nightowl/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/nightowl/transport/http/order")

// ActorHeader names who performs a mutation, for the audit trail.
const ActorHeader = "X-Actor"

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo group.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders")
	g.GET("", h.list)
	g.GET("/:id", h.getByID)
	g.GET("/:id/events", h.events)
	g.PATCH("/:id/status", h.updateStatus)
	g.POST("/:id/rush", h.toggleRush)
	g.POST("/:id/confirm", h.confirm)
}

// ParseID reads the :id path parameter.
func ParseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errorbank.Validation("invalid order id", errorbank.WithDetail("id", c.Param("id")))
	}
	return id, nil
}

// Actor returns the caller named in ActorHeader, or fallback.
func Actor(c echo.Context, fallback string) string {
	if actor := strings.TrimSpace(c.Request().Header.Get(ActorHeader)); actor != "" {
		return actor
	}
	return fallback
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := ParseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	q := service.ListQuery{
		View:     service.View(strings.ToLower(c.QueryParam("view"))),
		DriverID: strings.TrimSpace(c.QueryParam("driver_id")),
	}
	if raw := c.QueryParam("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			q.Statuses = append(q.Statuses, entity.OrderStatus(strings.TrimSpace(s)))
		}
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return b.WithError(errorbank.Validation("invalid limit", errorbank.WithCause(err))).Build()
		}
		q.Limit = limit
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.list", trace.WithAttributes(attribute.String("order.view", string(q.View))))
	defer span.End()

	orders, err := h.svc.List(ctx, q)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponses(orders)).WithMeta("count", len(orders)).Build()
}

func (h *Handler) events(c echo.Context) error {
	b := response.New(c)

	id, err := ParseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.events", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	events, err := h.svc.Events(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderEventResponses(events)).Build()
}

func (h *Handler) updateStatus(c echo.Context) error {
	b := response.New(c)

	id, err := ParseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var payload dto.StatusRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.Status == "" {
		return b.WithError(errorbank.Validation("status is required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.updateStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.status", payload.Status),
	))
	defer span.End()

	order, err := h.svc.UpdateStatus(ctx, id, entity.OrderStatus(strings.ToLower(strings.TrimSpace(payload.Status))), Actor(c, "staff"))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) toggleRush(c echo.Context) error {
	b := response.New(c)

	id, err := ParseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.toggleRush", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.ToggleRush(ctx, id, Actor(c, "staff"))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) confirm(c echo.Context) error {
	b := response.New(c)

	id, err := ParseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var payload dto.ConfirmRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.confirm", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Confirm(ctx, id, payload.Code)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponse(order)).Build()
}
