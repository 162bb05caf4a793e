package checkout

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/dto"
	"github.com/Additional-Code/nightowl/internal/entity"
	"github.com/Additional-Code/nightowl/internal/presentation/http/response"
	service "github.com/Additional-Code/nightowl/internal/service/checkout"
	"github.com/Additional-Code/nightowl/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/nightowl/transport/http/checkout")

// Module wires the checkout endpoint.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(func(e *echo.Echo, h *Handler, cfg config.Config) {
		Register(e, h, cfg.Checkout)
	}),
)

// Handler exposes checkout over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a checkout Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts POST /checkout, rate limited per client IP when
// cfg.RateLimit is positive.
func Register(e *echo.Echo, h *Handler, cfg config.Checkout) {
	var mw []echo.MiddlewareFunc
	if cfg.RateLimit > 0 {
		mw = append(mw, middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit),
				Burst:     int(cfg.RateLimit) + 1,
				ExpiresIn: 3 * time.Minute,
			}),
			ErrorHandler: func(c echo.Context, err error) error {
				return response.New(c).WithError(errorbank.Validation("cannot identify client", errorbank.WithCause(err))).Build()
			},
			DenyHandler: func(c echo.Context, _ string, _ error) error {
				return response.New(c).
					WithStatus(http.StatusTooManyRequests).
					WithError(errorbank.Unavailable("too many checkout attempts, slow down")).
					Build()
			},
		}))
	}
	e.POST("/checkout", h.submit, mw...)
}

func (h *Handler) submit(c echo.Context) error {
	b := response.New(c)

	var payload dto.CheckoutRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "checkout.submit")
	defer span.End()

	order, err := h.svc.SubmitOrder(ctx, toRequest(payload))
	if err != nil {
		return b.WithError(err).Build()
	}
	span.SetAttributes(attribute.Int64("order.id", order.ID))

	return b.WithStatus(http.StatusCreated).WithData(dto.CheckoutResponse{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Total:       order.Total,
		ETAMinutes:  order.ETAMinutes,
	}).Build()
}

func toRequest(p dto.CheckoutRequest) service.Request {
	lines := make([]service.Line, len(p.Items))
	for i, it := range p.Items {
		lines[i] = service.Line{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return service.Request{
		Items:            lines,
		Fulfillment:      entity.FulfillmentType(p.FulfillmentType),
		PickupLocationID: p.PickupLocationID,
		Customer: service.Customer{
			Name:      p.Customer.Name,
			Phone:     p.Customer.Phone,
			Email:     p.Customer.Email,
			Address:   p.Customer.Address,
			Latitude:  p.Customer.Latitude,
			Longitude: p.Customer.Longitude,
		},
		CouponCode:       p.CouponCode,
		PromotionID:      p.PromotionID,
		PaymentMethod:    entity.PaymentMethod(p.PaymentMethod),
		PaymentReference: p.PaymentReference,
		Channel:          p.Channel,
	}
}
