// Package checkout turns a cart into an order in one atomic transaction:
// stock, the order-number counter and promotion usage move together with the
// order row or not at all.
package checkout

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/entity"
	"github.com/Additional-Code/nightowl/internal/eta"
	"github.com/Additional-Code/nightowl/internal/event"
	"github.com/Additional-Code/nightowl/internal/money"
	"github.com/Additional-Code/nightowl/internal/payment"
	"github.com/Additional-Code/nightowl/internal/pricing"
	"github.com/Additional-Code/nightowl/internal/repository/catalog"
	"github.com/Additional-Code/nightowl/internal/repository/customer"
	"github.com/Additional-Code/nightowl/internal/repository/promotion"
	"github.com/Additional-Code/nightowl/internal/repository/uow"
	"github.com/Additional-Code/nightowl/internal/service/quote"
	"github.com/Additional-Code/nightowl/pkg/errorbank"
)

var (
	checkoutTracer = otel.Tracer("github.com/Additional-Code/nightowl/service/checkout")
	checkoutMeter  = otel.Meter("github.com/Additional-Code/nightowl/service/checkout")
)

// Module provides the checkout service to Fx.
var Module = fx.Provide(NewService)

// Service places orders.
type Service struct {
	uow        *uow.UnitOfWork
	catalog    *catalog.Repository
	promotions *promotion.Repository
	customers  *customer.Repository
	quotes     *quote.Service
	payments   payment.Gateway
	bus        *event.Bus
	shop       config.Shop
	checkout   config.Checkout
	logger     *zap.Logger
	orders     metric.Int64Counter
	conflicts  metric.Int64Counter
	duration   metric.Float64Histogram
	now        func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	UnitOfWork *uow.UnitOfWork
	Catalog    *catalog.Repository
	Promotions *promotion.Repository
	Customers  *customer.Repository
	Quotes     *quote.Service
	Payments   payment.Gateway
	Bus        *event.Bus
	Config     config.Config
	Logger     *zap.Logger
}

// NewService wires a checkout Service.
func NewService(p Params) (*Service, error) {
	orders, err := checkoutMeter.Int64Counter("checkout.orders",
		metric.WithDescription("Checkout attempts by result"))
	if err != nil {
		return nil, err
	}
	conflicts, err := checkoutMeter.Int64Counter("checkout.conflicts",
		metric.WithDescription("Checkout transactions re-run after a concurrent write"))
	if err != nil {
		return nil, err
	}
	duration, err := checkoutMeter.Float64Histogram("checkout.duration",
		metric.WithDescription("Checkout latency including conflict retries"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		uow:        p.UnitOfWork,
		catalog:    p.Catalog,
		promotions: p.Promotions,
		customers:  p.Customers,
		quotes:     p.Quotes,
		payments:   p.Payments,
		bus:        p.Bus,
		shop:       p.Config.Shop,
		checkout:   p.Config.Checkout,
		logger:     logger,
		orders:     orders,
		conflicts:  conflicts,
		duration:   duration,
		now:        time.Now,
	}, nil
}

// plan is everything resolved before the atomic section.
type plan struct {
	req          Request
	quote        quote.Quote
	pickup       *entity.PickupSnapshot
	couponCode   string
	status       entity.OrderStatus
	code         string
	chargeAmount float64
}

// SubmitOrder validates req and creates exactly one order, or changes
// nothing and fails.
func (s *Service) SubmitOrder(ctx context.Context, req Request) (*entity.Order, error) {
	ctx, span := checkoutTracer.Start(ctx, "CheckoutService.SubmitOrder", trace.WithAttributes(
		attribute.Int("cart.lines", len(req.Items)),
		attribute.String("order.fulfillment", string(req.Fulfillment)),
	))
	defer span.End()
	start := time.Now()

	p, err := s.prepare(ctx, req)
	if err != nil {
		s.record(ctx, start, "rejected")
		return nil, s.fail(span, err, "failed to prepare checkout")
	}

	var order *entity.Order
	policy := uow.RetryPolicy{
		MaxRetries: s.checkout.MaxRetries,
		Backoff:    s.checkout.RetryBackoff,
		OnConflict: func() { s.conflicts.Add(ctx, 1) },
	}
	err = s.uow.Retry(ctx, policy, func(ctx context.Context, tx *uow.Tx) error {
		placed, err := s.place(ctx, tx, p)
		if err != nil {
			return err
		}
		order = placed
		return nil
	})
	if err != nil {
		switch {
		case errorbank.HasCode(err, errorbank.CodeInsufficientStock):
			s.record(ctx, start, "out_of_stock")
		case errorbank.HasCode(err, errorbank.CodeConcurrencyConflict):
			s.record(ctx, start, "conflict")
		default:
			s.record(ctx, start, "failed")
		}
		return nil, s.fail(span, err, "failed to place order")
	}

	s.record(ctx, start, "placed")
	span.SetAttributes(
		attribute.Int64("order.id", order.ID),
		attribute.Int64("order.number", order.OrderNumber),
	)
	s.logger.Info("order placed",
		zap.Int64("id", order.ID),
		zap.Int64("number", order.OrderNumber),
		zap.String("status", string(order.Status)),
		zap.Float64("total", order.Total),
	)

	s.saveCustomer(ctx, order)
	s.bus.Publish(ctx, event.New(event.OrderCreated, order, order.CreatedAt))
	return order, nil
}

// prepare runs every check that does not need the transaction.
func (s *Service) prepare(ctx context.Context, req Request) (*plan, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	p := &plan{req: req, status: entity.StatusNew}

	products, err := s.catalog.Products(ctx, req.productIDs())
	if err != nil {
		return nil, err
	}
	items, subtotal, err := snapshot(req.Items, products)
	if err != nil {
		return nil, err
	}
	if subtotal < s.shop.MinimumOrderAmount {
		return nil, errorbank.Validation(
			fmt.Sprintf("minimum order amount is %.2f", s.shop.MinimumOrderAmount),
			errorbank.WithDetail("subtotal", subtotal),
			errorbank.WithDetail("minimum", s.shop.MinimumOrderAmount),
		)
	}

	var coupon *entity.Coupon
	if req.CouponCode != "" {
		coupon, err = s.promotions.CouponByCode(ctx, req.CouponCode)
		if errors.Is(err, promotion.ErrNotFound) || (err == nil && !coupon.Active) {
			return nil, errorbank.Validation("coupon is not valid", errorbank.WithDetail("code", req.CouponCode))
		}
		if err != nil {
			return nil, err
		}
		p.couponCode = coupon.Code
	}

	switch req.Fulfillment {
	case entity.FulfillmentPickup:
		loc, err := s.catalog.PickupLocation(ctx, req.PickupLocationID)
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, errorbank.Validation("pickup location is not available",
				errorbank.WithDetail("pickup_location_id", req.PickupLocationID))
		}
		if err != nil {
			return nil, err
		}
		p.pickup = loc.Snapshot()
		p.quote = quote.Quote{Hour: s.quotes.Hour(), ETA: eta.Estimate{Minutes: eta.PreparationMinutes}}
	default:
		dest := pricing.Point{Lat: *req.Customer.Latitude, Lng: *req.Customer.Longitude}
		p.quote, err = s.quotes.Quote(ctx, dest)
		if err != nil {
			return nil, err
		}
	}

	if req.PaymentMethod == entity.PaymentCard {
		var promo *entity.Promotion
		if req.PromotionID != nil {
			promo, err = s.promotions.Promotion(ctx, *req.PromotionID)
			if err != nil && !errors.Is(err, promotion.ErrNotFound) {
				return nil, err
			}
			if promo != nil && !promo.Eligible(s.now().UTC()) {
				promo = nil
			}
		}
		t := computeTotals(subtotal, promoDiscount(items, promo), couponDiscount(subtotal, coupon),
			p.quote.Price, s.shop.FreeDeliveryThreshold, req.Fulfillment)
		if err := s.payments.Verify(ctx, req.PaymentReference, t.Total); err != nil {
			if errors.Is(err, payment.ErrDeclined) {
				return nil, errorbank.Validation("payment was not confirmed", errorbank.WithCause(err))
			}
			return nil, errorbank.Unavailable("payment gateway unavailable", errorbank.WithCause(err))
		}
		p.chargeAmount = t.Total
	}

	if s.checkout.RequiresConfirmation(req.Channel) {
		code, err := confirmationCode()
		if err != nil {
			return nil, err
		}
		p.status = entity.StatusPendingConfirmation
		p.code = code
	}
	return p, nil
}

// place is one attempt of the atomic section. Returning uow.ErrConflict
// rolls back and re-runs it.
func (s *Service) place(ctx context.Context, tx *uow.Tx, p *plan) (*entity.Order, error) {
	now := s.now().UTC()
	req := p.req

	products, err := tx.Catalog.Products(ctx, req.productIDs())
	if err != nil {
		return nil, err
	}
	seen, err := tx.Counters.Current(ctx, entity.OrderNumberSequence)
	if err != nil {
		return nil, err
	}

	items, subtotal, err := snapshot(req.Items, products)
	if err != nil {
		return nil, err
	}

	var promo *entity.Promotion
	if req.PromotionID != nil {
		promo, err = s.redeemPromotion(ctx, tx, *req.PromotionID, items, now)
		if err != nil {
			return nil, err
		}
	}

	for _, l := range req.Items {
		if prod := products[l.ProductID]; prod.Stock < l.Quantity {
			return nil, errorbank.InsufficientStock(prod.ID, prod.Name, prod.Stock, l.Quantity)
		}
	}
	for _, l := range req.Items {
		ok, err := tx.Catalog.DecrementStock(ctx, l.ProductID, l.Quantity, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, uow.ErrConflict
		}
	}

	ok, err := tx.Counters.Advance(ctx, entity.OrderNumberSequence, seen)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, uow.ErrConflict
	}

	var coupon *entity.Coupon
	if p.couponCode != "" {
		coupon, err = tx.Promotions.CouponByCode(ctx, p.couponCode)
		if errors.Is(err, promotion.ErrNotFound) {
			coupon, err = nil, nil
		}
		if err != nil {
			return nil, err
		}
	}

	t := computeTotals(subtotal, promoDiscount(items, promo), couponDiscount(subtotal, coupon),
		p.quote.Price, s.shop.FreeDeliveryThreshold, req.Fulfillment)
	if req.PaymentMethod == entity.PaymentCard && money.Round2(t.Total) != money.Round2(p.chargeAmount) {
		return nil, errorbank.Validation("order total changed, payment must be authorised again",
			errorbank.WithDetail("total", t.Total),
			errorbank.WithDetail("authorised", p.chargeAmount),
		)
	}

	order := &entity.Order{
		OrderNumber:      seen + 1,
		Status:           p.status,
		Channel:          req.Channel,
		CustomerName:     req.Customer.Name,
		CustomerPhone:    req.Customer.Phone,
		CustomerEmail:    req.Customer.Email,
		Items:            items,
		Fulfillment:      req.Fulfillment,
		PickupSnapshot:   p.pickup,
		Subtotal:         t.Subtotal,
		Discount:         t.Discount,
		PromoDiscount:    t.PromoDiscount,
		DeliveryFee:      t.DeliveryFee,
		Total:            t.Total,
		DistanceKm:       p.quote.DistanceKm,
		ETAMinutes:       p.quote.ETA.Minutes,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
		ConfirmationCode: p.code,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.Fulfillment == entity.FulfillmentDelivery {
		order.Address = req.Customer.Address
		order.Latitude = req.Customer.Latitude
		order.Longitude = req.Customer.Longitude
	}
	if coupon != nil && t.Discount > 0 {
		order.CouponCode = coupon.Code
	}
	if promo != nil {
		order.PromotionID = &promo.ID
	}

	if err := tx.Orders.Create(ctx, order); err != nil {
		return nil, err
	}
	if err := tx.Orders.AppendEvent(ctx, &entity.OrderEvent{
		OrderID:   order.ID,
		Type:      entity.EventCreated,
		ToStatus:  order.Status,
		Actor:     "customer",
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	return order, nil
}

// redeemPromotion re-validates the promotion against its live row and counts
// one use. An ineligible promotion, or one covering no cart line, is dropped
// without failing the checkout.
func (s *Service) redeemPromotion(ctx context.Context, tx *uow.Tx, id int64, items []entity.OrderItem, now time.Time) (*entity.Promotion, error) {
	promo, err := tx.Promotions.Promotion(ctx, id)
	if errors.Is(err, promotion.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !promo.Eligible(now) || promoDiscount(items, promo) <= 0 {
		return nil, nil
	}
	ok, err := tx.Promotions.Redeem(ctx, promo.ID, promo.UsesCount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, uow.ErrConflict
	}
	promo.UsesCount++
	return promo, nil
}

func (s *Service) saveCustomer(ctx context.Context, order *entity.Order) {
	if s.customers == nil {
		return
	}
	err := s.customers.Save(ctx, &entity.Customer{
		Email:     order.CustomerEmail,
		Name:      order.CustomerName,
		Phone:     order.CustomerPhone,
		Address:   order.Address,
		Latitude:  order.Latitude,
		Longitude: order.Longitude,
		UpdatedAt: order.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("customer profile save failed", zap.String("email", order.CustomerEmail), zap.Error(err))
	}
}

func (s *Service) record(ctx context.Context, start time.Time, result string) {
	attrs := metric.WithAttributes(attribute.String("result", result))
	s.orders.Add(ctx, 1, attrs)
	s.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
}

func (s *Service) fail(span trace.Span, err error, msg string) error {
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		span.SetStatus(codes.Error, appErr.Message())
		return appErr
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return errorbank.Internal(msg, errorbank.WithCause(err))
}

// confirmationCode draws a uniform six-digit code.
func confirmationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate confirmation code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
