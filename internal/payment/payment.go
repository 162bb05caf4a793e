// Package payment verifies card payments with the gateway before an order is
// placed.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/money"
)

var paymentTracer = otel.Tracer("github.com/Additional-Code/nightowl/payment")

// ErrDeclined is returned when the gateway does not vouch for the payment.
var ErrDeclined = errors.New("payment not confirmed")

// Gateway confirms that a payment reference covers an amount.
type Gateway interface {
	Verify(ctx context.Context, reference string, amount float64) error
}

// Module provides the configured payment gateway to Fx.
var Module = fx.Provide(NewGateway)

// NewGateway selects the gateway driver.
func NewGateway(cfg config.Config, logger *zap.Logger) (Gateway, error) {
	switch cfg.Payment.Driver {
	case "", "noop":
		if logger != nil {
			logger.Info("payment verification disabled; accepting all references")
		}
		return Noop{}, nil
	case "http":
		return NewHTTPGateway(cfg.Payment), nil
	default:
		return nil, fmt.Errorf("unsupported payment driver: %s", cfg.Payment.Driver)
	}
}

// Noop accepts every non-empty reference.
type Noop struct{}

func (Noop) Verify(_ context.Context, reference string, _ float64) error {
	if strings.TrimSpace(reference) == "" {
		return ErrDeclined
	}
	return nil
}

// HTTPGateway looks payments up on a REST gateway.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPGateway builds an HTTPGateway.
func NewHTTPGateway(cfg config.Payment) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type paymentIntent struct {
	Status string  `json:"status"`
	Amount float64 `json:"amount"`
}

// Verify requires the payment to have succeeded for exactly amount.
func (g *HTTPGateway) Verify(ctx context.Context, reference string, amount float64) error {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return ErrDeclined
	}
	ctx, span := paymentTracer.Start(ctx, "Payment.Verify", trace.WithAttributes(attribute.Float64("payment.amount", amount)))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/payments/"+url.PathEscape(reference), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return fmt.Errorf("payment gateway: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrDeclined
	case resp.StatusCode != http.StatusOK:
		err := fmt.Errorf("payment gateway: unexpected status %d", resp.StatusCode)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	var intent paymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return fmt.Errorf("decode payment: %w", err)
	}
	if intent.Status != "succeeded" {
		return fmt.Errorf("%w: status %s", ErrDeclined, intent.Status)
	}
	if money.Round2(intent.Amount) != money.Round2(amount) {
		return fmt.Errorf("%w: amount %.2f does not match %.2f", ErrDeclined, intent.Amount, amount)
	}
	return nil
}
