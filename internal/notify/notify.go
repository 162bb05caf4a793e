// Package notify delivers best-effort order notifications to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/nightowl/internal/config"
)

var notifyTracer = otel.Tracer("github.com/Additional-Code/nightowl/notify")

// Kind names the notification template.
type Kind string

const (
	KindOrderPlaced       Kind = "order.placed"
	KindConfirmationCode  Kind = "order.confirmation_code"
	KindDriverAssigned    Kind = "order.driver_assigned"
	KindOrderStatusChange Kind = "order.status_changed"
)

// Message is the structured payload posted to the webhook.
type Message struct {
	Kind             Kind      `json:"kind"`
	OrderID          int64     `json:"order_id"`
	OrderNumber      int64     `json:"order_number"`
	Status           string    `json:"status"`
	CustomerName     string    `json:"customer_name,omitempty"`
	CustomerPhone    string    `json:"customer_phone,omitempty"`
	CustomerEmail    string    `json:"customer_email,omitempty"`
	Total            float64   `json:"total"`
	ETAMinutes       int       `json:"eta_minutes,omitempty"`
	DriverName       string    `json:"driver_name,omitempty"`
	ConfirmationCode string    `json:"confirmation_code,omitempty"`
	SentAt           time.Time `json:"sent_at"`
}

// Notifier sends a message. Callers log and swallow failures.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Module provides the notifier to Fx.
var Module = fx.Provide(New)

// New returns a webhook notifier when enabled and a no-op otherwise.
func New(cfg config.Config, logger *zap.Logger) Notifier {
	if !cfg.Notification.Enabled {
		if logger != nil {
			logger.Info("notifications disabled")
		}
		return Noop{}
	}
	return NewWebhook(cfg.Notification)
}

// Noop drops every message.
type Noop struct{}

func (Noop) Notify(context.Context, Message) error { return nil }

// Webhook posts messages as JSON.
type Webhook struct {
	url  string
	http *http.Client
}

// NewWebhook builds a Webhook notifier.
func NewWebhook(cfg config.Notification) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Webhook{url: cfg.WebhookURL, http: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Notify(ctx context.Context, msg Message) error {
	ctx, span := notifyTracer.Start(ctx, "Notify.Webhook", trace.WithAttributes(
		attribute.String("notification.kind", string(msg.Kind)),
		attribute.Int64("order.id", msg.OrderID),
	))
	defer span.End()

	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return fmt.Errorf("notification webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("notification webhook: unexpected status %d", resp.StatusCode)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
