// Package notify emits price-drop events to an external dispatcher. The
// pipeline never formats or delivers subscriber-facing messages itself.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/productowl/productowl/internal/logger"
)

// Event describes one qualifying price drop for one subscription.
type Event struct {
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	ProductID      uuid.UUID       `json:"product_id"`
	OldPrice       decimal.Decimal `json:"old_price"`
	NewPrice       decimal.Decimal `json:"new_price"`
	ObservedAt     time.Time       `json:"observed_at"`
}

// Dispatcher delivers events to the external notification system.
// Delivery is best effort; failures are reported, not retried here.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// WebhookDispatcher POSTs events as JSON to a configured endpoint.
type WebhookDispatcher struct {
	url    string
	client *http.Client
}

const webhookTimeout = 10 * time.Second

func NewWebhookDispatcher(url string) *WebhookDispatcher {
	return &WebhookDispatcher{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogDispatcher records events in the application log. Used when no
// webhook is configured.
type LogDispatcher struct {
	log logger.Interface
}

func NewLogDispatcher(log logger.Interface) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, event Event) error {
	d.log.Info("price drop",
		"subscription_id", event.SubscriptionID,
		"product_id", event.ProductID,
		"old_price", event.OldPrice.String(),
		"new_price", event.NewPrice.String(),
		"observed_at", event.ObservedAt,
	)
	return nil
}
