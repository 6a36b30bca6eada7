// Package tracking maps subscribers to the products they follow.
package tracking

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusActive       Status = "active"
	StatusPaused       Status = "paused"
	StatusUnsubscribed Status = "unsubscribed"
)

// ErrNotFound is a soft condition: callers unsubscribing a missing or
// already-unsubscribed subscription treat it as success.
var ErrNotFound = errors.New("subscription not found")

// Subscription ties a subscriber to a tracked product. Threshold is nil
// when the subscriber wants to hear about any price decrease.
type Subscription struct {
	ID               uuid.UUID        `json:"id"`
	ProductID        uuid.UUID        `json:"product_id"`
	SubscriberHandle string           `json:"subscriber_handle"`
	Threshold        *decimal.Decimal `json:"threshold_price,omitempty"`
	Status           Status           `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
}
