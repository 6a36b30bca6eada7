package tracking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository is the tracking registry over Postgres.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const subscriptionColumns = `
	id, product_id, subscriber_handle, threshold_price::text, status, created_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		s             Subscription
		thresholdText *string
	)
	err := row.Scan(&s.ID, &s.ProductID, &s.SubscriberHandle,
		&thresholdText, &s.Status, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if thresholdText != nil {
		threshold, parseErr := decimal.NewFromString(*thresholdText)
		if parseErr != nil {
			return nil, fmt.Errorf("parse stored threshold %q: %w", *thresholdText, parseErr)
		}
		s.Threshold = &threshold
	}
	return &s, nil
}

// Subscribe creates an active subscription or, when the subscriber already
// actively tracks the product, updates its threshold in place. The partial
// unique index on (product_id, subscriber_handle) WHERE status='active'
// guarantees at most one active row per pair.
func (r *Repository) Subscribe(ctx context.Context, subscriberHandle string, productID uuid.UUID, threshold *decimal.Decimal) (*Subscription, error) {
	var thresholdText *string
	if threshold != nil {
		t := threshold.String()
		thresholdText = &t
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO tracking_subscriptions (id, product_id, subscriber_handle, threshold_price, status)
		VALUES ($1, $2, $3, $4::numeric, 'active')
		ON CONFLICT (product_id, subscriber_handle) WHERE status = 'active'
		DO UPDATE SET threshold_price = EXCLUDED.threshold_price
		RETURNING `+subscriptionColumns,
		uuid.New(), productID, subscriberHandle, thresholdText)
	return scanSubscription(row)
}

// Unsubscribe marks a subscription unsubscribed. A missing or already
// unsubscribed id returns ErrNotFound, which callers absorb: the operation
// is idempotent from their point of view.
func (r *Repository) Unsubscribe(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE tracking_subscriptions
		SET status = 'unsubscribed'
		WHERE id = $1 AND status <> 'unsubscribed'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveForProduct returns every active subscription for the product.
func (r *Repository) ActiveForProduct(ctx context.Context, productID uuid.UUID) ([]Subscription, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM tracking_subscriptions
		WHERE product_id = $1 AND status = 'active'
		ORDER BY created_at`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// ForSubscriber returns all of a subscriber's non-unsubscribed rows.
func (r *Repository) ForSubscriber(ctx context.Context, subscriberHandle string) ([]Subscription, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM tracking_subscriptions
		WHERE subscriber_handle = $1 AND status <> 'unsubscribed'
		ORDER BY created_at`, subscriberHandle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// TrackedProductIDs returns the distinct products referenced by at least
// one active subscription. Products nobody tracks are never dispatched.
func (r *Repository) TrackedProductIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT product_id
		FROM tracking_subscriptions
		WHERE status = 'active'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func collectSubscriptions(rows pgx.Rows) ([]Subscription, error) {
	var subs []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}
