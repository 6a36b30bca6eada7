package products

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository is the durable price store: product records plus the
// append-only price observation history.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const productColumns = `
	id, source_url, title, currency, current_price::text, availability,
	image_url, consecutive_failures, is_stale, last_checked_at,
	last_success_at, created_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var (
		p         Product
		priceText *string
	)
	err := row.Scan(
		&p.ID, &p.SourceURL, &p.Title, &p.Currency, &priceText,
		&p.Availability, &p.ImageURL, &p.ConsecutiveFailures, &p.Stale,
		&p.LastCheckedAt, &p.LastSuccessAt, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if priceText != nil {
		price, parseErr := decimal.NewFromString(*priceText)
		if parseErr != nil {
			return nil, fmt.Errorf("parse stored price %q: %w", *priceText, parseErr)
		}
		p.CurrentPrice = &price
	}
	return &p, nil
}

// GetProducts returns all tracked products ordered by creation time.
func (r *Repository) GetProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Product
	for rows.Next() {
		p, scanErr := scanProduct(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		res = append(res, *p)
	}
	return res, rows.Err()
}

func (r *Repository) GetProductByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

func (r *Repository) GetProductByURL(ctx context.Context, sourceURL string) (*Product, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE source_url = $1`, sourceURL)
	return scanProduct(row)
}

// UpsertFromScrape creates the product on its first successful scrape, or
// refreshes its descriptive fields on a re-check. It never touches
// current_price; that flows through RecordObservation only.
func (r *Repository) UpsertFromScrape(ctx context.Context, sourceURL string, f ScrapedFields) (*Product, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO products (id, source_url, title, currency, availability, image_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_url) DO UPDATE SET
			title        = EXCLUDED.title,
			currency     = EXCLUDED.currency,
			availability = EXCLUDED.availability,
			image_url    = EXCLUDED.image_url
		RETURNING `+productColumns,
		uuid.New(), sourceURL, f.Title, f.Currency, f.Availability, f.ImageURL)
	return scanProduct(row)
}

// RecordObservation appends one price reading and, when the reading is
// new, promotes it to the product's current price and clears the failure
// state. Re-applying a previously recorded (product, observedAt) pair is a
// no-op and reports inserted=false so callers can suppress duplicate
// notifications.
func (r *Repository) RecordObservation(ctx context.Context, productID uuid.UUID, price decimal.Decimal, observedAt time.Time) (inserted bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		INSERT INTO price_observations (product_id, price, observed_at)
		VALUES ($1, $2::numeric, $3)
		ON CONFLICT (product_id, observed_at) DO NOTHING`,
		productID, price.String(), observedAt)
	if err != nil {
		return false, fmt.Errorf("insert observation: %w", err)
	}
	inserted = tag.RowsAffected() == 1

	if inserted {
		if _, err = tx.Exec(ctx, `
			UPDATE products SET
				current_price        = $2::numeric,
				consecutive_failures = 0,
				is_stale             = FALSE,
				last_checked_at      = $3,
				last_success_at      = $3
			WHERE id = $1`,
			productID, price.String(), observedAt); err != nil {
			return false, fmt.Errorf("update current price: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// LatestObservation returns the most recent price reading, or
// ErrNoObservations when the product has none.
func (r *Repository) LatestObservation(ctx context.Context, productID uuid.UUID) (*PriceObservation, error) {
	var (
		obs       PriceObservation
		priceText string
	)
	err := r.db.QueryRow(ctx, `
		SELECT product_id, price::text, observed_at
		FROM price_observations
		WHERE product_id = $1
		ORDER BY observed_at DESC
		LIMIT 1`, productID).Scan(&obs.ProductID, &priceText, &obs.ObservedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoObservations
		}
		return nil, err
	}
	obs.Price, err = decimal.NewFromString(priceText)
	if err != nil {
		return nil, fmt.Errorf("parse stored price %q: %w", priceText, err)
	}
	return &obs, nil
}

// HasDropped reports whether newPrice is strictly below the most recent
// recorded observation. A product with no prior observation never counts
// as dropped.
func (r *Repository) HasDropped(ctx context.Context, productID uuid.UUID, newPrice decimal.Decimal) (bool, error) {
	latest, err := r.LatestObservation(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrNoObservations) {
			return false, nil
		}
		return false, err
	}
	return newPrice.LessThan(latest.Price), nil
}

// History returns price observations oldest first, starting strictly after
// the cursor. When more rows remain, nextCursor is the observed_at of the
// last returned row and can be passed back to resume.
func (r *Repository) History(ctx context.Context, productID uuid.UUID, cursor time.Time, limit int) (obs []PriceObservation, nextCursor *time.Time, err error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT product_id, price::text, observed_at
		FROM price_observations
		WHERE product_id = $1 AND observed_at > $2
		ORDER BY observed_at ASC
		LIMIT $3`, productID, cursor, limit)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			o         PriceObservation
			priceText string
		)
		if err = rows.Scan(&o.ProductID, &priceText, &o.ObservedAt); err != nil {
			return nil, nil, err
		}
		if o.Price, err = decimal.NewFromString(priceText); err != nil {
			return nil, nil, fmt.Errorf("parse stored price %q: %w", priceText, err)
		}
		obs = append(obs, o)
	}
	if err = rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(obs) == limit {
		last := obs[len(obs)-1].ObservedAt
		nextCursor = &last
	}
	return obs, nextCursor, nil
}

// MarkCheckFailed records a failed re-check: only the check timestamp and
// the consecutive-failure counter move, and the product is flagged stale
// once the counter reaches the ceiling. Price fields are never touched.
func (r *Repository) MarkCheckFailed(ctx context.Context, productID uuid.UUID, checkedAt time.Time, ceiling int) (stale bool, err error) {
	err = r.db.QueryRow(ctx, `
		UPDATE products SET
			consecutive_failures = consecutive_failures + 1,
			is_stale             = consecutive_failures + 1 >= $3,
			last_checked_at      = $2
		WHERE id = $1
		RETURNING is_stale`,
		productID, checkedAt, ceiling).Scan(&stale)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return stale, err
}

// DeleteProduct removes a product and, via cascade, its observations and
// subscriptions. Deletion is always an explicit user action.
func (r *Repository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
