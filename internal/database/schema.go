package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied on startup. Statements are idempotent so repeated
// startups are safe.
const schema = `
CREATE TABLE IF NOT EXISTS products (
	id                   UUID PRIMARY KEY,
	source_url           TEXT NOT NULL UNIQUE,
	title                TEXT NOT NULL DEFAULT '',
	currency             TEXT NOT NULL DEFAULT '',
	current_price        NUMERIC,
	availability         TEXT NOT NULL DEFAULT 'unknown',
	image_url            TEXT NOT NULL DEFAULT '',
	consecutive_failures INT NOT NULL DEFAULT 0,
	is_stale             BOOLEAN NOT NULL DEFAULT FALSE,
	last_checked_at      TIMESTAMPTZ,
	last_success_at      TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS price_observations (
	product_id  UUID NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	price       NUMERIC NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (product_id, observed_at)
);

CREATE TABLE IF NOT EXISTS tracking_subscriptions (
	id                UUID PRIMARY KEY,
	product_id        UUID NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	subscriber_handle TEXT NOT NULL,
	threshold_price   NUMERIC,
	status            TEXT NOT NULL DEFAULT 'active',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_active_pair
	ON tracking_subscriptions (product_id, subscriber_handle)
	WHERE status = 'active';

CREATE INDEX IF NOT EXISTS idx_observations_product_time
	ON price_observations (product_id, observed_at);
`

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
