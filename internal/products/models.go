package products

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Availability describes whether a product can currently be bought.
type Availability string

const (
	InStock    Availability = "in_stock"
	OutOfStock Availability = "out_of_stock"
	Unknown    Availability = "unknown"
)

// ErrNotFound is returned when a product does not exist.
var ErrNotFound = errors.New("product not found")

// ErrNoObservations is returned when a product has no recorded price yet.
var ErrNoObservations = errors.New("no price observations")

// Product is a tracked retailer product. CurrentPrice is nil until the
// first successful scrape and is only ever mutated by RecordObservation.
type Product struct {
	ID                  uuid.UUID        `json:"id"`
	SourceURL           string           `json:"source_url"`
	Title               string           `json:"title"`
	Currency            string           `json:"currency"`
	CurrentPrice        *decimal.Decimal `json:"current_price,omitempty"`
	Availability        Availability     `json:"availability"`
	ImageURL            string           `json:"image_url,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	Stale               bool             `json:"stale"`
	LastCheckedAt       *time.Time       `json:"last_checked_at,omitempty"`
	LastSuccessAt       *time.Time       `json:"last_success_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

// PriceObservation is one timestamped price reading. Rows are append-only:
// never mutated or deleted after insertion.
type PriceObservation struct {
	ProductID  uuid.UUID       `json:"product_id"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// ScrapedFields carries the normalized fields of one successful scrape,
// minus the price, which flows through RecordObservation.
type ScrapedFields struct {
	Title        string
	Currency     string
	Availability Availability
	ImageURL     string
}
