package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/productowl/productowl/internal/products"
)

// ScrapeOne runs the fetch → extract path synchronously for a single URL,
// creating the product on its first successful scrape. Failures surface
// with their typed cause so the caller can report an actionable reason.
func (r *Runner) ScrapeOne(ctx context.Context, sourceURL string) (*products.Product, error) {
	res, err := r.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	fields, err := r.extract(res.HTML)
	if err != nil {
		return nil, err
	}

	p, err := r.store.UpsertFromScrape(ctx, sourceURL, products.ScrapedFields{
		Title:        fields.Title,
		Currency:     fields.Currency,
		Availability: fields.Availability,
		ImageURL:     fields.ImageURL,
	})
	if err != nil {
		return nil, fmt.Errorf("store product: %w", err)
	}

	observedAt := time.Now().UTC().Truncate(time.Second)
	inserted, err := r.store.RecordObservation(ctx, p.ID, fields.Price, observedAt)
	if err != nil {
		return nil, fmt.Errorf("record observation: %w", err)
	}
	if !inserted {
		// Duplicate reading: answer with what the store actually holds
		// rather than a price it never recorded.
		stored, err := r.store.GetProductByID(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("reload product: %w", err)
		}
		return stored, nil
	}

	p.CurrentPrice = &fields.Price
	p.LastCheckedAt = &observedAt
	p.LastSuccessAt = &observedAt
	return p, nil
}
