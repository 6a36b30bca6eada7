// Package scheduler re-checks tracked products on a schedule and decides
// which subscribers to notify about price drops.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/productowl/productowl/internal/logger"
	"github.com/productowl/productowl/internal/notify"
	"github.com/productowl/productowl/internal/products"
	"github.com/productowl/productowl/internal/scraper"
	"github.com/productowl/productowl/internal/tracking"
)

// PriceStore is the slice of the product repository the runner depends on.
type PriceStore interface {
	GetProductByID(ctx context.Context, id uuid.UUID) (*products.Product, error)
	UpsertFromScrape(ctx context.Context, sourceURL string, f products.ScrapedFields) (*products.Product, error)
	RecordObservation(ctx context.Context, productID uuid.UUID, price decimal.Decimal, observedAt time.Time) (bool, error)
	HasDropped(ctx context.Context, productID uuid.UUID, newPrice decimal.Decimal) (bool, error)
	MarkCheckFailed(ctx context.Context, productID uuid.UUID, checkedAt time.Time, ceiling int) (bool, error)
}

// Registry is the slice of the tracking repository the runner depends on.
type Registry interface {
	TrackedProductIDs(ctx context.Context) ([]uuid.UUID, error)
	ActiveForProduct(ctx context.Context, productID uuid.UUID) ([]tracking.Subscription, error)
}

// Fetcher renders one product page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*scraper.FetchResult, error)
}

// ExtractFunc parses rendered HTML into product fields.
type ExtractFunc func(html string) (*scraper.ProductFields, error)

// State is the runner's phase within one batch.
type State string

const (
	StateIdle        State = "idle"
	StateEnumerating State = "enumerating"
	StateDispatching State = "dispatching"
	StateReconciling State = "reconciling"
)

// AttemptOutcome classifies one product's check.
type AttemptOutcome string

const (
	AttemptSuccess      AttemptOutcome = "success"
	AttemptTimeout      AttemptOutcome = "timeout"
	AttemptBlocked      AttemptOutcome = "blocked"
	AttemptParseError   AttemptOutcome = "parse_error"
	AttemptNetworkError AttemptOutcome = "network_error"
	AttemptLaunchError  AttemptOutcome = "launch_error"
	AttemptSkipped      AttemptOutcome = "skipped"
)

// Attempt is the transient record of one product check within a run. It is
// discarded once the batch summary is built.
type Attempt struct {
	ProductID uuid.UUID
	StartedAt time.Time
	Outcome   AttemptOutcome
	Stale     bool
	Err       error

	// fatal marks store/registry connectivity failures that must abort
	// the remaining batch rather than be absorbed.
	fatal bool
}

// BatchSummary is the aggregate outcome of one run, reported even when
// individual products failed.
type BatchSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Stale     int `json:"stale"`
	Skipped   int `json:"skipped"`
}

// Config bounds the runner's resource usage.
type Config struct {
	Workers        int
	FailureCeiling int
}

// Runner walks every tracked product through fetch, extract, store and
// notification decision with per-product failure isolation.
type Runner struct {
	store      PriceStore
	registry   Registry
	fetcher    Fetcher
	extract    ExtractFunc
	dispatcher notify.Dispatcher
	log        logger.Interface
	cfg        Config

	mu       sync.Mutex
	state    State
	inFlight map[uuid.UUID]struct{}
}

func NewRunner(
	store PriceStore,
	registry Registry,
	fetcher Fetcher,
	extract ExtractFunc,
	dispatcher notify.Dispatcher,
	log logger.Interface,
	cfg Config,
) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.FailureCeiling <= 0 {
		cfg.FailureCeiling = 5
	}
	return &Runner{
		store:      store,
		registry:   registry,
		fetcher:    fetcher,
		extract:    extract,
		dispatcher: dispatcher,
		log:        log,
		cfg:        cfg,
		state:      StateIdle,
		inFlight:   make(map[uuid.UUID]struct{}),
	}
}

// State returns the runner's current phase.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// claim marks a product as being checked. It fails when a prior attempt
// for the same product has not settled yet, which serializes overlapping
// runs per product.
func (r *Runner) claim(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[id]; busy {
		return false
	}
	r.inFlight[id] = struct{}{}
	return true
}

func (r *Runner) release(id uuid.UUID) {
	r.mu.Lock()
	delete(r.inFlight, id)
	r.mu.Unlock()
}

// RunBatch executes one full re-check cycle. Individual fetch or parse
// failures are recorded and never abort the batch; only registry/store
// connectivity failures or cancellation of ctx do.
func (r *Runner) RunBatch(ctx context.Context) (BatchSummary, error) {
	r.setState(StateEnumerating)
	defer r.setState(StateIdle)

	ids, err := r.registry.TrackedProductIDs(ctx)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("enumerate tracked products: %w", err)
	}

	summary := BatchSummary{Total: len(ids)}
	if len(ids) == 0 {
		return summary, nil
	}

	r.setState(StateDispatching)
	r.log.Info("batch dispatching", "products", len(ids), "workers", r.cfg.Workers)

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan uuid.UUID)
	results := make(chan Attempt, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if !r.claim(id) {
					results <- Attempt{ProductID: id, Outcome: AttemptSkipped}
					continue
				}
				att := r.CheckProduct(batchCtx, id)
				r.release(id)
				results <- att
				if att.fatal {
					cancel()
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, id := range ids {
			select {
			case jobs <- id:
			case <-batchCtx.Done():
				return
			}
		}
	}()

	// results is buffered for the full batch, so workers never block on it
	// and the summary can be built after they all return.
	wg.Wait()
	close(results)

	r.setState(StateReconciling)

	var fatalErr error
	received := 0
	for att := range results {
		received++
		switch {
		case att.fatal:
			if fatalErr == nil {
				fatalErr = att.Err
			}
			summary.Failed++
		case att.Outcome == AttemptSuccess:
			summary.Succeeded++
		case att.Outcome == AttemptSkipped:
			summary.Skipped++
		default:
			summary.Failed++
			if att.Stale {
				summary.Stale++
			}
		}
	}
	// Products never handed to a worker because the batch was cut short.
	summary.Skipped += summary.Total - received

	if fatalErr != nil {
		return summary, fmt.Errorf("batch aborted: %w", fatalErr)
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("batch cancelled: %w", err)
	}

	r.log.Info("batch finished",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"stale", summary.Stale,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

// CheckProduct runs the fetch → extract → store → notify pipeline for one
// product. Strictly sequential per product: the observation write happens
// before the notification decision.
func (r *Runner) CheckProduct(ctx context.Context, productID uuid.UUID) Attempt {
	att := Attempt{ProductID: productID, StartedAt: time.Now().UTC()}

	p, err := r.store.GetProductByID(ctx, productID)
	if err != nil {
		if errors.Is(err, products.ErrNotFound) {
			// Subscription pointing at a deleted product; nothing to do.
			att.Outcome = AttemptSkipped
			return att
		}
		att.fatal = true
		att.Err = fmt.Errorf("load product: %w", err)
		return att
	}

	res, err := r.fetcher.Fetch(ctx, p.SourceURL)
	if err != nil {
		return r.recordFailure(ctx, att, outcomeFromFetchError(err), err)
	}

	fields, err := r.extract(res.HTML)
	if err != nil {
		return r.recordFailure(ctx, att, AttemptParseError, err)
	}

	return r.reconcile(ctx, att, p, fields)
}

// reconcile applies a successful scrape: refresh descriptive fields,
// append the observation, then decide notifications against the price
// that was current before this write.
func (r *Runner) reconcile(ctx context.Context, att Attempt, p *products.Product, fields *scraper.ProductFields) Attempt {
	dropped, err := r.store.HasDropped(ctx, p.ID, fields.Price)
	if err != nil {
		att.fatal = true
		att.Err = fmt.Errorf("change detection: %w", err)
		return att
	}

	if _, err := r.store.UpsertFromScrape(ctx, p.SourceURL, products.ScrapedFields{
		Title:        fields.Title,
		Currency:     fields.Currency,
		Availability: fields.Availability,
		ImageURL:     fields.ImageURL,
	}); err != nil {
		att.fatal = true
		att.Err = fmt.Errorf("refresh product: %w", err)
		return att
	}

	observedAt := time.Now().UTC().Truncate(time.Second)
	inserted, err := r.store.RecordObservation(ctx, p.ID, fields.Price, observedAt)
	if err != nil {
		att.fatal = true
		att.Err = fmt.Errorf("record observation: %w", err)
		return att
	}

	att.Outcome = AttemptSuccess

	// A replayed observation must not fire a second notification.
	if !inserted || !dropped || p.CurrentPrice == nil {
		return att
	}

	subs, err := r.registry.ActiveForProduct(ctx, p.ID)
	if err != nil {
		att.fatal = true
		att.Err = fmt.Errorf("load subscriptions: %w", err)
		return att
	}

	for _, sub := range subs {
		if sub.Threshold != nil && fields.Price.GreaterThan(*sub.Threshold) {
			continue
		}
		event := notify.Event{
			SubscriptionID: sub.ID,
			ProductID:      p.ID,
			OldPrice:       *p.CurrentPrice,
			NewPrice:       fields.Price,
			ObservedAt:     observedAt,
		}
		if err := r.dispatcher.Dispatch(ctx, event); err != nil {
			r.log.Error("notification dispatch failed",
				"subscription_id", sub.ID, "product_id", p.ID, "error", err)
		}
	}
	return att
}

// recordFailure bumps the failure counter without touching price fields.
func (r *Runner) recordFailure(ctx context.Context, att Attempt, outcome AttemptOutcome, cause error) Attempt {
	att.Outcome = outcome
	att.Err = cause

	stale, err := r.store.MarkCheckFailed(ctx, att.ProductID, time.Now().UTC(), r.cfg.FailureCeiling)
	if err != nil && !errors.Is(err, products.ErrNotFound) {
		att.fatal = true
		att.Err = fmt.Errorf("mark check failed: %w", err)
		return att
	}
	att.Stale = stale

	r.log.Warn("product check failed",
		"product_id", att.ProductID,
		"outcome", outcome,
		"stale", stale,
		"error", cause,
	)
	return att
}

// outcomeFromFetchError maps the fetcher's typed failure onto the attempt
// taxonomy.
func outcomeFromFetchError(err error) AttemptOutcome {
	var fe *scraper.FetchError
	if !errors.As(err, &fe) {
		return AttemptNetworkError
	}
	switch fe.Outcome {
	case scraper.OutcomeTimeout:
		return AttemptTimeout
	case scraper.OutcomeBlocked:
		return AttemptBlocked
	case scraper.OutcomeLaunchError:
		return AttemptLaunchError
	default:
		return AttemptNetworkError
	}
}
