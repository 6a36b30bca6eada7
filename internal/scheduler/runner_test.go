package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/productowl/productowl/internal/logger"
	"github.com/productowl/productowl/internal/notify"
	"github.com/productowl/productowl/internal/products"
	"github.com/productowl/productowl/internal/scheduler"
	"github.com/productowl/productowl/internal/scraper"
	"github.com/productowl/productowl/internal/tracking"
)

// --- Fake implementations ---

// fakeStore is an in-memory price store.
type fakeStore struct {
	mu           sync.Mutex
	products     map[uuid.UUID]*products.Product
	observations map[uuid.UUID][]products.PriceObservation
	failures     map[uuid.UUID]int

	// forceDuplicate makes RecordObservation report the observation as
	// already recorded, simulating a replayed batch.
	forceDuplicate bool
	// getErr, when set, is returned by GetProductByID to simulate a store
	// connectivity failure.
	getErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:     make(map[uuid.UUID]*products.Product),
		observations: make(map[uuid.UUID][]products.PriceObservation),
		failures:     make(map[uuid.UUID]int),
	}
}

func (s *fakeStore) addProduct(url, price string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	p := &products.Product{ID: id, SourceURL: url, Availability: products.Unknown}
	if price != "" {
		d := decimal.RequireFromString(price)
		p.CurrentPrice = &d
		s.observations[id] = []products.PriceObservation{
			{ProductID: id, Price: d, ObservedAt: time.Now().Add(-24 * time.Hour)},
		}
	}
	s.products[id] = p
	return id
}

func (s *fakeStore) GetProductByID(_ context.Context, id uuid.UUID) (*products.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	p, ok := s.products[id]
	if !ok {
		return nil, products.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) UpsertFromScrape(_ context.Context, sourceURL string, f products.ScrapedFields) (*products.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.SourceURL == sourceURL {
			p.Title = f.Title
			p.Currency = f.Currency
			p.Availability = f.Availability
			p.ImageURL = f.ImageURL
			cp := *p
			return &cp, nil
		}
	}
	p := &products.Product{ID: uuid.New(), SourceURL: sourceURL, Title: f.Title,
		Currency: f.Currency, Availability: f.Availability, ImageURL: f.ImageURL}
	s.products[p.ID] = p
	cp := *p
	return &cp, nil
}

func (s *fakeStore) RecordObservation(_ context.Context, productID uuid.UUID, price decimal.Decimal, observedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forceDuplicate {
		return false, nil
	}
	s.observations[productID] = append(s.observations[productID],
		products.PriceObservation{ProductID: productID, Price: price, ObservedAt: observedAt})
	if p, ok := s.products[productID]; ok {
		p.CurrentPrice = &price
		p.LastCheckedAt = &observedAt
		p.LastSuccessAt = &observedAt
	}
	s.failures[productID] = 0
	return true, nil
}

func (s *fakeStore) HasDropped(_ context.Context, productID uuid.UUID, newPrice decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obs := s.observations[productID]
	if len(obs) == 0 {
		return false, nil
	}
	return newPrice.LessThan(obs[len(obs)-1].Price), nil
}

func (s *fakeStore) MarkCheckFailed(_ context.Context, productID uuid.UUID, checkedAt time.Time, ceiling int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[productID]++
	if p, ok := s.products[productID]; ok {
		p.LastCheckedAt = &checkedAt
	}
	return s.failures[productID] >= ceiling, nil
}

func (s *fakeStore) currentPrice(id uuid.UUID) *decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].CurrentPrice
}

func (s *fakeStore) failureCount(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[id]
}

// fakeRegistry is an in-memory tracking registry.
type fakeRegistry struct {
	mu   sync.Mutex
	subs map[uuid.UUID][]tracking.Subscription
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{subs: make(map[uuid.UUID][]tracking.Subscription)}
}

func (r *fakeRegistry) subscribe(productID uuid.UUID, threshold string) tracking.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := tracking.Subscription{
		ID:               uuid.New(),
		ProductID:        productID,
		SubscriberHandle: "user@example.com",
		Status:           tracking.StatusActive,
	}
	if threshold != "" {
		d := decimal.RequireFromString(threshold)
		sub.Threshold = &d
	}
	r.subs[productID] = append(r.subs[productID], sub)
	return sub
}

func (r *fakeRegistry) TrackedProductIDs(_ context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *fakeRegistry) ActiveForProduct(_ context.Context, productID uuid.UUID) ([]tracking.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[productID], nil
}

// fakeFetcher serves canned results per URL and can block to simulate a
// slow in-flight fetch.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	errs    map[string]error
	calls   []string
	blockCh chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: make(map[string]string), errs: make(map[string]error)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*scraper.FetchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	blockCh := f.blockCh
	pageErr := f.errs[url]
	html := f.pages[url]
	f.mu.Unlock()

	if blockCh != nil {
		select {
		case <-blockCh:
		case <-ctx.Done():
			return nil, &scraper.FetchError{Outcome: scraper.OutcomeTimeout, URL: url, Err: ctx.Err()}
		}
	}
	if pageErr != nil {
		return nil, pageErr
	}
	return &scraper.FetchResult{HTML: html, Status: 200, FinalURL: url}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// priceExtract treats the fake page HTML as a bare decimal price.
func priceExtract(html string) (*scraper.ProductFields, error) {
	price, err := decimal.NewFromString(html)
	if err != nil {
		return nil, &scraper.ParseError{Kind: scraper.KindUnexpectedPage}
	}
	return &scraper.ProductFields{
		Title:        "Test Product",
		Price:        price,
		Currency:     "USD",
		Availability: products.InStock,
	}, nil
}

// fakeDispatcher records emitted events.
type fakeDispatcher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (d *fakeDispatcher) Dispatch(_ context.Context, event notify.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *fakeDispatcher) all() []notify.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Event(nil), d.events...)
}

// --- Harness ---

type harness struct {
	store      *fakeStore
	registry   *fakeRegistry
	fetcher    *fakeFetcher
	dispatcher *fakeDispatcher
	runner     *scheduler.Runner
}

func newHarness(t *testing.T, cfg scheduler.Config) *harness {
	t.Helper()
	h := &harness{
		store:      newFakeStore(),
		registry:   newFakeRegistry(),
		fetcher:    newFakeFetcher(),
		dispatcher: &fakeDispatcher{},
	}
	h.runner = scheduler.NewRunner(
		h.store, h.registry, h.fetcher, priceExtract,
		h.dispatcher, logger.NewNop(), cfg)
	return h
}

// --- Tests ---

func TestRunBatch_PriceDropMeetingThresholdNotifies(t *testing.T) {
	h := newHarness(t, scheduler.Config{})

	id := h.store.addProduct("https://shop.example/p1", "999.00")
	sub := h.registry.subscribe(id, "850.00")
	h.fetcher.pages["https://shop.example/p1"] = "799.00"

	summary, err := h.runner.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)

	events := h.dispatcher.all()
	require.Len(t, events, 1)
	assert.Equal(t, sub.ID, events[0].SubscriptionID)
	assert.Equal(t, id, events[0].ProductID)
	assert.True(t, events[0].OldPrice.Equal(decimal.RequireFromString("999.00")))
	assert.True(t, events[0].NewPrice.Equal(decimal.RequireFromString("799.00")))
}

func TestRunBatch_UnchangedPriceDoesNotNotify(t *testing.T) {
	h := newHarness(t, scheduler.Config{})

	id := h.store.addProduct("https://shop.example/p1", "500.00")
	h.registry.subscribe(id, "")
	h.fetcher.pages["https://shop.example/p1"] = "500.00"

	summary, err := h.runner.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Empty(t, h.dispatcher.all())

	p, err := h.store.GetProductByID(context.Background(), id)
	require.NoError(t, err)
	assert.NotNil(t, p.LastCheckedAt, "lastCheckedAt must move on every check")
}

func TestRunBatch_ThresholdNotMetFiltersSubscription(t *testing.T) {
	h := newHarness(t, scheduler.Config{})

	id := h.store.addProduct("https://shop.example/p1", "999.00")
	h.registry.subscribe(id, "700.00")
	h.fetcher.pages["https://shop.example/p1"] = "799.00"

	_, err := h.runner.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.dispatcher.all(),
		"799.00 does not meet a 700.00 threshold")
}

func TestRunBatch_NilThresholdNotifiesOnAnyDecrease(t *testing.T) {
	h := newHarness(t, scheduler.Config{})

	id := h.store.addProduct("https://shop.example/p1", "999.00")
	h.registry.subscribe(id, "")
	h.fetcher.pages["https://shop.example/p1"] = "998.99"

	_, err := h.runner.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.dispatcher.all(), 1)
}

func TestRunBatch_TimeoutIsolatedFromSiblings(t *testing.T) {
	h := newHarness(t, scheduler.Config{Workers: 2})

	good := h.store.addProduct("https://shop.example/good", "100.00")
	bad := h.store.addProduct("https://shop.example/bad", "200.00")
	h.registry.subscribe(good, "")
	h.registry.subscribe(bad, "")
	h.fetcher.pages["https://shop.example/good"] = "90.00"
	h.fetcher.errs["https://shop.example/bad"] = &scraper.FetchError{
		Outcome: scraper.OutcomeTimeout, URL: "https://shop.example/bad"}

	summary, err := h.runner.RunBatch(context.Background())
	require.NoError(t, err, "per-product failures must not surface as batch errors")
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	assert.Equal(t, 1, h.store.failureCount(bad))
	assert.True(t, h.store.currentPrice(bad).Equal(decimal.RequireFromString("200.00")),
		"a failed check must never mutate price fields")
	assert.Len(t, h.dispatcher.all(), 1)
}

func TestRunBatch_BlockedIsolatedFromSiblings(t *testing.T) {
	h := newHarness(t, scheduler.Config{Workers: 2})

	good := h.store.addProduct("https://shop.example/good", "100.00")
	blocked := h.store.addProduct("https://shop.example/blocked", "200.00")
	h.registry.subscribe(good, "")
	h.registry.subscribe(blocked, "")
	h.fetcher.pages["https://shop.example/good"] = "90.00"
	h.fetcher.errs["https://shop.example/blocked"] = &scraper.FetchError{
		Outcome: scraper.OutcomeBlocked, URL: "https://shop.example/blocked"}

	summary, err := h.runner.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
}

func TestRunBatch_FailureCeilingFlagsStale(t *testing.T) {
	h := newHarness(t, scheduler.Config{FailureCeiling: 2})

	id := h.store.addProduct("https://shop.example/p1", "100.00")
	h.registry.subscribe(id, "")
	h.fetcher.errs["https://shop.example/p1"] = &scraper.FetchError{
		Outcome: scraper.OutcomeNetworkError, URL: "https://shop.example/p1"}

	summary, err := h.runner.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Stale)

	summary, err = h.runner.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stale, "second consecutive failure reaches the ceiling")
}

func TestRunBatch_ReplayedObservationDoesNotRenotify(t *testing.T) {
	h := newHarness(t, scheduler.Config{})

	id := h.store.addProduct("https://shop.example/p1", "999.00")
	h.registry.subscribe(id, "")
	h.fetcher.pages["https://shop.example/p1"] = "799.00"

	_, err := h.runner.RunBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, h.dispatcher.all(), 1)

	// Replay: the store already holds this observation.
	h.store.forceDuplicate = true
	_, err = h.runner.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.dispatcher.all(), 1, "a replayed observation must not fire twice")
}

func TestRunBatch_NoTrackedProductsFetchesNothing(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.store.addProduct("https://shop.example/untracked", "100.00")

	summary, err := h.runner.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	assert.Zero(t, h.fetcher.callCount(),
		"products with no active subscription are never dispatched")
}

func TestRunBatch_OverlappingRunSkipsInFlightProduct(t *testing.T) {
	h := newHarness(t, scheduler.Config{Workers: 1})

	id := h.store.addProduct("https://shop.example/p1", "100.00")
	h.registry.subscribe(id, "")
	h.fetcher.pages["https://shop.example/p1"] = "90.00"

	release := make(chan struct{})
	h.fetcher.blockCh = release

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = h.runner.RunBatch(context.Background())
	}()

	// Wait until the first run has the product in flight.
	require.Eventually(t, func() bool { return h.fetcher.callCount() == 1 },
		time.Second, 5*time.Millisecond)

	summary, err := h.runner.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped, "unsettled product must not be re-dispatched")

	close(release)
	<-firstDone
	assert.Len(t, h.dispatcher.all(), 1, "the first run still settles normally")
}

func TestRunBatch_ReportsDispatchingWhileFetchesInFlight(t *testing.T) {
	h := newHarness(t, scheduler.Config{Workers: 1})

	id := h.store.addProduct("https://shop.example/p1", "100.00")
	h.registry.subscribe(id, "")
	h.fetcher.pages["https://shop.example/p1"] = "90.00"

	release := make(chan struct{})
	h.fetcher.blockCh = release

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.runner.RunBatch(context.Background())
	}()

	require.Eventually(t, func() bool { return h.fetcher.callCount() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, scheduler.StateDispatching, h.runner.State(),
		"a batch with fetches still out must report dispatching")

	close(release)
	<-done
	assert.Equal(t, scheduler.StateIdle, h.runner.State())
}

func TestRunBatch_StoreFailureAbortsBatch(t *testing.T) {
	h := newHarness(t, scheduler.Config{})

	id := h.store.addProduct("https://shop.example/p1", "100.00")
	h.registry.subscribe(id, "")
	h.store.getErr = errors.New("connection refused")

	_, err := h.runner.RunBatch(context.Background())
	require.Error(t, err, "store connectivity failures are fatal, not swallowed")
	assert.Contains(t, err.Error(), "batch aborted")
}

func TestRunBatch_ParseErrorCountsAsFailure(t *testing.T) {
	h := newHarness(t, scheduler.Config{})

	id := h.store.addProduct("https://shop.example/p1", "100.00")
	h.registry.subscribe(id, "")
	h.fetcher.pages["https://shop.example/p1"] = "not a product page"

	summary, err := h.runner.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, h.store.failureCount(id))
}

func TestCheckProduct_FirstObservationNeverDrops(t *testing.T) {
	h := newHarness(t, scheduler.Config{})

	id := h.store.addProduct("https://shop.example/new", "")
	h.registry.subscribe(id, "")
	h.fetcher.pages["https://shop.example/new"] = "49.99"

	att := h.runner.CheckProduct(context.Background(), id)
	require.NoError(t, att.Err)
	assert.Equal(t, scheduler.AttemptSuccess, att.Outcome)
	assert.Empty(t, h.dispatcher.all(),
		"a product with no prior observation never counts as dropped")
}

func TestScrapeOne_CreatesProductWithExactPrice(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.fetcher.pages["https://shop.example/new"] = "1299.00"

	p, err := h.runner.ScrapeOne(context.Background(), "https://shop.example/new")
	require.NoError(t, err)
	require.NotNil(t, p.CurrentPrice)
	assert.True(t, p.CurrentPrice.Equal(decimal.RequireFromString("1299.00")),
		"stored price must equal the extracted value exactly")
	assert.Equal(t, "Test Product", p.Title)
}

func TestScrapeOne_DuplicateObservationAnswersStoredPrice(t *testing.T) {
	h := newHarness(t, scheduler.Config{})

	id := h.store.addProduct("https://shop.example/p1", "500.00")
	h.fetcher.pages["https://shop.example/p1"] = "450.00"
	h.store.forceDuplicate = true

	p, err := h.runner.ScrapeOne(context.Background(), "https://shop.example/p1")
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	require.NotNil(t, p.CurrentPrice)
	assert.True(t, p.CurrentPrice.Equal(decimal.RequireFromString("500.00")),
		"the response must carry the recorded price, not the discarded reading")
}

func TestScrapeOne_SurfacesTypedFailure(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.fetcher.errs["https://shop.example/blocked"] = &scraper.FetchError{
		Outcome: scraper.OutcomeBlocked, URL: "https://shop.example/blocked"}

	_, err := h.runner.ScrapeOne(context.Background(), "https://shop.example/blocked")
	var fe *scraper.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, scraper.OutcomeBlocked, fe.Outcome)
}
