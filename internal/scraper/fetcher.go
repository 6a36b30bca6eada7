package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/productowl/productowl/internal/config"
	"github.com/productowl/productowl/internal/logger"
)

// Outcome classifies how a fetch attempt ended.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeNetworkError Outcome = "network_error"
	OutcomeBlocked      Outcome = "blocked_or_challenge"
	OutcomeLaunchError  Outcome = "launch_error"
)

// FetchError is a typed fetch failure. Outcome is always one of the
// non-success values.
type FetchError struct {
	Outcome Outcome
	URL     string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Outcome)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Outcome, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetchResult is the raw rendered page plus response metadata.
type FetchResult struct {
	HTML     string
	Status   int
	FinalURL string
}

// Fetcher renders product pages in a headless browser. The launch profile
// is resolved once at construction and every fetch gets a fresh browser
// that is torn down on all exit paths.
type Fetcher struct {
	allocOpts []chromedp.ExecAllocatorOption
	timeout   time.Duration
	log       logger.Interface
}

// NewFetcher resolves the browser launch configuration for the configured
// profile. A missing local browser executable surfaces here, at startup,
// as a LaunchError.
func NewFetcher(cfg config.Config, log logger.Interface) (*Fetcher, error) {
	opts, err := allocatorOptions(cfg)
	if err != nil {
		return nil, err
	}
	return &Fetcher{
		allocOpts: opts,
		timeout:   cfg.FetchTimeout,
		log:       log,
	}, nil
}

// Fetch navigates to url and returns the rendered page. On failure the
// returned error is a *FetchError carrying a typed outcome. The browser
// process and page are released on every exit path, including timeout and
// cancellation of ctx.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, f.allocOpts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	var (
		html     string
		finalURL string
	)
	resp, err := chromedp.RunResponse(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return nil, f.classify(ctx, url, err)
	}

	if err := chromedp.Run(tabCtx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, f.classify(ctx, url, err)
	}

	status := 0
	if resp != nil {
		status = int(resp.Status)
	}

	if isChallengeURL(finalURL) || isChallengeHTML(html) {
		f.log.Warn("challenge page served instead of product page",
			"url", url, "final_url", finalURL)
		return nil, &FetchError{Outcome: OutcomeBlocked, URL: url}
	}

	return &FetchResult{HTML: html, Status: status, FinalURL: finalURL}, nil
}

// classify maps a chromedp failure onto the fetch outcome taxonomy.
func (f *Fetcher) classify(ctx context.Context, url string, err error) *FetchError {
	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &FetchError{Outcome: OutcomeTimeout, URL: url, Err: err}
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &FetchError{Outcome: OutcomeTimeout, URL: url, Err: fmt.Errorf("cancelled: %w", err)}
	case strings.Contains(msg, "fork/exec") ||
		strings.Contains(msg, "executable file not found") ||
		strings.Contains(msg, "exec:"):
		return &FetchError{Outcome: OutcomeLaunchError, URL: url, Err: err}
	case strings.Contains(msg, "net::ERR_NAME_NOT_RESOLVED") ||
		strings.Contains(msg, "net::ERR_CONNECTION") ||
		strings.Contains(msg, "net::ERR_INTERNET_DISCONNECTED") ||
		strings.Contains(msg, "net::ERR_ADDRESS"):
		return &FetchError{Outcome: OutcomeNetworkError, URL: url, Err: err}
	default:
		return &FetchError{Outcome: OutcomeNetworkError, URL: url, Err: err}
	}
}

// isChallengeURL reports whether the browser was redirected to a known
// anti-bot challenge path.
func isChallengeURL(pageURL string) bool {
	lower := strings.ToLower(pageURL)
	for _, marker := range challengeURLMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
