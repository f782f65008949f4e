// Package tracker orchestrates buybox checks: fetch, extract, secondary
// fallback, classification, bounded retries, and bulk runs with pacing.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"buybox/internal/buybox"
	"buybox/internal/extracthtml"
	"buybox/internal/fetch"
	"buybox/internal/metrics"
)

// Fetcher is the transport seam used by the pipeline.
type Fetcher interface {
	Get(ctx context.Context, url string) (fetch.Response, error)
}

// Config carries the per-tracker settings.
type Config struct {
	// Marketplace is the default domain, e.g. "amazon.co.za".
	Marketplace string
	// OwnSeller is the operator's own storefront name; a buybox held by a
	// matching seller classifies as winning.
	OwnSeller string
	// MaxAttempts bounds the retry orchestrator. Default 3.
	MaxAttempts int
}

// Tracker runs the extraction pipeline for single and bulk checks.
type Tracker struct {
	fetcher Fetcher
	cfg     Config

	// sleep and rng are seams: tests substitute a recording sleep and a
	// seeded rng to make retry/pacing deterministic.
	sleep func(time.Duration)
	now   func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// New constructs a Tracker with production seams.
func New(fetcher Fetcher, cfg Config) *Tracker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Tracker{
		fetcher: fetcher,
		cfg:     cfg,
		sleep:   time.Sleep,
		now:     time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CheckOnce performs a single fetch+extract attempt with no retry.
//
// Outcome mapping:
//   - transport error: OutcomeError with the error message
//   - HTTP 503: OutcomeBlocked (upstream is actively refusing)
//   - other non-200: OutcomeError ("HTTP <code>")
//   - 200: OutcomeSuccess; missing fields are defaults, never errors
//
// When the primary page is missing price or seller, the secondary
// offer-listing page is fetched and merged fill-only. Classification runs
// last and is the only writer of Status.
func (t *Tracker) CheckOnce(ctx context.Context, asin, marketplace string) *buybox.Result {
	if marketplace == "" {
		marketplace = t.cfg.Marketplace
	}
	url := fetch.ProductURL(marketplace, asin)

	slog.Info("fetching product page", "asin", asin, "url", url)

	resp, err := t.fetcher.Get(ctx, url)
	if err != nil {
		metrics.RecordCheck(string(buybox.OutcomeError))
		return t.failed(asin, url, marketplace, buybox.OutcomeError, err.Error())
	}
	metrics.RecordHTTPStatus(resp.StatusCode)

	if resp.StatusCode == http.StatusServiceUnavailable {
		metrics.RecordCheck(string(buybox.OutcomeBlocked))
		return t.failed(asin, url, marketplace, buybox.OutcomeBlocked,
			"upstream blocked the request (503); try again shortly")
	}
	if resp.StatusCode != http.StatusOK {
		metrics.RecordCheck(string(buybox.OutcomeError))
		return t.failed(asin, url, marketplace, buybox.OutcomeError,
			fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	res, err := extracthtml.Extract(resp.Body, marketplace)
	if err != nil {
		metrics.RecordCheck(string(buybox.OutcomeError))
		return t.failed(asin, url, marketplace, buybox.OutcomeError, err.Error())
	}
	res.ASIN = asin
	res.URL = url
	res.FetchedAt = t.now().UTC()

	if res.Incomplete() {
		t.fillFromOffers(ctx, res, asin, marketplace)
	}

	isAmazon, isOwn := buybox.MatchSeller(res.Seller, t.cfg.OwnSeller)
	res.IsAmazonSeller = isAmazon
	res.IsOwnSeller = isOwn
	res.Status = buybox.Classify(res.Seller, isAmazon, isOwn)

	metrics.RecordCheck(string(buybox.OutcomeSuccess))
	slog.Info("extracted buybox", "asin", asin,
		"price", res.Price, "seller", res.SellerText(), "status", res.Status)
	return res
}

// fillFromOffers fetches the secondary offer-listing page and merges any
// recovered fields into res. All failures are best-effort: the primary
// result stands on its own.
func (t *Tracker) fillFromOffers(ctx context.Context, res *buybox.Result, asin, marketplace string) {
	url := fetch.OfferListingURL(marketplace, asin)
	resp, err := t.fetcher.Get(ctx, url)
	if err != nil {
		slog.Warn("offer listing fetch failed", "asin", asin, "err", err)
		return
	}
	if resp.StatusCode != http.StatusOK {
		slog.Warn("offer listing unavailable", "asin", asin, "http_code", resp.StatusCode)
		return
	}

	offer, err := extracthtml.ExtractOffer(resp.Body, marketplace)
	if err != nil {
		slog.Warn("offer listing parse failed", "asin", asin, "err", err)
		return
	}
	if offer == nil {
		return
	}
	res.MergeOffer(offer)
	metrics.RecordOfferFallback()
}

// Check wraps CheckOnce with the bounded category-specific retry policy:
//
//   - success: return immediately
//   - blocked: wait uniform(8,15)*attempt seconds, retry
//   - error: wait uniform(3,6) seconds, retry
//   - anything else: stop and return as-is
//
// After MaxAttempts the last attempt's result is returned unchanged; callers
// observe Outcome != success and decide how to record it. The backoff is
// deliberately not exponential: a block scales with attempt count, a
// transient hiccup gets a short fixed-range wait.
func (t *Tracker) Check(ctx context.Context, asin, marketplace string) *buybox.Result {
	start := t.now()
	var res *buybox.Result
	defer func() {
		metrics.ObserveCheckSeconds(string(res.Outcome), t.now().Sub(start).Seconds())
	}()

	for attempt := 1; ; attempt++ {
		res = t.CheckOnce(ctx, asin, marketplace)

		var wait time.Duration
		switch res.Outcome {
		case buybox.OutcomeSuccess:
			return res
		case buybox.OutcomeBlocked:
			wait = t.uniform(8, 15) * time.Duration(attempt)
		case buybox.OutcomeError:
			wait = t.uniform(3, 6)
		default:
			return res
		}

		if attempt >= t.cfg.MaxAttempts {
			return res
		}
		slog.Warn("retrying after backoff", "asin", asin,
			"attempt", attempt, "outcome", res.Outcome, "wait", wait)
		t.sleep(wait)
	}
}

// uniform returns a random duration in [lo,hi] seconds.
func (t *Tracker) uniform(lo, hi float64) time.Duration {
	t.mu.Lock()
	f := t.rng.Float64()
	t.mu.Unlock()
	return time.Duration((lo + f*(hi-lo)) * float64(time.Second))
}

func (t *Tracker) failed(asin, url, marketplace string, outcome buybox.Outcome, msg string) *buybox.Result {
	return &buybox.Result{
		ASIN:         asin,
		URL:          url,
		Marketplace:  marketplace,
		Title:        buybox.UnknownText,
		Currency:     buybox.CurrencyFor(marketplace),
		Availability: buybox.UnknownText,
		Status:       buybox.StatusUnknown,
		Outcome:      outcome,
		Err:          msg,
		FetchedAt:    t.now().UTC(),
	}
}
