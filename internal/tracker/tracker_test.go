package tracker

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"buybox/internal/buybox"
	"buybox/internal/fetch"
)

// scriptedFetcher replays a fixed sequence of responses, one per Get call.
// URLs containing "offer-listing" are served from the offers field instead.
type scriptedFetcher struct {
	responses []fetch.Response
	errs      []error
	calls     int

	offers   fetch.Response
	offerErr error
	offerHit int
}

func (f *scriptedFetcher) Get(_ context.Context, url string) (fetch.Response, error) {
	if strings.Contains(url, "offer-listing") {
		f.offerHit++
		return f.offers, f.offerErr
	}
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.responses[i], err
}

// newTestTracker wires deterministic seams: recorded sleeps, fixed clock,
// seeded rng.
func newTestTracker(f Fetcher, cfg Config) (*Tracker, *[]time.Duration) {
	t := New(f, cfg)
	sleeps := &[]time.Duration{}
	t.sleep = func(d time.Duration) { *sleeps = append(*sleeps, d) }
	t.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	t.rng = rand.New(rand.NewSource(1))
	return t, sleeps
}

const successPage = `
	<span id="productTitle">Widget</span>
	<div id="buybox"><span class="a-offscreen">R1 299,00</span></div>
	<a id="sellerProfileTriggerId">Bonolo Online</a>`

// TestCheck_RetryOnBlockedThenSuccess verifies the [blocked, blocked,
// success] sequence returns the success result after exactly two backoff
// waits, with the blocked wait scaling by attempt number.
func TestCheck_RetryOnBlockedThenSuccess(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{responses: []fetch.Response{
		{StatusCode: 503},
		{StatusCode: 503},
		{StatusCode: 200, Body: successPage},
	}}
	tr, sleeps := newTestTracker(f, Config{Marketplace: "amazon.co.za", OwnSeller: "Bonolo Online"})

	res := tr.Check(context.Background(), "B000123456", "")
	if res.Outcome != buybox.OutcomeSuccess {
		t.Fatalf("outcome=%q, want success", res.Outcome)
	}
	if f.calls != 3 {
		t.Fatalf("attempts=%d, want 3", f.calls)
	}
	if len(*sleeps) != 2 {
		t.Fatalf("backoff waits=%d, want 2", len(*sleeps))
	}
	for i, d := range *sleeps {
		attempt := i + 1
		lo := time.Duration(8*attempt) * time.Second
		hi := time.Duration(15*attempt) * time.Second
		if d < lo || d > hi {
			t.Fatalf("blocked wait %d = %v, want within [%v, %v]", attempt, d, lo, hi)
		}
	}
	if res.Status != buybox.StatusWinning {
		t.Fatalf("status=%q, want winning", res.Status)
	}
}

// TestCheck_ErrorsExhaustAttempts verifies [error, error, error] returns the
// third still-error result without a fourth attempt, each wait in [3,6] s.
func TestCheck_ErrorsExhaustAttempts(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{responses: []fetch.Response{
		{StatusCode: 500}, {StatusCode: 500}, {StatusCode: 500}, {StatusCode: 500},
	}}
	tr, sleeps := newTestTracker(f, Config{Marketplace: "amazon.co.za"})

	res := tr.Check(context.Background(), "B000123456", "")
	if res.Outcome != buybox.OutcomeError {
		t.Fatalf("outcome=%q, want error", res.Outcome)
	}
	if res.Err != "HTTP 500" {
		t.Fatalf("err=%q", res.Err)
	}
	if f.calls != 3 {
		t.Fatalf("attempts=%d, want exactly 3", f.calls)
	}
	for _, d := range *sleeps {
		if d < 3*time.Second || d > 6*time.Second {
			t.Fatalf("error wait=%v, want within [3s, 6s]", d)
		}
	}
}

// TestCheckOnce_BlockedResultShape verifies a blocked attempt carries no
// meaningful field data and a clear outcome signal.
func TestCheckOnce_BlockedResultShape(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{responses: []fetch.Response{{StatusCode: 503}}}
	tr, _ := newTestTracker(f, Config{Marketplace: "amazon.co.za"})

	res := tr.CheckOnce(context.Background(), "B000123456", "")
	if res.Outcome != buybox.OutcomeBlocked {
		t.Fatalf("outcome=%q, want blocked", res.Outcome)
	}
	if res.Price != nil || res.Seller != "" {
		t.Fatalf("blocked result carries field data: %#v", res)
	}
	if res.Status != buybox.StatusUnknown {
		t.Fatalf("status=%q, want unknown", res.Status)
	}
}

// TestCheckOnce_OfferFallbackMerges verifies the secondary source fills only
// the missing fields.
func TestCheckOnce_OfferFallbackMerges(t *testing.T) {
	t.Parallel()

	// Primary page has a price but no seller.
	primary := `<div id="buybox"><span class="a-offscreen">R750,00</span></div>`
	offers := `
		<div id="aod-offer">
			<span class="a-offscreen">R700,00</span>
			<div id="aod-offer-soldBy"><a>Gadget Hub</a></div>
		</div>`

	f := &scriptedFetcher{
		responses: []fetch.Response{{StatusCode: 200, Body: primary}},
		offers:    fetch.Response{StatusCode: 200, Body: offers},
	}
	tr, _ := newTestTracker(f, Config{Marketplace: "amazon.co.za"})

	res := tr.CheckOnce(context.Background(), "B000123456", "")
	if f.offerHit != 1 {
		t.Fatalf("offer page fetched %d times, want 1", f.offerHit)
	}
	if res.Price == nil || *res.Price != 750.00 {
		t.Fatalf("primary price overwritten: %#v", res.Price)
	}
	if res.Seller != "Gadget Hub" {
		t.Fatalf("seller=%q, want merged from offers", res.Seller)
	}
	if res.Status != buybox.StatusLosing {
		t.Fatalf("status=%q, want losing", res.Status)
	}
}

// TestCheckOnce_CompleteSkipsOffers verifies the secondary page is not
// fetched when the primary extraction already has price and seller.
func TestCheckOnce_CompleteSkipsOffers(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{responses: []fetch.Response{{StatusCode: 200, Body: successPage}}}
	tr, _ := newTestTracker(f, Config{Marketplace: "amazon.co.za", OwnSeller: "Bonolo Online"})

	res := tr.CheckOnce(context.Background(), "B000123456", "")
	if f.offerHit != 0 {
		t.Fatalf("offer page fetched %d times, want 0", f.offerHit)
	}
	if res.Status != buybox.StatusWinning {
		t.Fatalf("status=%q, want winning (own seller matched)", res.Status)
	}
	if !res.IsOwnSeller {
		t.Fatal("expected IsOwnSeller")
	}
}
