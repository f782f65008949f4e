package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"buybox/internal/buybox"
	"buybox/internal/storage"
)

func newTestRepo(t *testing.T) storage.Repository {
	t.Helper()

	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(repo.Close)
	if err := repo.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return repo
}

func successResult(asin string, price float64, at time.Time) *buybox.Result {
	return &buybox.Result{
		ASIN:        asin,
		URL:         "https://www.amazon.co.za/dp/" + asin,
		Marketplace: "amazon.co.za",
		Title:       "Widget",
		Price:       &price,
		Currency:    "ZAR",
		Seller:      "Gadget Hub",
		Status:      buybox.StatusLosing,
		Outcome:     buybox.OutcomeSuccess,
		FetchedAt:   at,
	}
}

// TestUpsert_SuccessThenBlocked verifies the core persistence invariant: a
// blocked attempt must not erase the last good price and seller.
func TestUpsert_SuccessThenBlocked(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	t0 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	if err := repo.UpsertProduct(ctx, successResult("B000000001", 499.99, t0)); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	blocked := &buybox.Result{
		ASIN:        "B000000001",
		URL:         "https://www.amazon.co.za/dp/B000000001",
		Marketplace: "amazon.co.za",
		Status:      buybox.StatusUnknown,
		Outcome:     buybox.OutcomeBlocked,
		Err:         "blocked by upstream (HTTP 503)",
		FetchedAt:   t0.Add(time.Hour),
	}
	if err := repo.UpsertProduct(ctx, blocked); err != nil {
		t.Fatalf("blocked upsert: %v", err)
	}

	p, err := repo.Product(ctx, "B000000001")
	if err != nil {
		t.Fatalf("Product: %v", err)
	}
	if p.Price == nil || *p.Price != 499.99 {
		t.Fatalf("price=%#v, want last good 499.99 preserved", p.Price)
	}
	if p.Seller != "Gadget Hub" || p.Status != "losing" {
		t.Fatalf("seller/status overwritten: %q %q", p.Seller, p.Status)
	}
	if p.Outcome != "blocked" || p.LastError == "" {
		t.Fatalf("outcome=%q err=%q, want blocked with error text", p.Outcome, p.LastError)
	}
	if !p.UpdatedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("updated_at=%v, want refreshed", p.UpdatedAt)
	}
	if !p.CreatedAt.Equal(t0) {
		t.Fatalf("created_at=%v, want original %v", p.CreatedAt, t0)
	}
}

// TestUpsert_EmptySellerStoredAsUnknown verifies a success with no extracted
// seller stores the display default, matching what history rows record.
func TestUpsert_EmptySellerStoredAsUnknown(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	res := successResult("B000000009", 150, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	res.Seller = ""
	res.Status = buybox.StatusUnknown
	if err := repo.UpsertProduct(ctx, res); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	p, err := repo.Product(ctx, "B000000009")
	if err != nil {
		t.Fatalf("Product: %v", err)
	}
	if p.Seller != "Unknown" {
		t.Fatalf("seller=%q, want Unknown", p.Seller)
	}
	if p.Status != "unknown" {
		t.Fatalf("status=%q", p.Status)
	}
}

// TestUpsert_SuccessReplacesAndKeepsCreatedAt verifies a second success
// refreshes fields but not created_at, and clears a stale error.
func TestUpsert_SuccessReplacesAndKeepsCreatedAt(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	if err := repo.UpsertProduct(ctx, successResult("B000000002", 100, t0)); err != nil {
		t.Fatal(err)
	}
	errRes := &buybox.Result{
		ASIN: "B000000002", Outcome: buybox.OutcomeError, Err: "HTTP 500",
		Status: buybox.StatusUnknown, FetchedAt: t0.Add(time.Hour),
	}
	if err := repo.UpsertProduct(ctx, errRes); err != nil {
		t.Fatal(err)
	}
	second := successResult("B000000002", 90, t0.Add(2*time.Hour))
	second.Seller = "Amazon"
	second.Status = buybox.StatusAmazon
	if err := repo.UpsertProduct(ctx, second); err != nil {
		t.Fatal(err)
	}

	p, err := repo.Product(ctx, "B000000002")
	if err != nil {
		t.Fatal(err)
	}
	if *p.Price != 90 || p.Seller != "Amazon" || p.Status != "amazon" {
		t.Fatalf("fields not replaced: %#v", p)
	}
	if p.LastError != "" {
		t.Fatalf("last_error=%q, want cleared on success", p.LastError)
	}
	if !p.CreatedAt.Equal(t0) {
		t.Fatalf("created_at drifted to %v", p.CreatedAt)
	}
}

// TestUpsert_NonSuccessForUnknownASIN verifies a blocked first contact leaves
// a stub row with no field data.
func TestUpsert_NonSuccessForUnknownASIN(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	res := &buybox.Result{
		ASIN: "B000000003", Outcome: buybox.OutcomeBlocked,
		Err: "blocked by upstream (HTTP 503)", Status: buybox.StatusUnknown,
		FetchedAt: time.Now(),
	}
	if err := repo.UpsertProduct(ctx, res); err != nil {
		t.Fatal(err)
	}
	p, err := repo.Product(ctx, "B000000003")
	if err != nil {
		t.Fatal(err)
	}
	if p.Price != nil || p.Seller != "" || p.Title != "" {
		t.Fatalf("stub row carries data: %#v", p)
	}
	if p.Outcome != "blocked" {
		t.Fatalf("outcome=%q", p.Outcome)
	}
}

// TestHistory_OrderLimitAndNilPriceSkip verifies newest-first order, the
// limit cap, and that price-less results are not recorded.
func TestHistory_OrderLimitAndNilPriceSkip(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		res := successResult("B000000004", float64(100+i), t0.Add(time.Duration(i)*time.Hour))
		if err := repo.AppendHistory(ctx, res); err != nil {
			t.Fatal(err)
		}
	}
	noPrice := &buybox.Result{ASIN: "B000000004", Outcome: buybox.OutcomeSuccess, FetchedAt: t0.Add(10 * time.Hour)}
	if err := repo.AppendHistory(ctx, noPrice); err != nil {
		t.Fatal(err)
	}

	entries, err := repo.History(ctx, "B000000004", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries=%d, want limit 3", len(entries))
	}
	if entries[0].Price != 104 || entries[2].Price != 102 {
		t.Fatalf("order wrong: %#v", entries)
	}

	all, err := repo.History(ctx, "B000000004", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("entries=%d, want 5 (nil-price skipped)", len(all))
	}
}

// TestDeleteProduct verifies the row and its history go together, and the
// existed flag.
func TestDeleteProduct(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	res := successResult("B000000005", 50, time.Now())
	if err := repo.UpsertProduct(ctx, res); err != nil {
		t.Fatal(err)
	}
	if err := repo.AppendHistory(ctx, res); err != nil {
		t.Fatal(err)
	}

	existed, err := repo.DeleteProduct(ctx, "B000000005")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	if _, err := repo.Product(ctx, "B000000005"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	entries, err := repo.History(ctx, "B000000005", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("history survived delete: %#v", entries)
	}

	existed, err = repo.DeleteProduct(ctx, "B000000005")
	if err != nil || existed {
		t.Fatalf("second delete: existed=%v err=%v", existed, err)
	}
}

// TestListProducts verifies insertion-order listing.
func TestListProducts(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, asin := range []string{"B000000011", "B000000012", "B000000013"} {
		if err := repo.UpsertProduct(ctx, successResult(asin, 10, t0.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}
	list, err := repo.ListProducts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].ASIN != "B000000011" || list[2].ASIN != "B000000013" {
		t.Fatalf("list=%#v", list)
	}
}

// TestSettings_RoundTrip verifies the unset case and save/overwrite.
func TestSettings_RoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	s, err := repo.LoadSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s != nil {
		t.Fatalf("settings=%#v, want nil before first save", s)
	}

	want := storage.Settings{IntervalMinutes: 45, Enabled: true, UpdatedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	if err := repo.SaveSettings(ctx, want); err != nil {
		t.Fatal(err)
	}
	want.IntervalMinutes = 90
	want.Enabled = false
	if err := repo.SaveSettings(ctx, want); err != nil {
		t.Fatal(err)
	}

	s, err = repo.LoadSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s == nil || s.IntervalMinutes != 90 || s.Enabled {
		t.Fatalf("settings=%#v", s)
	}
}
