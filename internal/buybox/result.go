// Package buybox holds the domain model for buybox tracking: the per-attempt
// extraction result, the ownership classification, and the marketplace
// currency mapping.
package buybox

import "time"

// Status is the buybox ownership state derived from the extracted seller.
type Status string

const (
	// StatusWinning means the configured own storefront holds the buybox.
	StatusWinning Status = "winning"
	// StatusAmazon means the marketplace operator itself holds the buybox.
	StatusAmazon Status = "amazon"
	// StatusLosing means a third-party seller holds the buybox.
	StatusLosing Status = "losing"
	// StatusUnknown means no seller could be extracted.
	StatusUnknown Status = "unknown"
)

// Outcome describes how a fetch+extract attempt ended.
type Outcome string

const (
	// OutcomeSuccess: the page was fetched and parsed; fields may still be
	// partially missing, which is normal.
	OutcomeSuccess Outcome = "success"
	// OutcomeBlocked: the upstream actively refused the request (503-class).
	OutcomeBlocked Outcome = "blocked"
	// OutcomeError: network failure, timeout, or unexpected status.
	OutcomeError Outcome = "error"
)

// UnknownText is the display default for text fields that could not be
// extracted.
const UnknownText = "Unknown"

// Result is one extraction attempt's output.
//
// A Result is created fresh per attempt and never mutated afterwards, with
// one exception: MergeOffer may fill Price/Seller when they are missing.
// Status is always derived via Classify, never set independently.
//
// Price is nil or positive; zero/negative parses are discarded upstream.
type Result struct {
	ASIN        string `json:"asin"`
	URL         string `json:"url"`
	Marketplace string `json:"marketplace"`

	Title          string   `json:"title"`
	Price          *float64 `json:"buybox_price"`
	Currency       string   `json:"currency"`
	Seller         string   `json:"buybox_seller"` // empty when no strategy matched
	IsAmazonSeller bool     `json:"is_amazon_seller"`
	IsOwnSeller    bool     `json:"is_my_buybox"`
	Status         Status   `json:"buybox_status"`

	Rating       *float64 `json:"rating,omitempty"`
	ReviewCount  *int     `json:"review_count,omitempty"`
	Availability string   `json:"availability"`
	ImageURL     string   `json:"image_url,omitempty"`

	Outcome   Outcome   `json:"status"`
	Err       string    `json:"error,omitempty"`
	FetchedAt time.Time `json:"scraped_at"`
}

// Offer is the price/seller pair recovered from the secondary offer-listing
// page.
type Offer struct {
	Price  *float64 `json:"price"`
	Seller string   `json:"seller"`
}

// Incomplete reports whether the primary extraction is missing price or
// seller, which is the trigger for the secondary-source fallback.
func (r *Result) Incomplete() bool {
	return r.Price == nil || r.Seller == ""
}

// MergeOffer fills Price and Seller from the secondary offer when they are
// missing on the primary result. Non-nil primary values are never
// overwritten.
func (r *Result) MergeOffer(o *Offer) {
	if o == nil {
		return
	}
	if r.Price == nil && o.Price != nil {
		r.Price = o.Price
	}
	if r.Seller == "" && o.Seller != "" {
		r.Seller = o.Seller
	}
}

// SellerText returns the seller for display and storage: the extracted name,
// or "Unknown" when no strategy matched.
func (r *Result) SellerText() string {
	if r.Seller == "" {
		return UnknownText
	}
	return r.Seller
}
