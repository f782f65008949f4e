// Package extracthtml recovers buybox fields from a fetched product page.
//
// Marketplace product pages render the same information in several redundant,
// partially-missing shapes depending on template, A/B bucket and category.
// Every field therefore runs an ordered fallback chain: strategies are tried
// in priority order and the first non-empty result wins.
//
// Missing elements are never errors; absence is a normal outcome and the
// field falls back to its default ("Unknown" for text, nil for numerics).
package extracthtml

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"buybox/internal/buybox"
)

// page bundles the parsed document with derived values shared by strategies.
type page struct {
	doc *goquery.Document

	// text is the whole-page visible text with whitespace collapsed to
	// single spaces, used by the regex-based strategies.
	text string

	// ref is the canonical reference-seller display name for this
	// marketplace (e.g. "Amazon.co.za").
	ref string
}

// Extract parses html and applies all field chains relative to the document
// root. Identity fields (ASIN, URL, FetchedAt) and Outcome are owned by the
// caller; Extract only fills what the document itself provides.
//
// Extract is a pure function of (html, marketplace): calling it twice on the
// identical document yields an identical result.
func Extract(html, marketplace string) (*buybox.Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	p := &page{
		doc:  doc,
		text: strings.Join(strings.Fields(doc.Text()), " "),
		ref:  ReferenceSellerName(marketplace),
	}

	res := &buybox.Result{
		Marketplace:  marketplace,
		Title:        extractTitle(doc),
		Price:        extractPrice(doc),
		Currency:     buybox.CurrencyFor(marketplace),
		Seller:       extractSeller(p),
		Rating:       extractRating(doc),
		ReviewCount:  extractReviewCount(doc),
		Availability: extractAvailability(doc),
		ImageURL:     extractImage(doc),
		Outcome:      buybox.OutcomeSuccess,
	}
	return res, nil
}

// ReferenceSellerName derives the operator's display name from the
// marketplace domain: "www.amazon.co.za" -> "Amazon.co.za". Domains without
// the operator token fall back to the bare name.
func ReferenceSellerName(marketplace string) string {
	m := strings.ToLower(marketplace)
	if i := strings.Index(m, "amazon"); i >= 0 {
		return "Amazon" + strings.TrimRight(m[i+len("amazon"):], "/")
	}
	return "Amazon"
}

// firstText returns the trimmed text of the first match of selector under
// root, or "" when there is no match.
func firstText(root *goquery.Selection, selector string) string {
	sel := root.Find(selector).First()
	if sel.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(sel.Text())
}
