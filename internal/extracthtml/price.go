package extracthtml

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"buybox/internal/pricenorm"
)

// priceContainerIDs are the known buybox price regions, in priority order.
// The first container that yields a positive parse wins.
var priceContainerIDs = []string{
	"corePriceDisplay_desktop_feature_div",
	"apex_desktop",
	"buybox",
	"buyNewSection",
	"price",
	"tmmSwatches",
}

// legacyPriceSelectors are old-template price elements, kept as the last
// resort for pages that never migrated.
var legacyPriceSelectors = []string{
	"span#priceblock_ourprice",
	"span#priceblock_dealprice",
	"span.a-price-whole",
	"span#price_inside_buybox",
	"span.priceToPay",
}

// extractPrice runs the price fallback chain:
//
//  1. each named container, via whole+fraction spans or its offscreen text
//  2. any offscreen price span anywhere in the document
//  3. the legacy price selectors
//
// Returns nil when no strategy yields a positive value.
func extractPrice(doc *goquery.Document) *float64 {
	for _, id := range priceContainerIDs {
		block := doc.Find("#" + id).First()
		if block.Length() == 0 {
			continue
		}
		if v, ok := priceFromBlock(block); ok {
			return &v
		}
	}

	if v, ok := offscreenScan(doc.Selection); ok {
		return &v
	}

	for _, selector := range legacyPriceSelectors {
		raw := firstText(doc.Selection, selector)
		if raw == "" {
			continue
		}
		if v, ok := pricenorm.Parse(raw); ok {
			return &v
		}
	}

	return nil
}

// priceFromBlock extracts a price from one container block.
//
// Two shapes are tried: the whole+fraction span pair, concatenated as
// "whole.fraction", then the offscreen full-price text via the normalizer.
func priceFromBlock(block *goquery.Selection) (float64, bool) {
	whole := firstText(block, "span.a-price-whole")
	if whole != "" {
		frac := firstText(block, "span.a-price-fraction")
		if v, ok := combineWholeFraction(whole, frac); ok {
			return v, true
		}
	}

	if raw := firstText(block, "span.a-offscreen"); raw != "" {
		if v, ok := pricenorm.Parse(raw); ok {
			return v, true
		}
	}

	return 0, false
}

// combineWholeFraction joins the whole and fractional sub-elements into a
// single decimal. The whole part must be purely numeric once separators are
// stripped; a missing or malformed fraction degrades to "00".
func combineWholeFraction(whole, frac string) (float64, bool) {
	clean := strings.NewReplacer(",", "", ".", "", " ", "", "\u00a0", "", "R", "").Replace(whole)
	clean = strings.TrimSpace(clean)
	if clean == "" || !allDigits(clean) {
		return 0, false
	}

	frac = strings.NewReplacer(",", "", ".", "").Replace(strings.TrimSpace(frac))
	if frac == "" || !allDigits(frac) {
		frac = "00"
	}

	return pricenorm.Parse(clean + "." + frac)
}

// offscreenScan walks every offscreen price span in the document and returns
// the first one that parses to a positive value.
func offscreenScan(root *goquery.Selection) (float64, bool) {
	var (
		found bool
		value float64
	)
	root.Find("span.a-offscreen").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if v, ok := pricenorm.Parse(strings.TrimSpace(sel.Text())); ok {
			value, found = v, true
			return false
		}
		return true
	})
	return value, found
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
