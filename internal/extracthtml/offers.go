package extracthtml

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"buybox/internal/buybox"
)

// ExtractOffer parses the secondary "all offers" listing page and recovers
// price and seller from the first listed offer block.
//
// This is the fallback source used when the primary product page yields an
// incomplete result. The returned offer carries only the fields that could
// be recovered; callers merge it into the primary result fill-only.
//
// Returns nil (and no error) when the page has no offer block or neither
// field is recoverable.
func ExtractOffer(html, marketplace string) (*buybox.Offer, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse offer html: %w", err)
	}

	block := doc.Find("div#aod-offer").First()
	if block.Length() == 0 {
		// Pinned offer layout: the winning offer sits in its own region.
		block = doc.Find("div#aod-pinned-offer").First()
	}
	if block.Length() == 0 {
		return nil, nil
	}

	offer := &buybox.Offer{
		Seller: offerSeller(block, ReferenceSellerName(marketplace)),
	}
	if v, ok := priceFromBlock(block); ok {
		offer.Price = &v
	}

	if offer.Price == nil && offer.Seller == "" {
		return nil, nil
	}
	return offer, nil
}

// offerSeller runs the offer-block seller chain: sold-by heading link text,
// then its span text, then an aria-labelled seller link, then a "Sold by"
// regex over the block text. An explicit operator mention anywhere in the
// block maps to the canonical reference-seller name.
func offerSeller(block *goquery.Selection, ref string) string {
	soldBy := block.Find("div#aod-offer-soldBy").First()
	if soldBy.Length() > 0 {
		if name := firstText(soldBy, "a"); name != "" {
			return normalizeOfferSeller(name, ref)
		}
		if name := firstText(soldBy, "span.a-size-small.a-color-base"); name != "" {
			return normalizeOfferSeller(name, ref)
		}
	}

	if name := firstText(block, `a[aria-label*="seller"]`); name != "" {
		return normalizeOfferSeller(name, ref)
	}

	text := strings.Join(strings.Fields(block.Text()), " ")
	if m := soldByName.FindStringSubmatch(text); m != nil {
		return normalizeOfferSeller(strings.TrimSpace(m[1]), ref)
	}
	if amazonToken.MatchString(text) && soldByAmazon.MatchString(text) {
		return ref
	}
	return ""
}

func normalizeOfferSeller(name, ref string) string {
	if amazonToken.MatchString(name) {
		return ref
	}
	return name
}
