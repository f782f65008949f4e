package extracthtml

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// sellerStrategy is one step of the seller fallback chain. It returns the
// candidate seller name, or "" when this page shape does not apply.
type sellerStrategy struct {
	name string
	fn   func(p *page) string
}

// sellerStrategies is the ordered chain. The first non-empty result wins;
// later strategies get progressively fuzzier, ending in whole-page regexes.
var sellerStrategies = []sellerStrategy{
	{"profile_link", sellerFromProfileLink},
	{"offer_feature", sellerFromOfferFeature},
	{"merchant_info", sellerFromMerchantInfo},
	{"tabular_buybox", sellerFromTabularBuybox},
	{"secondary_span", sellerFromSecondarySpan},
	{"sold_by_text", sellerFromPageText},
	{"fulfilment_phrase", sellerFromFulfilmentPhrase},
}

var (
	amazonToken = regexp.MustCompile(`(?i)amazon`)

	// soldByName captures the seller name after "Sold by", non-greedy,
	// terminated by punctuation, end of text, or a fulfilment keyword.
	soldByName = regexp.MustCompile(`Sold by\s+([^.\n|]{2,60}?)(?:\s*\.|$|\s*Fulfilled|\s*Ships)`)

	// fulfilmentPhrase matches the operator-fulfilled wordings that appear
	// without any explicit seller element.
	fulfilmentPhrase = regexp.MustCompile(`(?i)(sent from and sold by|sold and fulfilled by|ships from and sold by)\s*amazon`)

	soldByAmazon = regexp.MustCompile(`(?i)sold by amazon`)
)

// extractSeller runs the chain and returns the first candidate, or "" when
// every strategy comes up empty (callers record "Unknown").
func extractSeller(p *page) string {
	for _, s := range sellerStrategies {
		if name := s.fn(p); name != "" {
			return name
		}
	}
	return ""
}

// sellerFromProfileLink reads the seller profile trigger link, the most
// reliable element for third-party sellers.
func sellerFromProfileLink(p *page) string {
	return firstText(p.doc.Selection, "a#sellerProfileTriggerId")
}

// sellerFromOfferFeature reads the inline offer feature message. An operator
// mention is normalized to the canonical reference-seller name; anything else
// is taken literally.
func sellerFromOfferFeature(p *page) string {
	var out string
	p.doc.Find("span.offer-display-feature-text-message").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		txt := strings.TrimSpace(sel.Text())
		if txt == "" {
			return true
		}
		if amazonToken.MatchString(txt) {
			out = p.ref
		} else {
			out = txt
		}
		return false
	})
	return out
}

// sellerFromMerchantInfo reads the merchant-info region: link text wins;
// plain text counts only when it mentions the operator.
func sellerFromMerchantInfo(p *page) string {
	merchant := p.doc.Find("div#merchant-info").First()
	if merchant.Length() == 0 {
		return ""
	}
	if name := firstText(merchant, "a"); name != "" {
		return name
	}
	if amazonToken.MatchString(strings.TrimSpace(merchant.Text())) {
		return p.ref
	}
	return ""
}

// sellerFromTabularBuybox finds the "Sold by" row of the tabular buybox and
// returns the adjacent value text.
func sellerFromTabularBuybox(p *page) string {
	tabular := p.doc.Find("div#tabular-buybox").First()
	if tabular.Length() == 0 {
		return ""
	}

	var out string
	tabular.Find("div.tabular-buybox-text").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		label := row.Find("span.a-color-secondary").First()
		value := row.Find("span.a-color-base").First()
		if label.Length() == 0 || value.Length() == 0 {
			return true
		}
		if !strings.Contains(label.Text(), "Sold by") {
			return true
		}
		out = strings.TrimSpace(value.Text())
		return out == ""
	})
	return out
}

// sellerFromSecondarySpan catches the "Sent from and sold by Amazon.co.za"
// wording rendered in secondary-color spans.
func sellerFromSecondarySpan(p *page) string {
	var out string
	p.doc.Find("span.a-color-secondary").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if soldByAmazon.MatchString(strings.TrimSpace(sel.Text())) {
			out = p.ref
			return false
		}
		return true
	})
	return out
}

// sellerFromPageText scans the whole-page text for a "Sold by <name>"
// phrase.
func sellerFromPageText(p *page) string {
	m := soldByName.FindStringSubmatch(p.text)
	if m == nil {
		return ""
	}
	name := strings.TrimSpace(m[1])
	if amazonToken.MatchString(name) {
		return p.ref
	}
	return name
}

// sellerFromFulfilmentPhrase is the last resort: an operator fulfilment
// phrase anywhere on the page implies the operator holds the buybox.
func sellerFromFulfilmentPhrase(p *page) string {
	if fulfilmentPhrase.MatchString(p.text) {
		return p.ref
	}
	return ""
}
