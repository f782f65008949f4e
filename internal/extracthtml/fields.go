package extracthtml

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"buybox/internal/buybox"
)

// extractTitle tries the product-title span, then the title heading.
func extractTitle(doc *goquery.Document) string {
	if t := firstText(doc.Selection, "span#productTitle"); t != "" {
		return t
	}
	if t := firstText(doc.Selection, "h1#title"); t != "" {
		return t
	}
	return buybox.UnknownText
}

// extractRating reads the rating popover's title attribute and parses its
// first whitespace-delimited token as a decimal in [0,5].
func extractRating(doc *goquery.Document) *float64 {
	sel := doc.Find("span#acrPopover").First()
	if sel.Length() == 0 {
		return nil
	}
	title, ok := sel.Attr("title")
	if !ok {
		return nil
	}
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return nil
	}
	val, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || val < 0 || val > 5 {
		return nil
	}
	return &val
}

// extractReviewCount reads the review-count span's first token with
// parentheses and thousands commas stripped.
func extractReviewCount(doc *goquery.Document) *int {
	txt := firstText(doc.Selection, "span#acrCustomerReviewText")
	if txt == "" {
		return nil
	}
	fields := strings.Fields(txt)
	if len(fields) == 0 {
		return nil
	}
	tok := strings.NewReplacer("(", "", ")", "", ",", "").Replace(fields[0])
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

func extractAvailability(doc *goquery.Document) string {
	sel := doc.Find("div#availability").First()
	if sel.Length() == 0 {
		return buybox.UnknownText
	}
	txt := strings.Join(strings.Fields(sel.Text()), " ")
	if txt == "" {
		return buybox.UnknownText
	}
	return txt
}

// dynamicImageURL pulls the first URL out of the dynamic-image-set attribute,
// a JSON object keyed by image URL. A regex keeps the choice deterministic
// (JSON map decoding would not preserve order).
var dynamicImageURL = regexp.MustCompile(`"(https?://[^"]+)"`)

// extractImage tries the primary landing image, then the legacy front image.
// For each, the direct src attribute wins over the dynamic image set.
func extractImage(doc *goquery.Document) string {
	for _, selector := range []string{"img#landingImage", "img#imgBlkFront"} {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if src, ok := sel.Attr("src"); ok && strings.TrimSpace(src) != "" {
			return strings.TrimSpace(src)
		}
		if set, ok := sel.Attr("data-a-dynamic-image"); ok {
			if m := dynamicImageURL.FindStringSubmatch(set); m != nil {
				return m[1]
			}
		}
	}
	return ""
}
