package buybox

import (
	"regexp"
	"strings"
)

// amazonToken matches the operator's name as a whole word, case-insensitively.
// "Amazon.co.za", "Fulfilled by Amazon" match; "amazonia" does not.
var amazonToken = regexp.MustCompile(`(?i)\bamazon\b`)

// MatchSeller evaluates the extracted seller name against the marketplace
// operator and the configured own-storefront name.
//
// Matching is case-insensitive substring containment, not exact equality.
// A storefront whose name merely contains the own name still counts as own;
// this mirrors the source behavior and is a known false-positive risk for
// names that embed "amazon" (e.g. "Amazon Compatible Parts").
func MatchSeller(seller, ownName string) (isAmazon, isOwn bool) {
	s := strings.ToLower(strings.TrimSpace(seller))
	if s == "" {
		return false, false
	}
	isAmazon = amazonToken.MatchString(s)
	if ownName != "" {
		isOwn = strings.Contains(s, strings.ToLower(ownName))
	}
	return isAmazon, isOwn
}

// Classify maps an extracted seller to an ownership state.
//
// Precedence: the own-seller check wins over the reference-seller check, so a
// storefront that happens to share wording with the operator's name is still
// classified as winning when it matches the configured own name.
//
// Classify is a pure one-shot classification, re-evaluated per extraction;
// there are no transitions.
func Classify(seller string, isAmazon, isOwn bool) Status {
	switch {
	case isOwn:
		return StatusWinning
	case isAmazon:
		return StatusAmazon
	case seller != "" && seller != UnknownText:
		return StatusLosing
	default:
		return StatusUnknown
	}
}
