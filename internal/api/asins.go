package api

import "regexp"

var (
	asinPattern = regexp.MustCompile(`^[A-Z0-9]{10}$`)

	// Product URL shapes seen in the wild: /dp/<asin>, /gp/product/<asin>,
	// /gp/aw/d/<asin>, and /product/<asin>.
	urlASINPattern = regexp.MustCompile(`/(?:dp|gp/product|gp/aw/d|product)/([A-Z0-9]{10})`)

	// Bare tokens must carry a digit: a 10-letter word is almost never an
	// ASIN, but B0C1234567 always has one.
	bareASINPattern = regexp.MustCompile(`\b[A-Z0-9]*[0-9][A-Z0-9]*\b`)
)

// ValidASIN reports whether s is a well-formed identifier.
func ValidASIN(s string) bool {
	return asinPattern.MatchString(s)
}

// ExtractASINs pulls identifiers out of free text: pasted product URLs first,
// then bare 10-character tokens. Order of first appearance is kept and
// duplicates are dropped.
func ExtractASINs(text string) []string {
	seen := map[string]bool{}
	out := []string{}
	add := func(asin string) {
		if !seen[asin] {
			seen[asin] = true
			out = append(out, asin)
		}
	}

	for _, m := range urlASINPattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, tok := range bareASINPattern.FindAllString(text, -1) {
		if ValidASIN(tok) {
			add(tok)
		}
	}
	return out
}
