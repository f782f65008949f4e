// Package pricenorm parses locale-variant price strings into a canonical
// decimal value.
//
// Marketplace pages render the same amount in several shapes depending on
// locale: "R1 660,00" (space thousands, comma decimal), "£1,660.00" (comma
// thousands, dot decimal), "$53.48". The parser disambiguates the separators
// by pattern rather than by locale configuration, because the page locale is
// not reliably known at extraction time.
package pricenorm

import (
	"strconv"
	"strings"
)

// defaultSymbols is the set of currency glyphs stripped before numeric
// parsing. Multi-rune symbols must come before their single-rune prefixes
// ("A$" before "$"), so the order below is significant.
var defaultSymbols = []string{"A$", "C$", "R", "£", "$", "€"}

// Parse converts a raw price string into a positive decimal value.
//
// Separator disambiguation:
//   - comma present, dot absent: comma is the decimal separator
//     ("1 660,00" -> 1660.00)
//   - comma and dot both present: comma is a thousands separator
//     ("1,660.00" -> 1660.00)
//   - otherwise: spaces and commas are stripped as thousands separators
//
// Edge cases:
//   - Returns ok=false for empty input, unparseable input, and non-positive
//     results. A parsed zero or negative is a markup artifact, not a price.
//   - Non-breaking (U+00A0) and narrow no-break (U+202F) spaces are removed
//     before any other handling.
//
// Parse is pure: no I/O, deterministic given input.
func Parse(raw string) (float64, bool) {
	return ParseSymbols(raw, defaultSymbols)
}

// ParseSymbols is Parse with a caller-supplied currency glyph set.
func ParseSymbols(raw string, symbols []string) (float64, bool) {
	if raw == "" {
		return 0, false
	}

	cleaned := strings.NewReplacer("\u00a0", "", "\u202f", "").Replace(raw)
	for _, sym := range symbols {
		cleaned = strings.ReplaceAll(cleaned, sym, "")
	}
	cleaned = strings.TrimSpace(cleaned)

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")

	switch {
	case hasComma && !hasDot:
		// SA format: 1 660,00
		cleaned = strings.ReplaceAll(cleaned, " ", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	case hasComma && hasDot:
		// US/UK format: 1,660.00
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	default:
		cleaned = strings.ReplaceAll(cleaned, " ", "")
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	val, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || val <= 0 {
		return 0, false
	}
	return val, true
}
