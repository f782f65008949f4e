package buybox

import "strings"

// currencyByDomain maps a marketplace domain substring to its ISO currency
// code. First match wins; order only matters for .com vs country domains,
// which never overlap as substrings here.
var currencyByDomain = []struct {
	domain   string
	currency string
}{
	{"amazon.co.za", "ZAR"},
	{"amazon.co.uk", "GBP"},
	{"amazon.de", "EUR"},
	{"amazon.fr", "EUR"},
	{"amazon.ca", "CAD"},
	{"amazon.com.au", "AUD"},
}

// CurrencyFor derives the currency code from the marketplace domain.
// Unrecognized domains default to USD.
func CurrencyFor(marketplace string) string {
	m := strings.ToLower(marketplace)
	for _, e := range currencyByDomain {
		if strings.Contains(m, e.domain) {
			return e.currency
		}
	}
	return "USD"
}
