package catalog

import (
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var regionNames = display.English.Regions()

// CountryName maps an ISO 3166 region code to its English name. Unknown codes come back as-is.
func CountryName(code string) string {
	r, err := language.ParseRegion(code)
	if err != nil {
		return code
	}
	if n := regionNames.Name(r); n != "" {
		return n
	}
	return code
}
