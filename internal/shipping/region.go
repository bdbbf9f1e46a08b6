package shipping

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// aliases maps common free-text spellings onto canonical region codes.
var aliases = map[string]string{
	"fct":                       "abuja",
	"federal capital territory": "abuja",
	"abuja fct":                 "abuja",
	"lasgidi":                   "lagos",
	"eko":                       "lagos",
	"port harcourt":             "rivers",
	"ph":                        "rivers",
}

// NormalizeRegion folds case, strips diacritics, collapses punctuation and
// whitespace, drops a trailing "state" and resolves known aliases.
func NormalizeRegion(region string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, region)
	if err != nil {
		stripped = region
	}
	folded := cases.Fold().String(stripped)

	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if n := len(fields); n > 1 && fields[n-1] == "state" {
		fields = fields[:n-1]
	}
	code := strings.Join(fields, " ")
	if alias, ok := aliases[code]; ok {
		return alias
	}
	return code
}
