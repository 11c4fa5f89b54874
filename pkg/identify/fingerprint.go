package identify

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/menta2k/coin-id/pkg/consensus"
	"github.com/menta2k/coin-id/pkg/types"
)

// Fingerprint groups identifications by country, denomination and ruler.
// Free-text fields such as motif or reasoning never take part. When none of the
// three key fields is present the summary line is used instead.
func Fingerprint(r consensus.Record) string {
	parts := []string{
		Normalize(r[types.FieldCountry]),
		Normalize(r[types.FieldDenomination]),
		Normalize(r[types.FieldRuler]),
	}
	if parts[0] == "" && parts[1] == "" && parts[2] == "" {
		return Normalize(r[types.FieldSummary])
	}
	return strings.Join(parts, "|")
}

// Normalize case-folds, strips accents and punctuation at the edges, and
// collapses whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	folded = strings.Join(strings.Fields(folded), " ")
	return strings.TrimFunc(folded, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
