package util

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// shortAlphabet deliberately omits vowels and ambiguous glyphs so short codes
// survive narrow-alphabet channels (USSD menus, SMS keyboards).
const shortAlphabet = "BCDFGHJKLMNPQRSTVWXZ2456789"

// Tracking builds a location-aware tracking code: an uppercase country/operator
// prefix followed by a ULID. "ATR_" marks codes generated by us rather than
// supplied by the traffic source.
func Tracking(country, operator string) string {
	var b strings.Builder
	b.WriteString("ATR_")
	if country != "" {
		b.WriteString(strings.ToUpper(country))
		b.WriteByte('_')
	}
	if operator != "" {
		b.WriteString(strings.ToUpper(operator))
		b.WriteByte('_')
	}
	b.WriteString(New())
	return b.String()
}

// ShortTracking returns an n-character code over the narrow alphabet.
func ShortTracking(n int) string {
	if n <= 0 {
		n = 8
	}
	out := make([]byte, n)
	max := big.NewInt(int64(len(shortAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the platform source is broken;
			// fall back to a fixed glyph rather than panic on a hot path.
			out[i] = shortAlphabet[0]
			continue
		}
		out[i] = shortAlphabet[idx.Int64()]
	}
	return string(out)
}
