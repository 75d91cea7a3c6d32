package purchase

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Input length limits, in runes.
const (
	maxListingIDLen = 128
	maxTxRefLen     = 256
	maxBuyerLen     = 128
	maxMemoLen      = 256
)

// sanitize NFC-normalizes s, drops control characters, trims surrounding
// space and caps the result at limit runes.
func sanitize(s string, limit int) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)

	if limit > 0 {
		if runes := []rune(s); len(runes) > limit {
			s = string(runes[:limit])
		}
	}
	return s
}

// NormalizeBuyer sanitizes a buyer identity. EVM addresses are lower-cased
// so checksummed and plain spellings name the same buyer.
func NormalizeBuyer(s string) string {
	s = sanitize(s, maxBuyerLen)
	if isHexAddress(s) {
		s = strings.ToLower(s)
	}
	return s
}

func isHexAddress(s string) bool {
	if len(s) != 42 || (s[:2] != "0x" && s[:2] != "0X") {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
