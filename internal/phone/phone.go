// Package phone validates contact numbers and formats them for dispatch.
//
// Formatting is best-effort normalization, not full E.164 validation.
package phone

import (
	"regexp"
	"strings"
)

// DefaultCountryCode is prepended to bare 10-digit numbers.
const DefaultCountryCode = "91"

const (
	minDigits = 10
	maxDigits = 15
)

var validDigits = regexp.MustCompile(`^[1-9][0-9]{9,14}$`)

// Digits returns only the ASCII digits of raw.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Valid reports whether raw is an acceptable contact number.
func Valid(raw string) bool {
	d := Digits(raw)
	if len(d) < minDigits || len(d) > maxDigits {
		return false
	}
	return validDigits.MatchString(d)
}

// FormatForDispatch normalizes raw to the provider's international format.
// An empty countryCode falls back to DefaultCountryCode.
func FormatForDispatch(raw, countryCode string) string {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	countryCode = strings.TrimPrefix(countryCode, "+")

	trimmed := strings.TrimSpace(raw)
	d := Digits(trimmed)
	switch {
	case strings.HasPrefix(trimmed, "+"):
		return "+" + d
	case len(d) == minDigits:
		return "+" + countryCode + d
	default:
		return "+" + d
	}
}
