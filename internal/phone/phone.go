// Package phone canonicalizes phone numbers so the same person is recognized
// across input formats. Every stored phone and every phone comparison goes
// through Normalize.
package phone

import (
	"regexp"
	"strings"
)

var nonDigitRegex = regexp.MustCompile(`\D+`)

// Normalize strips everything but digits and drops a leading US country code
// from 11-digit numbers. It returns "" when no digits remain.
func Normalize(raw string) string {
	digits := nonDigitRegex.ReplaceAllString(strings.TrimSpace(raw), "")
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	return digits
}

// NormalizePtr normalizes an optional phone, mapping empty results to nil.
func NormalizePtr(raw *string) *string {
	if raw == nil {
		return nil
	}
	n := Normalize(*raw)
	if n == "" {
		return nil
	}
	return &n
}

// Equal reports whether a and b normalize to the same non-empty number.
func Equal(a, b string) bool {
	na := Normalize(a)
	return na != "" && na == Normalize(b)
}
