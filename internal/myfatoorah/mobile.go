package myfatoorah

import "strings"

const (
	countryCode    = "973"
	localDigits    = 8
	maxDigits      = 11
	minDigits      = 6
	mobileCodeIntl = "+973"
)

// NormalizeMobile converts a free-form phone number into the digit
// string the gateway accepts, or "" when the input cannot be salvaged.
// The same normalization runs in every path that transmits a customer
// mobile; call sites must not roll their own.
//
// Rules: strip non-digits; drop a leading 973 country code when more
// digits than a bare local number remain; keep only the last 11 digits
// of oversized input; reject anything shorter than 6 digits.
func NormalizeMobile(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(digits, countryCode) && len(digits) > localDigits {
		digits = digits[len(countryCode):]
	}
	if len(digits) > maxDigits {
		digits = digits[len(digits)-maxDigits:]
	}
	if len(digits) < minDigits {
		return ""
	}
	return digits
}
