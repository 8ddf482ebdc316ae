// Package msisdn normalizes subscriber numbers to E.164.
package msisdn

import (
	"errors"
	"strings"
)

// ErrInvalid is returned when the input contains no usable digits.
var ErrInvalid = errors.New("invalid msisdn")

// NormalizeE164 normalizes input to E.164 (leading + and country code).
//
// Input may carry a +, an international 00 prefix, a national leading 0, or a
// bare local subscriber number; non-digit characters are stripped.
//
//	"93791234567"   -> "+93791234567"
//	"+93791234567"  -> "+93791234567"
//	"0093791234567" -> "+93791234567"
//	"0791234567"    -> "+93791234567" (default country code applied)
//	"791234567"     -> "+93791234567"
func NormalizeE164(input string, defaultCountryCode string) (string, error) {
	digits := digitsOnly(input)
	if digits == "" {
		return "", ErrInvalid
	}

	if strings.HasPrefix(digits, "00") && len(digits) > 2 {
		digits = digits[2:]
	}

	if strings.HasPrefix(digits, defaultCountryCode) {
		return "+" + digits, nil
	}

	// National format: drop the leading 0 and prepend the country code.
	if strings.HasPrefix(digits, "0") && len(digits) > 1 {
		return "+" + defaultCountryCode + digits[1:], nil
	}

	// Bare local subscriber number.
	if len(digits) <= 9 {
		return "+" + defaultCountryCode + digits, nil
	}

	return "+" + digits, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
