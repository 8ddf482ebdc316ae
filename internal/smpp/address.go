// Package smpp implements the SMPP client engine: session lifecycle,
// rate-limited priority dispatch, retry scheduling and receipt intake.
package smpp

import (
	"strings"
	"unicode"
)

// SMPP type-of-number values.
const (
	TONUnknown       byte = 0x00
	TONInternational byte = 0x01
	TONNational      byte = 0x02
	TONAlphanumeric  byte = 0x05
)

// SMPP numbering-plan-indicator values.
const (
	NPIUnknown byte = 0x00
	NPIISDN    byte = 0x01
)

// AddressInfo carries the TON/NPI pair and the normalized address to put on the wire.
type AddressInfo struct {
	TON     byte
	NPI     byte
	Address string
}

// SourceAddress classifies a sender address. Alphanumeric sender IDs keep
// their text form; numeric senders are classified like destinations.
func SourceAddress(raw string) AddressInfo {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return AddressInfo{TONUnknown, NPIUnknown, ""}
	}

	if strings.ContainsFunc(cleaned, unicode.IsLetter) {
		return AddressInfo{TONAlphanumeric, NPIUnknown, cleaned}
	}

	return classifyNumeric(cleaned)
}

// DestinationAddress classifies a recipient address.
func DestinationAddress(raw string) AddressInfo {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return AddressInfo{TONUnknown, NPIUnknown, ""}
	}
	return classifyNumeric(cleaned)
}

func classifyNumeric(cleaned string) AddressInfo {
	digits := digitsOnly(cleaned)
	if digits == "" {
		return AddressInfo{TONUnknown, NPIUnknown, cleaned}
	}

	if strings.HasPrefix(cleaned, "+") {
		return AddressInfo{TONInternational, NPIISDN, digits}
	}
	if strings.HasPrefix(cleaned, "00") && len(digits) > 2 {
		return AddressInfo{TONInternational, NPIISDN, digits[2:]}
	}

	// Short codes are typically 3-6 digits.
	if len(digits) >= 3 && len(digits) <= 6 {
		return AddressInfo{TONUnknown, NPIUnknown, digits}
	}

	// 10-15 digits looks like an international number without the prefix.
	if len(digits) >= 10 && len(digits) <= 15 {
		return AddressInfo{TONInternational, NPIISDN, digits}
	}

	return AddressInfo{TONNational, NPIISDN, digits}
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
