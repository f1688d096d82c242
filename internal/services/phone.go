package services

import "strings"

const defaultCountryCode = "+82"

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizePhoneNumber converts a user-entered number to E.164, assuming
// Korea when no country code is present. Spaces, dashes, dots and
// parentheses are dropped first.
func NormalizePhoneNumber(phone string) string {
	phone = phoneSeparators.Replace(strings.TrimSpace(phone))
	switch {
	case phone == "":
		return ""
	case strings.HasPrefix(phone, defaultCountryCode+"0"):
		return defaultCountryCode + phone[len(defaultCountryCode)+1:]
	case strings.HasPrefix(phone, "+"):
		return phone
	case strings.HasPrefix(phone, "0"):
		return defaultCountryCode + phone[1:]
	case strings.HasPrefix(phone, "82"):
		return "+" + phone
	default:
		return defaultCountryCode + phone
	}
}
