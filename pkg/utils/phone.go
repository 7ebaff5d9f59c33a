package utils

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// Vietnamese mobile: +84 / 84 / 0, carrier digit 3,5,7,8,9, then 8 digits
	vnPhoneRegex = regexp.MustCompile(`^(\+84|84|0)[35789][0-9]{8}$`)
	// Regex to remove non-digit characters
	digitsOnlyRegex = regexp.MustCompile(`[^0-9]`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// ErrInvalidPhone is returned when a number is not a Vietnamese mobile number
var ErrInvalidPhone = errors.New("invalid Vietnamese phone number format")

// ValidateVietnamesePhone reports whether phone is a Vietnamese mobile number.
// Internal whitespace is ignored.
func ValidateVietnamesePhone(phone string) bool {
	return vnPhoneRegex.MatchString(whitespaceRegex.ReplaceAllString(phone, ""))
}

// NormalizePhoneNumber converts a Vietnamese mobile number to +84XXXXXXXXX.
// Normalizing an already normalized number returns it unchanged.
func NormalizePhoneNumber(phone string) (string, error) {
	if !ValidateVietnamesePhone(phone) {
		return "", ErrInvalidPhone
	}
	return FormatPhoneNumber(phone), nil
}

// FormatPhoneNumber rewrites phone into international form without validating it
func FormatPhoneNumber(phone string) string {
	cleaned := digitsOnlyRegex.ReplaceAllString(phone, "")
	switch {
	case strings.HasPrefix(cleaned, "84"):
		return "+" + cleaned
	case strings.HasPrefix(cleaned, "0"):
		return "+84" + cleaned[1:]
	default:
		return "+84" + cleaned
	}
}
