package http

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxAccountNumberLength = 32
	MaxServiceNameLength   = 64
)

var accountNumberPattern = regexp.MustCompile(`^[0-9A-Za-z-]+$`)

// ValidAccountNumber accepts the identifiers providers print on bills:
// digits, letters and hyphens
func ValidAccountNumber(s string) bool {
	if s == "" || len(s) > MaxAccountNumberLength {
		return false
	}
	return accountNumberPattern.MatchString(s)
}

// SanitizeString removes null bytes, invalid UTF-8 and surrounding space
func SanitizeString(s string) string {
	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	// Keep only valid UTF-8
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return strings.TrimSpace(s)
}
