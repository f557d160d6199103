package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxReceiptTextLength bounds the raw text accepted for a single receipt
const MaxReceiptTextLength = 64 * 1024

var (
	controlChars  = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	sourcePattern = regexp.MustCompile(`^[\p{L}\p{N}\-_. /]{1,200}$`)
)

// ValidateReceiptText checks raw receipt text submitted from outside
func ValidateReceiptText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("receipt text is empty")
	}
	if len(text) > MaxReceiptTextLength {
		return fmt.Errorf("receipt text exceeds %d bytes", MaxReceiptTextLength)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("receipt text is not valid UTF-8")
	}
	return nil
}

// ValidateSource checks a caller supplied run source label
func ValidateSource(source string) error {
	if !sourcePattern.MatchString(source) {
		return fmt.Errorf("invalid source: %q", source)
	}
	if strings.Contains(source, "..") {
		return fmt.Errorf("source must not contain '..': %q", source)
	}
	return nil
}

// SanitizeString removes control characters, keeping tabs and newlines
func SanitizeString(s string) string {
	return controlChars.ReplaceAllString(s, "")
}
