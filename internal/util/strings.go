package util

import "strings"

// SafeTruncate safely truncates a string to maxLen characters without panicking.
// It is used to log a recognizable prefix of a token instead of the token itself.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
//
// Example:
//
//	SafeTruncate("very-long-token-abc123", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)                  // Returns: "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// SplitList splits a list separated by commas and/or whitespace, dropping
// empty elements and preserving order.
//
// Example:
//
//	SplitList("read, write")  // Returns: []string{"read", "write"}
//	SplitList("read write,,") // Returns: []string{"read", "write"}
func SplitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}
