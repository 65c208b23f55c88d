package triage

import "unicode/utf8"

// TruncationMarker is appended to text cut at a length cap.
const TruncationMarker = "...[truncated]"

// Truncate caps s at limit runes, appending TruncationMarker when it cuts.
// A limit <= 0 disables the cap.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + TruncationMarker
}

// head returns at most n runes of s with no marker.
func head(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
