package post

import (
	"strings"
)

// TruncatedMarker separates the kept head and tail of a clipped text.
const TruncatedMarker = "\n...[TRUNCATED]...\n"

// Clip shortens text to about maxChars, keeping the first 70% of the budget
// and the tail end, joined by TruncatedMarker. Cuts land on rune boundaries.
func Clip(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	budget := maxChars - len(TruncatedMarker)
	if budget <= 0 {
		return cutRunes(text, maxChars)
	}
	head := budget * 7 / 10
	tail := budget - head
	return strings.TrimRight(cutRunes(text, head), " ") + TruncatedMarker + strings.TrimLeft(tailRunes(text, tail), " ")
}

// cutRunes returns the longest prefix of s that fits in n bytes without
// splitting a rune.
func cutRunes(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !startsRune(s[n]) {
		n--
	}
	return s[:n]
}

func tailRunes(s string, n int) string {
	if n >= len(s) {
		return s
	}
	i := len(s) - n
	for i < len(s) && !startsRune(s[i]) {
		i++
	}
	return s[i:]
}

func startsRune(b byte) bool { return b&0xC0 != 0x80 }
