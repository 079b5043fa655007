package prune

import (
	"strings"
	"unicode/utf8"
)

const DefaultMarker = "…"

// Discord embed field limits, in characters.
const (
	EmbedDescriptionLimit = 4096
	EmbedAuthorNameLimit  = 256
	EmbedFooterTextLimit  = 2048
)

// Exceeds reports whether s is longer than maxRunes characters.
func Exceeds(s string, maxRunes int) bool {
	return utf8.RuneCountInString(s) > maxRunes
}

// Runes cuts s to at most maxRunes characters, ending with marker when cut.
// Strings within the limit are returned unchanged.
func Runes(s string, maxRunes int, marker string) string {
	if maxRunes <= 0 {
		return ""
	}
	if !Exceeds(s, maxRunes) {
		return s
	}
	if marker == "" {
		marker = DefaultMarker
	}
	markerRunes := utf8.RuneCountInString(marker)
	if markerRunes >= maxRunes {
		return safeRunePrefix(marker, maxRunes)
	}
	head := strings.TrimRight(safeRunePrefix(s, maxRunes-markerRunes), " \n\t")
	return head + marker
}

// safeRunePrefix returns the first n characters of s without splitting a rune.
func safeRunePrefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
