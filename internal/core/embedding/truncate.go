package embedding

import (
	"unicode"
	"unicode/utf8"
)

// wordBoundaryWindow is how far back (as a fraction of the budget) a cut may
// move to land on whitespace before we give up and hard-truncate.
const wordBoundaryWindow = 0.2

// Truncate cuts text to at most maxChars runes. It prefers the nearest
// preceding whitespace when that is within 20% of the ideal cut.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	cut := runes[:maxChars]

	floor := maxChars - int(float64(maxChars)*wordBoundaryWindow)
	// Keep the break only if the next rune starts a new word; otherwise walk back.
	if unicode.IsSpace(runes[maxChars]) {
		return trimRightSpace(cut)
	}
	for i := maxChars - 1; i >= floor && i > 0; i-- {
		if unicode.IsSpace(cut[i]) {
			return trimRightSpace(cut[:i])
		}
	}
	return string(cut)
}

func trimRightSpace(rs []rune) string {
	end := len(rs)
	for end > 0 && unicode.IsSpace(rs[end-1]) {
		end--
	}
	return string(rs[:end])
}

// TruncateTokens cuts text to the longest word-aligned prefix that count
// scores at or under limit.
func TruncateTokens(text string, limit int, count func(string) int) string {
	if limit <= 0 || count(text) <= limit {
		return text
	}
	lo, hi := 0, utf8.RuneCountInString(text)
	best := ""
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if cand := Truncate(text, mid); count(cand) <= limit {
			lo, best = mid, cand
		} else {
			hi = mid - 1
		}
	}
	return best
}
