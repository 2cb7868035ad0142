// Package pattern detects prohibited content: links, deep links and @handles.
//
// Any "@word" token is flagged, including legitimate mentions of chat members. This is a known
// false-positive tradeoff and is intentionally not narrowed.
package pattern

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var prohibited = regexp.MustCompile(`(?i)(?:https?://|www\.|(?:t|telegram)\.me/|telegram\.dog/|tg://|@\w+)`)

// IsProhibited reports whether text contains a link or a handle. Empty text is never prohibited.
func IsProhibited(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return prohibited.MatchString(fold(text))
}

// Match returns every prohibited fragment found in text, lowercased.
func Match(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	found := prohibited.FindAllString(fold(text), -1)
	for i := range found {
		found[i] = strings.ToLower(found[i])
	}
	return found
}

// fold maps compatibility forms (fullwidth letters, ＠) to their canonical ASCII shape and drops
// combining marks, so "ｈｔｔｐｓ://" or "＠handle" match like their plain spellings.
func fold(text string) string {
	// transformers keep state, a fresh chain per call avoids sharing it between goroutines
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFKC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return folded
}
