// Package wake decides whether a recognized utterance is the wake phrase.
package wake

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Gate matches finals against a configured phrase. The zero threshold means
// exact comparison after normalization.
type Gate struct {
	phrase    string
	threshold float64
}

// New returns a gate for phrase. A threshold in (0, 1] enables Jaro-Winkler
// matching; anything else is exact.
func New(phrase string, threshold float64) *Gate {
	if threshold <= 0 || threshold > 1 {
		threshold = 0
	}
	return &Gate{phrase: Normalize(phrase), threshold: threshold}
}

func (g *Gate) Phrase() string { return g.phrase }

// Match reports whether text is the wake phrase. Empty input never matches.
func (g *Gate) Match(text string) bool {
	got := Normalize(text)
	if got == "" || g.phrase == "" {
		return false
	}
	if got == g.phrase {
		return true
	}
	if g.threshold == 0 {
		return false
	}
	return matchr.JaroWinkler(got, g.phrase, false) >= g.threshold
}

// Normalize lower-cases s, trims surrounding whitespace and punctuation and
// collapses inner whitespace runs to one space.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return strings.Join(strings.Fields(s), " ")
}
