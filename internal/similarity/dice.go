// Package similarity scores how alike two person names are.
package similarity

import (
	"strings"
	"unicode"
)

// Dice returns the Sørensen–Dice coefficient over character bigrams of a and
// b, in [0, 1]. Whitespace is removed and case folded before comparison.
// Bigrams are a multiset: each bigram of b consumes at most one matching
// occurrence from a.
func Dice(a, b string) float64 {
	ra := normalize(a)
	rb := normalize(b)

	if string(ra) == string(rb) {
		return 1.0
	}
	if len(ra) < 2 || len(rb) < 2 {
		return 0.0
	}

	counts := make(map[[2]rune]int, len(ra)-1)
	for i := 0; i < len(ra)-1; i++ {
		counts[[2]rune{ra[i], ra[i+1]}]++
	}

	matches := 0
	for i := 0; i < len(rb)-1; i++ {
		bg := [2]rune{rb[i], rb[i+1]}
		if counts[bg] > 0 {
			counts[bg]--
			matches++
		}
	}

	return 2.0 * float64(matches) / float64(len(ra)+len(rb)-2)
}

func normalize(s string) []rune {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return []rune(sb.String())
}
