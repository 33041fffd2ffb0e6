// Package similarity scores how alike two normalized text previews are.
//
// Scores use Levenshtein distance over runes, so cost is O(n·m) in the preview
// lengths. Callers bound that cost by comparing previews, never full bodies.
package similarity

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DefaultPreviewLength is the number of runes compared per item.
const DefaultPreviewLength = 200

// Preview returns the first n runes of s.
func Preview(s string, n int) string {
	if n <= 0 {
		n = DefaultPreviewLength
	}
	if utf8.RuneCountInString(s) <= n {
		return s
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

// Similarity returns (maxLen - editDistance) / maxLen in [0, 1].
// Equal strings score 1, including two empty strings; an empty string
// against a non-empty one scores 0.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0
	}
	longest := la
	if lb > longest {
		longest = lb
	}
	dist := levenshtein.ComputeDistance(a, b)
	score := float64(longest-dist) / float64(longest)
	if score < 0 {
		return 0
	}
	return score
}

// Matcher compares previews of a fixed length.
type Matcher struct {
	PreviewLength int
}

// Score compares the previews of two normalized texts.
func (m Matcher) Score(a, b string) float64 {
	return Similarity(Preview(a, m.PreviewLength), Preview(b, m.PreviewLength))
}
