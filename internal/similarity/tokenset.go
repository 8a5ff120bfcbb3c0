// Package similarity scores how alike two short texts are on a 0-100 scale.
package similarity

import (
	"sort"
	"strings"
)

// TokenSetRatio compares the whitespace token sets of a and b. Word order and
// repeated words are ignored, and one set being contained in the other scores 100.
// The score is the best normalized Indel similarity among the sorted
// intersection and the intersection extended by each side's remainder.
func TokenSetRatio(a, b string) float64 {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	var intersect, diffAB, diffBA []string
	for tok := range tokensA {
		if _, ok := tokensB[tok]; ok {
			intersect = append(intersect, tok)
		} else {
			diffAB = append(diffAB, tok)
		}
	}
	for tok := range tokensB {
		if _, ok := tokensA[tok]; !ok {
			diffBA = append(diffBA, tok)
		}
	}

	if len(intersect) > 0 && (len(diffAB) == 0 || len(diffBA) == 0) {
		return 100
	}

	sort.Strings(intersect)
	sort.Strings(diffAB)
	sort.Strings(diffBA)

	ab := []rune(strings.Join(diffAB, " "))
	ba := []rune(strings.Join(diffBA, " "))
	sectLen := len([]rune(strings.Join(intersect, " ")))

	sep := 0
	if sectLen > 0 {
		sep = 1
	}
	sectABLen := sectLen + sep + len(ab)
	sectBALen := sectLen + sep + len(ba)

	// sect+ab and sect+ba share the intersection prefix, so their distance is the
	// distance of the remainders.
	best := normalized(indelDistance(ab, ba), sectABLen+sectBALen)
	if sectLen == 0 {
		return best
	}

	// sect vs sect+ab differ only by the appended remainder.
	if r := normalized(sep+len(ab), sectLen+sectABLen); r > best {
		best = r
	}
	if r := normalized(sep+len(ba), sectLen+sectBALen); r > best {
		best = r
	}
	return best
}

// Ratio is the normalized Indel similarity of a and b.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	return normalized(indelDistance(ra, rb), len(ra)+len(rb))
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func normalized(dist, lensum int) float64 {
	if lensum == 0 {
		return 100
	}
	return 100 - 100*float64(dist)/float64(lensum)
}

// indelDistance counts the insertions and deletions turning a into b.
func indelDistance(a, b []rune) int {
	return len(a) + len(b) - 2*lcsLength(a, b)
}

func lcsLength(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
