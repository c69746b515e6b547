// Package anchor re-locates text described only by its first and last words
// inside a live document. The analysis service reports sentence locations as
// content fragments rather than offsets, because the underlying text keeps
// moving between when a result is produced and when it is displayed.
//
// Resolution runs three tiers in order, first hit wins: exact substring,
// whitespace-normalized substring, then a fuzzy sliding-window scan. The
// package is pure: no I/O, no mutation.
package anchor

import (
	"strings"
	"unicode"
)

// Anchor identifies a sentence by its first and last ~10 words.
type Anchor struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Range is a half-open rune range [Start, End) into the text a resolution
// ran against. Tier records which tier produced the match (1-3).
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Tier  int `json:"tier"`
}

const (
	// acceptThreshold is the minimum fuzzy similarity for a match.
	acceptThreshold = 0.95
	// earlyExitThreshold stops the sliding-window scan early on a
	// good-enough window, avoiding an exhaustive pass over long documents.
	earlyExitThreshold = 0.98
)

// Resolve locates a in text. The second return value is false when the
// anchor cannot be located; callers must treat that as "no highlight",
// never as a failure of the surrounding operation.
func Resolve(text string, a Anchor) (Range, bool) {
	if a.Start == "" || text == "" {
		return Range{}, false
	}
	if r, ok := resolveExact(text, a); ok {
		return r, true
	}
	if r, ok := resolveNormalized(text, a); ok {
		return r, true
	}
	return resolveFuzzy(text, a)
}

// resolveExact is tier 1: verbatim substring search.
func resolveExact(text string, a Anchor) (Range, bool) {
	byteStart := strings.Index(text, a.Start)
	if byteStart < 0 {
		return Range{}, false
	}
	start := runeOffset(text, byteStart)
	end := start + runeLen(a.Start)
	if a.End != "" {
		if rel := strings.Index(text[byteStart:], a.End); rel >= 0 {
			end = runeOffset(text, byteStart+rel) + runeLen(a.End)
		}
	}
	return Range{Start: start, End: end, Tier: 1}, true
}

// resolveNormalized is tier 2: the same search with every run of whitespace
// in both the text and the anchor collapsed to a single space. Matches are
// translated back into the original text's rune coordinates.
func resolveNormalized(text string, a Anchor) (Range, bool) {
	norm, origIdx := normalize(text)
	normStart := normalizeString(a.Start)
	if len(normStart) == 0 {
		return Range{}, false
	}
	i := indexRunes(norm, normStart)
	if i < 0 {
		return Range{}, false
	}
	start := origIdx[i]
	end := origIdx[i+len(normStart)-1] + 1
	if normEnd := normalizeString(a.End); len(normEnd) > 0 {
		if j := indexRunesFrom(norm, normEnd, i); j >= 0 {
			end = origIdx[j+len(normEnd)-1] + 1
		}
	}
	return Range{Start: start, End: end, Tier: 2}, true
}

// resolveFuzzy is tier 3: slide a window the length of the start fragment
// across the text, score each window by positional similarity, and keep the
// best. The best window is accepted only at or above acceptThreshold.
func resolveFuzzy(text string, a Anchor) (Range, bool) {
	rtext := []rune(text)
	rstart := []rune(a.Start)
	wlen := len(rstart)

	bestScore := 0.0
	bestPos := -1
	if wlen > len(rtext) {
		// Text shorter than the window: one comparison, scored against
		// the longer length.
		bestScore = similarity(rtext, rstart)
		bestPos = 0
		wlen = len(rtext)
	} else {
		for i := 0; i+len(rstart) <= len(rtext); i++ {
			score := similarity(rtext[i:i+len(rstart)], rstart)
			if score > bestScore {
				bestScore = score
				bestPos = i
			}
			if score >= earlyExitThreshold {
				break
			}
		}
	}
	if bestPos < 0 || bestScore < acceptThreshold {
		return Range{}, false
	}

	start := bestPos
	end := bestPos + wlen
	if a.End != "" {
		// Extend through the end fragment when it is still findable
		// verbatim after the start window; otherwise the start window
		// alone is the best available range.
		tail := string(rtext[start:])
		if rel := strings.Index(tail, a.End); rel >= 0 {
			end = start + runeOffset(tail, rel) + runeLen(a.End)
		}
	}
	return Range{Start: start, End: end, Tier: 3}, true
}

// similarity scores two rune windows by the fraction of aligned positions
// holding identical runes, divided by the longer of the two lengths. An
// adjacent transposed pair counts as two matches, so a single swapped pair
// of characters does not sink an otherwise identical window. This is a
// deliberate O(n)-per-window approximation of alignment, not edit distance.
func similarity(a, b []rune) float64 {
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	if longer == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	matches := 0
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			matches++
			continue
		}
		if i+1 < n && a[i] == b[i+1] && a[i+1] == b[i] {
			matches += 2
			i++
		}
	}
	return float64(matches) / float64(longer)
}

// normalize collapses whitespace runs to single spaces and trims the ends,
// returning the normalized runes plus, for each, the rune offset of the
// original character it came from.
func normalize(s string) ([]rune, []int) {
	out := make([]rune, 0, len(s))
	idx := make([]int, 0, len(s))
	pendingSpace := false
	spaceAt := 0
	for i, r := range []rune(s) {
		if unicode.IsSpace(r) {
			if len(out) > 0 && !pendingSpace {
				pendingSpace = true
				spaceAt = i
			}
			continue
		}
		if pendingSpace {
			out = append(out, ' ')
			idx = append(idx, spaceAt)
			pendingSpace = false
		}
		out = append(out, r)
		idx = append(idx, i)
	}
	return out, idx
}

func normalizeString(s string) []rune {
	out, _ := normalize(s)
	return out
}

// indexRunes returns the first index of needle in haystack, or -1.
func indexRunes(haystack, needle []rune) int {
	return indexRunesFrom(haystack, needle, 0)
}

func indexRunesFrom(haystack, needle []rune, from int) int {
	if len(needle) == 0 {
		return -1
	}
	for i := from; i+len(needle) <= len(haystack); i++ {
		ok := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				ok = false
				break
			}
		}
		if ok {
			return i
		}
	}
	return -1
}

// runeOffset converts a byte offset into s to a rune offset.
func runeOffset(s string, byteOff int) int {
	return runeLen(s[:byteOff])
}

func runeLen(s string) int {
	return len([]rune(s))
}
