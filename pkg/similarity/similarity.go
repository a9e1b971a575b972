// Package similarity decides whether two narration texts say the same thing.
//
// Texts are normalized (lowercase, punctuation folded to spaces, whitespace
// collapsed) and then compared three ways: exact match, an edit-distance
// ratio, and token-set Jaccard overlap. Any one passing makes the pair
// similar.
package similarity

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Default thresholds.
const (
	DefaultRatioThreshold   = 0.88
	DefaultJaccardThreshold = 0.8
)

// Comparator holds the similarity thresholds.
type Comparator struct {
	RatioThreshold   float64
	JaccardThreshold float64
}

// Default is the comparator used by Similar.
var Default = Comparator{
	RatioThreshold:   DefaultRatioThreshold,
	JaccardThreshold: DefaultJaccardThreshold,
}

// Similar reports whether a and b are near-duplicates using Default.
func Similar(a, b string) bool {
	return Default.Similar(a, b)
}

// Similar reports whether a and b are near-duplicates.
func (c Comparator) Similar(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if Ratio(na, nb) >= c.RatioThreshold {
		return true
	}
	ta, tb := tokens(na), tokens(nb)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	return Jaccard(ta, tb) >= c.JaccardThreshold
}

// Normalize lowercases s, replaces every run of non-alphanumeric characters
// with one space and trims the result.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// Ratio returns 1 - editDistance/maxLen over runes, in [0,1].
// Two empty strings have ratio 1.
func Ratio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// Jaccard returns |a∩b| / |a∪b| of two token sets.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func tokens(normalized string) map[string]struct{} {
	fields := strings.Fields(normalized)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
