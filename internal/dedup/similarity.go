package dedup

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

// indelParams makes a substitution cost as much as a deletion plus an
// insertion, which turns the edit distance into the indel distance used by
// the classic fuzzy ratio.
var indelParams = levenshtein.NewParams().SubCost(2)

// Tokens lower-cases s and splits it into its distinct alphanumeric tokens,
// sorted.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return nil
	}
	sort.Strings(fields)
	out := fields[:1]
	for _, f := range fields[1:] {
		if f != out[len(out)-1] {
			out = append(out, f)
		}
	}
	return out
}

// Ratio returns the normalized indel similarity of a and b in [0, 1].
func Ratio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 1
	}
	dist := levenshtein.Distance(a, b, indelParams)
	return float64(total-dist) / float64(total)
}

// TokenSetRatio compares two texts by their token sets: the shared tokens
// against each side's shared-plus-remaining tokens. Word order and repeated
// words do not matter, and a text that is a token subset of the other scores 1.
func TokenSetRatio(a, b string) float64 {
	return tokenSetRatio(Tokens(a), Tokens(b))
}

func tokenSetRatio(ta, tb []string) float64 {
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var common, onlyA, onlyB []string
	i, j := 0, 0
	for i < len(ta) && j < len(tb) {
		switch {
		case ta[i] == tb[j]:
			common = append(common, ta[i])
			i++
			j++
		case ta[i] < tb[j]:
			onlyA = append(onlyA, ta[i])
			i++
		default:
			onlyB = append(onlyB, tb[j])
			j++
		}
	}
	onlyA = append(onlyA, ta[i:]...)
	onlyB = append(onlyB, tb[j:]...)

	t0 := strings.Join(common, " ")
	t1 := strings.TrimSpace(t0 + " " + strings.Join(onlyA, " "))
	t2 := strings.TrimSpace(t0 + " " + strings.Join(onlyB, " "))

	best := Ratio(t1, t2)
	if t0 != "" {
		best = max(best, Ratio(t0, t1), Ratio(t0, t2))
	}
	return best
}
