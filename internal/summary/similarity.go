package summary

import "strings"

// DefaultOverlapThreshold is the topic overlap at or above which an existing
// summary is reused for a new document.
const DefaultOverlapThreshold = 0.6

// NormalizeTopics lower-cases topics, collapses inner whitespace and removes
// empty entries and duplicates, keeping first-seen order.
func NormalizeTopics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.Join(strings.Fields(strings.ToLower(t)), " ")
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Overlap returns the Jaccard similarity of two topic sets after
// normalisation. Two empty sets have no overlap.
func Overlap(a, b []string) float64 {
	na, nb := NormalizeTopics(a), NormalizeTopics(b)
	if len(na) == 0 || len(nb) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(na))
	for _, t := range na {
		set[t] = struct{}{}
	}
	inter := 0
	for _, t := range nb {
		if _, ok := set[t]; ok {
			inter++
		}
	}
	union := len(na) + len(nb) - inter
	return float64(inter) / float64(union)
}
