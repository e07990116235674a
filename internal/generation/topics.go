package generation

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/phrazzld/examgen/internal/domain"
)

// DefaultTopicsPerQuestion is how many keyword tags are derived for a
// question the model returned without topics.
const DefaultTopicsPerQuestion = 3

var stopWords = map[string]struct{}{
	"about": {}, "above": {}, "after": {}, "again": {}, "against": {}, "because": {},
	"before": {}, "being": {}, "below": {}, "between": {}, "both": {}, "could": {},
	"does": {}, "doing": {}, "during": {}, "each": {}, "following": {}, "from": {},
	"have": {}, "having": {}, "here": {}, "into": {}, "most": {}, "other": {},
	"over": {}, "same": {}, "should": {}, "some": {}, "such": {}, "than": {},
	"that": {}, "their": {}, "them": {}, "then": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "those": {}, "through": {}, "under": {}, "until": {},
	"very": {}, "what": {}, "when": {}, "where": {}, "which": {}, "while": {},
	"with": {}, "would": {}, "your": {}, "best": {}, "describes": {}, "true": {},
	"false": {}, "correct": {}, "statement": {}, "likely": {}, "will": {},
}

// ExtractKeywords returns up to n lower-cased keywords of text ordered by
// frequency, ties broken by first appearance. Short words and stop words are skipped.
func ExtractKeywords(text string, n int) []string {
	if n <= 0 {
		return nil
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})

	counts := make(map[string]int)
	order := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, "-")
		if len([]rune(w)) < 4 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}

// EnsureTopics fills in keyword tags for candidates that arrived without any.
func EnsureTopics(candidates []domain.QuestionCandidate) {
	for i := range candidates {
		if len(candidates[i].Topics) == 0 {
			candidates[i].Topics = ExtractKeywords(candidates[i].Question, DefaultTopicsPerQuestion)
		}
	}
}

// TopicTally counts topic tags of accepted questions so later units can be
// steered away from topics that are already well covered. It is safe for
// concurrent use.
type TopicTally struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewTopicTally creates an empty tally.
func NewTopicTally() *TopicTally {
	return &TopicTally{counts: make(map[string]int)}
}

// Add records the topics of accepted questions.
func (t *TopicTally) Add(questions []domain.QuestionCandidate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, q := range questions {
		for _, topic := range q.Topics {
			if topic = strings.ToLower(strings.TrimSpace(topic)); topic != "" {
				t.counts[topic]++
			}
		}
	}
}

// Frequent returns up to limit topics seen at least minCount times, most
// frequent first, ties in alphabetical order.
func (t *TopicTally) Frequent(minCount, limit int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	topics := make([]string, 0, len(t.counts))
	for topic, c := range t.counts {
		if c >= minCount {
			topics = append(topics, topic)
		}
	}
	sort.Slice(topics, func(i, j int) bool {
		ci, cj := t.counts[topics[i]], t.counts[topics[j]]
		if ci != cj {
			return ci > cj
		}
		return topics[i] < topics[j]
	})
	if limit > 0 && len(topics) > limit {
		topics = topics[:limit]
	}
	return topics
}
