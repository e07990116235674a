package generation

import (
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEncoding is the tiktoken encoding used to budget prompt input.
const TokenEncoding = "cl100k_base"

// charsPerToken approximates token counts when no encoding is available.
const charsPerToken = 4

// TokenCounter counts and truncates text in model tokens. Without an encoding
// it falls back to a character based estimate.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter loads the cl100k_base encoding. Loading can fail when the
// BPE ranks are not cached and cannot be downloaded; the counter then estimates.
func NewTokenCounter(logger *slog.Logger) *TokenCounter {
	encoding, err := tiktoken.GetEncoding(TokenEncoding)
	if err != nil {
		if logger != nil {
			logger.Warn("tiktoken encoding unavailable, estimating tokens from characters",
				slog.String("encoding", TokenEncoding),
				slog.String("error", err.Error()))
		}
		return &TokenCounter{}
	}
	return &TokenCounter{encoding: encoding}
}

// NewEstimatingCounter returns a counter that never loads an encoding.
func NewEstimatingCounter() *TokenCounter {
	return &TokenCounter{}
}

// Exact reports whether counts come from a real encoding.
func (tc *TokenCounter) Exact() bool {
	return tc != nil && tc.encoding != nil
}

// Count returns the number of tokens in text.
func (tc *TokenCounter) Count(text string) int {
	if tc.Exact() {
		return len(tc.encoding.Encode(text, nil, nil))
	}
	return (utf8.RuneCountInString(text) + charsPerToken - 1) / charsPerToken
}

// Truncate returns the longest prefix of text that fits in limit tokens.
// A non-positive limit disables truncation.
func (tc *TokenCounter) Truncate(text string, limit int) string {
	if limit <= 0 || text == "" {
		return text
	}

	if tc.Exact() {
		tokens := tc.encoding.Encode(text, nil, nil)
		if len(tokens) <= limit {
			return text
		}
		return tc.encoding.Decode(tokens[:limit])
	}

	maxRunes := limit * charsPerToken
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxRunes])
}
