package parser

import "strings"

// Stage names one step of the repair pipeline.
type Stage string

// Repair stages, in the order they are applied.
const (
	StageExtract              Stage = "extract"
	StageDirect               Stage = "direct"
	StageEscapeInvalid        Stage = "escape_invalid_backslashes"
	StageRemoveTrailingCommas Stage = "remove_trailing_commas"
	StageEscapeAll            Stage = "escape_all_backslashes"
)

// Repair is one text transformation of the pipeline.
type Repair struct {
	Stage Stage
	Apply func(string) string
}

// Repairs are applied cumulatively after a failed direct parse: each step
// works on the output of the previous one.
var Repairs = []Repair{
	{Stage: StageEscapeInvalid, Apply: EscapeInvalidBackslashes},
	{Stage: StageRemoveTrailingCommas, Apply: RemoveTrailingCommas},
	{Stage: StageEscapeAll, Apply: EscapeAllBackslashes},
}

// EscapeInvalidBackslashes doubles every backslash that does not start a
// valid JSON escape, so `\(` becomes `\\(` while `\n`, `\"` and `\\` are left
// alone. `\u` only counts as valid when four hex digits follow.
func EscapeInvalidBackslashes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/8)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(s) && isValidEscape(s, i+1) {
			b.WriteByte('\\')
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteString(`\\`)
	}
	return b.String()
}

func isValidEscape(s string, i int) bool {
	switch s[i] {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		return true
	case 'u':
		if i+4 >= len(s) {
			return false
		}
		for _, h := range []byte(s[i+1 : i+5]) {
			if !isHex(h) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

// RemoveTrailingCommas drops commas that directly precede a closing bracket
// or brace, ignoring whitespace and anything inside string literals.
func RemoveTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch c {
			case '\\':
				if i+1 < len(s) {
					b.WriteByte(s[i+1])
					i++
				}
			case '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case ',':
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == ']' || s[j] == '}') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// EscapeAllBackslashes doubles every backslash except those already paired
// (`\\`) and those escaping a quote (`\"`). It turns `\frac` and `\theta`
// into literal text at the cost of also turning real `\n` escapes into
// visible characters, which is why it runs last.
func EscapeAllBackslashes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/4)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(s) && (s[i+1] == '\\' || s[i+1] == '"') {
			b.WriteByte('\\')
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteString(`\\`)
	}
	return b.String()
}
